package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"zenus/internal/audit"
	"zenus/internal/config"
	"zenus/internal/ledger"
	"zenus/internal/session"
	"zenus/internal/types"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitSchema      = 2
	exitCancelled   = 3
	exitNoRollback  = 4
	exitExhausted   = 5
)

var (
	// Global flags
	configPath string
	stateRoot  string
	verbose    bool
	yes        bool
	profile    string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "zenus",
	Short: "zenus - intent-driven shell execution core",
	Long: `zenus translates natural language into validated plans and executes
them with dependency-aware parallelism, a reversible action ledger,
failure learning, and circuit-broken provider calls.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <input>",
	Short: "Translate and execute one request (autodetects iterative mode)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session.Session) error {
			result, err := s.Execute(ctx, joinArgs(args))
			printResult(result)
			return exitFor(result, err)
		})
	},
}

var loopCmd = &cobra.Command{
	Use:   "loop <goal>",
	Short: "Run the iterative goal loop until the goal is achieved",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxIter, _ := cmd.Flags().GetInt("max-iterations")
		return withSession(func(ctx context.Context, s *session.Session) error {
			result, err := s.ExecuteIterative(ctx, joinArgs(args), maxIter)
			printResult(result)
			return exitFor(result, err)
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [n]",
	Short: "Undo the last n reversible actions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := 1
		if len(args) == 1 {
			if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n < 1 {
				return codedError(exitSchema, fmt.Errorf("invalid count %q", args[0]))
			}
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		lastTxn, _ := cmd.Flags().GetBool("last-txn")

		return withSession(func(ctx context.Context, s *session.Session) error {
			if lastTxn {
				report, err := s.RollbackLastTxn(ctx)
				printRollback(report, nil)
				return rollbackExit(report, err)
			}
			report, planned, err := s.Rollback(ctx, n, dryRun)
			printRollback(report, planned)
			return rollbackExit(report, err)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded actions and audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		txnID, _ := cmd.Flags().GetString("txn")
		tool, _ := cmd.Flags().GetString("tool")
		outcome, _ := cmd.Flags().GetString("outcome")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		return withSession(func(ctx context.Context, s *session.Session) error {
			if tool != "" || outcome != "" || since > 0 {
				f := audit.Filter{Tool: tool, TxnID: txnID, Outcome: types.Outcome(outcome)}
				if since > 0 {
					f.Since = time.Now().Add(-since)
				}
				records, err := s.AuditHistory(f)
				if err != nil {
					return err
				}
				for _, r := range records {
					fmt.Printf("%s  %-20s %-8s %s\n", r.TS.Format(time.RFC3339),
						r.Tool+"."+r.Action, r.Outcome, r.StdoutTail)
				}
				return nil
			}

			records, err := s.History(txnID, limit)
			if err != nil {
				return err
			}
			for _, r := range records {
				undo := " "
				if r.RolledBack {
					undo = "U"
				} else if r.Reversible {
					undo = "R"
				}
				fmt.Printf("%6d %s %s  %-20s %s\n", r.ID, undo,
					r.Timestamp.Format(time.RFC3339), r.Tool+"."+r.Action, r.Result)
			}
			return nil
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report circuit, retry budget, and cache health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session.Session) error {
			h := s.HealthReport()
			fmt.Printf("retry budget remaining: %d\n", h.RetriesRemaining)
			fmt.Printf("cache: %d entries, %d hits, %d misses\n", h.CacheSize, h.CacheHits, h.CacheMisses)
			if len(h.Circuits) == 0 {
				fmt.Println("circuits: none opened yet")
			}
			for _, c := range h.Circuits {
				fmt.Printf("circuit %-24s %s\n", c.Service, c.State)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <state-root>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateRoot, "state-root", "", "state directory (default ~/.zenus)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "auto-approve all confirmation prompts")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "profile name for intent caching")

	loopCmd.Flags().Int("max-iterations", 0, "override the configured iteration bound")
	rollbackCmd.Flags().Bool("dry-run", false, "preview without executing")
	rollbackCmd.Flags().Bool("last-txn", false, "roll back the whole last transaction")
	historyCmd.Flags().String("txn", "", "filter by transaction id")
	historyCmd.Flags().String("tool", "", "filter audit log by tool")
	historyCmd.Flags().String("outcome", "", "filter audit log by outcome (ok/failed/skipped)")
	historyCmd.Flags().Duration("since", 0, "filter audit log by age (e.g. 24h)")
	historyCmd.Flags().Int("limit", 50, "maximum records")

	rootCmd.AddCommand(executeCmd, loopCmd, rollbackCmd, historyCmd, healthCmd)
}

// withSession opens a session, wires cancellation to SIGINT/SIGTERM,
// and guarantees Close on every path.
func withSession(fn func(context.Context, *session.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return codedError(exitSchema, err)
	}

	opts := []session.Option{session.WithProfile(profile)}
	if yes {
		opts = append(opts, session.WithInteractor(types.AutoApprove{}))
	} else {
		opts = append(opts, session.WithInteractor(terminalInteractor{}))
	}

	s, err := session.Open(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("session close", zap.Error(cerr))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, s)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		root := stateRoot
		if root == "" {
			root = config.DefaultStateRoot()
		}
		path = root + "/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if stateRoot != "" {
		cfg.StateRoot = stateRoot
	}
	return cfg, nil
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func printResult(r *types.ExecutionResult) {
	if r == nil {
		return
	}
	fmt.Printf("status: %s (%d iteration(s))\n", r.Status, r.Iterations)
	if r.Summary != "" {
		fmt.Println(r.Summary)
	}
	for _, o := range r.Observations {
		marker := "ok"
		if o.Outcome == types.OutcomeFailed {
			marker = "FAIL " + string(o.ErrorKind)
		} else if o.Outcome == types.OutcomeSkipped {
			marker = "skip"
		}
		fmt.Printf("  [%s] %s.%s (%dms)\n", marker, o.Tool, o.Action, o.ElapsedMs)
	}
	for _, sug := range r.Suggestions {
		fmt.Printf("  hint: %s\n", sug)
	}
}

func printRollback(report *ledger.Report, planned []ledger.PlannedInverse) {
	for _, p := range planned {
		if p.Skipped {
			fmt.Printf("  skip record %d: %s\n", p.Record.ID, p.Reason)
			continue
		}
		fmt.Printf("  undo record %d via %s.%s\n", p.Record.ID, p.Step.Tool, p.Step.Action)
	}
	if report == nil {
		return
	}
	if report.DryRun {
		fmt.Printf("dry run: %d operation(s) planned\n", report.Planned)
		return
	}
	fmt.Printf("rolled back %d/%d (failed %d, skipped %d)\n",
		report.Inverted, report.Planned, report.Failed, report.Skipped)
	for _, e := range report.Entries {
		if !e.Inverted && !e.Skipped {
			fmt.Printf("  record %d failed: %s\n", e.RecordID, e.Reason)
		}
	}
}
