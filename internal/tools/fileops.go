package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"zenus/internal/ledger"
)

// fileOps implements FileOps. Overwrites and deletes back the old
// content up under <root>/backups so they stay reversible.
type fileOps struct {
	backupDir string
}

func newFileOps(root string) *Tool {
	f := &fileOps{backupDir: filepath.Join(root, "backups")}
	return &Tool{
		Name:  "FileOps",
		Class: ClassFile,
		Actions: map[string]*Action{
			"mkdir": {
				Required: []string{"path"},
				Mutating: true,
				Handler:  f.mkdir,
			},
			"write_file": {
				Required: []string{"path"},
				Mutating: true,
				Handler:  f.writeFile,
			},
			"read_file": {
				Required: []string{"path"},
				Handler:  f.readFile,
			},
			"delete": {
				Required: []string{"path"},
				Mutating: true,
				Handler:  f.delete,
			},
			"move": {
				Required: []string{"src", "dest"},
				Mutating: true,
				Handler:  f.move,
			},
			"copy": {
				Required: []string{"src", "dest"},
				Mutating: true,
				Handler:  f.copy,
			},
		},
	}
}

func (f *fileOps) mkdir(_ context.Context, args map[string]any) (*Result, error) {
	path := stringArg(args, "path")
	if _, err := os.Stat(path); err == nil {
		// Already exists: nothing to create, nothing to undo.
		return &Result{Stdout: path, Strategy: ledger.None()}, nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Result{
		Stdout:     path,
		Reversible: true,
		Strategy:   ledger.Strategy{Kind: ledger.StrategyDelete, Path: path},
	}, nil
}

func (f *fileOps) writeFile(_ context.Context, args map[string]any) (*Result, error) {
	path := stringArg(args, "path")
	content := stringArg(args, "content")

	strategy := ledger.Strategy{Kind: ledger.StrategyDelete, Path: path}
	reversible := true
	if _, err := os.Stat(path); err == nil {
		backup, berr := f.backup(path)
		if berr != nil {
			// Overwrite without a backup is not undoable.
			strategy = ledger.None()
			reversible = false
		} else {
			strategy = ledger.Strategy{Kind: ledger.StrategyRestore, Path: path, BackupPath: backup}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return &Result{
		Stdout:     fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		Reversible: reversible,
		Strategy:   strategy,
	}, nil
}

func (f *fileOps) readFile(_ context.Context, args map[string]any) (*Result, error) {
	path := stringArg(args, "path")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return &Result{Stdout: string(data), Strategy: ledger.None()}, nil
}

func (f *fileOps) delete(_ context.Context, args map[string]any) (*Result, error) {
	path := stringArg(args, "path")
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	strategy := ledger.None()
	reversible := false
	if !info.IsDir() {
		if backup, berr := f.backup(path); berr == nil {
			strategy = ledger.Strategy{Kind: ledger.StrategyRestore, Path: path, BackupPath: backup}
			reversible = true
		}
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return &Result{
		Stdout:     fmt.Sprintf("deleted %s", path),
		Reversible: reversible,
		Strategy:   strategy,
	}, nil
}

func (f *fileOps) move(_ context.Context, args map[string]any) (*Result, error) {
	src := stringArg(args, "src")
	dest := stringArg(args, "dest")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.Rename(src, dest); err != nil {
		return nil, fmt.Errorf("failed to move %s: %w", src, err)
	}
	return &Result{
		Stdout:     fmt.Sprintf("moved %s -> %s", src, dest),
		Reversible: true,
		Strategy:   ledger.Strategy{Kind: ledger.StrategyMoveBack, From: dest, To: src},
	}, nil
}

func (f *fileOps) copy(_ context.Context, args map[string]any) (*Result, error) {
	src := stringArg(args, "src")
	dest := stringArg(args, "dest")

	strategy := ledger.Strategy{Kind: ledger.StrategyDelete, Path: dest}
	reversible := true
	if _, err := os.Stat(dest); err == nil {
		backup, berr := f.backup(dest)
		if berr != nil {
			strategy = ledger.None()
			reversible = false
		} else {
			strategy = ledger.Strategy{Kind: ledger.StrategyRestore, Path: dest, BackupPath: backup}
		}
	}

	if err := copyFile(src, dest); err != nil {
		return nil, err
	}
	return &Result{
		Stdout:     fmt.Sprintf("copied %s -> %s", src, dest),
		Reversible: reversible,
		Strategy:   strategy,
	}, nil
}

// backup copies the file into the backup directory and returns the
// backup path.
func (f *fileOps) backup(path string) (string, error) {
	if err := os.MkdirAll(f.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	backup := filepath.Join(f.backupDir,
		fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(path)))
	if err := copyFile(path, backup); err != nil {
		return "", err
	}
	return backup, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
