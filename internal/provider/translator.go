package provider

import (
	"context"
	"fmt"
	"strings"

	"zenus/internal/config"
	"zenus/internal/logging"
	"zenus/internal/resilience"
	"zenus/internal/types"
)

// Translator converts natural language to intent IR through whichever
// provider the fallback chain lands on. Every outbound call runs as
// fallback(retry(breaker(provider.call))).
type Translator struct {
	clients map[string]Client
	chain   *resilience.FallbackChain
	kit     *resilience.Kit
	tools   []string
}

// NewTranslator builds clients for the configured provider and its
// fallbacks. Providers that cannot be constructed (typically a missing
// key) are skipped; at least one must remain.
func NewTranslator(cfg *config.Config, kit *resilience.Kit, toolNames []string) (*Translator, error) {
	names := []string{cfg.LLM.Provider}
	if cfg.Fallback.Enabled {
		for _, n := range cfg.Fallback.Providers {
			if n != cfg.LLM.Provider {
				names = append(names, n)
			}
		}
	}

	clients := make(map[string]Client)
	var usable []string
	for _, name := range names {
		client, err := NewClient(name, cfg.LLM)
		if err != nil {
			logging.Provider("provider %s unavailable: %v", name, err)
			continue
		}
		clients[name] = client
		usable = append(usable, name)
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no usable providers among %v", names)
	}
	logging.Provider("translator ready with providers %v", usable)

	return &Translator{
		clients: clients,
		chain:   resilience.NewFallbackChain(usable),
		kit:     kit,
		tools:   toolNames,
	}, nil
}

// Translate produces a validated IntentIR for the input.
func (t *Translator) Translate(ctx context.Context, req types.TranslateRequest) (*types.IntentIR, error) {
	raw, err := t.complete(ctx, translateSystemPrompt(t.tools), translateUserPrompt(req))
	if err != nil {
		return nil, err
	}
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: %.120s", ErrNoJSON, raw)
	}
	ir, err := types.ParseIR([]byte(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("translation produced invalid IR: %w", err)
	}
	return ir, nil
}

// Reflect asks whether the trail achieved the goal.
func (t *Translator) Reflect(ctx context.Context, goal, trail string) (*types.Reflection, error) {
	raw, err := t.complete(ctx, reflectSystemPrompt, reflectUserPrompt(goal, trail))
	if err != nil {
		return nil, err
	}
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: %.120s", ErrNoJSON, raw)
	}
	r, err := types.ParseReflection([]byte(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("invalid reflection: %w", err)
	}
	return r, nil
}

func (t *Translator) complete(ctx context.Context, system, user string) (string, error) {
	var out string
	err := t.chain.Do(ctx, func(ctx context.Context, name string) error {
		client := t.clients[name]
		return t.kit.Call(ctx, "llm:"+name, func(ctx context.Context) error {
			text, cerr := client.Complete(ctx, system, user)
			if cerr != nil {
				return cerr
			}
			out = text
			return nil
		})
	})
	return out, err
}

func translateSystemPrompt(toolNames []string) string {
	return fmt.Sprintf(`You translate user requests into an executable plan.
Respond with ONLY a JSON object of this exact shape:
{"goal": string, "requires_confirmation": bool,
 "steps": [{"tool": string, "action": string, "args": {string: any}, "risk": 0|1|2|3}]}

Available tools: %s.
Risk levels: 0 read-only, 1 modifies files, 2 significant system change, 3 destructive.
Set requires_confirmation=true for any plan with risk >= 2.
Keep plans minimal; prefer independent steps that can run in parallel.`, strings.Join(toolNames, ", "))
}

func translateUserPrompt(req types.TranslateRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Working directory: %s\n", req.WorkingDir)
	if req.Profile != "" {
		fmt.Fprintf(&sb, "Profile: %s\n", req.Profile)
	}
	if req.Trail != "" {
		fmt.Fprintf(&sb, "\nWhat has been done so far:\n%s\n", req.Trail)
	}
	fmt.Fprintf(&sb, "\nRequest: %s", req.Input)
	return sb.String()
}

const reflectSystemPrompt = `You judge whether a goal has been achieved given an execution trail.
Respond with ONLY a JSON object:
{"achieved": bool, "confidence": number between 0 and 1,
 "reasoning": string, "next_steps": [string]}`

func reflectUserPrompt(goal, trail string) string {
	return fmt.Sprintf("Goal: %s\n\nExecution trail:\n%s", goal, trail)
}
