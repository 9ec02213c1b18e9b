// Package provider implements the LLM-backed Translator: streaming
// clients for each supported provider, composed behind the resilience
// layers (fallback over budgeted retries over circuit breakers).
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zenus/internal/config"
	"zenus/internal/types"
)

// Client is one model provider. Complete streams internally and
// returns the assembled text; implementations must honor ctx between
// chunks and give up when the stream stalls past the no-progress
// timeout.
type Client interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// NewClient builds a client for the named provider using the LLM
// config. The deepseek and ollama providers speak the OpenAI chat
// completions protocol against their own endpoints.
func NewClient(name string, cfg config.LLMConfig) (Client, error) {
	noProgress := time.Duration(cfg.NoProgressTimeoutSeconds) * time.Second
	switch name {
	case "gemini":
		return newGeminiClient(cfg, noProgress)
	case "anthropic":
		return newAnthropicClient(cfg, noProgress)
	case "openai":
		return newOpenAIClient(name, "https://api.openai.com/v1", cfg, noProgress)
	case "deepseek":
		return newOpenAIClient(name, "https://api.deepseek.com/v1", cfg, noProgress)
	case "ollama":
		return newOpenAIClient(name, "http://localhost:11434/v1", cfg, noProgress)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}

// watchdog cancels the returned context when touch is not called for
// the duration. Used to bound the gap between stream chunks while the
// stream itself has no wall-clock timeout.
func watchdog(ctx context.Context, d time.Duration) (wctx context.Context, touch func(), stop func()) {
	if d <= 0 {
		return ctx, func() {}, func() {}
	}
	wctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(d, func() {
		cancel(ErrNoProgress)
	})
	touch = func() { timer.Reset(d) }
	stop = func() {
		timer.Stop()
		cancel(nil)
	}
	return wctx, touch, stop
}

// streamErr maps a stalled-stream cancellation back to a timeout kind
// so retries see it as retriable.
func streamErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause == ErrNoProgress {
		return types.WithKind(types.KindTimeout, ErrNoProgress)
	}
	return err
}

// extractJSON finds the first balanced JSON object in a response,
// tolerating markdown fences and prose around it.
func extractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
