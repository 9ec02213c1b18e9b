package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenus/internal/config"
	"zenus/internal/resilience"
	"zenus/internal/types"
)

// cannedClient returns a fixed response or error.
type cannedClient struct {
	name     string
	response string
	err      error
	calls    int
}

func (c *cannedClient) Name() string { return c.name }

func (c *cannedClient) Complete(ctx context.Context, system, user string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func newTestTranslator(clients ...*cannedClient) *Translator {
	m := make(map[string]Client)
	var names []string
	for _, c := range clients {
		m[c.name] = c
		names = append(names, c.name)
	}
	cfg := config.DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	return &Translator{
		clients: m,
		chain:   resilience.NewFallbackChain(names),
		kit:     resilience.NewKit(cfg),
		tools:   []string{"FileOps", "ShellOps"},
	}
}

func TestTranslateParsesWrappedJSON(t *testing.T) {
	primary := &cannedClient{name: "gemini", response: "Here you go:\n```json\n" +
		`{"goal":"make dir","requires_confirmation":false,` +
		`"steps":[{"tool":"FileOps","action":"mkdir","args":{"path":"/tmp/d"},"risk":1}]}` +
		"\n```"}

	ir, err := newTestTranslator(primary).Translate(context.Background(),
		types.TranslateRequest{Input: "make a directory"})
	require.NoError(t, err)
	assert.Equal(t, "make dir", ir.Goal)
	require.Len(t, ir.Steps, 1)
	assert.Equal(t, "mkdir", ir.Steps[0].Action)
	assert.Equal(t, types.RiskModify, ir.Steps[0].Risk)
}

func TestTranslateRejectsNonJSONResponse(t *testing.T) {
	primary := &cannedClient{name: "gemini", response: "I cannot do that."}
	_, err := newTestTranslator(primary).Translate(context.Background(),
		types.TranslateRequest{Input: "x"})
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestTranslateFallsBackAcrossProviders(t *testing.T) {
	primary := &cannedClient{name: "gemini",
		err: types.WithKind(types.KindTransient, errors.New("down"))}
	backup := &cannedClient{name: "ollama",
		response: `{"goal":"noop","steps":[{"tool":"ShellOps","action":"run","args":{"command":"true"},"risk":0}]}`}

	ir, err := newTestTranslator(primary, backup).Translate(context.Background(),
		types.TranslateRequest{Input: "x"})
	require.NoError(t, err)
	assert.Equal(t, "noop", ir.Goal)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestReflectParsesAndClamps(t *testing.T) {
	client := &cannedClient{name: "gemini",
		response: `{"achieved":true,"confidence":1.7,"reasoning":"all files present"}`}

	r, err := newTestTranslator(client).Reflect(context.Background(), "goal", "trail")
	require.NoError(t, err)
	assert.True(t, r.Achieved)
	assert.InDelta(t, 1.0, r.Confidence, 1e-9, "confidence clamps into [0,1]")
	assert.Equal(t, "all files present", r.Reasoning)
}

func TestPromptsCarryContext(t *testing.T) {
	sys := translateSystemPrompt([]string{"FileOps", "GitOps"})
	assert.Contains(t, sys, "FileOps, GitOps")

	user := translateUserPrompt(types.TranslateRequest{
		Input: "clean up", WorkingDir: "/srv/app", Profile: "ops",
		Trail: "FileOps.delete ok",
	})
	assert.Contains(t, user, "/srv/app")
	assert.Contains(t, user, "ops")
	assert.Contains(t, user, "FileOps.delete ok")
	assert.Contains(t, user, "Request: clean up")
}
