package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenus/internal/config"
	"zenus/internal/types"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"goal":"x"}`, `{"goal":"x"}`},
		{"markdown fence", "```json\n{\"goal\":\"x\"}\n```", `{"goal":"x"}`},
		{"prose around", `Sure, here is the plan: {"goal":"x"} hope that helps`, `{"goal":"x"}`},
		{"nested objects", `{"a":{"b":{"c":1}},"d":2}`, `{"a":{"b":{"c":1}},"d":2}`},
		{"braces inside strings", `{"cmd":"awk '{print $1}'"}`, `{"cmd":"awk '{print $1}'"}`},
		{"escaped quotes", `{"msg":"say \"hi\" {now}"}`, `{"msg":"say \"hi\" {now}"}`},
		{"trailing garbage after close", `{"a":1}}}`, `{"a":1}`},
		{"no object", "sorry, I cannot help with that", ""},
		{"unbalanced", `{"a": {"b": 1}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractJSON(tc.in))
		})
	}
}

func TestNewClient(t *testing.T) {
	cfg := config.LLMConfig{APIKey: "k", Model: "m", MaxTokens: 1024}

	for _, name := range []string{"gemini", "anthropic", "openai", "deepseek"} {
		c, err := NewClient(name, cfg)
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}

	t.Run("ollama needs no key", func(t *testing.T) {
		c, err := NewClient("ollama", config.LLMConfig{Model: "llama3"})
		require.NoError(t, err)
		assert.Equal(t, "ollama", c.Name())
	})

	t.Run("missing key rejected", func(t *testing.T) {
		_, err := NewClient("anthropic", config.LLMConfig{Model: "m"})
		assert.ErrorIs(t, err, ErrNoAPIKey)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewClient("skynet", cfg)
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})
}

func TestWatchdog(t *testing.T) {
	t.Run("stalls cancel with no-progress cause", func(t *testing.T) {
		wctx, _, stop := watchdog(context.Background(), 10*time.Millisecond)
		defer stop()

		select {
		case <-wctx.Done():
		case <-time.After(time.Second):
			t.Fatal("watchdog never fired")
		}
		err := streamErr(wctx, wctx.Err())
		assert.ErrorIs(t, err, ErrNoProgress)
		assert.Equal(t, types.KindTimeout, types.Classify(err))
	})

	t.Run("touch keeps the stream alive", func(t *testing.T) {
		wctx, touch, stop := watchdog(context.Background(), 50*time.Millisecond)
		defer stop()

		for i := 0; i < 5; i++ {
			time.Sleep(20 * time.Millisecond)
			touch()
		}
		assert.NoError(t, wctx.Err())
	})

	t.Run("zero duration disables the watchdog", func(t *testing.T) {
		ctx := context.Background()
		wctx, _, _ := watchdog(ctx, 0)
		assert.Equal(t, ctx, wctx)
	})
}

func TestCheckHTTPStatus(t *testing.T) {
	assert.NoError(t, checkHTTPStatus("openai", 200))

	cases := []struct {
		status int
		kind   types.ErrorKind
	}{
		{401, types.KindPermission},
		{403, types.KindPermission},
		{429, types.KindTransient},
		{500, types.KindTransient},
		{503, types.KindTransient},
	}
	for _, tc := range cases {
		err := checkHTTPStatus("openai", tc.status)
		require.Error(t, err)
		assert.Equal(t, tc.kind, types.Classify(err), "status %d", tc.status)
	}
}
