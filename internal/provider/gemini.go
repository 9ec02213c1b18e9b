package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"zenus/internal/config"
	"zenus/internal/logging"
)

// geminiClient streams completions through the Google GenAI SDK.
type geminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	noProgress  time.Duration
}

func newGeminiClient(cfg config.LLMConfig, noProgress time.Duration) (*geminiClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &geminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		noProgress:  noProgress,
	}, nil
}

func (c *geminiClient) Name() string { return "gemini" }

func (c *geminiClient) Complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temperature),
		MaxOutputTokens: c.maxTokens,
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	wctx, touch, stop := watchdog(ctx, c.noProgress)
	defer stop()

	var sb strings.Builder
	for resp, err := range c.client.Models.GenerateContentStream(wctx, c.model, contents, genCfg) {
		if err != nil {
			return "", streamErr(wctx, fmt.Errorf("gemini stream: %w", err))
		}
		touch()
		sb.WriteString(resp.Text())
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	logging.ProviderDebug("gemini completed %d chars in %v", sb.Len(), time.Since(start))
	return sb.String(), nil
}
