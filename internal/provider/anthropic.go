package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"zenus/internal/config"
	"zenus/internal/logging"
	"zenus/internal/types"
)

// anthropicClient streams completions over the Anthropic messages API
// (server-sent events).
type anthropicClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	noProgress  time.Duration
	httpClient  *http.Client
}

func newAnthropicClient(cfg config.LLMConfig, noProgress time.Duration) (*anthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	return &anthropicClient{
		apiKey:      cfg.APIKey,
		baseURL:     "https://api.anthropic.com/v1",
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		noProgress:  noProgress,
		httpClient:  &http.Client{},
	}, nil
}

func (c *anthropicClient) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *anthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	body, err := json.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: user}},
		Temperature: c.temperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	wctx, touch, stop := watchdog(ctx, c.noProgress)
	defer stop()

	req, err := http.NewRequestWithContext(wctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", streamErr(wctx, fmt.Errorf("anthropic request: %w", err))
	}
	defer resp.Body.Close()
	if err := checkHTTPStatus("anthropic", resp.StatusCode); err != nil {
		return "", err
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		touch()
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			sb.WriteString(ev.Delta.Text)
		case "error":
			return "", types.WithKind(types.KindTransient,
				fmt.Errorf("anthropic stream error: %s", ev.Error.Message))
		case "message_stop":
		}
	}
	if err := scanner.Err(); err != nil {
		return "", streamErr(wctx, fmt.Errorf("anthropic stream: %w", err))
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	logging.ProviderDebug("anthropic completed %d chars in %v", sb.Len(), time.Since(start))
	return sb.String(), nil
}

// checkHTTPStatus classifies provider HTTP errors into retriable and
// terminal kinds.
func checkHTTPStatus(name string, status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.WithKind(types.KindPermission,
			fmt.Errorf("%s: HTTP %d", name, status))
	case status == http.StatusTooManyRequests || status >= 500:
		return types.WithKind(types.KindTransient,
			fmt.Errorf("%s: HTTP %d", name, status))
	default:
		return fmt.Errorf("%s: HTTP %d", name, status)
	}
}
