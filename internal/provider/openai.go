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
)

// openAIClient streams chat completions over the OpenAI protocol. It
// also serves deepseek and ollama, which expose the same API on their
// own endpoints.
type openAIClient struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	noProgress  time.Duration
	httpClient  *http.Client
}

func newOpenAIClient(name, baseURL string, cfg config.LLMConfig, noProgress time.Duration) (*openAIClient, error) {
	// Ollama runs locally and needs no key.
	if cfg.APIKey == "" && name != "ollama" {
		return nil, ErrNoAPIKey
	}
	return &openAIClient{
		name:        name,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		noProgress:  noProgress,
		httpClient:  &http.Client{},
	}, nil
}

func (c *openAIClient) Name() string { return c.name }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *openAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	messages := []chatMessage{}
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	wctx, touch, stop := watchdog(ctx, c.noProgress)
	defer stop()

	req, err := http.NewRequestWithContext(wctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", streamErr(wctx, fmt.Errorf("%s request: %w", c.name, err))
	}
	defer resp.Body.Close()
	if err := checkHTTPStatus(c.name, resp.StatusCode); err != nil {
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
		if data == "[DONE]" {
			break
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			sb.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", streamErr(wctx, fmt.Errorf("%s stream: %w", c.name, err))
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	logging.ProviderDebug("%s completed %d chars in %v", c.name, sb.Len(), time.Since(start))
	return sb.String(), nil
}
