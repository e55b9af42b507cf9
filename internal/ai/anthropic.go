package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAnthropicBaseURL is used when NewAnthropicClient receives an empty
// base URL.
const DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"

// anthropicClient is the Generator backed by the Anthropic Messages API.
type anthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicClient returns a Generator that calls the Anthropic API.
//   - apiKey:  your ANTHROPIC_API_KEY
//   - model:   e.g. "claude-sonnet-4-5"
//   - baseURL: empty means the public endpoint
func NewAnthropicClient(apiKey, model, baseURL string) Generator {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	return &anthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// ─── ANTHROPIC API SHAPES ────────────────────────────────────────────────────

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *anthropicError `json:"error"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ─── IMPLEMENTATION ──────────────────────────────────────────────────────────

// GenerateText calls the Messages API and returns the first text block.
func (c *anthropicClient) GenerateText(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := c.do(ctx, c.request(messages, opts, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB cap
	if err != nil {
		return "", fmt.Errorf("anthropic: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp.StatusCode, respBytes)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("anthropic: unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return "", &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Type: parsed.Error.Type, Message: parsed.Error.Message}
	}

	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}

// StreamText forwards every text_delta of a streaming Messages call.
func (c *anthropicClient) StreamText(ctx context.Context, messages []Message, opts Options, onChunk func(string)) error {
	resp, err := c.do(ctx, c.request(messages, opts, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return c.apiError(resp.StatusCode, respBytes)
	}

	err = readSSE(resp.Body, func(ev sseEvent) error {
		var e anthropicStreamEvent
		if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
			return fmt.Errorf("anthropic: unmarshal stream event: %w", err)
		}
		switch e.Type {
		case "content_block_delta":
			if e.Delta.Type == "text_delta" && e.Delta.Text != "" {
				onChunk(e.Delta.Text)
			}
		case "message_stop":
			return errStreamDone
		case "error":
			if e.Error != nil {
				return &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Type: e.Error.Type, Message: e.Error.Message}
			}
			return fmt.Errorf("anthropic: stream error event")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("anthropic: read stream: %w", err)
	}
	return nil
}

// request maps the unified message list onto the Messages API, which takes
// system text as a top-level field rather than as a message.
func (c *anthropicClient) request(messages []Message, opts Options, stream bool) anthropicRequest {
	opts = opts.withDefaults()

	var system []string
	turns := make([]anthropicMessage, 0, len(messages))
	for _, m := range buildMessages(messages, opts.SystemPrompt) {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	return anthropicRequest{
		Model:       c.model,
		MaxTokens:   opts.MaxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    turns,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stream:      stream,
	}
}

func (c *anthropicClient) do(ctx context.Context, reqBody anthropicRequest) (*http.Response, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/messages",
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: http request: %w", err)
	}
	return resp, nil
}

func (c *anthropicClient) apiError(status int, body []byte) error {
	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return &APIError{Provider: "anthropic", StatusCode: status, Type: parsed.Error.Type, Message: parsed.Error.Message}
	}
	return &APIError{Provider: "anthropic", StatusCode: status, Message: fmt.Sprintf("%.200s", string(body))}
}
