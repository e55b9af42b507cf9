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

// DefaultOpenAIBaseURL is used when NewOpenAIClient receives an empty base URL.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// openAIClient is the Generator backed by any OpenAI-compatible
// /chat/completions endpoint (OpenAI, DeepSeek, Groq, a local vLLM, ...).
type openAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient returns a Generator for an OpenAI-compatible API.
//   - apiKey:  bearer token
//   - model:   e.g. "gpt-4o-mini" or "deepseek-chat"
//   - baseURL: e.g. "https://api.deepseek.com/v1"; empty means OpenAI
func NewOpenAIClient(apiKey, model, baseURL string) Generator {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &openAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// ─── OPENAI-COMPATIBLE API SHAPES ────────────────────────────────────────────

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *openAIError `json:"error"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *openAIError `json:"error"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ─── IMPLEMENTATION ──────────────────────────────────────────────────────────

// GenerateText sends one chat completion request and returns the first
// choice's content.
func (c *openAIClient) GenerateText(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := c.do(ctx, c.request(messages, opts, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp.StatusCode, respBytes)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("openai: unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return "", &APIError{Provider: "openai", StatusCode: resp.StatusCode, Type: parsed.Error.Type, Message: parsed.Error.Message}
	}

	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// StreamText sends a streaming request and forwards every content delta.
func (c *openAIClient) StreamText(ctx context.Context, messages []Message, opts Options, onChunk func(string)) error {
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
		if ev.Data == "[DONE]" {
			return errStreamDone
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return fmt.Errorf("openai: unmarshal stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return &APIError{Provider: "openai", StatusCode: resp.StatusCode, Type: chunk.Error.Type, Message: chunk.Error.Message}
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				onChunk(ch.Delta.Content)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("openai: read stream: %w", err)
	}
	return nil
}

func (c *openAIClient) request(messages []Message, opts Options, stream bool) openAIRequest {
	opts = opts.withDefaults()
	return openAIRequest{
		Model:       c.model,
		Messages:    buildMessages(messages, opts.SystemPrompt),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Stream:      stream,
	}
}

// do sends one request to the chat completions endpoint. The caller owns the
// response body.
func (c *openAIClient) do(ctx context.Context, reqBody openAIRequest) (*http.Response, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if reqBody.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: http request: %w", err)
	}
	return resp, nil
}

func (c *openAIClient) apiError(status int, body []byte) error {
	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return &APIError{Provider: "openai", StatusCode: status, Type: parsed.Error.Type, Message: parsed.Error.Message}
	}
	return &APIError{Provider: "openai", StatusCode: status, Message: fmt.Sprintf("%.200s", string(body))}
}
