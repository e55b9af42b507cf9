// Package ai wraps hosted chat-completion APIs behind one small interface.
// Callers hand over role-tagged messages and get text back; prompt design and
// response parsing live in the packages that own the prompts (risk, notes).
package ai

import (
	"context"
	"fmt"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Defaults applied to zero-valued Options fields.
const (
	DefaultTemperature = 0.5
	DefaultMaxTokens   = 1024
)

// Options tunes a single completion call. Zero values fall back to the
// defaults above; TopP of zero leaves the provider default in place.
type Options struct {
	// SystemPrompt, when set, is sent as a single system message ahead of all
	// caller-supplied messages.
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	TopP         float64
}

func (o Options) withDefaults() Options {
	if o.Temperature <= 0 {
		o.Temperature = DefaultTemperature
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	return o
}

// Generator is the interface every package uses to talk to a language model.
// Implementations make exactly one outbound request per call and never retry;
// transport and API errors are returned to the caller.
//
// Implementations must be safe to call concurrently.
type Generator interface {
	// GenerateText returns the text of the first completion, or "" if the
	// model returned no content.
	GenerateText(ctx context.Context, messages []Message, opts Options) (string, error)

	// StreamText has the same contract as GenerateText but delivers text to
	// onChunk as it arrives, in the order the provider emits it.
	StreamText(ctx context.Context, messages []Message, opts Options, onChunk func(string)) error
}

// buildMessages returns one unified list: the system prompt (if any) followed
// by the caller's messages in their original order. Messages are not
// validated or merged.
func buildMessages(messages []Message, systemPrompt string) []Message {
	out := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(out, messages...)
}

// APIError is a non-2xx answer from a provider. Use errors.As to inspect it.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error %d %s: %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}
