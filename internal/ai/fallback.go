package ai

import (
	"context"
	"fmt"
	"log/slog"
)

// fallbackGenerator wraps two Generators. It calls the primary first; if that
// returns an error it logs the failure and tries the secondary. Each wrapped
// client still makes exactly one request; this only changes which provider
// answers.
type fallbackGenerator struct {
	primary   Generator
	secondary Generator
	logger    *slog.Logger
}

// NewFallbackGenerator returns a Generator that calls primary and, on
// failure, falls back to secondary. Either argument may be nil: if primary is
// nil it goes straight to secondary; if secondary is nil and primary fails,
// the primary error is returned wrapped.
func NewFallbackGenerator(primary, secondary Generator, logger *slog.Logger) Generator {
	return &fallbackGenerator{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

func (f *fallbackGenerator) GenerateText(ctx context.Context, messages []Message, opts Options) (string, error) {
	if f.primary != nil {
		text, err := f.primary.GenerateText(ctx, messages, opts)
		if err == nil {
			return text, nil
		}
		f.logger.Warn("ai: primary generator failed, trying secondary",
			"error", err,
			"messages", len(messages),
		)
		if f.secondary == nil {
			return "", fmt.Errorf("ai: primary failed and no secondary configured: %w", err)
		}
	}

	return f.secondary.GenerateText(ctx, messages, opts)
}

// StreamText only falls back when the primary failed before delivering any
// text. Once chunks have reached the caller a second provider would produce
// a different, interleaved answer, so the error is returned instead.
func (f *fallbackGenerator) StreamText(ctx context.Context, messages []Message, opts Options, onChunk func(string)) error {
	if f.primary != nil {
		delivered := false
		err := f.primary.StreamText(ctx, messages, opts, func(s string) {
			delivered = true
			onChunk(s)
		})
		if err == nil {
			return nil
		}
		if delivered {
			return fmt.Errorf("ai: primary stream failed mid-response: %w", err)
		}
		f.logger.Warn("ai: primary stream failed, trying secondary", "error", err)
		if f.secondary == nil {
			return fmt.Errorf("ai: primary failed and no secondary configured: %w", err)
		}
	}

	return f.secondary.StreamText(ctx, messages, opts, onChunk)
}
