package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nyashahama/clinical-risk-backend/internal/ai"
)

// ─── POST /api/chat/stream ───────────────────────────────────────────────────

type chatRequest struct {
	Messages     []ai.Message `json:"messages"`
	SystemPrompt string       `json:"systemPrompt"`
	Temperature  float64      `json:"temperature"`
	MaxTokens    int          `json:"maxTokens"`
}

const maxChatTokens = 4096

// handleChatStream relays a streamed completion as server-sent events:
//
//	data: {"text":"..."}      one per chunk, in model order
//	event: done               after the last chunk
//	event: error              if the model fails; headers are already sent,
//	                          so the status stays 200
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validateChat(req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	chunks := 0
	err := s.chat.StreamText(r.Context(), req.Messages, ai.Options{
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}, func(text string) {
		chunks++
		writeEvent(w, "", map[string]string{"text": text})
		_ = rc.Flush()
	})

	if err != nil {
		s.logger.Error("chat stream failed", "error", err, "chunks", chunks, logField(r))
		writeEvent(w, "error", map[string]string{"error": "completion failed"})
		_ = rc.Flush()
		return
	}

	writeEvent(w, "done", map[string]int{"chunks": chunks})
	_ = rc.Flush()
}

func validateChat(req chatRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case ai.RoleUser, ai.RoleAssistant, ai.RoleSystem:
		default:
			return fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("messages[%d]: content is required", i)
		}
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if req.MaxTokens < 0 || req.MaxTokens > maxChatTokens {
		return fmt.Errorf("maxTokens must be between 0 and %d", maxChatTokens)
	}
	return nil
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, _ := json.Marshal(payload)
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
