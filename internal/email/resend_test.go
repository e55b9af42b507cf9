package email_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/clinical-risk-backend/internal/email"
)

type capturedRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

func TestResend_Send(t *testing.T) {
	var got capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"msg_123"}`)
	}))
	defer srv.Close()

	sender := email.NewResendClient("re_test", "care@clinic.example", "Riverside Clinic", srv.URL)
	receipt, err := sender.Send(context.Background(), email.Message{
		To:      "jane@example.com",
		ToName:  "Jane Doe",
		Subject: "Your visit",
		Body:    "Line one\nline two\n\n<b>Second</b> paragraph",
	})
	require.NoError(t, err)

	assert.Equal(t, email.Receipt{MessageID: "msg_123", Status: "sent"}, receipt)
	assert.Equal(t, "Riverside Clinic <care@clinic.example>", got.From)
	assert.Equal(t, []string{"Jane Doe <jane@example.com>"}, got.To)
	assert.Equal(t, "Your visit", got.Subject)
	assert.Equal(t, "Line one\nline two\n\n<b>Second</b> paragraph", got.Text)
	assert.Contains(t, got.HTML, "<p>Line one<br>line two</p>")
	assert.Contains(t, got.HTML, "&lt;b&gt;Second&lt;/b&gt; paragraph")
}

func TestResend_SenderOverride(t *testing.T) {
	var got capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"id":"msg_1"}`)
	}))
	defer srv.Close()

	sender := email.NewResendClient("k", "care@clinic.example", "Riverside Clinic", srv.URL)
	_, err := sender.Send(context.Background(), email.Message{
		To: "a@example.com", Subject: "s", Body: "b",
		From: "dr.smith@clinic.example", FromName: "Dr. Smith",
	})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Smith <dr.smith@clinic.example>", got.From)
	assert.Equal(t, []string{"a@example.com"}, got.To)
}

func TestResend_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"statusCode":422,"name":"validation_error","message":"Invalid to field"}`)
	}))
	defer srv.Close()

	_, err := email.NewResendClient("k", "f@x.example", "F", srv.URL).Send(context.Background(),
		email.Message{To: "bad", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid to field")
}

func TestResend_InvalidMessageNeverCallsAPI(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := email.NewResendClient("k", "f@x.example", "F", srv.URL).Send(context.Background(),
		email.Message{To: "a@example.com"})
	assert.ErrorIs(t, err, email.ErrInvalidMessage)
	assert.False(t, called)
}
