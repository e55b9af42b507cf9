package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultResendBaseURL is the public Resend API.
const DefaultResendBaseURL = "https://api.resend.com"

// resendClient is the concrete Sender backed by the Resend API.
type resendClient struct {
	apiKey     string
	fromAddr   string // e.g. "care@clinic.example"
	fromName   string // e.g. "Riverside Clinic"
	baseURL    string
	httpClient *http.Client
}

// NewResendClient returns a Sender that delivers email via Resend. An empty
// baseURL means the public API.
func NewResendClient(apiKey, fromAddr, fromName, baseURL string) Sender {
	if baseURL == "" {
		baseURL = DefaultResendBaseURL
	}
	return &resendClient{
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ─── RESEND API SHAPES ────────────────────────────────────────────────────────

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

type resendResponse struct {
	ID string `json:"id"`
	// Resend reports errors either at the top level or nested under "error"
	// depending on the endpoint version.
	Name       string `json:"name"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	Error      *struct {
		Name       string `json:"name"`
		Message    string `json:"message"`
		StatusCode int    `json:"statusCode"`
	} `json:"error"`
}

// ─── SENDER IMPLEMENTATION ────────────────────────────────────────────────────

// Send delivers m and returns Resend's message ID.
func (c *resendClient) Send(ctx context.Context, m Message) (Receipt, error) {
	if err := m.Validate(); err != nil {
		return Receipt{}, err
	}

	reqBody := resendRequest{
		From:    c.from(m),
		To:      []string{address(m.ToName, m.To)},
		Subject: m.Subject,
		HTML:    bodyHTML(m.Subject, m.Body),
		Text:    m.Body,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Receipt{}, fmt.Errorf("email: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/emails",
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return Receipt{}, fmt.Errorf("email: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("email: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Receipt{}, fmt.Errorf("email: read response: %w", err)
	}

	var parsed resendResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return Receipt{}, fmt.Errorf("email: unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return Receipt{}, fmt.Errorf("email: Resend error %s: %s", parsed.Error.Name, parsed.Error.Message)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Message != "" {
			return Receipt{}, fmt.Errorf("email: Resend error %d %s: %s", resp.StatusCode, parsed.Name, parsed.Message)
		}
		return Receipt{}, fmt.Errorf("email: unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	return Receipt{MessageID: parsed.ID, Status: "sent"}, nil
}

func (c *resendClient) from(m Message) string {
	addr, name := c.fromAddr, c.fromName
	if m.From != "" {
		addr = m.From
		name = m.FromName
	} else if m.FromName != "" {
		name = m.FromName
	}
	return address(name, addr)
}

// address renders `Name <addr>`, or the bare address when name is empty.
func address(name, addr string) string {
	name = strings.TrimSpace(strings.NewReplacer("<", "", ">", "", "\"", "").Replace(name))
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

// ─── HTML TEMPLATE ────────────────────────────────────────────────────────────

// bodyHTML renders a plain-text body as escaped paragraphs. Blank lines split
// paragraphs; single newlines become <br>.
func bodyHTML(subject, body string) string {
	var paras []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		escaped := strings.ReplaceAll(html.EscapeString(p), "\n", "<br>")
		paras = append(paras, "  <p>"+escaped+"</p>")
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; color: #1a1a1a; max-width: 560px; margin: 0 auto; padding: 24px;">
  <h2 style="margin-bottom: 8px;">%s</h2>
%s
  <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 32px 0;">
  <p style="color: #9ca3af; font-size: 12px;">
    This message was sent by your care team. Reply to this email if you have questions.
  </p>
</body>
</html>`, html.EscapeString(subject), strings.Join(paras, "\n"))
}
