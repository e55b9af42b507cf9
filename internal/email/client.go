// Package email defines the mail-relay interface used to send visit
// summaries to patients and provides a Resend-backed implementation.
package email

import (
	"context"
	"errors"
)

// Message is one outgoing email. Body is plain text; the relay renders an
// HTML alternative from it. From and FromName override the configured
// sender when set.
type Message struct {
	To       string `json:"to"`
	ToName   string `json:"toName,omitempty"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	From     string `json:"from,omitempty"`
	FromName string `json:"fromName,omitempty"`
}

// Receipt is the relay's acknowledgement.
type Receipt struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// ErrInvalidMessage is returned before any network call when a required field
// is missing.
var ErrInvalidMessage = errors.New("email: invalid message")

// Validate checks the fields every provider requires.
func (m Message) Validate() error {
	var errs []error
	if m.To == "" {
		errs = append(errs, errors.New("to is required"))
	}
	if m.Subject == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if m.Body == "" {
		errs = append(errs, errors.New("body is required"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidMessage}, errs...)...)
	}
	return nil
}

// Sender is the interface the worker and HTTP handlers use to send email.
// Tests inject a stub that records calls without hitting the network.
type Sender interface {
	Send(ctx context.Context, m Message) (Receipt, error)
}
