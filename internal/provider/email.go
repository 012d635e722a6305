package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// emailPayload is the shape expected in Notification.Payload for the EMAIL
// channel (spec.md §4.1's channel-shape validation).
type emailPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailProvider sends notifications over SMTP using gomail, matching the
// teacher's delayed-notifier sibling pattern (see DESIGN.md).
type EmailProvider struct {
	name   string
	dialer *gomail.Dialer
	from   string
}

// NewEmailProvider builds an SMTP-backed email adapter. name is the Circuit
// Breaker registry key (e.g. "email.primary" or "email.fallback") — two
// instances pointed at different relays can be registered under the same
// channel, one as primary and one as fallback.
func NewEmailProvider(name, host string, port int, user, password, from string) *EmailProvider {
	return &EmailProvider{
		name:   name,
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
	}
}

func (p *EmailProvider) Name() string { return p.name }

func (p *EmailProvider) Send(ctx context.Context, n *domain.Notification) (*SendResult, error) {
	var payload emailPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, domain.NewPermanentError("decode email payload", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", n.UserID)
	m.SetHeader("Subject", payload.Subject)
	m.SetBody("text/plain", payload.Body)

	done := make(chan error, 1)
	go func() { done <- p.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return nil, domain.NewTimeoutError("smtp dial and send", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, domain.NewTransientError("smtp dial and send", err)
		}
	}

	return &SendResult{
		ProviderMessageID: fmt.Sprintf("email-%s", uuid.New().String()),
		SentAt:            time.Now().UTC(),
	}, nil
}

var _ Provider = (*EmailProvider)(nil)
