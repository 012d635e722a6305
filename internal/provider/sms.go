package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// smsPayload is the shape expected in Notification.Payload for the SMS
// channel.
type smsPayload struct {
	Body string `json:"body"`
}

type smsGatewayResponse struct {
	MessageID string `json:"message_id"`
}

// SMSProvider posts to a configured SMS gateway over plain net/http. No SMS
// SDK appears anywhere in the corpus (see DESIGN.md), so this is the one
// provider adapter built directly on the standard library rather than a
// wired third-party client.
type SMSProvider struct {
	name       string
	gatewayURL string
	httpClient *http.Client
}

// NewSMSProvider builds a gateway-backed SMS adapter. name is the Circuit
// Breaker registry key (e.g. "sms.primary" or "sms.fallback").
func NewSMSProvider(name, gatewayURL string, timeout time.Duration) *SMSProvider {
	return &SMSProvider{
		name:       name,
		gatewayURL: gatewayURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *SMSProvider) Name() string { return p.name }

func (p *SMSProvider) Send(ctx context.Context, n *domain.Notification) (*SendResult, error) {
	var payload smsPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, domain.NewPermanentError("decode sms payload", err)
	}

	body, err := json.Marshal(map[string]string{
		"to":   n.UserID,
		"body": payload.Body,
	})
	if err != nil {
		return nil, domain.NewPermanentError("marshal sms request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPermanentError("create sms request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewTimeoutError("sms gateway request", err)
		}
		return nil, domain.NewTransientError("sms gateway request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, domain.NewTransientError("sms gateway request", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, domain.NewPermanentError("sms gateway request", fmt.Errorf("status %d", resp.StatusCode))
	}

	var gwResp smsGatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&gwResp); err != nil {
		return nil, domain.NewPermanentError("decode sms gateway response", err)
	}

	return &SendResult{ProviderMessageID: gwResp.MessageID, SentAt: time.Now().UTC()}, nil
}

var _ Provider = (*SMSProvider)(nil)
