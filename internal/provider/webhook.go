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

// webhookSendRequest is the JSON body posted to the configured webhook URL.
type webhookSendRequest struct {
	UserID  string          `json:"user_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type webhookSendResponse struct {
	MessageID string `json:"messageId"`
}

// WebhookProvider delivers notifications by POSTing to a configured webhook
// endpoint (teacher's original, single-channel pattern, generalized to the
// new payload shape).
type WebhookProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewWebhookProvider builds an HTTP POST adapter. name is the Circuit
// Breaker registry key (e.g. "webhook.primary" or "webhook.fallback") —
// registering two instances pointed at different endpoints gives the channel
// a fallback target.
func NewWebhookProvider(name, baseURL string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *WebhookProvider) Name() string { return p.name }

func (p *WebhookProvider) Send(ctx context.Context, n *domain.Notification) (*SendResult, error) {
	body, err := json.Marshal(webhookSendRequest{
		UserID:  n.UserID,
		Type:    string(n.Type),
		Payload: n.Payload,
	})
	if err != nil {
		return nil, domain.NewPermanentError("marshal webhook request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewPermanentError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewTimeoutError("webhook request", err)
		}
		return nil, domain.NewTransientError("webhook request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, domain.NewTransientError("webhook request", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, domain.NewPermanentError("webhook request", fmt.Errorf("status %d", resp.StatusCode))
	}

	var sendResp webhookSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return nil, domain.NewPermanentError("decode webhook response", err)
	}

	return &SendResult{ProviderMessageID: sendResp.MessageID, SentAt: time.Now().UTC()}, nil
}

var _ Provider = (*WebhookProvider)(nil)
