package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// pushPayload is the shape expected in Notification.Payload for PUSH_IOS and
// PUSH_ANDROID — both channels share one Web Push adapter (spec.md §9 Open
// Question 1), since the browser/OS push gateway is VAPID-based regardless
// of platform.
type pushPayload struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	TTL      int    `json:"ttl_seconds,omitempty"`
}

// PushProvider delivers PUSH_IOS and PUSH_ANDROID notifications via Web
// Push/VAPID, the one push transport every platform agrees on without a
// per-vendor SDK.
type PushProvider struct {
	name            string
	vapidPublicKey  string
	vapidPrivateKey string
	vapidSubject    string
}

// NewPushProvider builds a Web Push adapter. name is the Circuit Breaker
// registry key (e.g. "push.primary" or "push.fallback").
func NewPushProvider(name, vapidPublicKey, vapidPrivateKey, vapidSubject string) *PushProvider {
	return &PushProvider{
		name:            name,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		vapidSubject:    vapidSubject,
	}
}

func (p *PushProvider) Name() string { return p.name }

func (p *PushProvider) Send(ctx context.Context, n *domain.Notification) (*SendResult, error) {
	var payload pushPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, domain.NewPermanentError("decode push payload", err)
	}

	body, err := json.Marshal(map[string]string{
		"title": payload.Title,
		"body":  payload.Body,
	})
	if err != nil {
		return nil, domain.NewPermanentError("marshal push body", err)
	}

	ttl := payload.TTL
	if ttl == 0 {
		ttl = 86400
	}

	if ctx.Err() != nil {
		return nil, domain.NewTimeoutError("web push send", ctx.Err())
	}

	resp, err := webpush.SendNotification(body, &webpush.Subscription{
		Endpoint: payload.Endpoint,
		Keys: webpush.Keys{
			P256dh: payload.P256dh,
			Auth:   payload.Auth,
		},
	}, &webpush.Options{
		Subscriber:      p.vapidSubject,
		VAPIDPublicKey:  p.vapidPublicKey,
		VAPIDPrivateKey: p.vapidPrivateKey,
		TTL:             ttl,
	})
	if err != nil {
		return nil, domain.NewTransientError("web push send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 410 || resp.StatusCode == 404 {
		// Gone/not found: the subscription itself is dead, not a transient outage.
		return nil, domain.NewPermanentError("web push send", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, domain.NewTransientError("web push send", fmt.Errorf("status %d", resp.StatusCode))
	}

	return &SendResult{ProviderMessageID: n.ID, SentAt: time.Now().UTC()}, nil
}

var _ Provider = (*PushProvider)(nil)
