package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// validatePayloadShape runs the channel-dependent second validation pass
// spec.md §4.1 calls for: declarative struct tags can enforce required-ness
// on the request envelope, but not "this payload matches what channel X's
// adapter expects," which is checked here before anything is persisted.
func validatePayloadShape(channel domain.Channel, payload []byte) error {
	switch channel {
	case domain.ChannelEmail:
		var p struct {
			Subject string `json:"subject"`
			Body    string `json:"body"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		if p.Subject == "" || p.Body == "" {
			return fmt.Errorf("%w: email requires subject and body", domain.ErrInvalidPayload)
		}

	case domain.ChannelSMS:
		var p struct {
			Body string `json:"body"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		if p.Body == "" {
			return fmt.Errorf("%w: sms requires body", domain.ErrInvalidPayload)
		}

	case domain.ChannelPushIOS, domain.ChannelPushAndroid:
		var p struct {
			Endpoint string `json:"endpoint"`
			P256dh   string `json:"p256dh"`
			Auth     string `json:"auth"`
			Title    string `json:"title"`
			Body     string `json:"body"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		if p.Endpoint == "" || p.P256dh == "" || p.Auth == "" || p.Title == "" || p.Body == "" {
			return fmt.Errorf("%w: push requires endpoint, p256dh, auth, title and body", domain.ErrInvalidPayload)
		}

	case domain.ChannelWebhook:
		if !json.Valid(payload) {
			return fmt.Errorf("%w: payload must be valid JSON", domain.ErrInvalidPayload)
		}

	default:
		return domain.ErrInvalidChannel
	}

	return nil
}
