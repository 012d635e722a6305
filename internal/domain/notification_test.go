package domain_test

import (
	"testing"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

func TestChannel_IsValid(t *testing.T) {
	valid := []domain.Channel{
		domain.ChannelEmail, domain.ChannelSMS,
		domain.ChannelPushIOS, domain.ChannelPushAndroid, domain.ChannelWebhook,
	}
	for _, c := range valid {
		if !c.IsValid() {
			t.Fatalf("expected %q to be valid", c)
		}
	}
	if domain.Channel("fax").IsValid() {
		t.Fatal("expected \"fax\" to be invalid")
	}
}

func TestChannel_IsPush(t *testing.T) {
	if !domain.ChannelPushIOS.IsPush() || !domain.ChannelPushAndroid.IsPush() {
		t.Fatal("expected both push channels to report IsPush() == true")
	}
	if domain.ChannelEmail.IsPush() {
		t.Fatal("expected EMAIL to report IsPush() == false")
	}
}

func TestType_IsValid(t *testing.T) {
	valid := []domain.Type{
		domain.TypeTransactional, domain.TypeMarketing, domain.TypeAlert, domain.TypeReminder,
	}
	for _, tp := range valid {
		if !tp.IsValid() {
			t.Fatalf("expected %q to be valid", tp)
		}
	}
	if domain.Type("UNKNOWN").IsValid() {
		t.Fatal("expected \"UNKNOWN\" to be invalid")
	}
}

func TestPriority_IsValid(t *testing.T) {
	valid := []domain.Priority{
		domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent,
	}
	for _, p := range valid {
		if !p.IsValid() {
			t.Fatalf("expected %q to be valid", p)
		}
	}
	if domain.Priority("CRITICAL").IsValid() {
		t.Fatal("expected \"CRITICAL\" to be invalid")
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []domain.Status{domain.StatusDelivered, domain.StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %q to be terminal", s)
		}
	}

	nonTerminal := []domain.Status{
		domain.StatusPending, domain.StatusScheduled, domain.StatusProcessing,
		domain.StatusSent, domain.StatusFailed, domain.StatusRetrying,
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Fatalf("expected %q to not be terminal", s)
		}
	}
}

func TestNotification_IsFailedFinal(t *testing.T) {
	t.Run("failed with retries remaining is not final", func(t *testing.T) {
		n := &domain.Notification{Status: domain.StatusFailed, RetryCount: 2, MaxRetries: 5}
		if n.IsFailedFinal() {
			t.Fatal("expected not final: retries remain")
		}
	})

	t.Run("failed with retries exhausted is final", func(t *testing.T) {
		n := &domain.Notification{Status: domain.StatusFailed, RetryCount: 5, MaxRetries: 5}
		if !n.IsFailedFinal() {
			t.Fatal("expected final: retry_count == max_retries")
		}
	})

	t.Run("non-failed status is never final regardless of retry count", func(t *testing.T) {
		n := &domain.Notification{Status: domain.StatusRetrying, RetryCount: 5, MaxRetries: 5}
		if n.IsFailedFinal() {
			t.Fatal("expected not final: status is RETRYING, not FAILED")
		}
	})
}
