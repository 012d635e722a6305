package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/notifyhub/event-driven-arch/internal/breaker"
)

func TestState_UnknownNameReturnsNotOK(t *testing.T) {
	r := breaker.NewRegistry(3, 50*time.Millisecond)
	if _, ok := r.State("email.primary"); ok {
		t.Fatal("expected ok=false for a breaker never created")
	}
}

func TestExecute_SuccessReportsClosed(t *testing.T) {
	r := breaker.NewRegistry(3, 50*time.Millisecond)
	err := breaker.Execute(context.Background(), r, "email.primary", func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	state, ok := r.State("email.primary")
	if !ok {
		t.Fatal("expected breaker to exist after first Execute")
	}
	if state != gobreaker.StateClosed {
		t.Fatalf("expected StateClosed, got %v", state)
	}
}

func TestExecute_OpensAfterConsecutiveFailuresAndRejectsWithoutCallingFn(t *testing.T) {
	r := breaker.NewRegistry(3, 50*time.Millisecond)
	wantErr := errors.New("send failed")

	for i := 0; i < 3; i++ {
		err := breaker.Execute(context.Background(), r, "sms.primary", func(context.Context) error {
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("attempt %d: expected wrapped wantErr, got %v", i, err)
		}
	}

	state, ok := r.State("sms.primary")
	if !ok || state != gobreaker.StateOpen {
		t.Fatalf("expected StateOpen after 3 consecutive failures, got %v (ok=%v)", state, ok)
	}

	called := false
	err := breaker.Execute(context.Background(), r, "sms.primary", func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatal("fn must not be called while the breaker is open")
	}
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected error wrapping breaker.ErrOpen, got %v", err)
	}
}

func TestExecute_HalfOpenClosesAfterCooldownAndSuccess(t *testing.T) {
	cooldown := 30 * time.Millisecond
	r := breaker.NewRegistry(2, cooldown)
	failErr := errors.New("down")

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(context.Background(), r, "webhook.primary", func(context.Context) error {
			return failErr
		})
	}
	if state, _ := r.State("webhook.primary"); state != gobreaker.StateOpen {
		t.Fatalf("expected StateOpen, got %v", state)
	}

	time.Sleep(cooldown + 10*time.Millisecond)

	// Settings require 2 consecutive successes in half-open before closing.
	for i := 0; i < 2; i++ {
		if err := breaker.Execute(context.Background(), r, "webhook.primary", func(context.Context) error {
			return nil
		}); err != nil {
			t.Fatalf("half-open attempt %d: %v", i, err)
		}
	}

	state, _ := r.State("webhook.primary")
	if state != gobreaker.StateClosed {
		t.Fatalf("expected StateClosed after cooldown + successes, got %v", state)
	}
}

func TestExecute_IndependentBreakersPerName(t *testing.T) {
	r := breaker.NewRegistry(1, 50*time.Millisecond)
	_ = breaker.Execute(context.Background(), r, "email.primary", func(context.Context) error {
		return errors.New("boom")
	})

	if state, _ := r.State("email.primary"); state != gobreaker.StateOpen {
		t.Fatalf("expected email.primary open, got %v", state)
	}

	// A channel's fallback adapter is a distinct breaker key and must stay
	// closed even though the primary just tripped.
	err := breaker.Execute(context.Background(), r, "email.fallback", func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("email.fallback Execute: %v", err)
	}
	if state, _ := r.State("email.fallback"); state != gobreaker.StateClosed {
		t.Fatalf("expected email.fallback closed, got %v", state)
	}
}
