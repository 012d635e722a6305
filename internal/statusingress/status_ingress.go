// Package statusingress implements the Status Ingress (C11): the provider
// callback handler that reconciles a dispatched notification's final
// outcome once the provider itself reports it out of band (spec.md §6,
// §4.8's startup-ordering note — Status Ingress must be listening before
// the Delivery Workers start so no callback arrives before anything can
// receive it).
package statusingress

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/repository"
)

// Service reconciles SENT -> DELIVERED/FAILED transitions reported by a
// provider's callback. The callback body format is provider-specific; HTTP
// handlers decode it and call Reconcile with the fields this package needs.
type Service struct {
	repo   repository.NotificationRepository
	logger *zap.Logger
}

func New(repo repository.NotificationRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Reconcile locates the Notification by providerMsgID and transitions it.
// delivered=false marks it FAILED with reason; delivered=true marks it
// DELIVERED. Unknown provider_message_ids are logged and ignored rather than
// surfaced as an error, per spec.md §6 — a callback for a notification we no
// longer recognize is not the caller's problem to retry.
func (s *Service) Reconcile(ctx context.Context, providerMsgID string, delivered bool, reason string) error {
	at := time.Now().UTC()

	if delivered {
		n, err := s.repo.MarkDelivered(ctx, providerMsgID, at, reason)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logNotFound(providerMsgID)
				return nil
			}
			return err
		}
		return s.syncBatch(ctx, n)
	}

	n, err := s.repo.GetByProviderMessageID(ctx, providerMsgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logNotFound(providerMsgID)
			return nil
		}
		return err
	}
	if n.Status != domain.StatusSent {
		// Duplicate or late callback for a row already reconciled elsewhere.
		return nil
	}

	if reason == "" {
		reason = "provider reported failure"
	}
	if err := s.repo.MarkFailedTerminal(ctx, n.ID, reason, at); err != nil {
		return err
	}
	n.Status = domain.StatusFailed
	return s.syncBatch(ctx, n)
}

func (s *Service) syncBatch(ctx context.Context, n *domain.Notification) error {
	if n.BatchID == nil {
		return nil
	}
	if err := s.repo.UpdateBatchCounts(ctx, *n.BatchID); err != nil {
		s.logger.Warn("failed to update batch counts after status callback",
			zap.String("batch_id", *n.BatchID), zap.Error(err))
	}
	return nil
}

func (s *Service) logNotFound(providerMsgID string) {
	s.logger.Info("status callback for unknown provider_message_id, ignoring",
		zap.String("provider_message_id", providerMsgID))
}
