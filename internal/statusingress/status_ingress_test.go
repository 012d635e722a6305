package statusingress

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/repository"
)

func sentNotification(id, providerMsgID string, batchID *string) *domain.Notification {
	now := time.Now().UTC()
	return &domain.Notification{
		ID:             id,
		BatchID:        batchID,
		UserID:         "u1",
		Channel:        domain.ChannelEmail,
		Type:           domain.TypeTransactional,
		Priority:       domain.PriorityMedium,
		Status:         domain.StatusSent,
		Payload:        []byte(`{"subject":"hi","body":"there"}`),
		IdempotencyKey: "key-" + id,
		ProviderMsgID:  &providerMsgID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestReconcile_DeliveredMarksDelivered(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	n := sentNotification("n1", "pmid-1", nil)
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("seed Create: %v", err)
	}

	svc := New(repo, zap.NewNop())
	if err := svc.Reconcile(context.Background(), "pmid-1", true, ""); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	stored, err := repo.GetByID(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.StatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", stored.Status)
	}
}

func TestReconcile_FailedMarksFailed(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	n := sentNotification("n1", "pmid-1", nil)
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("seed Create: %v", err)
	}

	svc := New(repo, zap.NewNop())
	if err := svc.Reconcile(context.Background(), "pmid-1", false, "bounced"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	stored, err := repo.GetByID(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", stored.Status)
	}
	if stored.ErrorMessage == nil || *stored.ErrorMessage != "bounced" {
		t.Fatalf("expected error_message %q, got %v", "bounced", stored.ErrorMessage)
	}
}

func TestReconcile_UnknownProviderMessageIDIgnored(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	svc := New(repo, zap.NewNop())

	if err := svc.Reconcile(context.Background(), "does-not-exist", true, ""); err != nil {
		t.Fatalf("expected unknown provider_message_id to be ignored, got error: %v", err)
	}
}

func TestReconcile_FailedCallbackAfterDeliveredIsNoop(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	n := sentNotification("n1", "pmid-1", nil)
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("seed Create: %v", err)
	}

	svc := New(repo, zap.NewNop())
	if err := svc.Reconcile(context.Background(), "pmid-1", true, ""); err != nil {
		t.Fatalf("first Reconcile (delivered): %v", err)
	}
	// A duplicate/late "failed" callback for an already-DELIVERED row must
	// not override the terminal state.
	if err := svc.Reconcile(context.Background(), "pmid-1", false, "late bounce"); err != nil {
		t.Fatalf("second Reconcile (failed): %v", err)
	}

	stored, err := repo.GetByID(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.StatusDelivered {
		t.Fatalf("expected DELIVERED to stick, got %s", stored.Status)
	}
}

func TestReconcile_UpdatesBatchCountsWhenBatched(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	batchID := "b1"
	n := sentNotification("n1", "pmid-1", &batchID)
	if _, err := repo.CreateBatch(context.Background(), batchID, []*domain.Notification{n}); err != nil {
		t.Fatalf("seed CreateBatch: %v", err)
	}

	svc := New(repo, zap.NewNop())
	if err := svc.Reconcile(context.Background(), "pmid-1", true, ""); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	batch, _, err := repo.GetBatch(context.Background(), batchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch.Delivered != 1 {
		t.Fatalf("expected batch.Delivered=1, got %d", batch.Delivered)
	}
}
