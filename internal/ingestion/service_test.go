package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/repository"
	"github.com/notifyhub/event-driven-arch/internal/streamlog"
)

// fakeCache is a hand-written, in-memory DedupCache. No mocking library
// needed, matching the repository package's MockNotificationRepository idiom.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	seenErr error
	markErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (f *fakeCache) Seen(_ context.Context, key string) (string, bool, error) {
	if f.seenErr != nil {
		return "", false, f.seenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.entries[key]
	return id, ok, nil
}

func (f *fakeCache) MarkSeen(_ context.Context, key, id string, _ time.Duration) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = id
	return nil
}

// fakePublisher records every publish call for assertions and can be made to
// fail on demand.
type fakePublisher struct {
	mu        sync.Mutex
	published []streamlog.PublishOptions
	failTopic string
}

func (f *fakePublisher) Publish(_ context.Context, _ domain.LogMessage, opts streamlog.PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTopic != "" && opts.Topic == f.failTopic {
		return errors.New("simulated publish failure")
	}
	f.published = append(f.published, opts)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, o := range f.published {
		out[i] = o.Topic
	}
	return out
}

func newTestService(repo repository.NotificationRepository, cache *fakeCache, pub *fakePublisher) *Service {
	return New(repo, cache, pub, time.Hour, 5, zap.NewNop())
}

func validEmailRequest(userID string) domain.CreateNotificationRequest {
	return domain.CreateNotificationRequest{
		UserID:  userID,
		Channel: domain.ChannelEmail,
		Type:    domain.TypeTransactional,
		Payload: []byte(`{"subject":"hi","body":"there"}`),
	}
}

func TestSubmit_NewNotificationPublishes(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	cache := newFakeCache()
	pub := &fakePublisher{}
	svc := newTestService(repo, cache, pub)

	n, existed, err := svc.Submit(context.Background(), validEmailRequest("u1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if existed {
		t.Fatal("expected existed=false for a new notification")
	}
	if n.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", n.Status)
	}
	if pub.count() != 1 {
		t.Fatalf("expected exactly one publish, got %d", pub.count())
	}
}

func TestSubmit_IdempotentRetrySameKeyReturnsExisting(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	cache := newFakeCache()
	pub := &fakePublisher{}
	svc := newTestService(repo, cache, pub)

	req := validEmailRequest("u1")
	req.IdempotencyKey = "fixed-key"

	first, _, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	second, existed, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if !existed {
		t.Fatal("expected existed=true on idempotent replay")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same notification id, got %s vs %s", second.ID, first.ID)
	}
	if pub.count() != 1 {
		t.Fatalf("expected only the first Submit to publish, got %d publishes", pub.count())
	}
}

func TestSubmit_ConflictMismatchReturnsError(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	cache := newFakeCache()
	// Force a cache miss so the conflict surfaces from the repo's unique
	// index guard rather than the cache probe.
	cache.seenErr = errors.New("cache unavailable")
	pub := &fakePublisher{}
	svc := newTestService(repo, cache, pub)

	req := validEmailRequest("u1")
	req.IdempotencyKey = "shared-key"
	if _, _, err := svc.Submit(context.Background(), req); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	mismatched := req
	mismatched.UserID = "u2"
	_, _, err := svc.Submit(context.Background(), mismatched)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSubmit_ScheduledNotificationDoesNotPublishYet(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	cache := newFakeCache()
	pub := &fakePublisher{}
	svc := newTestService(repo, cache, pub)

	future := time.Now().Add(time.Hour)
	req := validEmailRequest("u1")
	req.ScheduledFor = &future

	n, _, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n.Status != domain.StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", n.Status)
	}
	if pub.count() != 0 {
		t.Fatalf("expected no publish for a future-scheduled notification, got %d", pub.count())
	}
}

func TestSubmit_InvalidPayloadShapeRejected(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	cache := newFakeCache()
	pub := &fakePublisher{}
	svc := newTestService(repo, cache, pub)

	req := validEmailRequest("u1")
	req.Payload = []byte(`{"subject":"missing body"}`)

	_, _, err := svc.Submit(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestSubmit_PrimaryPublishFailureFallsBackToRetryTopic(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	cache := newFakeCache()
	pub := &fakePublisher{failTopic: streamlog.TopicNotifications}
	svc := newTestService(repo, cache, pub)

	n, _, err := svc.Submit(context.Background(), validEmailRequest("u1"))
	if err != nil {
		t.Fatalf("Submit must not fail once the row is persisted: %v", err)
	}
	if n == nil || n.ID == "" {
		t.Fatal("expected a persisted notification despite the publish failure")
	}

	stored, err := repo.GetByID(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected the row to remain PENDING for the scheduler to recover, got %s", stored.Status)
	}
}

func TestCreateBatch_RejectsEmptyAndOversized(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	cache := newFakeCache()
	pub := &fakePublisher{}
	svc := newTestService(repo, cache, pub)

	if _, err := svc.CreateBatch(context.Background(), nil); !errors.Is(err, domain.ErrBatchEmpty) {
		t.Fatalf("expected ErrBatchEmpty, got %v", err)
	}

	oversized := make([]domain.CreateNotificationRequest, maxBatchSize+1)
	for i := range oversized {
		oversized[i] = validEmailRequest("u1")
	}
	if _, err := svc.CreateBatch(context.Background(), oversized); !errors.Is(err, domain.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestCreateBatch_PublishesEveryPendingItem(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	cache := newFakeCache()
	pub := &fakePublisher{}
	svc := newTestService(repo, cache, pub)

	reqs := []domain.CreateNotificationRequest{validEmailRequest("u1"), validEmailRequest("u2")}
	batch, err := svc.CreateBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if batch.Total != 2 {
		t.Fatalf("expected batch total 2, got %d", batch.Total)
	}
	if pub.count() != 2 {
		t.Fatalf("expected 2 publishes, got %d", pub.count())
	}
}

func TestCancel_TerminalStatesRejected(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	cache := newFakeCache()
	pub := &fakePublisher{}
	svc := newTestService(repo, cache, pub)

	n, _, err := svc.Submit(context.Background(), validEmailRequest("u1"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := svc.Cancel(context.Background(), n.ID); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if err := svc.Cancel(context.Background(), n.ID); !errors.Is(err, domain.ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
}

func TestDeriveIdempotencyKey_StableWithinMinuteBucket(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	k1 := deriveIdempotencyKey("u1", []byte("payload"), at)
	k2 := deriveIdempotencyKey("u1", []byte("payload"), at.Add(20*time.Second))
	if k1 != k2 {
		t.Fatal("expected the same key within one minute bucket")
	}

	k3 := deriveIdempotencyKey("u1", []byte("payload"), at.Add(time.Minute))
	if k1 == k3 {
		t.Fatal("expected a different key once the minute bucket rolls over")
	}
}
