package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/outbox-relay/internal/adapter"
	"github.com/kursadbilgin/outbox-relay/internal/domain"
	"github.com/kursadbilgin/outbox-relay/internal/ratelimit"
	"github.com/kursadbilgin/outbox-relay/internal/repository"
	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T, registry *adapter.Registry, outbox repository.OutboxRepository, notifications repository.NotificationRepository, limiter ratelimit.RateLimiter) *Dispatcher {
	t.Helper()

	d, err := NewDispatcher(registry, outbox, notifications, limiter, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d
}

func TestDispatcherScheduleAllAdapters(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{name: "push"})
	registry.Register(&stubAdapter{name: "realtime"})

	var enqueued []string
	outbox := &fakeOutboxRepo{
		enqueueFn: func(ctx context.Context, notificationID, adapterName string) (repository.EnqueueResult, error) {
			if notificationID != "n1" {
				t.Fatalf("notification id = %q, want n1", notificationID)
			}
			enqueued = append(enqueued, adapterName)
			return repository.EnqueueResult{Inserted: true, ID: "e-" + adapterName}, nil
		},
	}

	d := newTestDispatcher(t, registry, outbox, &fakeNotificationRepo{}, nil)

	scheduled := d.Schedule(context.Background(), "n1")
	if len(scheduled) != 2 {
		t.Fatalf("Schedule() = %v, want 2 adapters", scheduled)
	}
	// registry names are sorted
	if enqueued[0] != "push" || enqueued[1] != "realtime" {
		t.Fatalf("enqueue order = %v, want [push realtime]", enqueued)
	}
}

func TestDispatcherScheduleEnqueueFailureIsolated(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{name: "push"})
	registry.Register(&stubAdapter{name: "realtime"})

	outbox := &fakeOutboxRepo{
		enqueueFn: func(ctx context.Context, notificationID, adapterName string) (repository.EnqueueResult, error) {
			if adapterName == "push" {
				return repository.EnqueueResult{}, errors.New("insert failed")
			}
			return repository.EnqueueResult{Inserted: true, ID: "e1"}, nil
		},
	}

	d := newTestDispatcher(t, registry, outbox, &fakeNotificationRepo{}, nil)

	scheduled := d.Schedule(context.Background(), "n1")
	if len(scheduled) != 1 || scheduled[0] != "realtime" {
		t.Fatalf("Schedule() = %v, want [realtime]", scheduled)
	}
}

func TestDispatcherScheduleIdempotent(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{name: "realtime"})

	calls := 0
	outbox := &fakeOutboxRepo{
		enqueueFn: func(ctx context.Context, notificationID, adapterName string) (repository.EnqueueResult, error) {
			calls++
			// first call inserts, second hits the unique key
			return repository.EnqueueResult{Inserted: calls == 1, ID: "e1"}, nil
		},
	}

	d := newTestDispatcher(t, registry, outbox, &fakeNotificationRepo{}, nil)

	first := d.Schedule(context.Background(), "n1")
	second := d.Schedule(context.Background(), "n1")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Schedule() = %v / %v, both should report the adapter", first, second)
	}
	if calls != 2 {
		t.Fatalf("enqueue calls = %d, want 2", calls)
	}
}

func TestDispatcherDeliverNow(t *testing.T) {
	t.Parallel()

	delivered := false
	realtime := &stubAdapter{
		name: "realtime",
		deliverFn: func(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
			delivered = true
			if recipientID != "u1" {
				t.Fatalf("recipient = %q, want u1", recipientID)
			}
			return adapter.Success()
		},
	}
	registry := adapter.NewRegistry()
	registry.Register(realtime)

	d := newTestDispatcher(t, registry, &fakeOutboxRepo{}, &fakeNotificationRepo{}, nil)

	if !d.DeliverNow(context.Background(), "n1", "u1", map[string]any{"kind": "comment"}) {
		t.Fatal("DeliverNow() = false, want true")
	}
	if !delivered {
		t.Fatal("realtime adapter should have been invoked")
	}
}

func TestDispatcherDeliverNowMissingAdapter(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{name: "push"})

	d := newTestDispatcher(t, registry, &fakeOutboxRepo{}, &fakeNotificationRepo{}, nil)

	if d.DeliverNow(context.Background(), "n1", "u1", nil) {
		t.Fatal("DeliverNow() = true without a realtime adapter")
	}
}

func TestDispatcherDeliverNowFailureIsQuiet(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{
		name: "realtime",
		deliverFn: func(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
			return adapter.Failure("not connected", false)
		},
	})

	d := newTestDispatcher(t, registry, &fakeOutboxRepo{}, &fakeNotificationRepo{}, nil)

	if d.DeliverNow(context.Background(), "n1", "u1", nil) {
		t.Fatal("DeliverNow() = true, want false on failed attempt")
	}
}

func TestDispatcherProcessBatchSuccess(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{name: "realtime"})

	var markedDelivered []string
	outbox := &fakeOutboxRepo{
		fetchPendingFn: func(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error) {
			return []domain.OutboxEntry{
				{ID: "e1", NotificationID: "n1", Adapter: adapterName},
				{ID: "e2", NotificationID: "n2", Adapter: adapterName},
			}, nil
		},
		markDeliveredFn: func(ctx context.Context, id string) error {
			markedDelivered = append(markedDelivered, id)
			return nil
		},
	}
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, RecipientID: "u1", Kind: "comment"}, nil
		},
	}

	d := newTestDispatcher(t, registry, outbox, notifications, nil)

	stats := d.ProcessBatch(context.Background(), "realtime", 10)
	if stats.Processed != 2 || stats.Delivered != 2 || stats.Failed != 0 {
		t.Fatalf("ProcessBatch() = %+v, want 2 processed, 2 delivered", stats)
	}
	if len(markedDelivered) != 2 {
		t.Fatalf("marked delivered = %v, want e1 and e2", markedDelivered)
	}
}

func TestDispatcherProcessBatchUnknownAdapter(t *testing.T) {
	t.Parallel()

	fetchCalled := false
	outbox := &fakeOutboxRepo{
		fetchPendingFn: func(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error) {
			fetchCalled = true
			return nil, nil
		},
	}

	d := newTestDispatcher(t, adapter.NewRegistry(), outbox, &fakeNotificationRepo{}, nil)

	stats := d.ProcessBatch(context.Background(), "missing", 10)
	if stats != (BatchStats{}) {
		t.Fatalf("ProcessBatch() = %+v, want zero stats", stats)
	}
	if fetchCalled {
		t.Fatal("outbox should not be queried for an unknown adapter")
	}
}

func TestDispatcherProcessBatchNotReadySkips(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{
		name:    "push",
		readyFn: func(ctx context.Context) bool { return false },
	})

	fetchCalled := false
	outbox := &fakeOutboxRepo{
		fetchPendingFn: func(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error) {
			fetchCalled = true
			return nil, nil
		},
	}

	d := newTestDispatcher(t, registry, outbox, &fakeNotificationRepo{}, nil)

	stats := d.ProcessBatch(context.Background(), "push", 10)
	if stats != (BatchStats{}) {
		t.Fatalf("ProcessBatch() = %+v, want zero stats for unready adapter", stats)
	}
	if fetchCalled {
		t.Fatal("no rows should be fetched when the adapter is unready")
	}
}

func TestDispatcherProcessBatchRetryableFailure(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{
		name: "push",
		deliverFn: func(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
			return adapter.Failure("gateway timeout", true)
		},
	})

	var gotErr string
	var gotRetryable bool
	outbox := &fakeOutboxRepo{
		fetchPendingFn: func(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error) {
			return []domain.OutboxEntry{{ID: "e1", NotificationID: "n1", Adapter: adapterName}}, nil
		},
		markFailedFn: func(ctx context.Context, id string, deliveryErr string, retryable bool) error {
			gotErr = deliveryErr
			gotRetryable = retryable
			return nil
		},
	}
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, RecipientID: "u1"}, nil
		},
	}

	d := newTestDispatcher(t, registry, outbox, notifications, nil)

	stats := d.ProcessBatch(context.Background(), "push", 10)
	if stats.Failed != 1 {
		t.Fatalf("ProcessBatch() = %+v, want 1 failed", stats)
	}
	if gotErr != "gateway timeout" || !gotRetryable {
		t.Fatalf("MarkFailed(%q, retryable=%v), want gateway timeout / true", gotErr, gotRetryable)
	}
}

func TestDispatcherProcessBatchMissingNotificationPermanent(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	deliverCalled := false
	registry.Register(&stubAdapter{
		name: "realtime",
		deliverFn: func(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
			deliverCalled = true
			return adapter.Success()
		},
	})

	var gotRetryable bool
	outbox := &fakeOutboxRepo{
		fetchPendingFn: func(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error) {
			return []domain.OutboxEntry{{ID: "e1", NotificationID: "gone", Adapter: adapterName}}, nil
		},
		markFailedFn: func(ctx context.Context, id string, deliveryErr string, retryable bool) error {
			gotRetryable = retryable
			return nil
		},
	}
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return nil, domain.ErrNotFound
		},
	}

	d := newTestDispatcher(t, registry, outbox, notifications, nil)

	stats := d.ProcessBatch(context.Background(), "realtime", 10)
	if stats.Failed != 1 {
		t.Fatalf("ProcessBatch() = %+v, want 1 failed", stats)
	}
	if gotRetryable {
		t.Fatal("missing notification should be a permanent failure")
	}
	if deliverCalled {
		t.Fatal("adapter should not be invoked without a notification")
	}
}

func TestDispatcherProcessBatchPanicBecomesRetryable(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{
		name: "push",
		deliverFn: func(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
			panic("boom")
		},
	})

	var gotErr string
	var gotRetryable bool
	outbox := &fakeOutboxRepo{
		fetchPendingFn: func(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error) {
			return []domain.OutboxEntry{{ID: "e1", NotificationID: "n1", Adapter: adapterName}}, nil
		},
		markFailedFn: func(ctx context.Context, id string, deliveryErr string, retryable bool) error {
			gotErr = deliveryErr
			gotRetryable = retryable
			return nil
		},
	}
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, RecipientID: "u1"}, nil
		},
	}

	d := newTestDispatcher(t, registry, outbox, notifications, nil)

	stats := d.ProcessBatch(context.Background(), "push", 10)
	if stats.Processed != 1 || stats.Failed != 1 {
		t.Fatalf("ProcessBatch() = %+v, want the panicking entry recorded as failed", stats)
	}
	if !strings.Contains(gotErr, "adapter panic") || !gotRetryable {
		t.Fatalf("MarkFailed(%q, retryable=%v), want adapter panic / true", gotErr, gotRetryable)
	}
}

func TestDispatcherProcessBatchRateLimiterAbort(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	deliverCalled := false
	registry.Register(&stubAdapter{
		name: "push",
		deliverFn: func(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
			deliverCalled = true
			return adapter.Success()
		},
	})

	outbox := &fakeOutboxRepo{
		fetchPendingFn: func(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error) {
			return []domain.OutboxEntry{{ID: "e1", NotificationID: "n1", Adapter: adapterName}}, nil
		},
		markFailedFn: func(ctx context.Context, id string, deliveryErr string, retryable bool) error {
			t.Fatal("row should stay untouched when the limiter aborts")
			return nil
		},
	}
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, RecipientID: "u1"}, nil
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, adapterName string) error {
			return errors.New("rate limit wait timeout")
		},
	}

	d := newTestDispatcher(t, registry, outbox, notifications, limiter)

	stats := d.ProcessBatch(context.Background(), "push", 10)
	if stats.Processed != 0 {
		t.Fatalf("ProcessBatch() = %+v, want the entry left for a later pass", stats)
	}
	if deliverCalled {
		t.Fatal("adapter should not be invoked when the limiter aborts")
	}
}

func TestDispatcherHandleCreated(t *testing.T) {
	t.Parallel()

	bypassed := false
	registry := adapter.NewRegistry()
	registry.Register(&stubAdapter{
		name: "realtime",
		deliverFn: func(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
			bypassed = true
			return adapter.Success()
		},
	})

	outbox := &fakeOutboxRepo{
		enqueueFn: func(ctx context.Context, notificationID, adapterName string) (repository.EnqueueResult, error) {
			return repository.EnqueueResult{Inserted: true, ID: "e1"}, nil
		},
	}
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, RecipientID: "u1", Kind: "comment"}, nil
		},
	}

	d := newTestDispatcher(t, registry, outbox, notifications, nil)

	scheduled, err := d.HandleCreated(context.Background(), "n1")
	if err != nil {
		t.Fatalf("HandleCreated() error = %v", err)
	}
	if len(scheduled) != 1 || scheduled[0] != "realtime" {
		t.Fatalf("HandleCreated() scheduled = %v, want [realtime]", scheduled)
	}
	if !bypassed {
		t.Fatal("expected an immediate realtime attempt")
	}
}

func TestDispatcherHandleCreatedMissingNotification(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			return nil, domain.ErrNotFound
		},
	}

	d := newTestDispatcher(t, adapter.NewRegistry(), &fakeOutboxRepo{}, notifications, nil)

	if _, err := d.HandleCreated(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("HandleCreated() error = %v, want ErrNotFound", err)
	}
}

type stubAdapter struct {
	name      string
	deliverFn func(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result
	readyFn   func(ctx context.Context) bool
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Deliver(ctx context.Context, notificationID, recipientID string, payload map[string]any) adapter.Result {
	if s.deliverFn != nil {
		return s.deliverFn(ctx, notificationID, recipientID, payload)
	}
	return adapter.Success()
}

func (s *stubAdapter) Ready(ctx context.Context) bool {
	if s.readyFn != nil {
		return s.readyFn(ctx)
	}
	return true
}

func (s *stubAdapter) Close() error { return nil }

var _ adapter.Adapter = (*stubAdapter)(nil)

type fakeOutboxRepo struct {
	enqueueFn          func(ctx context.Context, notificationID, adapterName string) (repository.EnqueueResult, error)
	fetchPendingFn     func(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error)
	markDeliveredFn    func(ctx context.Context, id string) error
	markFailedFn       func(ctx context.Context, id string, deliveryErr string, retryable bool) error
	getStatusFn        func(ctx context.Context, notificationID string) ([]domain.OutboxEntry, error)
	cleanupDeliveredFn func(ctx context.Context, olderThan time.Duration) (int64, error)
}

func (f *fakeOutboxRepo) Enqueue(ctx context.Context, notificationID, adapterName string) (repository.EnqueueResult, error) {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, notificationID, adapterName)
	}
	return repository.EnqueueResult{Inserted: true, ID: "e-fake"}, nil
}

func (f *fakeOutboxRepo) FetchPending(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error) {
	if f.fetchPendingFn != nil {
		return f.fetchPendingFn(ctx, adapterName, batchSize)
	}
	return nil, nil
}

func (f *fakeOutboxRepo) MarkDelivered(ctx context.Context, id string) error {
	if f.markDeliveredFn != nil {
		return f.markDeliveredFn(ctx, id)
	}
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(ctx context.Context, id string, deliveryErr string, retryable bool) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, deliveryErr, retryable)
	}
	return nil
}

func (f *fakeOutboxRepo) GetStatus(ctx context.Context, notificationID string) ([]domain.OutboxEntry, error) {
	if f.getStatusFn != nil {
		return f.getStatusFn(ctx, notificationID)
	}
	return nil, nil
}

func (f *fakeOutboxRepo) CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	if f.cleanupDeliveredFn != nil {
		return f.cleanupDeliveredFn(ctx, olderThan)
	}
	return 0, nil
}

var _ repository.OutboxRepository = (*fakeOutboxRepo)(nil)

type fakeNotificationRepo struct {
	getByIDFn func(ctx context.Context, id string) (*domain.Notification, error)
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return &domain.Notification{ID: id, RecipientID: "u1"}, nil
}

var _ repository.NotificationRepository = (*fakeNotificationRepo)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, adapterName string) (bool, error)
	waitFn  func(ctx context.Context, adapterName string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, adapterName string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, adapterName)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, adapterName string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, adapterName)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)
