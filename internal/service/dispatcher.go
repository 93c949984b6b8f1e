package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/outbox-relay/internal/adapter"
	"github.com/kursadbilgin/outbox-relay/internal/domain"
	"github.com/kursadbilgin/outbox-relay/internal/observability"
	"github.com/kursadbilgin/outbox-relay/internal/ratelimit"
	"github.com/kursadbilgin/outbox-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	// DefaultBatchSize caps a single ProcessBatch pass.
	DefaultBatchSize = 50

	// bypassAdapterName is the only adapter eligible for the low-latency
	// DeliverNow path.
	bypassAdapterName = "realtime"
)

// BatchStats aggregates one ProcessBatch pass. Individual delivery outcomes
// are data inside these counts, never errors surfaced to the caller.
type BatchStats struct {
	Processed int
	Delivered int
	Failed    int
}

func (s BatchStats) add(other BatchStats) BatchStats {
	return BatchStats{
		Processed: s.Processed + other.Processed,
		Delivered: s.Delivered + other.Delivered,
		Failed:    s.Failed + other.Failed,
	}
}

// Dispatcher schedules delivery obligations into the outbox and drains them
// through registered transport adapters.
type Dispatcher struct {
	registry      *adapter.Registry
	outbox        repository.OutboxRepository
	notifications repository.NotificationRepository
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewDispatcher(
	registry *adapter.Registry,
	outbox repository.OutboxRepository,
	notifications repository.NotificationRepository,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		registry:      registry,
		outbox:        outbox,
		notifications: notifications,
		rateLimiter:   rateLimiter,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Schedule creates one outbox row per registered adapter and returns the
// adapter names enqueued. An enqueue failure for one adapter is reported and
// does not prevent scheduling for the remaining adapters; whether a row was
// newly inserted or already present is not distinguished here.
func (d *Dispatcher) Schedule(ctx context.Context, notificationID string) []string {
	if ctx == nil {
		ctx = context.Background()
	}

	names := d.registry.Names()
	scheduled := make([]string, 0, len(names))

	for _, name := range names {
		result, err := d.outbox.Enqueue(ctx, notificationID, name)
		if err != nil {
			d.logger.Error("failed to enqueue delivery obligation",
				zap.String("notificationId", notificationID),
				zap.String("adapter", name),
				zap.Error(err),
			)
			d.metrics.IncEnqueueFailed(name)
			continue
		}

		scheduled = append(scheduled, name)
		if result.Inserted {
			d.metrics.IncScheduled(name)
		}
	}

	return scheduled
}

// DeliverNow attempts immediate realtime delivery outside the outbox. It is
// best-effort: a missing realtime adapter or any failed attempt yields false
// and nothing else. Both this path and the outbox path may fire for the same
// notification; clients deduplicate by notification id.
func (d *Dispatcher) DeliverNow(ctx context.Context, notificationID, recipientID string, payload map[string]any) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	a, ok := d.registry.Get(bypassAdapterName)
	if !ok {
		return false
	}

	result := safeDeliver(a, ctx, notificationID, recipientID, payload)
	if !result.OK {
		d.logger.Debug("immediate delivery attempt missed",
			zap.String("notificationId", notificationID),
			zap.String("error", result.Error),
		)
		return false
	}

	d.metrics.IncBypassDelivered()
	return true
}

// HandleCreated reacts to a notification-created event: it schedules outbox
// rows for every registered adapter, then attempts a best-effort immediate
// realtime delivery. A missing notification row is an error so the event is
// redelivered; the outbox write may have already landed on a retry, which the
// unique enqueue key absorbs.
func (d *Dispatcher) HandleCreated(ctx context.Context, notificationID string) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	notification, err := d.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification %q: %w", notificationID, err)
	}

	scheduled := d.Schedule(ctx, notificationID)
	d.DeliverNow(ctx, notificationID, notification.RecipientID, notification.Payload())

	return scheduled, nil
}

// ProcessBatch drains one batch of due pending rows for the adapter. Entries
// are independent: one entry's outcome never affects another's, and a panic
// escaping the adapter is converted to a retryable failure instead of
// aborting the pass.
func (d *Dispatcher) ProcessBatch(ctx context.Context, adapterName string, batchSize int) BatchStats {
	if ctx == nil {
		ctx = context.Background()
	}
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	var stats BatchStats

	a, ok := d.registry.Get(adapterName)
	if !ok {
		return stats
	}

	// An unready transport is not a content failure: skip the batch without
	// touching any outbox row.
	if !a.Ready(ctx) {
		d.logger.Debug("adapter not ready, skipping batch", zap.String("adapter", adapterName))
		d.metrics.IncBatchSkipped(adapterName)
		return stats
	}

	entries, err := d.outbox.FetchPending(ctx, adapterName, batchSize)
	if err != nil {
		d.logger.Error("failed to fetch pending outbox entries",
			zap.String("adapter", adapterName),
			zap.Error(err),
		)
		return stats
	}

	for i := range entries {
		stats = stats.add(d.processEntry(ctx, a, &entries[i]))
	}

	return stats
}

// processEntry runs a single delivery attempt and writes its outcome back to
// the outbox.
func (d *Dispatcher) processEntry(ctx context.Context, a adapter.Adapter, entry *domain.OutboxEntry) BatchStats {
	stats := BatchStats{Processed: 1}

	notification, err := d.notifications.GetByID(ctx, entry.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The referenced notification is gone; the obligation can never
			// be fulfilled.
			d.recordFailure(ctx, entry, "notification no longer exists", false)
			stats.Failed = 1
			return stats
		}

		// A store read error is not a delivery outcome. Leave the row
		// untouched for a later pass.
		d.logger.Error("failed to load notification for delivery",
			zap.String("notificationId", entry.NotificationID),
			zap.Error(err),
		)
		stats.Processed = 0
		return stats
	}

	if err := d.rateLimiter.Wait(ctx, entry.Adapter); err != nil {
		d.logger.Warn("rate limiter wait aborted",
			zap.String("adapter", entry.Adapter),
			zap.Error(err),
		)
		stats.Processed = 0
		return stats
	}

	start := d.now()
	result := safeDeliver(a, ctx, entry.NotificationID, notification.RecipientID, notification.Payload())
	d.metrics.ObserveDeliveryDuration(entry.Adapter, d.now().Sub(start))

	if result.OK {
		if err := d.outbox.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark outbox entry delivered",
				zap.String("entryId", entry.ID),
				zap.Error(err),
			)
		}
		d.metrics.IncDelivered(entry.Adapter)
		d.logger.Info("notification delivered",
			zap.String("notificationId", entry.NotificationID),
			zap.String("adapter", entry.Adapter),
			zap.Int("attempt", entry.Attempts+1),
		)
		stats.Delivered = 1
		return stats
	}

	d.recordFailure(ctx, entry, result.Error, result.Retryable)
	stats.Failed = 1
	return stats
}

func (d *Dispatcher) recordFailure(ctx context.Context, entry *domain.OutboxEntry, deliveryErr string, retryable bool) {
	if err := d.outbox.MarkFailed(ctx, entry.ID, deliveryErr, retryable); err != nil {
		d.logger.Error("failed to record delivery failure",
			zap.String("entryId", entry.ID),
			zap.Error(err),
		)
	}

	reason := "permanent_error"
	if retryable {
		reason = "transient_error"
	}
	d.metrics.IncFailed(entry.Adapter, reason)
	d.logger.Warn("delivery attempt failed",
		zap.String("notificationId", entry.NotificationID),
		zap.String("adapter", entry.Adapter),
		zap.Int("attempt", entry.Attempts+1),
		zap.String("error", deliveryErr),
		zap.Bool("retryable", retryable),
	)
}

// safeDeliver invokes the adapter and converts an escaping panic into a
// retryable failure so one misbehaving transport cannot crash the worker or
// corrupt another entry's bookkeeping.
func safeDeliver(a adapter.Adapter, ctx context.Context, notificationID, recipientID string, payload map[string]any) (result adapter.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = adapter.Failure(fmt.Sprintf("adapter panic: %v", r), true)
		}
	}()

	return a.Deliver(ctx, notificationID, recipientID, payload)
}
