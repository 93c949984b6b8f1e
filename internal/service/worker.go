package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/outbox-relay/internal/adapter"
	"github.com/kursadbilgin/outbox-relay/internal/observability"
	"github.com/kursadbilgin/outbox-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultWorkerInterval  = 5 * time.Second
	defaultCleanupInterval = 24 * time.Hour
)

// WorkerOptions tunes the background delivery loop.
type WorkerOptions struct {
	// Interval between batch passes.
	Interval time.Duration

	// BatchSize caps each per-adapter ProcessBatch call.
	BatchSize int

	// Retention controls the delivered-row janitor; zero disables cleanup.
	Retention time.Duration

	// CleanupInterval bounds how often the janitor runs.
	CleanupInterval time.Duration
}

func (o WorkerOptions) normalized() WorkerOptions {
	if o.Interval <= 0 {
		o.Interval = defaultWorkerInterval
	}
	if o.BatchSize < 1 {
		o.BatchSize = DefaultBatchSize
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = defaultCleanupInterval
	}
	return o
}

// WorkerStatus exposes worker state for tests and observability.
type WorkerStatus struct {
	Running    bool
	Processing bool
}

// Worker drives recurring batch passes over every registered adapter. It is
// single-flight: when a tick fires while the previous pass is still
// executing, the new tick is skipped entirely and the near-miss is logged.
type Worker struct {
	dispatcher *Dispatcher
	registry   *adapter.Registry
	outbox     repository.OutboxRepository
	logger     *zap.Logger
	metrics    *observability.Metrics
	opts       WorkerOptions

	running     atomic.Bool
	processing  atomic.Bool
	cancel      context.CancelFunc
	loopDone    chan struct{}
	lastCleanup atomic.Int64
}

func NewWorker(
	dispatcher *Dispatcher,
	registry *adapter.Registry,
	outbox repository.OutboxRepository,
	opts WorkerOptions,
	logger *zap.Logger,
) (*Worker, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		dispatcher: dispatcher,
		registry:   registry,
		outbox:     outbox,
		logger:     logger,
		opts:       opts.normalized(),
	}, nil
}

func (w *Worker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start installs the recurring tick. It returns an error when the worker is
// already running.
func (w *Worker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("worker is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.loopDone = make(chan struct{})

	go w.loop(loopCtx)

	w.logger.Info("delivery worker started",
		zap.Duration("interval", w.opts.Interval),
		zap.Int("batchSize", w.opts.BatchSize),
	)
	return nil
}

// Stop cancels future ticks. An in-flight pass always runs to completion.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}

	w.cancel()
	<-w.loopDone
	w.logger.Info("delivery worker stopped")
}

func (w *Worker) Status() WorkerStatus {
	return WorkerStatus{
		Running:    w.running.Load(),
		Processing: w.processing.Load(),
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.loopDone)

	// An initial pass so already-due rows do not wait for the first ticker
	// edge.
	w.tick(ctx)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick starts one pass unless the previous pass is still in flight. The pass
// runs detached from the loop context so stopping the worker never interrupts
// it mid-delivery.
func (w *Worker) tick(ctx context.Context) {
	if !w.processing.CompareAndSwap(false, true) {
		w.logger.Warn("previous worker pass still in flight, skipping tick")
		w.metrics.IncTickSkipped()
		return
	}

	passCtx := context.WithoutCancel(ctx)
	go func() {
		defer w.processing.Store(false)
		w.pass(passCtx)
	}()
}

func (w *Worker) pass(ctx context.Context) {
	var total BatchStats

	for _, name := range w.registry.Names() {
		stats := w.dispatcher.ProcessBatch(ctx, name, w.opts.BatchSize)
		total = total.add(stats)

		if stats.Processed > 0 {
			w.logger.Info("processed delivery batch",
				zap.String("adapter", name),
				zap.Int("processed", stats.Processed),
				zap.Int("delivered", stats.Delivered),
				zap.Int("failed", stats.Failed),
			)
		}
	}

	if total.Processed == 0 {
		w.logger.Debug("worker pass found no due deliveries")
	}

	w.maybeCleanup(ctx)
}

// maybeCleanup purges delivered rows past the retention window, at most once
// per cleanup interval per process.
func (w *Worker) maybeCleanup(ctx context.Context) {
	if w.opts.Retention <= 0 {
		return
	}

	now := time.Now().Unix()
	last := w.lastCleanup.Load()
	if last != 0 && time.Duration(now-last)*time.Second < w.opts.CleanupInterval {
		return
	}
	if !w.lastCleanup.CompareAndSwap(last, now) {
		return
	}

	deleted, err := w.outbox.CleanupDelivered(ctx, w.opts.Retention)
	if err != nil {
		w.logger.Error("delivered-row cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		w.logger.Info("purged delivered outbox entries",
			zap.Int64("deleted", deleted),
			zap.Duration("retention", w.opts.Retention),
		)
		w.metrics.AddCleanupDeleted(deleted)
	}
}
