package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/outbox-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnqueueResult reports whether a delivery obligation was newly inserted.
// A key collision is the idempotency mechanism, not an error.
type EnqueueResult struct {
	Inserted bool
	ID       string
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, notificationID, adapterName string) (EnqueueResult, error)
	FetchPending(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, deliveryErr string, retryable bool) error
	GetStatus(ctx context.Context, notificationID string) ([]domain.OutboxEntry, error)
	CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error)
}

type GormOutboxRepo struct {
	db     *gorm.DB
	policy domain.RetryPolicy
	now    func() time.Time
}

func NewGormOutboxRepo(db *gorm.DB, policy domain.RetryPolicy) *GormOutboxRepo {
	return &GormOutboxRepo{
		db:     db,
		policy: policy,
		now:    time.Now,
	}
}

// Enqueue inserts a pending row for the (notification, adapter) pair. On key
// collision the existing row wins and Inserted is false.
func (r *GormOutboxRepo) Enqueue(ctx context.Context, notificationID, adapterName string) (EnqueueResult, error) {
	model := &OutboxEntryModel{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		Adapter:        adapterName,
		Status:         domain.StatusPending,
		NextAttemptAt:  r.now().UTC(),
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "notification_id"}, {Name: "adapter"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return EnqueueResult{}, result.Error
	}

	if result.RowsAffected > 0 {
		return EnqueueResult{Inserted: true, ID: model.ID}, nil
	}

	var existing OutboxEntryModel
	err := r.db.WithContext(ctx).
		Select("id").
		Where("notification_id = ? AND adapter = ?", notificationID, adapterName).
		First(&existing).Error
	if err != nil {
		return EnqueueResult{}, err
	}

	return EnqueueResult{Inserted: false, ID: existing.ID}, nil
}

// FetchPending returns due pending rows for the adapter, oldest-created
// first, capped at batchSize.
func (r *GormOutboxRepo) FetchPending(ctx context.Context, adapterName string, batchSize int) ([]domain.OutboxEntry, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	var models []OutboxEntryModel
	err := r.db.WithContext(ctx).
		Where("adapter = ? AND status = ? AND next_attempt_at <= ?", adapterName, domain.StatusPending, r.now().UTC()).
		Order("created_at ASC").
		Limit(batchSize).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.OutboxEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *outboxModelToDomain(&models[i]))
	}

	return entries, nil
}

// MarkDelivered transitions a pending row to delivered. Repeated calls and
// calls against already-terminal rows are harmless.
func (r *GormOutboxRepo) MarkDelivered(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&OutboxEntryModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":       domain.StatusDelivered,
			"delivered_at": r.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&OutboxEntryModel{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed increments the attempt counter, records the error, and applies
// the retry policy: non-retryable failures and retryable exhaustion become
// terminal, anything else stays pending with an advanced next_attempt_at.
// The row is locked for the transition so per-row updates stay atomic.
func (r *GormOutboxRepo) MarkFailed(ctx context.Context, id string, deliveryErr string, retryable bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OutboxEntryModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		// Terminal rows are frozen.
		if model.Status.IsTerminal() {
			return nil
		}

		attempts := model.Attempts + 1
		status, delay := r.policy.Next(attempts, retryable)

		updates := map[string]any{
			"status":     status,
			"attempts":   attempts,
			"last_error": deliveryErr,
		}
		if status == domain.StatusPending {
			updates["next_attempt_at"] = r.now().UTC().Add(delay)
		}

		return tx.Model(&model).Updates(updates).Error
	})
}

// GetStatus returns every delivery obligation for a notification across all
// adapters, for observability/read paths.
func (r *GormOutboxRepo) GetStatus(ctx context.Context, notificationID string) ([]domain.OutboxEntry, error) {
	var models []OutboxEntryModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("adapter ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.OutboxEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *outboxModelToDomain(&models[i]))
	}

	return entries, nil
}

// CleanupDelivered purges delivered rows whose delivered_at is past the
// retention window. Pending and failed rows are untouched.
func (r *GormOutboxRepo) CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := r.now().UTC().Add(-olderThan)

	result := r.db.WithContext(ctx).
		Where("status = ? AND delivered_at < ?", domain.StatusDelivered, cutoff).
		Delete(&OutboxEntryModel{})
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
