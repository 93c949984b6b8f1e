package repository

import (
	"time"

	"github.com/kursadbilgin/outbox-relay/internal/domain"
)

// OutboxEntryModel is the persistence model for the outbox_entries table.
// The composite unique index over (notification_id, adapter) is what makes
// scheduling idempotent.
type OutboxEntryModel struct {
	ID             string        `gorm:"type:uuid;primaryKey"`
	NotificationID string        `gorm:"type:varchar(64);not null;uniqueIndex:idx_outbox_notification_adapter,priority:1"`
	Adapter        string        `gorm:"type:varchar(32);not null;uniqueIndex:idx_outbox_notification_adapter,priority:2"`
	Status         domain.Status `gorm:"type:varchar(20);not null"`
	Attempts       int           `gorm:"not null;default:0"`
	LastError      *string       `gorm:"type:text"`
	NextAttemptAt  time.Time     `gorm:"type:timestamptz;not null"`
	DeliveredAt    *time.Time    `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (OutboxEntryModel) TableName() string {
	return "outbox_entries"
}

// DeviceTokenModel is the persistence model for device_tokens.
type DeviceTokenModel struct {
	RecipientID string `gorm:"type:varchar(64);primaryKey"`
	Token       string `gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DeviceTokenModel) TableName() string {
	return "device_tokens"
}

// NotificationModel is the read model over the externally-owned notifications
// table. The delivery core never writes it.
type NotificationModel struct {
	ID          string  `gorm:"type:varchar(64);primaryKey"`
	RecipientID string  `gorm:"type:varchar(64);not null"`
	ActorID     string  `gorm:"type:varchar(64);not null"`
	SubjectRef  string  `gorm:"type:varchar(255);not null"`
	Kind        string  `gorm:"type:varchar(64);not null"`
	SubKind     *string `gorm:"type:varchar(64)"`
	CreatedAt   time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

func outboxModelToDomain(m *OutboxEntryModel) *domain.OutboxEntry {
	if m == nil {
		return nil
	}

	return &domain.OutboxEntry{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		Adapter:        m.Adapter,
		Status:         m.Status,
		Attempts:       m.Attempts,
		LastError:      m.LastError,
		NextAttemptAt:  m.NextAttemptAt,
		DeliveredAt:    m.DeliveredAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:          m.ID,
		RecipientID: m.RecipientID,
		ActorID:     m.ActorID,
		SubjectRef:  m.SubjectRef,
		Kind:        m.Kind,
		SubKind:     m.SubKind,
		CreatedAt:   m.CreatedAt,
	}
}
