package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/outbox-relay/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
}

// GormNotificationRepo is the read-only boundary to the externally-owned
// notification store.
type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}
