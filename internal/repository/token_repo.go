package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/outbox-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormTokenRepo struct {
	db *gorm.DB
}

func NewGormTokenRepo(db *gorm.DB) *GormTokenRepo {
	return &GormTokenRepo{db: db}
}

// TokenFor resolves a recipient to its device token. An unregistered device
// is domain.ErrNotFound, which the push adapter treats as expected.
func (r *GormTokenRepo) TokenFor(ctx context.Context, recipientID string) (string, error) {
	var model DeviceTokenModel
	err := r.db.WithContext(ctx).First(&model, "recipient_id = ?", recipientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.Token, nil
}

// Save registers or replaces the device token for a recipient.
func (r *GormTokenRepo) Save(ctx context.Context, recipientID, token string) error {
	model := &DeviceTokenModel{
		RecipientID: recipientID,
		Token:       token,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "recipient_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
		}).
		Create(model).Error
}
