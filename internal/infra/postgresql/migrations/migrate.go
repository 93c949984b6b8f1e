package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/outbox-relay/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_outbox_entries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.OutboxEntryModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_entries (adapter, next_attempt_at, created_at) WHERE status = 'PENDING'`,
					`CREATE INDEX IF NOT EXISTS idx_outbox_delivered_at ON outbox_entries (delivered_at) WHERE status = 'DELIVERED'`,
					`CREATE INDEX IF NOT EXISTS idx_outbox_notification_id ON outbox_entries (notification_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.OutboxEntryModel{})
			},
		},
		{
			ID: "000002_create_device_tokens",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.DeviceTokenModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeviceTokenModel{})
			},
		},
		{
			// Local read model for the externally-owned notifications table.
			// In shared environments the owner's schema already exists and
			// AutoMigrate is a no-op.
			ID: "000003_create_notifications_read_model",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.NotificationModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},
	})

	return m.Migrate()
}
