package migrations

import (
	"github.com/XlordCodes/pod-c/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_bulk_jobs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.JobModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_bulk_jobs_status_created ON bulk_jobs (status, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_bulk_jobs_scheduled_due ON bulk_jobs (scheduled_at) WHERE status = 'scheduled'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.JobModel{})
			},
		},
		{
			ID: "000002_create_bulk_messages",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.MessageModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_bulk_messages_job_status ON bulk_messages (job_id, status)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_bulk_messages_provider_id ON bulk_messages (provider_message_id) WHERE provider_message_id IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_bulk_messages_failed_retry ON bulk_messages (attempts, updated_at) WHERE status = 'failed'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.MessageModel{})
			},
		},
		{
			ID: "000003_create_message_status",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.DeliveryStatusModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryStatusModel{})
			},
		},
	})

	return m.Migrate()
}
