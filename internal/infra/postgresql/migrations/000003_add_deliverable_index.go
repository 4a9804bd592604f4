package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addDeliverableIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_deliverable_index",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_emails_unsent_campaign ON emails (campaign_id, created_at) WHERE sent = false`,
				`CREATE INDEX IF NOT EXISTS idx_campaigns_window ON campaigns (start_date, end_date)`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_campaigns_window`,
				`DROP INDEX IF EXISTS idx_emails_unsent_campaign`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
