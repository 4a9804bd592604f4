package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addTransportSendRate() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_add_transport_send_rate",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE transport_configs ADD COLUMN IF NOT EXISTS send_rate_per_sec INTEGER NOT NULL DEFAULT 0`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE transport_configs DROP COLUMN IF EXISTS send_rate_per_sec`).Error
		},
	}
}
