package migrations

import (
	"github.com/csword/mailtrack/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createCoreTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_core_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&repository.UserModel{},
				&repository.CampaignModel{},
				&repository.TransportConfigModel{},
				&repository.EmailModel{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.EmailModel{},
				&repository.TransportConfigModel{},
				&repository.CampaignModel{},
				&repository.UserModel{},
			)
		},
	}
}
