package repository

import (
	"context"
	"errors"

	"github.com/csword/mailtrack/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransportConfigRepository interface {
	List(ctx context.Context) ([]domain.TransportConfig, error)
	GetByID(ctx context.Context, id int64) (*domain.TransportConfig, error)
	UpsertByName(ctx context.Context, c *domain.TransportConfig) error
}

type GormTransportConfigRepo struct {
	db *gorm.DB
}

func NewGormTransportConfigRepo(db *gorm.DB) *GormTransportConfigRepo {
	return &GormTransportConfigRepo{db: db}
}

// List returns every configuration ordered by id, which is the order the
// default-configuration fallback walks.
func (r *GormTransportConfigRepo) List(ctx context.Context) ([]domain.TransportConfig, error) {
	var models []TransportConfigModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	configs := make([]domain.TransportConfig, 0, len(models))
	for i := range models {
		configs = append(configs, *transportConfigModelToDomain(&models[i]))
	}
	return configs, nil
}

func (r *GormTransportConfigRepo) GetByID(ctx context.Context, id int64) (*domain.TransportConfig, error) {
	var model TransportConfigModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return transportConfigModelToDomain(&model), nil
}

func (r *GormTransportConfigRepo) UpsertByName(ctx context.Context, c *domain.TransportConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}

	model := transportConfigModelFromDomain(c)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"host", "port", "username", "password", "is_active", "send_rate_per_sec", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	*c = *transportConfigModelToDomain(model)
	return nil
}
