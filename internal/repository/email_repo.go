package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/csword/mailtrack/internal/domain"
	"gorm.io/gorm"
)

type EmailRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Email, error)
	// ListDeliverable returns up to limit unsent emails whose campaign window
	// contains day, ordered by campaign end date, creation time and id. A non-nil
	// after resumes the listing strictly past that position.
	ListDeliverable(ctx context.Context, day time.Time, after *domain.DeliveryCursor, limit int) ([]domain.Email, error)
	// MarkRead, MarkClicked and MarkSent flip their flag only while it is false.
	// The bool result reports whether this call performed the transition.
	MarkRead(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkClicked(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkSent(ctx context.Context, id int64, at time.Time) (bool, error)
}

type GormEmailRepo struct {
	db *gorm.DB
}

func NewGormEmailRepo(db *gorm.DB) *GormEmailRepo {
	return &GormEmailRepo{db: db}
}

func (r *GormEmailRepo) GetByID(ctx context.Context, id int64) (*domain.Email, error) {
	var model EmailModel
	err := r.db.WithContext(ctx).
		Preload("Recipient").
		Preload("Campaign").
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return emailModelToDomain(&model), nil
}

func (r *GormEmailRepo) ListDeliverable(
	ctx context.Context,
	day time.Time,
	after *domain.DeliveryCursor,
	limit int,
) ([]domain.Email, error) {
	if limit < 1 {
		limit = 100
	}
	date := day.Format(domain.DateLayout)

	query := r.db.WithContext(ctx).
		Preload("Recipient").
		Preload("Campaign").
		Joins("JOIN campaigns ON campaigns.id = emails.campaign_id").
		Where("emails.sent = ?", false).
		Where("campaigns.start_date <= ? AND campaigns.end_date >= ?", date, date)
	if after != nil {
		query = query.Where("(campaigns.end_date, emails.created_at, emails.id) > (?, ?, ?)",
			after.EndDate.Format(domain.DateLayout), after.CreatedAt, after.ID)
	}

	var models []EmailModel
	err := query.
		Order("campaigns.end_date ASC").
		Order("emails.created_at ASC").
		Order("emails.id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	emails := make([]domain.Email, 0, len(models))
	for i := range models {
		emails = append(emails, *emailModelToDomain(&models[i]))
	}

	return emails, nil
}

func (r *GormEmailRepo) MarkRead(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.setFlag(ctx, id, "read", "read_at", at)
}

func (r *GormEmailRepo) MarkClicked(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.setFlag(ctx, id, "clicked", "clicked_at", at)
}

func (r *GormEmailRepo) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.setFlag(ctx, id, "sent", "sent_at", at)
}

func (r *GormEmailRepo) setFlag(ctx context.Context, id int64, flag string, stamp string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where(fmt.Sprintf("id = ? AND %q = ?", flag), id, false).
		Updates(map[string]any{
			flag:  true,
			stamp: at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&EmailModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, domain.ErrNotFound
	}
	return false, nil
}
