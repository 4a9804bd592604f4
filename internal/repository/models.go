package repository

import (
	"time"

	"github.com/csword/mailtrack/internal/domain"
)

// UserModel is the slice of the platform's users table this service reads.
type UserModel struct {
	ID        int64  `gorm:"primaryKey"`
	Email     string `gorm:"type:varchar(254);not null"`
	CreatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// CampaignModel is the persistence model for campaigns.
type CampaignModel struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"type:varchar(255);not null"`
	CompanyID int64     `gorm:"not null;index"`
	StartDate time.Time `gorm:"type:date;not null"`
	EndDate   time.Time `gorm:"type:date;not null"`
	CreatedAt time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// TransportConfigModel is the persistence model for transport_configs.
type TransportConfigModel struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"type:varchar(100);not null;uniqueIndex"`
	Host      string `gorm:"type:varchar(255);not null"`
	Port      int    `gorm:"not null"`
	Username  string `gorm:"type:varchar(255);not null"`
	Password  string `gorm:"type:varchar(255);not null"`
	IsActive  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// SendRatePerSec of zero defers to the service-wide rate.
	SendRatePerSec int `gorm:"not null;default:0"`
}

func (TransportConfigModel) TableName() string {
	return "transport_configs"
}

// EmailModel is the persistence model for the emails table.
type EmailModel struct {
	ID                int64          `gorm:"primaryKey"`
	Subject           string         `gorm:"type:varchar(255);not null"`
	Content           string         `gorm:"type:text;not null"`
	SenderID          *int64         `gorm:"index"`
	RecipientID       int64          `gorm:"not null;index"`
	Recipient         UserModel      `gorm:"foreignKey:RecipientID"`
	CampaignID        *int64         `gorm:"index"`
	Campaign          *CampaignModel `gorm:"foreignKey:CampaignID"`
	TransportConfigID *int64
	Sent              bool `gorm:"not null;default:false"`
	Read              bool `gorm:"not null;default:false"`
	Clicked           bool `gorm:"not null;default:false"`
	SentAt            *time.Time
	ReadAt            *time.Time
	ClickedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (EmailModel) TableName() string {
	return "emails"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID          string  `gorm:"type:uuid;primaryKey"`
	EmailID     int64   `gorm:"not null;index"`
	TransportID *int64
	Succeeded   bool    `gorm:"not null"`
	Temporary   bool    `gorm:"not null;default:false"`
	Error       *string `gorm:"type:text"`
	CreatedAt   time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func emailModelToDomain(m *EmailModel) *domain.Email {
	if m == nil {
		return nil
	}

	email := &domain.Email{
		ID:                m.ID,
		Subject:           m.Subject,
		Content:           m.Content,
		SenderID:          m.SenderID,
		RecipientID:       m.RecipientID,
		RecipientAddress:  m.Recipient.Email,
		CampaignID:        m.CampaignID,
		TransportConfigID: m.TransportConfigID,
		Sent:              m.Sent,
		Read:              m.Read,
		Clicked:           m.Clicked,
		SentAt:            m.SentAt,
		ReadAt:            m.ReadAt,
		ClickedAt:         m.ClickedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.Campaign != nil {
		email.Campaign = campaignModelToDomain(m.Campaign)
	}
	return email
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:        m.ID,
		Name:      m.Name,
		CompanyID: m.CompanyID,
		StartDate: m.StartDate,
		EndDate:   m.EndDate,
		CreatedAt: m.CreatedAt,
	}
}

func transportConfigModelFromDomain(c *domain.TransportConfig) *TransportConfigModel {
	if c == nil {
		return nil
	}

	return &TransportConfigModel{
		ID:             c.ID,
		Name:           c.Name,
		Host:           c.Host,
		Port:           c.Port,
		Username:       c.Username,
		Password:       c.Password,
		IsActive:       c.IsActive,
		SendRatePerSec: c.SendRatePerSec,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func transportConfigModelToDomain(m *TransportConfigModel) *domain.TransportConfig {
	if m == nil {
		return nil
	}

	return &domain.TransportConfig{
		ID:             m.ID,
		Name:           m.Name,
		Host:           m.Host,
		Port:           m.Port,
		Username:       m.Username,
		Password:       m.Password,
		IsActive:       m.IsActive,
		SendRatePerSec: m.SendRatePerSec,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:          a.ID,
		EmailID:     a.EmailID,
		TransportID: a.TransportID,
		Succeeded:   a.Succeeded,
		Temporary:   a.Temporary,
		Error:       a.Error,
		CreatedAt:   a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:          m.ID,
		EmailID:     m.EmailID,
		TransportID: m.TransportID,
		Succeeded:   m.Succeeded,
		Temporary:   m.Temporary,
		Error:       m.Error,
		CreatedAt:   m.CreatedAt,
	}
}
