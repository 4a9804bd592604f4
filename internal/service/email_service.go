package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/repository"
)

// ErrDeliveryFailed wraps a transport failure of an operator-triggered send.
var ErrDeliveryFailed = errors.New("delivery failed")

type EmailStatus struct {
	ID        int64
	Sent      bool
	Read      bool
	Clicked   bool
	SentAt    *time.Time
	ReadAt    *time.Time
	ClickedAt *time.Time
	Attempts  []domain.DeliveryAttempt
}

// EmailService backs the operator surface: status lookups, immediate sends
// and transport configuration management.
type EmailService struct {
	emails     repository.EmailRepository
	transports repository.TransportConfigRepository
	attempts   repository.AttemptRepository
	deliverer  *Deliverer
	logger     *zap.Logger
}

func NewEmailService(
	emails repository.EmailRepository,
	transports repository.TransportConfigRepository,
	attempts repository.AttemptRepository,
	deliverer *Deliverer,
	logger *zap.Logger,
) (*EmailService, error) {
	if emails == nil || transports == nil || attempts == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmailService{
		emails:     emails,
		transports: transports,
		attempts:   attempts,
		deliverer:  deliverer,
		logger:     logger,
	}, nil
}

func (s *EmailService) Status(ctx context.Context, id int64) (*EmailStatus, error) {
	email, err := s.emails.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	attempts, err := s.attempts.ListByEmailID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	if attempts == nil {
		attempts = []domain.DeliveryAttempt{}
	}

	return &EmailStatus{
		ID:        email.ID,
		Sent:      email.Sent,
		Read:      email.Read,
		Clicked:   email.Clicked,
		SentAt:    email.SentAt,
		ReadAt:    email.ReadAt,
		ClickedAt: email.ClickedAt,
		Attempts:  attempts,
	}, nil
}

// SendNow delivers one email immediately, ignoring its campaign window.
func (s *EmailService) SendNow(ctx context.Context, id int64) error {
	if s.deliverer == nil {
		return fmt.Errorf("delivery is not configured")
	}

	email, err := s.emails.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if email.Sent {
		return fmt.Errorf("%w: email %d was already sent", domain.ErrConflict, id)
	}

	configs, err := s.transports.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list transport configurations: %w", err)
	}

	cfg, err := domain.ResolveTransport(email.ID, email.TransportConfigID, configs)
	if err != nil {
		return err
	}

	if err := s.deliverer.Deliver(ctx, *email, cfg); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	return nil
}

func (s *EmailService) ListTransports(ctx context.Context) ([]domain.TransportConfig, error) {
	return s.transports.List(ctx)
}

// ImportTransports upserts configs by name and returns how many were written.
// It stops at the first invalid entry.
func (s *EmailService) ImportTransports(ctx context.Context, configs []domain.TransportConfig) (int, error) {
	for i := range configs {
		if err := s.transports.UpsertByName(ctx, &configs[i]); err != nil {
			return i, fmt.Errorf("transport %q: %w", configs[i].Name, err)
		}
		s.logger.Info("transport configuration imported",
			zap.String("name", configs[i].Name),
			zap.String("host", configs[i].Host),
		)
	}
	return len(configs), nil
}
