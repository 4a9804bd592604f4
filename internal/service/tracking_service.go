package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/events"
	"github.com/csword/mailtrack/internal/observability"
	"github.com/csword/mailtrack/internal/repository"
	"github.com/csword/mailtrack/internal/tracking"
)

// Hit describes one request against a tracking endpoint.
type Hit struct {
	EmailID   int64
	URL       string
	Technique string
	RemoteIP  string
	UserAgent string
}

// TrackingService records opens and clicks. Both transitions are
// compare-and-set, so repeated or concurrent hits are harmless.
type TrackingService struct {
	emails    repository.EmailRepository
	tracker   *tracking.Tracker
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	publishTimeout time.Duration
}

func NewTrackingService(
	emails repository.EmailRepository,
	tracker *tracking.Tracker,
	publisher events.Publisher,
	logger *zap.Logger,
) (*TrackingService, error) {
	if emails == nil {
		return nil, fmt.Errorf("email repository is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TrackingService{
		emails:    emails,
		tracker:   tracker,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,

		publishTimeout: defaultPublishTimeout,
	}, nil
}

func (s *TrackingService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// MarkRead reports whether this hit was the email's first open.
func (s *TrackingService) MarkRead(ctx context.Context, hit Hit) (bool, error) {
	return s.record(ctx, events.TypeOpened, hit, s.emails.MarkRead)
}

// MarkClicked reports whether this hit was the email's first click.
func (s *TrackingService) MarkClicked(ctx context.Context, hit Hit) (bool, error) {
	return s.record(ctx, events.TypeClicked, hit, s.emails.MarkClicked)
}

// ViewInBrowser renders the stored body with the same tracking applied to
// outbound mail, so opening it in a browser counts as an open.
func (s *TrackingService) ViewInBrowser(ctx context.Context, emailID int64) (string, error) {
	email, err := s.emails.GetByID(ctx, emailID)
	if err != nil {
		return "", err
	}
	return s.tracker.Apply(email.Content, email.ID), nil
}

func (s *TrackingService) record(
	ctx context.Context,
	eventType events.Type,
	hit Hit,
	mark func(ctx context.Context, id int64, at time.Time) (bool, error),
) (bool, error) {
	label := eventLabel(eventType)
	at := s.now().UTC()

	first, err := mark(ctx, hit.EmailID, at)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.IncTrackingEvent(label, "unknown")
		} else {
			s.metrics.IncTrackingEvent(label, "error")
		}
		return false, err
	}

	result := "repeat"
	if first {
		result = "first"
	}
	s.metrics.IncTrackingEvent(label, result)

	event := events.New(eventType, hit.EmailID, at).With("first", strconv.FormatBool(first))
	if hit.URL != "" {
		event = event.With("url", hit.URL)
	}
	if hit.Technique != "" {
		event = event.With("technique", hit.Technique)
	}
	if hit.RemoteIP != "" {
		event = event.With("remoteIp", hit.RemoteIP)
	}
	if hit.UserAgent != "" {
		event = event.With("userAgent", hit.UserAgent)
	}

	publish(ctx, s.publisher, s.publishTimeout, observability.WithContextLogger(s.logger, ctx), event)
	return first, nil
}

func eventLabel(eventType events.Type) string {
	switch eventType {
	case events.TypeOpened:
		return "opened"
	case events.TypeClicked:
		return "clicked"
	default:
		return string(eventType)
	}
}
