package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/events"
	"github.com/csword/mailtrack/internal/mailer"
	"github.com/csword/mailtrack/internal/observability"
	"github.com/csword/mailtrack/internal/ratelimit"
	"github.com/csword/mailtrack/internal/repository"
	"github.com/csword/mailtrack/internal/tracking"
)

const (
	emailIDHeader         = "X-Mailtrack-Email-Id"
	defaultPublishTimeout = 3 * time.Second
)

// Deliverer performs one delivery: tracking, composition, throttled send,
// attempt bookkeeping and the conditional sent transition.
type Deliverer struct {
	emails    repository.EmailRepository
	attempts  repository.AttemptRepository
	tracker   *tracking.Tracker
	transport mailer.Transport
	limiter   ratelimit.RateLimiter
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	defaultSendRate int
	publishTimeout  time.Duration
}

type DelivererDeps struct {
	Emails    repository.EmailRepository
	Attempts  repository.AttemptRepository
	Tracker   *tracking.Tracker
	Transport mailer.Transport
	// Limiter and Publisher are optional.
	Limiter   ratelimit.RateLimiter
	Publisher events.Publisher
	// DefaultSendRate applies to transports without their own rate.
	DefaultSendRate int
}

func NewDeliverer(deps DelivererDeps, logger *zap.Logger) (*Deliverer, error) {
	if deps.Emails == nil {
		return nil, fmt.Errorf("email repository is required")
	}
	if deps.Attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if deps.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("mail transport is required")
	}
	if deps.Limiter != nil && deps.DefaultSendRate <= 0 {
		return nil, fmt.Errorf("default send rate must be positive when a limiter is set")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Deliverer{
		emails:    deps.Emails,
		attempts:  deps.Attempts,
		tracker:   deps.Tracker,
		transport: deps.Transport,
		limiter:   deps.Limiter,
		publisher: deps.Publisher,
		logger:    logger,
		now:       time.Now,

		defaultSendRate: deps.DefaultSendRate,
		publishTimeout:  defaultPublishTimeout,
	}, nil
}

func (d *Deliverer) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

// Deliver sends email through cfg. A nil result means the transport accepted
// the message; the sent flag is then set unless a concurrent run got there first.
func (d *Deliverer) Deliver(ctx context.Context, email domain.Email, cfg domain.TransportConfig) error {
	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.Int64("emailId", email.ID),
		zap.Int64("transportId", cfg.ID),
		zap.String("host", cfg.Host),
	)

	if err := email.Deliverable(); err != nil {
		d.finish(ctx, logger, email, cfg, err)
		return err
	}

	html := d.tracker.Apply(email.Content, email.ID)
	msg := mailer.Message{
		From:    cfg.FromAddress(),
		To:      email.RecipientAddress,
		Subject: email.Subject,
		Text:    tracking.PlainText(html),
		HTML:    html,
		Date:    d.now(),
		Headers: map[string]string{emailIDHeader: strconv.FormatInt(email.ID, 10)},
	}

	if err := d.reserve(ctx, logger, cfg); err != nil {
		d.finish(ctx, logger, email, cfg, err)
		return err
	}

	start := time.Now()
	err := d.transport.Send(ctx, cfg, msg)
	d.metrics.ObserveEmailSendDuration(cfg.Name, time.Since(start))

	// The sent flag is written before any bookkeeping so a slow event sink
	// cannot leave an accepted message unmarked.
	if err == nil {
		d.markSent(ctx, logger, email)
	}

	d.finish(ctx, logger, email, cfg, err)
	return err
}

// reserve takes one send from the transport quota. A spent quota is reported
// as a temporary failure so the scheduler moves on instead of waiting.
func (d *Deliverer) reserve(ctx context.Context, logger *zap.Logger, cfg domain.TransportConfig) error {
	if d.limiter == nil {
		return nil
	}
	quota := ratelimit.QuotaFor(cfg, d.defaultSendRate)
	wait, err := d.limiter.Reserve(ctx, quota)
	if err != nil {
		return &mailer.SendError{Stage: "throttle", Temporary: true, Cause: err}
	}
	if wait > 0 {
		logger.Info("transport send rate exhausted",
			zap.String("quota", quota.Key),
			zap.Int("perSecond", quota.PerSecond),
			zap.Duration("retryAfter", wait),
		)
		return &mailer.SendError{Stage: "throttle", Temporary: true, Cause: fmt.Errorf("%w: retry after %s", ratelimit.ErrThrottled, wait)}
	}
	return nil
}

func (d *Deliverer) markSent(ctx context.Context, logger *zap.Logger, email domain.Email) {
	changed, err := d.emails.MarkSent(ctx, email.ID, d.now().UTC())
	switch {
	case err != nil:
		// The relay already has the message; the next run may send it again.
		logger.Error("email delivered but sent flag not recorded", zap.Error(err))
	case !changed:
		logger.Warn("email was already marked sent by another run")
	default:
		logger.Info("email sent", observability.Recipient(email.RecipientAddress))
	}
}

func (d *Deliverer) finish(ctx context.Context, logger *zap.Logger, email domain.Email, cfg domain.TransportConfig, sendErr error) {
	at := d.now().UTC()
	transportID := cfg.ID

	attempt := &domain.DeliveryAttempt{
		EmailID:     email.ID,
		TransportID: &transportID,
		Succeeded:   sendErr == nil,
		Temporary:   mailer.IsTemporary(sendErr),
		CreatedAt:   at,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		attempt.Error = &msg
	}

	if err := d.attempts.Create(ctx, attempt); err != nil {
		logger.Error("failed to record delivery attempt", zap.Error(err))
	}

	event := events.New(events.TypeSent, email.ID, at).
		With("transportId", strconv.FormatInt(cfg.ID, 10))
	event.CampaignID = email.CampaignID

	if sendErr != nil {
		d.metrics.IncEmailSendFailure(mailer.Reason(sendErr))
		event.Type = events.TypeSendFailed
		event = event.With("error", sendErr.Error()).
			With("temporary", strconv.FormatBool(attempt.Temporary))
	} else {
		d.metrics.IncEmailSent(cfg.Name)
	}

	publish(ctx, d.publisher, d.publishTimeout, logger, event)
}

// publish hands event to the sink with its own deadline. It outlives a
// cancelled caller so outcomes reached during shutdown are still reported.
func publish(ctx context.Context, publisher events.Publisher, timeout time.Duration, logger *zap.Logger, event events.Event) {
	if publisher == nil {
		return
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish event",
			zap.String("event", string(event.Type)),
			zap.Int64("emailId", event.EmailID),
			zap.Error(err),
		)
	}
}
