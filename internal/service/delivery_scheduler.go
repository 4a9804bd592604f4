package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/csword/mailtrack/internal/distlock"
	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/mailer"
	"github.com/csword/mailtrack/internal/observability"
	"github.com/csword/mailtrack/internal/repository"
)

const (
	defaultSchedulerInterval    = time.Minute
	defaultSchedulerScanLimit   = 100
	defaultSchedulerSendsPerRun = 1
	lockReleaseTimeout          = 5 * time.Second
)

// RunReport summarizes one scheduler invocation.
type RunReport struct {
	Day        string
	Locked     bool
	Candidates int
	Attempted  int
	Sent       int
	Failed     int
	Skipped    int
	SentIDs    []int64
}

func (r RunReport) outcome() string {
	switch {
	case !r.Locked:
		return "locked"
	case r.Sent > 0:
		return "sent"
	case r.Candidates == 0:
		return "empty"
	default:
		return "failed"
	}
}

type SchedulerOptions struct {
	Interval    time.Duration
	ScanLimit   int
	SendsPerRun int
	Location    *time.Location
	// Lock is optional; without it overlapping runs in different processes
	// rely on the conditional sent update alone.
	Lock distlock.Lock
}

// DeliveryScheduler walks deliverable emails in campaign-deadline order and
// stops after SendsPerRun successful sends. A failed candidate is logged and
// left unsent for a later run.
type DeliveryScheduler struct {
	emails      repository.EmailRepository
	transports  repository.TransportConfigRepository
	deliverer   *Deliverer
	lock        distlock.Lock
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	scanLimit   int
	sendsPerRun int
	location    *time.Location
	now         func() time.Time
}

func NewDeliveryScheduler(
	emails repository.EmailRepository,
	transports repository.TransportConfigRepository,
	deliverer *Deliverer,
	opts SchedulerOptions,
	logger *zap.Logger,
) (*DeliveryScheduler, error) {
	if emails == nil {
		return nil, fmt.Errorf("email repository is required")
	}
	if transports == nil {
		return nil, fmt.Errorf("transport config repository is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSchedulerInterval
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = defaultSchedulerScanLimit
	}
	if opts.SendsPerRun <= 0 {
		opts.SendsPerRun = defaultSchedulerSendsPerRun
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryScheduler{
		emails:      emails,
		transports:  transports,
		deliverer:   deliverer,
		lock:        opts.Lock,
		logger:      logger,
		interval:    opts.Interval,
		scanLimit:   opts.ScanLimit,
		sendsPerRun: opts.SendsPerRun,
		location:    opts.Location,
		now:         time.Now,
	}, nil
}

func (s *DeliveryScheduler) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// Start runs an invocation immediately and then once per interval until ctx
// is done.
func (s *DeliveryScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial run failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single invocation. Only infrastructure failures (lock,
// listing) are returned as errors; per-email failures are in the report.
func (s *DeliveryScheduler) RunOnce(ctx context.Context) (report RunReport, err error) {
	s.metrics.IncSchedulerInFlight()
	defer s.metrics.DecSchedulerInFlight()
	defer func() {
		if err != nil {
			s.metrics.IncSchedulerRun("error")
			return
		}
		s.metrics.IncSchedulerRun(report.outcome())
	}()

	today := domain.DateOf(s.now(), s.location)
	report.Day = today.Format(domain.DateLayout)
	logger := s.logger.With(zap.String("day", report.Day))

	if s.lock != nil {
		acquired, lockErr := s.lock.Acquire(ctx)
		if lockErr != nil {
			return report, fmt.Errorf("failed to acquire scheduler lock: %w", lockErr)
		}
		if !acquired {
			logger.Info("scheduler run skipped, another run holds the lock")
			return report, nil
		}
		defer s.releaseLock(ctx)
	}
	report.Locked = true

	configs, err := s.transports.List(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list transport configurations: %w", err)
	}
	if len(configs) == 0 {
		logger.Info("no transport configuration, nothing to send")
		return report, nil
	}

	// Candidates are paged with a keyset cursor until the quota is met or the
	// eligible set is exhausted.
	var cursor *domain.DeliveryCursor
	for {
		page, err := s.emails.ListDeliverable(ctx, today, cursor, s.scanLimit)
		if err != nil {
			return report, fmt.Errorf("failed to list deliverable emails: %w", err)
		}
		report.Candidates += len(page)

		done, err := s.deliverPage(ctx, logger, page, configs, &report)
		if err != nil {
			return report, err
		}
		if done || len(page) < s.scanLimit {
			break
		}

		next := domain.CursorAt(page[len(page)-1])
		cursor = &next
	}

	if report.Candidates == 0 {
		logger.Info("no deliverable emails, nothing to send")
		return report, nil
	}

	if report.Sent == 0 {
		logger.Warn("scheduler run sent nothing",
			zap.Int("candidates", report.Candidates),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
		)
	}

	return report, nil
}

// deliverPage tries candidates in order and reports whether the run reached
// its send quota.
func (s *DeliveryScheduler) deliverPage(
	ctx context.Context,
	logger *zap.Logger,
	candidates []domain.Email,
	configs []domain.TransportConfig,
	report *RunReport,
) (bool, error) {
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		email := candidates[i]
		emailLogger := logger.With(zap.Int64("emailId", email.ID))

		cfg, resolveErr := domain.ResolveTransport(email.ID, email.TransportConfigID, configs)
		if resolveErr != nil {
			emailLogger.Error("no transport configuration for email", zap.Error(resolveErr))
			report.Skipped++
			continue
		}

		report.Attempted++
		if sendErr := s.deliverer.Deliver(ctx, email, cfg); sendErr != nil {
			report.Failed++
			emailLogger.Error("email delivery failed",
				zap.Int64("transportId", cfg.ID),
				zap.Bool("temporary", mailer.IsTemporary(sendErr)),
				zap.Error(sendErr),
			)
			continue
		}

		report.Sent++
		report.SentIDs = append(report.SentIDs, email.ID)
		if report.Sent >= s.sendsPerRun {
			return true, nil
		}
	}
	return false, nil
}

func (s *DeliveryScheduler) releaseLock(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	defer cancel()

	if err := s.lock.Release(releaseCtx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to release scheduler lock", zap.Error(err))
	}
}
