package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/csword/mailtrack/internal/config"
	"github.com/csword/mailtrack/internal/events"
	"github.com/csword/mailtrack/internal/infra/postgresql"
	infraredis "github.com/csword/mailtrack/internal/infra/redis"
	"github.com/csword/mailtrack/internal/mailer"
	"github.com/csword/mailtrack/internal/observability"
	"github.com/csword/mailtrack/internal/ratelimit"
	"github.com/csword/mailtrack/internal/repository"
	"github.com/csword/mailtrack/internal/service"
	"github.com/csword/mailtrack/internal/tracking"
)

const schedulerLockName = "mailtrack:scheduler"

// application holds the wired dependencies shared by the subcommands.
type application struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	sqlDB   *sql.DB
	rdb     *goredis.Client
	metrics *observability.Metrics

	publisher events.Publisher
	tracking  *service.TrackingService
	emails    *service.EmailService
	scheduler *service.DeliveryScheduler
}

type appOptions struct {
	// withEvents connects the configured event sink; read-only commands skip it.
	withEvents bool
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger, nil
}

func newApplication(cfg *config.Config, logger *zap.Logger, opts appOptions) (_ *application, err error) {
	a := &application{
		cfg:       cfg,
		logger:    logger,
		metrics:   observability.NewMetrics(),
		publisher: events.NopPublisher{},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	a.sqlDB, err = a.db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	if cfg.RedisURL != "" {
		a.rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis initialization failed: %w", err)
		}
	}

	if opts.withEvents {
		a.publisher, err = newPublisher(cfg)
		if err != nil {
			return nil, err
		}
	}

	tracker, err := newTracker(cfg, logger)
	if err != nil {
		return nil, err
	}

	emailRepo := repository.NewGormEmailRepo(a.db)
	transportRepo := repository.NewGormTransportConfigRepo(a.db)
	attemptRepo := repository.NewGormAttemptRepo(a.db)

	var limiter ratelimit.RateLimiter
	if a.rdb != nil {
		limiter, err = infraredis.NewRedisRateLimiter(a.rdb)
		if err != nil {
			return nil, fmt.Errorf("send rate limiter initialization failed: %w", err)
		}
	}

	smtpTransport := mailer.NewSMTPTransport(mailer.SMTPOptions{
		UseTLS:  cfg.EmailUseTLS,
		Timeout: cfg.SMTPTimeout(),
	})

	deliverer, err := service.NewDeliverer(service.DelivererDeps{
		Emails:    emailRepo,
		Attempts:  attemptRepo,
		Tracker:   tracker,
		Transport: mailer.NewBreakerTransport(smtpTransport, mailer.BreakerOptions{}, logger),
		Limiter:   limiter,
		Publisher: a.publisher,

		DefaultSendRate: cfg.SendRatePerSec,
	}, logger)
	if err != nil {
		return nil, err
	}
	deliverer.SetMetrics(a.metrics)

	a.tracking, err = service.NewTrackingService(emailRepo, tracker, a.publisher, logger)
	if err != nil {
		return nil, err
	}
	a.tracking.SetMetrics(a.metrics)

	a.emails, err = service.NewEmailService(emailRepo, transportRepo, attemptRepo, deliverer, logger)
	if err != nil {
		return nil, err
	}

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	schedulerOpts := service.SchedulerOptions{
		Interval:    cfg.SchedulerInterval(),
		ScanLimit:   cfg.SchedulerScanLimit,
		SendsPerRun: cfg.SchedulerSendsPerRun,
		Location:    location,
	}
	if a.rdb != nil {
		lock, lockErr := infraredis.NewRunLock(a.rdb, schedulerLockName, cfg.SchedulerLockTTL())
		if lockErr != nil {
			return nil, fmt.Errorf("scheduler lock initialization failed: %w", lockErr)
		}
		schedulerOpts.Lock = lock
	}

	a.scheduler, err = service.NewDeliveryScheduler(emailRepo, transportRepo, deliverer, schedulerOpts, logger)
	if err != nil {
		return nil, err
	}
	a.scheduler.SetMetrics(a.metrics)

	return a, nil
}

func newTracker(cfg *config.Config, logger *zap.Logger) (*tracking.Tracker, error) {
	urls, err := tracking.NewURLBuilder(cfg.TrackingBaseURL)
	if err != nil {
		return nil, err
	}
	policy, err := tracking.ParseFragmentPolicy(cfg.TrackingFragmentPolicy)
	if err != nil {
		return nil, err
	}

	links := tracking.NewLinkRewriter(urls, policy, logger)
	injector := tracking.NewInjector(urls, tracking.DefaultTechniques()...)
	return tracking.NewTracker(links, injector), nil
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.EventSink {
	case config.EventSinkAMQP:
		broker, err := events.NewBroker(cfg.RabbitMQURL)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		return events.NewAMQPPublisher(broker), nil
	case config.EventSinkWebhook:
		publisher, err := events.NewWebhookPublisher(cfg.EventWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("event webhook initialization failed: %w", err)
		}
		return publisher, nil
	default:
		return events.NopPublisher{}, nil
	}
}

func (a *application) Close() {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.sqlDB != nil {
		errs = append(errs, a.sqlDB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("failed to release resources", zap.Error(err))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
