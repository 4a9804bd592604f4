package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"

	"github.com/csword/mailtrack/internal/tracking"
)

const (
	EventSinkNone    = "none"
	EventSinkAMQP    = "amqp"
	EventSinkWebhook = "webhook"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	APIPort     int    `env:"API_PORT,default=8000"`
	AdminPort   int    `env:"ADMIN_PORT,default=0"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	TrackingBaseURL        string `env:"TRACKING_BASE_URL,default=http://localhost:8000/api/email"`
	TrackingFragmentPolicy string `env:"TRACKING_FRAGMENT_POLICY,default=preserve"`

	EmailUseTLS        bool `env:"EMAIL_USE_TLS,default=true"`
	SMTPTimeoutSeconds int  `env:"SMTP_TIMEOUT_SECONDS,default=30"`

	TimeZone                string `env:"TIME_ZONE,default=UTC"`
	SchedulerIntervalSecs   int    `env:"SCHEDULER_INTERVAL_SECONDS,default=60"`
	SchedulerScanLimit      int    `env:"SCHEDULER_SCAN_LIMIT,default=100"`
	SchedulerSendsPerRun    int    `env:"SCHEDULER_SENDS_PER_RUN,default=1"`
	SchedulerLockTTLSeconds int    `env:"SCHEDULER_LOCK_TTL_SECONDS,default=300"`
	SendRatePerSec          int    `env:"SEND_RATE_PER_SEC,default=5"`

	EventSink       string `env:"EVENT_SINK,default=none"`
	RabbitMQURL     string `env:"RABBITMQ_URL"`
	EventWebhookURL string `env:"EVENT_WEBHOOK_URL"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.EventSink = strings.ToLower(strings.TrimSpace(cfg.EventSink))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API_PORT %d", c.APIPort)
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		return fmt.Errorf("invalid ADMIN_PORT %d", c.AdminPort)
	}
	if c.AdminPort == c.APIPort {
		return fmt.Errorf("ADMIN_PORT must differ from API_PORT %d", c.APIPort)
	}
	if _, err := tracking.ParseFragmentPolicy(c.TrackingFragmentPolicy); err != nil {
		return fmt.Errorf("invalid TRACKING_FRAGMENT_POLICY: %w", err)
	}
	if _, err := tracking.NewURLBuilder(c.TrackingBaseURL); err != nil {
		return fmt.Errorf("invalid TRACKING_BASE_URL: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	for name, value := range map[string]int{
		"SMTP_TIMEOUT_SECONDS":       c.SMTPTimeoutSeconds,
		"SCHEDULER_INTERVAL_SECONDS": c.SchedulerIntervalSecs,
		"SCHEDULER_SCAN_LIMIT":       c.SchedulerScanLimit,
		"SCHEDULER_SENDS_PER_RUN":    c.SchedulerSendsPerRun,
		"SCHEDULER_LOCK_TTL_SECONDS": c.SchedulerLockTTLSeconds,
		"SEND_RATE_PER_SEC":          c.SendRatePerSec,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	switch c.EventSink {
	case EventSinkNone:
	case EventSinkAMQP:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("RABBITMQ_URL is required when EVENT_SINK=%s", EventSinkAMQP)
		}
	case EventSinkWebhook:
		if strings.TrimSpace(c.EventWebhookURL) == "" {
			return fmt.Errorf("EVENT_WEBHOOK_URL is required when EVENT_SINK=%s", EventSinkWebhook)
		}
	default:
		return fmt.Errorf("invalid EVENT_SINK %q", c.EventSink)
	}

	return nil
}

// AdminEnabled reports whether the operator API gets its own listener.
// A zero ADMIN_PORT leaves it unserved.
func (c *Config) AdminEnabled() bool {
	return c.AdminPort > 0
}

// Location is the zone in which "today" is evaluated for campaign windows.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) SMTPTimeout() time.Duration {
	return time.Duration(c.SMTPTimeoutSeconds) * time.Second
}

func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSecs) * time.Second
}

func (c *Config) SchedulerLockTTL() time.Duration {
	return time.Duration(c.SchedulerLockTTLSeconds) * time.Second
}
