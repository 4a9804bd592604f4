package mailer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/csword/mailtrack/internal/domain"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = time.Minute
)

type BreakerOptions struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerTransport keeps one circuit breaker per SMTP host so a dead relay
// stops being dialed for the rest of the open window. Only temporary failures
// count against the breaker; a rejected recipient says nothing about the host.
type BreakerTransport struct {
	next     Transport
	logger   *zap.Logger
	opts     BreakerOptions
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerTransport(next Transport, opts BreakerOptions, logger *zap.Logger) *BreakerTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = defaultBreakerFailures
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultBreakerTimeout
	}

	return &BreakerTransport{
		next:     next,
		logger:   logger,
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *BreakerTransport) Send(ctx context.Context, cfg domain.TransportConfig, msg Message) error {
	cb := b.breaker(cfg.Host)

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, cfg, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &SendError{Stage: "breaker", Message: "circuit open for " + cfg.Host, Temporary: true, Cause: err}
	}
	return err
}

// State exposes the breaker state for a host, mainly for tests and status output.
func (b *BreakerTransport) State(host string) gobreaker.State {
	return b.breaker(host).State()
}

func (b *BreakerTransport) breaker(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[host]; ok {
		return cb
	}

	threshold := b.opts.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     b.opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTemporary(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("smtp circuit state changed",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	b.breakers[host] = cb
	return cb
}
