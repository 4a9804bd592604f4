package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName   = "mailtrack.events"
	AuditQueueName = "mailtrack.events.audit"

	auditBindingKey  = "email.#"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second
	dialTimeout      = 5 * time.Second
	maxDialAttempts  = 3
)

// ErrBrokerUnavailable is returned while another caller is reconnecting.
var ErrBrokerUnavailable = errors.New("rabbitmq broker unavailable")

// Broker owns the AMQP connection and a single publishing channel on which
// the topology is declared once per connection.
type Broker struct {
	url string

	dialAttempts int
	backoff      time.Duration

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	ch          *amqp.Channel
}

func NewBroker(url string) (*Broker, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	b := &Broker{url: url, dialAttempts: maxDialAttempts, backoff: reconnectBackoff}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := b.channel(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	conn, ch := b.conn, b.ch
	b.conn, b.ch = nil, nil
	b.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		_ = ch.Close()
	}
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel returns the shared publishing channel, reconnecting when it or the
// connection has dropped. Callers never wait behind a reconnect in progress.
func (b *Broker) channel(ctx context.Context) (*amqp.Channel, error) {
	b.mu.RLock()
	ch := b.ch
	b.mu.RUnlock()

	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	return b.reconnect(ctx)
}

func (b *Broker) reconnect(ctx context.Context) (*amqp.Channel, error) {
	if !b.reconnectMu.TryLock() {
		return nil, ErrBrokerUnavailable
	}
	defer b.reconnectMu.Unlock()

	b.mu.RLock()
	conn, ch := b.conn, b.ch
	b.mu.RUnlock()
	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}

	if conn == nil || conn.IsClosed() {
		var err error
		if conn, err = b.dial(ctx); err != nil {
			return nil, err
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		b.store(nil, nil)
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		b.store(conn, nil)
		return nil, err
	}

	b.store(conn, ch)
	return ch, nil
}

func (b *Broker) dial(ctx context.Context) (*amqp.Connection, error) {
	attempts := b.dialAttempts
	if attempts <= 0 {
		attempts = 1
	}

	wait := b.backoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		conn, err := amqp.DialConfig(b.url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if attempt >= attempts {
			return nil, fmt.Errorf("%w: %d dial attempts failed: %w", ErrBrokerUnavailable, attempts, lastErr)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled: %w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(wait):
		}

		wait = nextBackoff(wait)
	}
}

func (b *Broker) store(conn *amqp.Connection, ch *amqp.Channel) {
	b.mu.Lock()
	b.conn, b.ch = conn, ch
	b.mu.Unlock()
}

func nextBackoff(wait time.Duration) time.Duration {
	wait *= 2
	if wait > maxBackoff {
		return maxBackoff
	}
	return wait
}

// declareTopology sets up a durable topic exchange keyed by event type and an
// audit queue that receives every email event.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", ExchangeName, err)
	}

	if _, err := ch.QueueDeclare(AuditQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", AuditQueueName, err)
	}

	if err := ch.QueueBind(AuditQueueName, auditBindingKey, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", AuditQueueName, err)
	}

	return nil
}
