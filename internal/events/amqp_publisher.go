package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// AMQPPublisher publishes events to the topic exchange. Calls without a
// deadline are bounded by publishTimeout.
type AMQPPublisher struct {
	broker *Broker
}

func NewAMQPPublisher(broker *Broker) *AMQPPublisher {
	return &AMQPPublisher{broker: broker}
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.broker == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	publishing, err := toPublishing(event)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	ch, err := p.broker.channel(ctx)
	if err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx, ExchangeName, RoutingKey(event), false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	return nil
}

func (p *AMQPPublisher) Close() error {
	if p == nil || p.broker == nil {
		return nil
	}
	return p.broker.Close()
}

// RoutingKey is the event type, so consumers can bind on "email.clicked" or
// "email.#".
func RoutingKey(event Event) string {
	return string(event.Type)
}

func toPublishing(event Event) (amqp.Publishing, error) {
	if err := event.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Body:         payload,
	}, nil
}
