package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultWebhookTimeout = 10 * time.Second

// DeliveryError is returned when the webhook endpoint rejects an event.
type DeliveryError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// WebhookPublisher POSTs each event as JSON to a single endpoint.
type WebhookPublisher struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookPublisher(endpoint string) (*WebhookPublisher, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	return NewWebhookPublisherWithClient(endpoint, client)
}

func NewWebhookPublisherWithClient(endpoint string, client *resty.Client) (*WebhookPublisher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookPublisher{client: client, endpoint: endpoint}, nil
}

func (p *WebhookPublisher) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Mailtrack-Event", string(event.Type)).
		SetHeader("Idempotency-Key", event.ID).
		SetBody(event).
		Post(p.endpoint)
	if err != nil {
		return &DeliveryError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	status := response.StatusCode()
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return nil
	}

	return &DeliveryError{
		StatusCode: status,
		Message:    strings.TrimSpace(response.String()),
		Transient:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
	}
}

func (p *WebhookPublisher) Close() error { return nil }
