package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeSent       Type = "email.sent"
	TypeSendFailed Type = "email.send_failed"
	TypeOpened     Type = "email.opened"
	TypeClicked    Type = "email.clicked"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeSent, TypeSendFailed, TypeOpened, TypeClicked:
		return true
	default:
		return false
	}
}

// Event is a fact about one email's lifecycle, published after the state
// change has been committed.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	EmailID    int64             `json:"emailId"`
	CampaignID *int64            `json:"campaignId,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func New(eventType Type, emailID int64, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		EmailID:    emailID,
		OccurredAt: at.UTC(),
	}
}

func (e Event) With(key string, value string) Event {
	attrs := make(map[string]string, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attributes = attrs
	return e
}

func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if e.EmailID <= 0 {
		return fmt.Errorf("invalid email id %s", strconv.FormatInt(e.EmailID, 10))
	}
	return nil
}

// Publisher is the outbound port for lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
