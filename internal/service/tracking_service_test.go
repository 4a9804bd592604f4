package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/events"
)

func newTestTrackingService(t *testing.T, emails *memoryEmailRepo, publisher *fakePublisher) *TrackingService {
	t.Helper()

	svc, err := NewTrackingService(emails, newTestTracker(t), publisher, nil)
	if err != nil {
		t.Fatalf("NewTrackingService() error = %v", err)
	}
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestTrackingServiceMarkReadIsIdempotent(t *testing.T) {
	t.Parallel()

	emails := newMemoryEmailRepo(domain.Email{ID: 5, Sent: true})
	publisher := &fakePublisher{}
	svc := newTestTrackingService(t, emails, publisher)

	first, err := svc.MarkRead(context.Background(), Hit{EmailID: 5, Technique: "pixel"})
	if err != nil || !first {
		t.Fatalf("first MarkRead() = %v, %v; want true, nil", first, err)
	}
	second, err := svc.MarkRead(context.Background(), Hit{EmailID: 5, Technique: "css-background"})
	if err != nil || second {
		t.Fatalf("second MarkRead() = %v, %v; want false, nil", second, err)
	}

	email := emails.snapshot(5)
	if !email.Read || email.ReadAt == nil || !email.ReadAt.Equal(testNow) {
		t.Fatalf("read=%v readAt=%v", email.Read, email.ReadAt)
	}

	if len(publisher.published) != 2 {
		t.Fatalf("published = %d, want 2", len(publisher.published))
	}
	if publisher.published[0].Attributes["first"] != "true" || publisher.published[1].Attributes["first"] != "false" {
		t.Fatalf("first attributes = %v / %v", publisher.published[0].Attributes, publisher.published[1].Attributes)
	}
	if publisher.published[0].Attributes["technique"] != "pixel" {
		t.Fatalf("technique attribute = %q", publisher.published[0].Attributes["technique"])
	}
}

func TestTrackingServiceMarkClickedUnknownEmail(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	svc := newTestTrackingService(t, newMemoryEmailRepo(), publisher)

	first, err := svc.MarkClicked(context.Background(), Hit{EmailID: 404, URL: "https://example.com"})
	if !errors.Is(err, domain.ErrNotFound) || first {
		t.Fatalf("MarkClicked() = %v, %v; want false, ErrNotFound", first, err)
	}
	if len(publisher.published) != 0 {
		t.Fatal("unknown email must not publish events")
	}
}

func TestTrackingServiceMarkClickedPublishesDestination(t *testing.T) {
	t.Parallel()

	emails := newMemoryEmailRepo(domain.Email{ID: 8})
	publisher := &fakePublisher{err: errors.New("sink offline")}
	svc := newTestTrackingService(t, emails, publisher)

	first, err := svc.MarkClicked(context.Background(), Hit{
		EmailID:   8,
		URL:       "https://example.com/a?b=c",
		RemoteIP:  "203.0.113.9",
		UserAgent: "Mail/1.0",
	})
	if err != nil || !first {
		t.Fatalf("MarkClicked() = %v, %v; want true, nil", first, err)
	}
	if !emails.snapshot(8).Clicked {
		t.Fatal("email should be clicked")
	}

	event := publisher.published[0]
	if event.Type != events.TypeClicked || event.Attributes["url"] != "https://example.com/a?b=c" {
		t.Fatalf("event = %+v", event)
	}
	if event.Attributes["remoteIp"] != "203.0.113.9" || event.Attributes["userAgent"] != "Mail/1.0" {
		t.Fatalf("event attributes = %v", event.Attributes)
	}
}

func TestTrackingServiceViewInBrowser(t *testing.T) {
	t.Parallel()

	emails := newMemoryEmailRepo(domain.Email{
		ID:      3,
		Content: `<html><body><a href="https://example.com">go</a></body></html>`,
	})
	svc := newTestTrackingService(t, emails, &fakePublisher{})

	body, err := svc.ViewInBrowser(context.Background(), 3)
	if err != nil {
		t.Fatalf("ViewInBrowser() error = %v", err)
	}
	if !strings.Contains(body, "/mark-read/3/") || !strings.Contains(body, "/mark-clicked/3/?url=https%3A%2F%2Fexample.com") {
		t.Fatalf("body lacks tracking: %s", body)
	}

	if _, err := svc.ViewInBrowser(context.Background(), 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ViewInBrowser(99) error = %v, want ErrNotFound", err)
	}
}

func TestTrackingServiceMarkReadBoundedBySlowEventSink(t *testing.T) {
	t.Parallel()

	emails := newMemoryEmailRepo(domain.Email{ID: 5, Sent: true})
	svc := newTestTrackingService(t, emails, nil)
	publisher := &blockingPublisher{}
	svc.publisher = publisher
	svc.publishTimeout = 50 * time.Millisecond

	start := time.Now()
	first, err := svc.MarkRead(context.Background(), Hit{EmailID: 5, Technique: "pixel"})
	if err != nil || !first {
		t.Fatalf("MarkRead() = %v, %v; want true, nil", first, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("MarkRead() took %v with a stalled event sink", elapsed)
	}
	if publisher.calls != 1 {
		t.Fatalf("publish calls = %d, want 1", publisher.calls)
	}
}
