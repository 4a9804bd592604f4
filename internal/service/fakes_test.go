package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/events"
	"github.com/csword/mailtrack/internal/mailer"
	"github.com/csword/mailtrack/internal/ratelimit"
	"github.com/csword/mailtrack/internal/tracking"
)

// memoryEmailRepo mirrors the conditional-update contract of the gorm repo.
type memoryEmailRepo struct {
	mu        sync.Mutex
	emails    map[int64]*domain.Email
	listDays  []string
	listErr   error
	markErr   error
	markCalls int
}

func newMemoryEmailRepo(emails ...domain.Email) *memoryEmailRepo {
	repo := &memoryEmailRepo{emails: make(map[int64]*domain.Email, len(emails))}
	for i := range emails {
		email := emails[i]
		repo.emails[email.ID] = &email
	}
	return repo
}

func (r *memoryEmailRepo) GetByID(_ context.Context, id int64) (*domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email, ok := r.emails[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *email
	return &copied, nil
}

func (r *memoryEmailRepo) ListDeliverable(
	_ context.Context,
	day time.Time,
	after *domain.DeliveryCursor,
	limit int,
) ([]domain.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listDays = append(r.listDays, day.Format(domain.DateLayout))
	if r.listErr != nil {
		return nil, r.listErr
	}

	out := make([]domain.Email, 0, len(r.emails))
	for _, email := range r.emails {
		if email.Sent || !email.Campaign.ActiveOn(day) {
			continue
		}
		if after != nil && !after.Precedes(*email) {
			continue
		}
		out = append(out, *email)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Campaign.EndDate.Equal(b.Campaign.EndDate) {
			return a.Campaign.EndDate.Before(b.Campaign.EndDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryEmailRepo) MarkRead(_ context.Context, id int64, at time.Time) (bool, error) {
	return r.set(id, func(e *domain.Email) bool {
		if e.Read {
			return false
		}
		e.Read, e.ReadAt = true, &at
		return true
	})
}

func (r *memoryEmailRepo) MarkClicked(_ context.Context, id int64, at time.Time) (bool, error) {
	return r.set(id, func(e *domain.Email) bool {
		if e.Clicked {
			return false
		}
		e.Clicked, e.ClickedAt = true, &at
		return true
	})
}

func (r *memoryEmailRepo) MarkSent(_ context.Context, id int64, at time.Time) (bool, error) {
	return r.set(id, func(e *domain.Email) bool {
		if e.Sent {
			return false
		}
		e.Sent, e.SentAt = true, &at
		return true
	})
}

func (r *memoryEmailRepo) set(id int64, apply func(*domain.Email) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.markCalls++
	if r.markErr != nil {
		return false, r.markErr
	}
	email, ok := r.emails[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	return apply(email), nil
}

func (r *memoryEmailRepo) snapshot(id int64) domain.Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.emails[id]
}

type fakeTransportRepo struct {
	configs   []domain.TransportConfig
	listErr   error
	listCalls int
	upserted  []string
	upsertFn  func(c *domain.TransportConfig) error
}

func (r *fakeTransportRepo) List(context.Context) ([]domain.TransportConfig, error) {
	return r.configs, r.listErr
}

func (r *fakeTransportRepo) GetByID(_ context.Context, id int64) (*domain.TransportConfig, error) {
	for i := range r.configs {
		if r.configs[i].ID == id {
			return &r.configs[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeTransportRepo) UpsertByName(_ context.Context, c *domain.TransportConfig) error {
	if r.upsertFn != nil {
		if err := r.upsertFn(c); err != nil {
			return err
		}
	}
	r.upserted = append(r.upserted, c.Name)
	return nil
}

type fakeAttemptRepo struct {
	attempts  []domain.DeliveryAttempt
	createErr error
}

func (r *fakeAttemptRepo) Create(_ context.Context, a *domain.DeliveryAttempt) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.attempts = append(r.attempts, *a)
	return nil
}

func (r *fakeAttemptRepo) ListByEmailID(_ context.Context, emailID int64) ([]domain.DeliveryAttempt, error) {
	var out []domain.DeliveryAttempt
	for _, a := range r.attempts {
		if a.EmailID == emailID {
			out = append(out, a)
		}
	}
	return out, nil
}

type sentMessage struct {
	transportID int64
	msg         mailer.Message
}

type fakeMailTransport struct {
	sendFn func(cfg domain.TransportConfig, msg mailer.Message) error
	sent   []sentMessage
	tried  []string
}

func (t *fakeMailTransport) Send(_ context.Context, cfg domain.TransportConfig, msg mailer.Message) error {
	t.tried = append(t.tried, msg.To)
	if t.sendFn != nil {
		if err := t.sendFn(cfg, msg); err != nil {
			return err
		}
	}
	t.sent = append(t.sent, sentMessage{transportID: cfg.ID, msg: msg})
	return nil
}

type fakeLock struct {
	acquired   bool
	acquireErr error
	released   int
}

func (l *fakeLock) Acquire(context.Context) (bool, error) { return l.acquired, l.acquireErr }
func (l *fakeLock) Release(context.Context) error {
	l.released++
	return nil
}

type fakeLimiter struct {
	wait   time.Duration
	err    error
	quotas []ratelimit.Quota
}

func (l *fakeLimiter) Reserve(_ context.Context, q ratelimit.Quota) (time.Duration, error) {
	l.quotas = append(l.quotas, q)
	return l.wait, l.err
}

type fakePublisher struct {
	mu        sync.Mutex
	published []events.Event
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, event)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.published))
	for _, e := range p.published {
		out = append(out, e.Type)
	}
	return out
}

var testNow = time.Date(2026, 3, 11, 10, 30, 0, 0, time.UTC)

func newTestTracker(t *testing.T) *tracking.Tracker {
	t.Helper()

	urls, err := tracking.NewURLBuilder("https://track.example/api/email")
	if err != nil {
		t.Fatalf("NewURLBuilder() error = %v", err)
	}
	links := tracking.NewLinkRewriter(urls, tracking.FragmentPreserve, nil)
	injector := tracking.NewInjector(urls, tracking.DefaultTechniques()...)
	return tracking.NewTracker(links, injector)
}

func activeTransport(id int64) domain.TransportConfig {
	return domain.TransportConfig{
		ID:       id,
		Name:     fmt.Sprintf("relay-%d", id),
		Host:     "smtp.relay.example",
		Port:     587,
		Username: "noreply@relay.example",
		Password: "secret",
		IsActive: true,
	}
}

func campaignEmail(id int64, recipient string, startOffset, endOffset int, created time.Time) domain.Email {
	campaignID := id * 10
	day := time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)

	return domain.Email{
		ID:               id,
		Subject:          "Action required",
		Content:          `<html><body><p>Hi</p><a href="https://example.com/offer?id=7&x=1">Claim</a></body></html>`,
		RecipientID:      id,
		RecipientAddress: recipient,
		CampaignID:       &campaignID,
		Campaign: &domain.Campaign{
			ID:        campaignID,
			StartDate: day.AddDate(0, 0, startOffset),
			EndDate:   day.AddDate(0, 0, endOffset),
		},
		CreatedAt: created,
	}
}

type schedulerFixture struct {
	emails     *memoryEmailRepo
	transports *fakeTransportRepo
	attempts   *fakeAttemptRepo
	mail       *fakeMailTransport
	publisher  *fakePublisher
	deliverer  *Deliverer
}

func newSchedulerFixture(t *testing.T, emails ...domain.Email) *schedulerFixture {
	t.Helper()

	f := &schedulerFixture{
		emails:     newMemoryEmailRepo(emails...),
		transports: &fakeTransportRepo{configs: []domain.TransportConfig{activeTransport(1)}},
		attempts:   &fakeAttemptRepo{},
		mail:       &fakeMailTransport{},
		publisher:  &fakePublisher{},
	}

	deliverer, err := NewDeliverer(DelivererDeps{
		Emails:    f.emails,
		Attempts:  f.attempts,
		Tracker:   newTestTracker(t),
		Transport: f.mail,
		Publisher: f.publisher,
	}, nil)
	if err != nil {
		t.Fatalf("NewDeliverer() error = %v", err)
	}
	deliverer.now = func() time.Time { return testNow }
	f.deliverer = deliverer

	return f
}

func (f *schedulerFixture) scheduler(t *testing.T, opts SchedulerOptions) *DeliveryScheduler {
	t.Helper()

	scheduler, err := NewDeliveryScheduler(f.emails, f.transports, f.deliverer, opts, nil)
	if err != nil {
		t.Fatalf("NewDeliveryScheduler() error = %v", err)
	}
	scheduler.now = func() time.Time { return testNow }
	return scheduler
}

// blockingPublisher holds every Publish until its context is done.
type blockingPublisher struct {
	mu        sync.Mutex
	calls     int
	onPublish func(events.Event)
}

func (p *blockingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.onPublish != nil {
		p.onPublish(event)
	}

	<-ctx.Done()
	return ctx.Err()
}

func (p *blockingPublisher) Close() error { return nil }
