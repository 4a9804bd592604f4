package service

import (
	"context"
	"errors"
	"testing"

	"github.com/csword/mailtrack/internal/domain"
	"github.com/csword/mailtrack/internal/mailer"
)

func newTestEmailService(t *testing.T, f *schedulerFixture) *EmailService {
	t.Helper()

	svc, err := NewEmailService(f.emails, f.transports, f.attempts, f.deliverer, nil)
	if err != nil {
		t.Fatalf("NewEmailService() error = %v", err)
	}
	return svc
}

func TestEmailServiceSendNowIgnoresCampaignWindow(t *testing.T) {
	t.Parallel()

	expired := campaignEmail(1, "a@corp.example", -10, -5, testNow)
	f := newSchedulerFixture(t, expired)
	svc := newTestEmailService(t, f)

	if err := svc.SendNow(context.Background(), 1); err != nil {
		t.Fatalf("SendNow() error = %v", err)
	}
	if !f.emails.snapshot(1).Sent {
		t.Fatal("email should be sent")
	}

	status, err := svc.Status(context.Background(), 1)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Sent || status.SentAt == nil || len(status.Attempts) != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestEmailServiceSendNowErrors(t *testing.T) {
	t.Parallel()

	sent := campaignEmail(2, "b@corp.example", -1, 1, testNow)
	sent.Sent = true

	testCases := []struct {
		name    string
		id      int64
		setup   func(f *schedulerFixture)
		wantErr error
	}{
		{name: "unknown email", id: 404, wantErr: domain.ErrNotFound},
		{name: "already sent", id: 2, wantErr: domain.ErrConflict},
		{
			name: "no active transport",
			id:   1,
			setup: func(f *schedulerFixture) {
				f.transports.configs = nil
			},
			wantErr: domain.ErrNoTransport,
		},
		{
			name: "transport failure",
			id:   1,
			setup: func(f *schedulerFixture) {
				f.mail.sendFn = func(domain.TransportConfig, mailer.Message) error {
					return &mailer.SendError{Stage: "auth", Code: 535}
				}
			},
			wantErr: ErrDeliveryFailed,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newSchedulerFixture(t, campaignEmail(1, "a@corp.example", -1, 1, testNow), sent)
			if tc.setup != nil {
				tc.setup(f)
			}

			err := newTestEmailService(t, f).SendNow(context.Background(), tc.id)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("SendNow() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestEmailServiceStatusNotFound(t *testing.T) {
	t.Parallel()

	svc := newTestEmailService(t, newSchedulerFixture(t))
	if _, err := svc.Status(context.Background(), 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Status() error = %v, want ErrNotFound", err)
	}
}

func TestEmailServiceImportTransports(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t)
	f.transports.upsertFn = func(c *domain.TransportConfig) error {
		if c.Host == "" {
			return domain.ErrValidation
		}
		return nil
	}
	svc := newTestEmailService(t, f)

	n, err := svc.ImportTransports(context.Background(), []domain.TransportConfig{
		{Name: "primary", Host: "smtp.a.example", Port: 587},
		{Name: "broken"},
		{Name: "never", Host: "smtp.c.example", Port: 25},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ImportTransports() error = %v, want ErrValidation", err)
	}
	if n != 1 || len(f.transports.upserted) != 1 || f.transports.upserted[0] != "primary" {
		t.Fatalf("imported = %d %v, want only primary", n, f.transports.upserted)
	}
}
