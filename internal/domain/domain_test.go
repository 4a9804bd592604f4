package domain

import (
	"errors"
	"testing"
	"time"
)

func int64Ptr(v int64) *int64 { return &v }

func TestResolveTransport(t *testing.T) {
	t.Parallel()

	configs := []TransportConfig{
		{ID: 1, Name: "legacy", Host: "smtp.old.test", Port: 25, IsActive: false},
		{ID: 2, Name: "primary", Host: "smtp.primary.test", Port: 587, IsActive: true},
		{ID: 3, Name: "secondary", Host: "smtp.secondary.test", Port: 587, IsActive: true},
	}

	testCases := []struct {
		name    string
		pinned  *int64
		configs []TransportConfig
		wantID  int64
		wantErr bool
	}{
		{name: "first active default", configs: configs, wantID: 2},
		{name: "pinned wins over default", pinned: int64Ptr(3), configs: configs, wantID: 3},
		{name: "pinned inactive still used", pinned: int64Ptr(1), configs: configs, wantID: 1},
		{name: "missing pinned falls back", pinned: int64Ptr(99), configs: configs, wantID: 2},
		{name: "nothing active", configs: configs[:1], wantErr: true},
		{name: "empty snapshot", configs: nil, wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ResolveTransport(7, tc.pinned, tc.configs)
			if tc.wantErr {
				if !errors.Is(err, ErrNoTransport) {
					t.Fatalf("error = %v, want ErrNoTransport", err)
				}
				var unresolvable *UnresolvableTransportError
				if !errors.As(err, &unresolvable) || unresolvable.EmailID != 7 {
					t.Fatalf("error = %#v, want UnresolvableTransportError for email 7", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveTransport() error = %v", err)
			}
			if got.ID != tc.wantID {
				t.Fatalf("resolved id = %d, want %d", got.ID, tc.wantID)
			}
		})
	}
}

func TestCampaignActiveOn(t *testing.T) {
	t.Parallel()

	campaign := &Campaign{
		StartDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
	}

	testCases := []struct {
		day  time.Time
		want bool
	}{
		{day: time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC), want: false},
		{day: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), want: true},
		{day: time.Date(2026, 3, 12, 18, 30, 0, 0, time.UTC), want: true},
		{day: time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), want: false},
	}

	for _, tc := range testCases {
		if got := campaign.ActiveOn(tc.day); got != tc.want {
			t.Fatalf("ActiveOn(%s) = %v, want %v", tc.day, got, tc.want)
		}
	}

	var missing *Campaign
	if missing.ActiveOn(time.Now()) {
		t.Fatal("nil campaign should never be active")
	}
}

func TestDateOfUsesLocation(t *testing.T) {
	t.Parallel()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}

	instant := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	if got := DateOf(instant, tokyo).Format(DateLayout); got != "2026-03-11" {
		t.Fatalf("DateOf(tokyo) = %s, want 2026-03-11", got)
	}
	if got := DateOf(instant, nil).Format(DateLayout); got != "2026-03-10" {
		t.Fatalf("DateOf(nil) = %s, want 2026-03-10", got)
	}
}

func TestEmailDeliverable(t *testing.T) {
	t.Parallel()

	valid := Email{ID: 1, RecipientAddress: "jane@example.com", Content: "<p>hi</p>"}
	if err := valid.Deliverable(); err != nil {
		t.Fatalf("Deliverable() error = %v", err)
	}

	testCases := []struct {
		name  string
		email Email
	}{
		{name: "missing recipient", email: Email{ID: 2, Content: "x"}},
		{name: "bad recipient", email: Email{ID: 3, RecipientAddress: "not-an-address", Content: "x"}},
		{name: "empty content", email: Email{ID: 4, RecipientAddress: "jane@example.com", Content: "  "}},
	}

	for _, tc := range testCases {
		if err := tc.email.Deliverable(); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: error = %v, want ErrValidation", tc.name, err)
		}
	}
}

func TestTransportConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := TransportConfig{Name: "primary", Host: "smtp.example.com", Port: 587, Username: "noreply@example.com"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := cfg.Address(); got != "smtp.example.com:587" {
		t.Fatalf("Address() = %s", got)
	}

	cfg.Port = 0
	if err := cfg.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}

func TestDeliveryCursorPrecedes(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	created := day.Add(9 * time.Hour)
	email := func(id int64, endOffset int, createdAt time.Time) Email {
		return Email{ID: id, CreatedAt: createdAt, Campaign: &Campaign{EndDate: day.AddDate(0, 0, endOffset)}}
	}

	cursor := CursorAt(email(5, 0, created))

	tests := []struct {
		name  string
		email Email
		want  bool
	}{
		{name: "same position", email: email(5, 0, created), want: false},
		{name: "later end date", email: email(1, 1, created.Add(-time.Hour)), want: true},
		{name: "earlier end date", email: email(9, -1, created.Add(time.Hour)), want: false},
		{name: "later creation", email: email(1, 0, created.Add(time.Second)), want: true},
		{name: "higher id tie", email: email(6, 0, created), want: true},
		{name: "lower id tie", email: email(4, 0, created), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cursor.Precedes(tt.email); got != tt.want {
				t.Fatalf("Precedes() = %v, want %v", got, tt.want)
			}
		})
	}
}
