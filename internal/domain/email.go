package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Email is one message queued for, or already delivered to, a single recipient.
// Sent, Read and Clicked only ever move from false to true.
type Email struct {
	ID                int64
	Subject           string
	Content           string
	SenderID          *int64
	RecipientID       int64
	RecipientAddress  string
	CampaignID        *int64
	Campaign          *Campaign
	TransportConfigID *int64
	Sent              bool
	Read              bool
	Clicked           bool
	SentAt            *time.Time
	ReadAt            *time.Time
	ClickedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Deliverable reports whether the email carries everything needed to build a message.
func (e *Email) Deliverable() error {
	if e == nil {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if strings.TrimSpace(e.RecipientAddress) == "" {
		return fmt.Errorf("%w: email %d has no recipient address", ErrValidation, e.ID)
	}
	if _, err := mail.ParseAddress(e.RecipientAddress); err != nil {
		return fmt.Errorf("%w: email %d recipient %q: %v", ErrValidation, e.ID, e.RecipientAddress, err)
	}
	if strings.TrimSpace(e.Content) == "" {
		return fmt.Errorf("%w: email %d has empty content", ErrValidation, e.ID)
	}
	return nil
}

// DeliveryCursor is a position in the delivery order: campaign end date, then
// email creation time, then id. Listing resumes strictly after it.
type DeliveryCursor struct {
	EndDate   time.Time
	CreatedAt time.Time
	ID        int64
}

// CursorAt returns the cursor positioned on e.
func CursorAt(e Email) DeliveryCursor {
	c := DeliveryCursor{CreatedAt: e.CreatedAt, ID: e.ID}
	if e.Campaign != nil {
		c.EndDate = DateOf(e.Campaign.EndDate, time.UTC)
	}
	return c
}

// Precedes reports whether c sorts strictly before e in the delivery order.
func (c DeliveryCursor) Precedes(e Email) bool {
	other := CursorAt(e)
	if !c.EndDate.Equal(other.EndDate) {
		return c.EndDate.Before(other.EndDate)
	}
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// Campaign is a time-boxed grouping of queued emails for one company.
// StartDate and EndDate are calendar dates, both inclusive.
type Campaign struct {
	ID        int64
	Name      string
	CompanyID int64
	StartDate time.Time
	EndDate   time.Time
	CreatedAt time.Time
}

// ActiveOn reports whether day falls inside the campaign window.
func (c *Campaign) ActiveOn(day time.Time) bool {
	if c == nil {
		return false
	}
	d := DateOf(day, time.UTC)
	return !d.Before(DateOf(c.StartDate, time.UTC)) && !d.After(DateOf(c.EndDate, time.UTC))
}

// DateOf truncates t to its calendar date as observed in loc. The result is
// midnight UTC of that date so it compares cleanly with DATE columns.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire and SQL layout for calendar dates.
const DateLayout = "2006-01-02"
