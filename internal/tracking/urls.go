package tracking

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// URLBuilder renders absolute tracking URLs under a configured base such as
// https://phish.example.com/api/email.
type URLBuilder struct {
	base string
}

func NewURLBuilder(base string) (URLBuilder, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed == "" {
		return URLBuilder{}, fmt.Errorf("tracking base url is required")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return URLBuilder{}, fmt.Errorf("invalid tracking base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return URLBuilder{}, fmt.Errorf("tracking base url %q must be http or https", base)
	}
	if parsed.Host == "" {
		return URLBuilder{}, fmt.Errorf("tracking base url %q has no host", base)
	}

	return URLBuilder{base: trimmed}, nil
}

func (b URLBuilder) Base() string { return b.base }

// ClickURL wraps destination in the click redirector.
func (b URLBuilder) ClickURL(emailID int64, destination string) string {
	return fmt.Sprintf("%s/mark-clicked/%d/?url=%s", b.base, emailID, url.QueryEscape(destination))
}

// ReadURL points at the open tracker. technique, nonce and ts only exist to
// make every rendered URL distinct so caches never answer for the server.
func (b URLBuilder) ReadURL(emailID int64, technique string, nonce string, ts int64) string {
	query := url.Values{}
	if technique != "" {
		query.Set("t", technique)
	}
	if nonce != "" {
		query.Set("n", nonce)
	}
	if ts > 0 {
		query.Set("ts", strconv.FormatInt(ts, 10))
	}

	u := fmt.Sprintf("%s/mark-read/%d/", b.base, emailID)
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

func (b URLBuilder) ViewURL(emailID int64) string {
	return fmt.Sprintf("%s/view-in-browser/%d/", b.base, emailID)
}
