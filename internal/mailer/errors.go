package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/emersion/go-smtp"
)

// SendError classifies a failed delivery as temporary or permanent.
type SendError struct {
	Stage     string
	Code      int
	Message   string
	Temporary bool
	Cause     error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "send failed")

	if e.Stage != "" {
		parts = append(parts, e.Stage)
	}
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTemporary reports whether a later attempt may succeed.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Temporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// Reason is a short metrics label for err.
func Reason(err error) string {
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		return "unknown"
	}
	if sendErr.Temporary {
		return "temporary"
	}
	return "permanent"
}

func classify(stage string, err error) *SendError {
	if err == nil {
		return nil
	}

	var existing *SendError
	if errors.As(err, &existing) {
		return existing
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &SendError{
			Stage:     stage,
			Code:      smtpErr.Code,
			Message:   smtpErr.Message,
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &SendError{Stage: stage, Temporary: false, Cause: err}
	}

	// Connection level failures (refused, reset, timeout) are worth retrying.
	return &SendError{Stage: stage, Temporary: true, Cause: err}
}
