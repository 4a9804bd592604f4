package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/csword/mailtrack/internal/domain"
)

// ErrThrottled marks a send refused because its transport quota is spent.
var ErrThrottled = errors.New("send rate exceeded")

// Quota is the per-second send allowance of one transport configuration.
type Quota struct {
	Key       string
	PerSecond int
}

// QuotaFor keys the quota on the transport id so each relay account keeps its
// own allowance. A configuration without a rate uses fallback.
func QuotaFor(cfg domain.TransportConfig, fallback int) Quota {
	rate := cfg.SendRatePerSec
	if rate <= 0 {
		rate = fallback
	}
	return Quota{Key: "transport:" + strconv.FormatInt(cfg.ID, 10), PerSecond: rate}
}

// RateLimiter throttles outbound sends per transport configuration.
type RateLimiter interface {
	// Reserve takes one send from q. A positive wait means the window is spent
	// and nothing was reserved; the caller may retry after it elapses.
	Reserve(ctx context.Context, q Quota) (wait time.Duration, err error)
}
