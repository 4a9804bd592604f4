package mailer

import (
	"context"

	"github.com/csword/mailtrack/internal/domain"
)

// Transport delivers one message through the given SMTP configuration.
type Transport interface {
	Send(ctx context.Context, cfg domain.TransportConfig, msg Message) error
}
