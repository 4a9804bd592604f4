package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/csword/mailtrack/internal/domain"
)

const (
	defaultSMTPTimeout = 30 * time.Second
	implicitTLSPort    = 465
)

type SMTPOptions struct {
	UseTLS    bool
	Timeout   time.Duration
	LocalName string
	// ImplicitTLSPort is the port dialled with TLS from the first byte.
	// Defaults to 465.
	ImplicitTLSPort int
	// TLSConfig overrides the default client TLS settings. ServerName is
	// filled in from the transport host when empty.
	TLSConfig *tls.Config
}

// SMTPTransport opens one connection per message. The implicit TLS port (465)
// is encrypted from the first byte; any other port upgrades with STARTTLS when
// UseTLS is set.
type SMTPTransport struct {
	useTLS    bool
	timeout   time.Duration
	localName string
	tlsConfig *tls.Config
	dialer    *net.Dialer

	implicitTLSPort int
}

func NewSMTPTransport(opts SMTPOptions) *SMTPTransport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	localName := opts.LocalName
	if localName == "" {
		localName = "localhost"
	}

	implicitPort := opts.ImplicitTLSPort
	if implicitPort <= 0 {
		implicitPort = implicitTLSPort
	}

	return &SMTPTransport{
		useTLS:          opts.UseTLS,
		timeout:         timeout,
		localName:       localName,
		tlsConfig:       opts.TLSConfig,
		dialer:          &net.Dialer{Timeout: timeout},
		implicitTLSPort: implicitPort,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, cfg domain.TransportConfig, msg Message) error {
	if err := cfg.Validate(); err != nil {
		return &SendError{Stage: "config", Message: "invalid transport configuration", Cause: err}
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	data, err := msg.Bytes()
	if err != nil {
		return &SendError{Stage: "compose", Cause: err}
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", cfg.Address())
	if err != nil {
		return classify("dial", err)
	}
	if t.implicitTLS(cfg.Port) {
		conn = tls.Client(conn, t.clientTLSConfig(cfg.Host))
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := t.newClient(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if cfg.Username != "" && cfg.Password != "" {
		if err := client.Auth(sasl.NewPlainClient("", cfg.Username, cfg.Password)); err != nil {
			return classify("auth", ctxErr(ctx, err))
		}
	}

	if err := client.Mail(cfg.FromAddress(), nil); err != nil {
		return classify("mail", ctxErr(ctx, err))
	}
	if err := client.Rcpt(msg.To, nil); err != nil {
		return classify("rcpt", ctxErr(ctx, err))
	}

	w, err := client.Data()
	if err != nil {
		return classify("data", ctxErr(ctx, err))
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return classify("data", ctxErr(ctx, err))
	}
	if err := w.Close(); err != nil {
		return classify("data", ctxErr(ctx, err))
	}

	// The message is accepted at this point; a failed QUIT does not undo it.
	_ = client.Quit()
	return nil
}

func (t *SMTPTransport) clientTLSConfig(host string) *tls.Config {
	if t.tlsConfig != nil {
		cfg := t.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

func (t *SMTPTransport) implicitTLS(port int) bool {
	return port == t.implicitTLSPort
}

// newClient greets the server and, when TLS is required on a plain port,
// upgrades the session with STARTTLS before any credentials are sent.
func (t *SMTPTransport) newClient(ctx context.Context, conn net.Conn, cfg domain.TransportConfig) (*smtp.Client, error) {
	if !t.useTLS || t.implicitTLS(cfg.Port) {
		client := t.withTimeouts(smtp.NewClient(conn))
		if err := client.Hello(t.localName); err != nil {
			_ = client.Close()
			return nil, classify("hello", ctxErr(ctx, err))
		}
		return client, nil
	}

	// The greeting and STARTTLS run before the client timeouts can be set.
	guard := time.AfterFunc(t.timeout, func() { _ = conn.Close() })
	client, err := smtp.NewClientStartTLS(conn, t.clientTLSConfig(cfg.Host))
	if !guard.Stop() {
		if client != nil {
			_ = client.Close()
		}
		return nil, classify("starttls", ctxErr(ctx, os.ErrDeadlineExceeded))
	}
	if err != nil {
		if isStartTLSUnsupported(err) {
			return nil, &SendError{Stage: "starttls", Message: fmt.Sprintf("%s does not support STARTTLS", cfg.Host), Cause: err}
		}
		return nil, classify("starttls", ctxErr(ctx, err))
	}

	// STARTTLS resets the session, so EHLO is sent again under TLS.
	client = t.withTimeouts(client)
	if err := client.Hello(t.localName); err != nil {
		_ = client.Close()
		return nil, classify("hello", ctxErr(ctx, err))
	}
	return client, nil
}

func (t *SMTPTransport) withTimeouts(client *smtp.Client) *smtp.Client {
	client.CommandTimeout = t.timeout
	client.SubmissionTimeout = t.timeout
	return client
}

// go-smtp reports a missing STARTTLS extension as a plain error.
func isStartTLSUnsupported(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return false
	}
	return strings.Contains(err.Error(), "doesn't support STARTTLS")
}

func ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
