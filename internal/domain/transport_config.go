package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// TransportConfig holds SMTP endpoint and credentials used to dispatch mail.
type TransportConfig struct {
	ID       int64
	Name     string
	Host     string
	Port     int
	Username string
	Password string
	IsActive bool

	// SendRatePerSec caps sends through this transport; zero uses the
	// service default.
	SendRatePerSec int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *TransportConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: transport name is required", ErrValidation)
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: transport %q host is required", ErrValidation, c.Name)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: transport %q port %d out of range", ErrValidation, c.Name, c.Port)
	}
	if c.SendRatePerSec < 0 {
		return fmt.Errorf("%w: transport %q send rate must not be negative", ErrValidation, c.Name)
	}
	return nil
}

// Address returns host:port.
func (c TransportConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// FromAddress is the identity messages are sent from.
func (c TransportConfig) FromAddress() string {
	return c.Username
}

// ResolveTransport picks the configuration for an email: the pinned one when it
// is present in configs, otherwise the first active configuration in configs.
func ResolveTransport(emailID int64, pinnedID *int64, configs []TransportConfig) (TransportConfig, error) {
	if pinnedID != nil {
		for _, cfg := range configs {
			if cfg.ID == *pinnedID {
				return cfg, nil
			}
		}
	}

	for _, cfg := range configs {
		if cfg.IsActive {
			return cfg, nil
		}
	}

	return TransportConfig{}, &UnresolvableTransportError{EmailID: emailID, PinnedID: pinnedID}
}
