package domain

import "time"

// DeliveryAttempt records one send attempt of an email through a transport.
type DeliveryAttempt struct {
	ID          string
	EmailID     int64
	TransportID *int64
	Succeeded   bool
	Temporary   bool
	Error       *string
	CreatedAt   time.Time
}
