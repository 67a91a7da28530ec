package webhook

import (
	"errors"
	"fmt"
)

// Client errors: the caller's fault, never retried
var (
	ErrUnknownSource    = errors.New("unknown webhook source")
	ErrMissingSignature = errors.New("missing signature header")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidPayload   = errors.New("invalid JSON payload")
)

// Queue transport errors
var (
	ErrPublish = errors.New("queue publish failed")
	ErrReceive = errors.New("queue receive failed")
)

// IsClientError reports whether err was caused by the inbound request itself
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownSource) ||
		errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrInvalidPayload)
}

// DeliveryError describes a failed attempt to POST a webhook downstream.
// StatusCode is zero when the request never got a response.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("delivery failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PublishError wraps a backend failure with ErrPublish
func PublishError(err error) error {
	return fmt.Errorf("%w: %w", ErrPublish, err)
}

// ReceiveError wraps a backend failure with ErrReceive
func ReceiveError(err error) error {
	return fmt.Errorf("%w: %w", ErrReceive, err)
}
