package errors

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed ticket/config/preference input.
// Never retried; surfaced to API callers as 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigError reports disabled or misconfigured alerting. Not retried.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

func NewConfigError(message string) *ConfigError {
	return &ConfigError{Message: message}
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// DeliveryError reports a channel send failure. Retryable errors (rate
// limit, timeout, 5xx) are retried with backoff; fatal errors (bad
// credentials, permanent rejection) skip straight to the next channel.
type DeliveryError struct {
	Channel   string
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("delivery to %s failed (%s): %v", e.Channel, kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func NewRetryableDelivery(channel string, err error) *DeliveryError {
	return &DeliveryError{Channel: channel, Retryable: true, Err: err}
}

func NewFatalDelivery(channel string, err error) *DeliveryError {
	return &DeliveryError{Channel: channel, Retryable: false, Err: err}
}

// IsRetryableDelivery reports whether err is a retryable DeliveryError.
// Unknown errors are treated as retryable so transient transport faults
// still get their backoff attempts.
func IsRetryableDelivery(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return true
}

// NotFoundError reports an unknown ticket/recipient/template/alert.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
