package rls

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	// ErrInvalidConfig is returned when the configuration cannot satisfy the
	// security contract. Callers must treat it as fatal at startup.
	ErrInvalidConfig = errors.New("rls: invalid configuration")

	// ErrUnknownField is returned when a protected field does not exist on
	// the model being introspected.
	ErrUnknownField = errors.New("rls: unknown field")

	// ErrSelectionCanceled is returned by interactive field selectors when
	// the operator cancels the prompt.
	ErrSelectionCanceled = errors.New("rls: field selection canceled")

	// ErrNotInteractive is returned by interactive field selectors when no
	// terminal is available to prompt on.
	ErrNotInteractive = errors.New("rls: interactive selection unavailable")
)

// UnknownFieldError reports a protected field that does not exist on a model.
type UnknownFieldError struct {
	Model string
	Field string
}

// Error returns the error string.
func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("rls: field %q does not exist on model %q", e.Field, e.Model)
}

// Is reports whether the target error matches UnknownFieldError.
// This allows errors.Is(err, ErrUnknownField) to return true.
func (e *UnknownFieldError) Is(err error) bool {
	return err == ErrUnknownField
}

// NewUnknownFieldError returns a new UnknownFieldError for the given model and field.
func NewUnknownFieldError(model, field string) *UnknownFieldError {
	return &UnknownFieldError{Model: model, Field: field}
}

// IsUnknownField returns true if the error reports a missing protected field.
func IsUnknownField(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownFieldError
	return errors.As(err, &e) || errors.Is(err, ErrUnknownField)
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Reason string
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("rls: invalid configuration: %s", e.Reason)
}

// Is reports whether the target error matches ConfigError.
// This allows errors.Is(err, ErrInvalidConfig) to return true.
func (e *ConfigError) Is(err error) bool {
	return err == ErrInvalidConfig
}

// NewConfigError returns a new ConfigError with the given reason.
func NewConfigError(format string, a ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, a...)}
}

// IsInvalidConfig returns true if the error reports invalid configuration.
func IsInvalidConfig(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigError
	return errors.As(err, &e) || errors.Is(err, ErrInvalidConfig)
}
