package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrProviderCallFailed   = errors.New("provider call failed")
	ErrStorageFull          = errors.New("storage tier full")
	ErrIndexCorruption      = errors.New("knowledge index corrupted")
	ErrConfigurationInvalid = errors.New("configuration invalid")
	ErrNotFound             = errors.New("not found")
)

// ValidationError reports the first missing or malformed field of a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConfigError names the startup check that failed. Err is either
// ErrConfigurationInvalid or ErrIndexCorruption.
type ConfigError struct {
	Check string
	Err   error
	Cause error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Err, e.Check, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Check)
}

func (e *ConfigError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// ProviderError ties a provider name to ErrProviderUnavailable or ErrProviderCallFailed.
type ProviderError struct {
	Provider string
	Err      error
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v: %v", e.Provider, e.Err, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Invalid builds a ConfigError for a failed configuration check.
func Invalid(check string, cause error) *ConfigError {
	return &ConfigError{Check: check, Err: ErrConfigurationInvalid, Cause: cause}
}

// Unavailable builds a ProviderError for a provider that cannot take calls.
func Unavailable(provider, reason string) *ProviderError {
	return &ProviderError{Provider: provider, Err: ErrProviderUnavailable, Cause: errors.New(reason)}
}

// CallFailed builds a ProviderError for a failed outbound call.
func CallFailed(provider string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Err: ErrProviderCallFailed, Cause: cause}
}
