package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyUnlocked is returned when an order is requested for a report
// that is already unlocked.
var ErrAlreadyUnlocked = errors.New("report already unlocked")

// ValidationError is a caller input problem detected before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// ConfigError means a required setting or secret is absent. The message
// names the missing key.
type ConfigError struct {
	Key     string
	Message string
}

func (e ConfigError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Key + " not configured"
}

// ProviderError wraps a failed call to an external provider.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed storage write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
