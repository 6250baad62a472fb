package generator

import (
	"errors"
	"fmt"
)

// ErrEmptyContent is reported when the backend answers with no text.
var ErrEmptyContent = errors.New("backend returned empty content")

// APIError is a non-2xx response from the completion backend.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is likely transient.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ErrorKind classifies a generation failure.
type ErrorKind int

const (
	// KindConfig is a missing or rejected credential at initialization.
	KindConfig ErrorKind = iota + 1
	// KindTransient is a network, timeout, status or payload failure during one call.
	KindTransient
	// KindEmpty is a call that succeeded with no content.
	KindEmpty
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// GenerationError records why an answer did not come from the remote backend as requested.
// The generator never returns it as a failure; it is attached to Answer for diagnostics.
type GenerationError struct {
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation error: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
