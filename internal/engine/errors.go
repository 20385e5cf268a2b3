package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized means the caller could not be identified.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidRequest means the request type or payload cannot be served.
	ErrInvalidRequest = errors.New("invalid request")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// QuotaExceededError is returned when the refresh ceiling for the key is
// already reached.
type QuotaExceededError struct {
	Date     string
	Category string
	Count    int
	Ceiling  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("refresh quota exceeded for %s on %s (%d/%d)", e.Category, e.Date, e.Count, e.Ceiling)
}

// GenerationError wraps any failure of the generation call. Nothing is
// persisted when it is returned.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return "generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PersistenceWarning records a best-effort write that failed after generation
// succeeded. It is reported alongside a successful result, never returned as
// the request error.
type PersistenceWarning struct {
	Op       string
	Category string
	Err      error
}

func (w PersistenceWarning) Error() string {
	if w.Category != "" {
		return fmt.Sprintf("%s (%s): %v", w.Op, w.Category, w.Err)
	}
	return fmt.Sprintf("%s: %v", w.Op, w.Err)
}

func (w PersistenceWarning) Unwrap() error { return w.Err }

// Code is the short machine form used in response headers.
func (w PersistenceWarning) Code() string {
	if w.Category != "" {
		return w.Op + ":" + w.Category
	}
	return w.Op
}

// WarningCodes joins warning codes for a single header value.
func WarningCodes(ws []PersistenceWarning) string {
	codes := make([]string, 0, len(ws))
	for _, w := range ws {
		codes = append(codes, w.Code())
	}
	return strings.Join(codes, ",")
}
