package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Callers classify failures with errors.Is.
var (
	ErrTransientNetwork  = errors.New("transient network error")
	ErrRateLimit         = errors.New("rate limited")
	ErrAuth              = errors.New("authentication failed")
	ErrBadRequest        = errors.New("request refused by server")
	ErrParse             = errors.New("unparseable response")
	ErrOrderRejected     = errors.New("order rejected")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPersistence       = errors.New("persistence failed")
	ErrSessionLocked     = errors.New("session already running")
	ErrNotFound          = errors.New("not found")
)

// APIError describes a failed remote call. Kind is one of the sentinels above.
type APIError struct {
	APIID  string
	Status int
	Msg    string
	Kind   error
	Wait   time.Duration // server-suggested Retry-After, if any
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: http %d: %v: %s", e.APIID, e.Status, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: http %d: %v", e.APIID, e.Status, e.Kind)
}

func (e *APIError) Unwrap() error { return e.Kind }

// RetryAfter exposes the server-suggested delay to retry loops.
func (e *APIError) RetryAfter() time.Duration { return e.Wait }

// sampleLimit bounds the raw payload excerpt carried by a ParseError.
const sampleLimit = 256

// ParseError reports a response whose shape matched none of the known
// variants. Sample holds a truncated excerpt of the raw payload.
type ParseError struct {
	What   string
	Sample string
}

// NewParseError truncates raw to a loggable sample.
func NewParseError(what string, raw []byte) *ParseError {
	s := string(raw)
	if len(s) > sampleLimit {
		s = s[:sampleLimit] + "..."
	}
	return &ParseError{What: what, Sample: s}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v (sample: %s)", e.What, ErrParse, e.Sample)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// RejectedError carries the broker's full rejection reason.
type RejectedError struct {
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: code=%s: %s", ErrOrderRejected, e.Code, e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrOrderRejected }

// Retryable reports whether err belongs to a class worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrRateLimit)
}
