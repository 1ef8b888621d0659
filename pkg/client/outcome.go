package client

import (
	"net/url"
)

// OutcomeKind classifies the result of Execute.
type OutcomeKind int

const (
	// OutcomeSuccess carries the 2xx response payload.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeQuotaExceeded means the provider (or the local budget) refused the
	// request for quota reasons. The run must stop.
	OutcomeQuotaExceeded

	// OutcomeRetryable is a transient failure (network or 5xx). Execute retries
	// these internally and never returns this kind.
	OutcomeRetryable

	// OutcomeFatal ends the owning partition, not the run.
	OutcomeFatal
)

// String returns the kind name used in logs.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeQuotaExceeded:
		return "quota_exceeded"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Request is a single GET against the API, relative to the base URL.
type Request struct {
	Path  string
	Query url.Values
}

// Outcome is the classified result of a request.
type Outcome struct {
	Kind       OutcomeKind
	Payload    []byte
	StatusCode int
	Class      ErrorClass
	Reason     string
	Attempts   int
}

// Err returns the outcome as an *APIError, or nil on success. A fatal outcome
// of a transient class wraps ErrRetryExhausted.
func (o *Outcome) Err() error {
	switch {
	case o.Kind == OutcomeSuccess:
		return nil
	case o.Kind == OutcomeQuotaExceeded:
		return &APIError{StatusCode: o.StatusCode, ErrorClass: ErrorClassQuota, Message: o.Reason, Err: ErrQuotaExceeded}
	case o.Kind == OutcomeFatal && shouldRetry(o.Class):
		return &APIError{StatusCode: o.StatusCode, ErrorClass: o.Class, Message: o.Reason, Err: ErrRetryExhausted}
	default:
		return &APIError{StatusCode: o.StatusCode, ErrorClass: o.Class, Message: o.Reason}
	}
}
