package llm

import "fmt"

// ErrorKind classifies provider communication failures.
type ErrorKind int

const (
	// KindUnavailable covers transport faults, timeouts, 5xx responses,
	// and undecodable payloads.
	KindUnavailable ErrorKind = iota

	// KindRateLimited is an HTTP 429 from the provider.
	KindRateLimited

	// KindBadRequest is a 4xx the provider attributes to our request
	// (invalid model, malformed payload, auth failure).
	KindBadRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unavailable"
	}
}

// Error is a classified provider failure. Status is the HTTP status
// when one was received, 0 for transport-level faults.
type Error struct {
	Kind   ErrorKind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }
