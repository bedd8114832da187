package respond

import "fmt"

// FailureKind classifies every way a completion can fail. The first
// three are local validation failures detected before any network
// call; KindOverloaded and KindUnavailable are provider-communication
// failures; KindEmptyResponse is a provider contract violation;
// KindUnknown is the catch-all.
type FailureKind int

const (
	KindEmptyInput FailureKind = iota
	KindPromptTooLong
	KindNoRoom
	KindOverloaded
	KindUnavailable
	KindEmptyResponse
	KindUnknown
)

func (k FailureKind) String() string {
	switch k {
	case KindEmptyInput:
		return "empty_input"
	case KindPromptTooLong:
		return "prompt_too_long"
	case KindNoRoom:
		return "no_room_for_response"
	case KindOverloaded:
		return "provider_overloaded"
	case KindUnavailable:
		return "provider_unavailable"
	case KindEmptyResponse:
		return "empty_provider_response"
	default:
		return "unknown"
	}
}

// Error is a typed completion failure. Detail and the wrapped error are
// for logs; user-facing text comes from UserMessage and never leaks
// internal details.
type Error struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns a short, user-safe description of the failure.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindEmptyInput:
		return "Your message is empty. Please send some text."
	case KindPromptTooLong:
		return fmt.Sprintf("Your message is too long (%s). Please shorten it.", e.Detail)
	case KindNoRoom:
		return "Your message is too long to leave room for a response. Please shorten it."
	case KindOverloaded:
		return "The AI service is currently overloaded. Please try again in a few minutes."
	case KindUnavailable:
		return "The AI service is temporarily unavailable. Please try again later."
	case KindEmptyResponse:
		return "The AI service returned an empty response. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
