// Package classify turns raw failures (HTTP statuses, transport errors,
// validation errors) into a stable ClassifiedError.
package classify

import (
	"net/http"
	"time"
)

// Category is the failure taxonomy shared by client and server.
type Category int

const (
	ServerUnexpected Category = iota
	Validation
	RateLimit
	Timeout
	Network
	ProviderConfig
	Cancelled
)

func (c Category) String() string {
	switch c {
	case Validation:
		return "validation"
	case RateLimit:
		return "rate_limit"
	case Timeout:
		return "timeout"
	case Network:
		return "network"
	case ProviderConfig:
		return "provider_config"
	case Cancelled:
		return "cancelled"
	default:
		return "server_unexpected"
	}
}

// User-facing messages.
const (
	MsgInvalidImages = "Invalid images uploaded."
	MsgRateLimited   = "OpenAI rate limit reached, try later."
	MsgServerError   = "Server error, please try again."
	MsgUnexpected    = "Unexpected error, please retry."
	MsgTimeout       = "Request timed out, please try again."
	MsgNetwork       = "Network error, please check your connection."
)

// ClassifiedError is the normalized view of one failure. It is a value type;
// a new one is produced per failure and never modified afterwards.
type ClassifiedError struct {
	Category    Category
	HTTPStatus  int // 0 when the failure did not come from an HTTP response
	UserMessage string
	Retryable   bool
	// RetryAfter is the earliest sensible retry delay, when the server sent one.
	RetryAfter time.Duration
}

// Visible reports whether the error may be shown to the user. Cancellations
// are user-initiated and provider misconfiguration is an operator concern.
func (e ClassifiedError) Visible() bool {
	return e.Category != Cancelled && e.Category != ProviderConfig && e.UserMessage != ""
}

func (e ClassifiedError) Error() string {
	if e.UserMessage != "" {
		return e.Category.String() + ": " + e.UserMessage
	}
	return e.Category.String()
}

// FromStatus classifies a non-success HTTP status code.
func FromStatus(status int) ClassifiedError {
	switch status {
	case http.StatusBadRequest:
		return ClassifiedError{Category: Validation, HTTPStatus: status, UserMessage: MsgInvalidImages}
	case http.StatusTooManyRequests:
		return ClassifiedError{Category: RateLimit, HTTPStatus: status, UserMessage: MsgRateLimited, Retryable: true}
	case http.StatusInternalServerError:
		return ClassifiedError{Category: ServerUnexpected, HTTPStatus: status, UserMessage: MsgServerError, Retryable: true}
	default:
		return ClassifiedError{Category: ServerUnexpected, HTTPStatus: status, UserMessage: MsgUnexpected, Retryable: true}
	}
}
