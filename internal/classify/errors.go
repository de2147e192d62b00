package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"tryon/internal/tryon"
)

var (
	// ErrTimeout marks a request abandoned because its own deadline expired.
	ErrTimeout = errors.New("request deadline exceeded")
	// ErrMissingResult marks a success response without the expected result field.
	ErrMissingResult = errors.New("response missing result")
	// ErrProviderConfig marks an unusable provider selection or credentials.
	ErrProviderConfig = errors.New("provider misconfigured")
)

// StatusError is returned by the submitter for any non-success HTTP response.
type StatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Status)
	}
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

// Classify maps any error to a ClassifiedError. It has no hidden state: the same
// error always yields the same result.
func Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Category: ServerUnexpected, UserMessage: MsgUnexpected, Retryable: true}
	}

	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		out := FromStatus(statusErr.Status)
		if out.Category == RateLimit {
			out.RetryAfter = statusErr.RetryAfter
		}
		return out
	}

	var validationErr *tryon.ValidationError
	if errors.As(err, &validationErr) {
		return FromStatus(400)
	}

	switch {
	case errors.Is(err, ErrProviderConfig):
		return ClassifiedError{Category: ProviderConfig}
	case errors.Is(err, ErrTimeout):
		return ClassifiedError{Category: Timeout, UserMessage: MsgTimeout, Retryable: true}
	case errors.Is(err, context.Canceled):
		return ClassifiedError{Category: Cancelled}
	case errors.Is(err, context.DeadlineExceeded):
		// A deadline owned by someone else is still a timeout from the user's view.
		return ClassifiedError{Category: Timeout, UserMessage: MsgTimeout, Retryable: true}
	case errors.Is(err, ErrMissingResult):
		return ClassifiedError{Category: ServerUnexpected, UserMessage: MsgUnexpected, Retryable: true}
	}

	var netErr net.Error
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return ClassifiedError{Category: Network, UserMessage: MsgNetwork, Retryable: true}
	}

	return ClassifiedError{Category: ServerUnexpected, UserMessage: MsgUnexpected, Retryable: true}
}
