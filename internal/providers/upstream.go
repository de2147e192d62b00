package providers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"
)

// UpstreamRateLimit reports whether err is the backend itself refusing with
// 429, and the wait it asked for when it sent one.
func UpstreamRateLimit(err error) (time.Duration, bool) {
	var oe *OpenAIStatusError
	if errors.As(err, &oe) && oe.Status == http.StatusTooManyRequests {
		return oe.RetryAfter, true
	}
	var ge genai.APIError
	if errors.As(err, &ge) && ge.Code == http.StatusTooManyRequests {
		return 0, true
	}
	return 0, false
}

// retryAfter parses delta-seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
