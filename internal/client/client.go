// Package client submits prepared try-on requests to the server and turns every
// way a call can fail into an error classify.Classify understands.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tryon/internal/classify"
	"tryon/internal/imagedata"
	"tryon/internal/imageprep"
	"tryon/internal/tryon"
)

const (
	// DefaultTimeout bounds one call end to end.
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 64 << 10
	maxResult    = 64 << 20
)

// Client talks to the try-on API.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call deadline; non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tryon submits req and returns the generated image.
func (c *Client) Tryon(ctx context.Context, req tryon.Request) (tryon.Result, error) {
	var res tryon.Result
	if err := c.post(ctx, "/api/tryon", req, &res); err != nil {
		return tryon.Result{}, err
	}
	if strings.TrimSpace(res.ImageData) == "" {
		return tryon.Result{}, classify.ErrMissingResult
	}
	return res, nil
}

// Resize asks the server to resize blob.
func (c *Client) Resize(ctx context.Context, blob []byte, opts imageprep.ResizeOptions) (*imageprep.ResizeResponse, error) {
	body := imageprep.ResizeRequest{ImageB64: imagedata.Encode(blob), Options: &opts}
	var res imageprep.ResizeResponse
	if err := c.post(ctx, "/api/resize", body, &res); err != nil {
		return nil, err
	}
	if res.ResizedB64 == "" {
		return nil, classify.ErrMissingResult
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, classify.ErrTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil && ctx.Err() != nil {
			return transportError(ctx, err)
		}
		return &classify.StatusError{
			Status:     resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResult)).Decode(out); err != nil {
		if ctx.Err() != nil {
			return transportError(ctx, err)
		}
		return fmt.Errorf("%w: %v", classify.ErrMissingResult, err)
	}
	return nil
}

// transportError tells our own deadline, caller cancellation and plain
// network failure apart.
func transportError(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, classify.ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", classify.ErrTimeout, err)
	case errors.Is(cause, context.Canceled):
		return fmt.Errorf("request cancelled: %w", context.Canceled)
	}
	return fmt.Errorf("request failed: %w", err)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
