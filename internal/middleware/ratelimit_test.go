package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryon/internal/quota"
)

func TestClientIPForRateLimit(t *testing.T) {
	proxies := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8:ffff::/48"),
	}

	tests := []struct {
		name       string
		header     string
		remoteAddr string
		trusted    []netip.Prefix
		want       string
	}{
		{
			name:       "forwarded header ignored without trusted proxies",
			header:     "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "spoofed header from untrusted peer",
			header:     "10.0.0.1",
			remoteAddr: "198.51.100.10:1234",
			trusted:    proxies,
			want:       "198.51.100.10",
		},
		{
			name:       "trusted proxy forwards client",
			header:     "203.0.113.1",
			remoteAddr: "10.0.0.5:1234",
			trusted:    proxies,
			want:       "203.0.113.1",
		},
		{
			name:       "proxy chain skips trusted hops",
			header:     " 203.0.113.1 , 10.0.0.2 ",
			remoteAddr: "10.0.0.5:1234",
			trusted:    proxies,
			want:       "203.0.113.1",
		},
		{
			name:       "client prepended entries are ignored",
			header:     "192.0.2.99, 203.0.113.1",
			remoteAddr: "10.0.0.5:1234",
			trusted:    proxies,
			want:       "203.0.113.1",
		},
		{
			name:       "invalid forwarded falls back to proxy",
			header:     "invalid",
			remoteAddr: "10.0.0.5:1234",
			trusted:    proxies,
			want:       "10.0.0.5",
		},
		{
			name:       "empty forwarded uses remote host",
			header:     "",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 forwarded through trusted proxy",
			header:     "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8:ffff::2", "443"),
			trusted:    proxies,
			want:       "2001:db8::1",
		},
		{
			name:       "ipv6 remote",
			header:     "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			trusted:    proxies,
			want:       "2001:db8::2",
		},
		{
			name:       "ipv4 mapped remote",
			remoteAddr: net.JoinHostPort("::ffff:198.51.100.10", "80"),
			want:       "198.51.100.10",
		},
		{
			name:       "remote without port",
			header:     "invalid",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
		{
			name:       "unusable address is unknown",
			header:     "",
			remoteAddr: "",
			want:       quota.UnknownClient,
		},
		{
			name:       "garbage remote is unknown",
			header:     "203.0.113.1",
			remoteAddr: "pipe:somewhere",
			trusted:    proxies,
			want:       quota.UnknownClient,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := clientIPForRateLimit(req, tc.trusted); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}

func countingHandler(calls *atomic.Int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitRejectsAfterQuota(t *testing.T) {
	store, err := quota.NewMemoryStore(2, 24*time.Hour)
	require.NoError(t, err)
	var calls atomic.Int64
	h := RateLimit(store, nil, zerolog.Nop())(countingHandler(&calls))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/tryon", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("203.0.113.5:1000").Code)
	rec := do("203.0.113.5:1001")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do("203.0.113.5:1002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 0)
	assert.JSONEq(t, `{"error":"`+MsgQuotaExceeded+`"}`, rec.Body.String())
	assert.EqualValues(t, 2, calls.Load(), "handler must not run for limited callers")

	assert.Equal(t, http.StatusOK, do("198.51.100.9:1000").Code)
}

func TestRateLimitIgnoresRotatedForwardedHeader(t *testing.T) {
	store, err := quota.NewMemoryStore(1, 24*time.Hour)
	require.NoError(t, err)
	var calls atomic.Int64
	h := RateLimit(store, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}, zerolog.Nop())(countingHandler(&calls))

	allowed := 0
	for i := 1; i <= 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/tryon", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-Forwarded-For", "10.0.0."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}

	assert.Equal(t, 1, allowed)
	assert.EqualValues(t, 1, calls.Load())
}

type failingStore struct{}

func (failingStore) Consume(context.Context, string) (quota.Decision, error) {
	return quota.Decision{}, errors.New("redis: connection refused")
}

func TestRateLimitFailsClosed(t *testing.T) {
	var calls atomic.Int64
	h := RateLimit(failingStore{}, nil, zerolog.Nop())(countingHandler(&calls))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tryon", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
	assert.Zero(t, calls.Load())
}
