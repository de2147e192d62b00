package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tryon/internal/metrics"
	"tryon/internal/quota"
)

// Response bodies written by RateLimit.
const (
	MsgQuotaExceeded = "Daily try-on quota exceeded, try again later."
	MsgInternal      = "Internal server error"
)

// RateLimit consumes one quota point per request before the wrapped handler
// runs. Store failures are answered with 500 and the handler is not called.
// X-Forwarded-For is only consulted when the socket peer is in trusted.
func RateLimit(store quota.Store, trusted []netip.Prefix, logger zerolog.Logger) func(http.Handler) http.Handler {
	now := time.Now
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIPForRateLimit(r, trusted)
			log := RequestLogger(r.Context(), logger)
			d, err := store.Consume(r.Context(), key)
			if err != nil {
				metrics.QuotaDecisions.WithLabelValues("error").Inc()
				log.Error().Err(err).Str("client", key).Msg("quota store failed")
				writeError(w, http.StatusInternalServerError, MsgInternal)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				metrics.QuotaDecisions.WithLabelValues("denied").Inc()
				wait := math.Ceil(d.ResetAt.Sub(now()).Seconds())
				if wait < 1 {
					wait = 1
				}
				h.Set("Retry-After", strconv.Itoa(int(wait)))
				log.Info().Str("client", key).Time("reset_at", d.ResetAt).Msg("quota exceeded")
				writeError(w, http.StatusTooManyRequests, MsgQuotaExceeded)
				return
			}
			metrics.QuotaDecisions.WithLabelValues("allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// clientIPForRateLimit keys the quota on the socket peer. When the peer is a
// trusted proxy the X-Forwarded-For chain is walked from the right and the
// first address that is not itself a trusted proxy wins.
func clientIPForRateLimit(r *http.Request, trusted []netip.Prefix) string {
	peer, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		return quota.UnknownClient
	}
	if !isTrusted(peer, trusted) {
		return peer.String()
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// Anything left of a forged hop cannot be trusted either.
			break
		}
		addr = addr.Unmap()
		if !isTrusted(addr, trusted) {
			return addr.String()
		}
	}
	return peer.String()
}

func remoteAddr(raw string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
