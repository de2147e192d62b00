package workflow

import (
	"math"
	"time"
)

// Policy bounds the retries of one top-level operation.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy allows three attempts with 1s, 2s, 4s... delays capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

func (p Policy) normalize() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Delay is the wait before attempt (1-based). The first attempt runs
// immediately; attempt n waits InitialDelay*Multiplier^(n-2), capped at
// MaxDelay, and never less than retryAfter.
func (p Policy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	out := time.Duration(delay)
	if retryAfter > out {
		out = retryAfter
	}
	return out
}
