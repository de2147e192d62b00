package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tryon/internal/classify"
)

// ErrPanic wraps a value recovered from a panicking operation.
var ErrPanic = errors.New("operation panicked")

// Severity ranks supervised failures for logging.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "low"
	}
}

// Failure is one entry of the supervisor's history.
type Failure struct {
	At       time.Time
	Attempt  int
	Err      classify.ClassifiedError
	Severity Severity
	Panic    bool
	Detail   string
}

// Outcome describes how Run ended. Exactly one of OK, NeedsReset or a
// cancelled Err holds.
type Outcome struct {
	OK         bool
	Attempts   int
	Err        classify.ClassifiedError
	NeedsReset bool
}

// Supervisor runs fallible work outside the request path, retrying retryable
// failures and recording every failure in a bounded history. Once its budget
// is spent it refuses further work until HardReset.
type Supervisor struct {
	maxAttempts int
	baseDelay   time.Duration
	logger      zerolog.Logger

	mu        sync.Mutex
	history   *Ring[Failure]
	exhausted bool
}

// NewSupervisor allows maxAttempts runs per Run, waiting baseDelay*attempt
// between them, and remembers the last historySize failures.
func NewSupervisor(maxAttempts int, baseDelay time.Duration, historySize int, logger zerolog.Logger) *Supervisor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Supervisor{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger,
		history:     NewRing[Failure](historySize),
	}
}

// Run executes op until it succeeds, fails permanently, or ctx ends.
func (s *Supervisor) Run(ctx context.Context, op func(context.Context) error) Outcome {
	if s.NeedsReset() {
		return Outcome{NeedsReset: true}
	}

	var out Outcome
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		out.Attempts = attempt
		err := s.call(ctx, op)
		if err == nil {
			out.OK = true
			out.Err = classify.ClassifiedError{}
			return out
		}

		ce := classify.Classify(err)
		out.Err = ce
		s.record(attempt, ce, err)
		if ce.Category == classify.Cancelled {
			return out
		}
		if !ce.Retryable || attempt == s.maxAttempts {
			break
		}

		t := time.NewTimer(s.baseDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			out.Err = classify.Classify(ctx.Err())
			return out
		case <-t.C:
		}
	}

	s.mu.Lock()
	s.exhausted = true
	s.mu.Unlock()
	out.NeedsReset = true
	return out
}

// NeedsReset reports whether only HardReset is available.
func (s *Supervisor) NeedsReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// HardReset clears the history and restores the budget.
func (s *Supervisor) HardReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhausted = false
	s.history.Clear()
}

// History returns recorded failures, oldest first.
func (s *Supervisor) History() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Items()
}

func (s *Supervisor) call(ctx context.Context, op func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return op(ctx)
}

func (s *Supervisor) record(attempt int, ce classify.ClassifiedError, err error) {
	f := Failure{
		At:       time.Now(),
		Attempt:  attempt,
		Err:      ce,
		Severity: severityOf(ce, err),
		Panic:    errors.Is(err, ErrPanic),
		Detail:   err.Error(),
	}
	s.mu.Lock()
	s.history.Push(f)
	s.mu.Unlock()

	s.logger.Warn().
		Str("category", ce.Category.String()).
		Str("severity", f.Severity.String()).
		Int("attempt", attempt).
		Bool("panic", f.Panic).
		Err(err).
		Msg("supervised operation failed")
}

func severityOf(ce classify.ClassifiedError, err error) Severity {
	if errors.Is(err, ErrPanic) {
		return SeverityCritical
	}
	switch ce.Category {
	case classify.ProviderConfig:
		return SeverityCritical
	case classify.ServerUnexpected:
		return SeverityHigh
	case classify.Timeout, classify.Network, classify.RateLimit:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
