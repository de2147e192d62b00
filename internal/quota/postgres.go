package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tryon/internal/sqlinline"
)

// Querier is the subset of a pgx pool the Postgres store needs.
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

// PostgresStore keeps Records in the rate_limits table. Each consumption is a
// single upsert whose WHERE clause refuses to touch an exhausted record.
type PostgresStore struct {
	db     Querier
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewPostgresStore builds a store on db.
func NewPostgresStore(db Querier, limit int, window time.Duration) (*PostgresStore, error) {
	if err := validate(limit, window); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, limit: limit, window: window, now: time.Now}, nil
}

// Consume implements Store.
func (s *PostgresStore) Consume(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		key = UnknownClient
	}
	now := s.now().UTC()
	windowSeconds := s.window.Seconds()
	d := Decision{Limit: s.limit}

	var rec Record
	err := s.db.QueryRow(ctx, sqlinline.QConsumeQuota, key, now, windowSeconds, s.limit).
		Scan(&rec.Consumed, &rec.WindowStart)
	switch {
	case err == nil:
		d.Allowed = true
		d.Remaining = s.limit - rec.Consumed
		d.ResetAt = rec.WindowStart.Add(s.window)
		return d, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return Decision{}, fmt.Errorf("quota: postgres consume: %w", err)
	}

	// Denied: the upsert matched an exhausted record and changed nothing.
	if err := s.db.QueryRow(ctx, sqlinline.QSelectQuotaWindow, key).Scan(&rec.WindowStart); err != nil {
		return Decision{}, fmt.Errorf("quota: postgres window: %w", err)
	}
	d.ResetAt = rec.WindowStart.Add(s.window)
	return d, nil
}

var _ Store = (*PostgresStore)(nil)
