package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps one Record per client in process memory. Records are never
// deleted; they are reset when their window rolls over.
type MemoryStore struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore builds a store allowing limit consumptions per window.
func NewMemoryStore(limit int, window time.Duration) (*MemoryStore, error) {
	if err := validate(limit, window); err != nil {
		return nil, err
	}
	return &MemoryStore{
		limit:   limit,
		window:  window,
		now:     time.Now,
		records: make(map[string]*Record),
	}, nil
}

// Consume implements Store.
func (s *MemoryStore) Consume(_ context.Context, key string) (Decision, error) {
	if key == "" {
		key = UnknownClient
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if !ok {
		rec = &Record{ClientKey: key, WindowStart: now}
		s.records[key] = rec
	} else if now.Sub(rec.WindowStart) >= s.window {
		rec.Consumed = 0
		rec.WindowStart = now
	}

	d := Decision{Limit: s.limit, ResetAt: rec.WindowStart.Add(s.window)}
	if rec.Consumed >= s.limit {
		return d, nil
	}
	rec.Consumed++
	d.Allowed = true
	d.Remaining = s.limit - rec.Consumed
	return d, nil
}

// Snapshot returns a copy of the record for key.
func (s *MemoryStore) Snapshot(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

var _ Store = (*MemoryStore)(nil)
