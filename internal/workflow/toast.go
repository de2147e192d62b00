package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tryon/internal/classify"
)

// DefaultToastDuration is how long a toast stays up unless dismissed.
const DefaultToastDuration = 5 * time.Second

// Presenter renders toasts. Calls may arrive from timer goroutines.
type Presenter interface {
	Present(id, message string)
	Hide(id string)
}

// Toaster decides which failures are surfaced and owns their dismiss timers.
type Toaster struct {
	p   Presenter
	ttl time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewToaster(p Presenter, ttl time.Duration) *Toaster {
	if ttl <= 0 {
		ttl = DefaultToastDuration
	}
	return &Toaster{p: p, ttl: ttl, timers: make(map[string]*time.Timer)}
}

// Show presents ce's user message. Invisible errors are skipped and report
// shown=false.
func (t *Toaster) Show(ce classify.ClassifiedError) (id string, shown bool) {
	if !ce.Visible() {
		return "", false
	}
	id = uuid.NewString()
	t.p.Present(id, ce.UserMessage)

	t.mu.Lock()
	t.timers[id] = time.AfterFunc(t.ttl, func() { t.expire(id) })
	t.mu.Unlock()
	return id, true
}

// Dismiss hides the toast early. It reports whether the toast was still up.
func (t *Toaster) Dismiss(id string) bool {
	t.mu.Lock()
	timer, ok := t.timers[id]
	if ok {
		timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()
	if ok {
		t.p.Hide(id)
	}
	return ok
}

// Close hides every toast and cancels all pending timers.
func (t *Toaster) Close() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.timers))
	for id, timer := range t.timers {
		timer.Stop()
		ids = append(ids, id)
	}
	t.timers = make(map[string]*time.Timer)
	t.mu.Unlock()
	for _, id := range ids {
		t.p.Hide(id)
	}
}

// Active is the number of toasts currently shown.
func (t *Toaster) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

func (t *Toaster) expire(id string) {
	t.mu.Lock()
	_, ok := t.timers[id]
	delete(t.timers, id)
	t.mu.Unlock()
	if ok {
		t.p.Hide(id)
	}
}
