package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryon/internal/classify"
)

type recordingPresenter struct {
	mu     sync.Mutex
	shown  map[string]string
	hidden []string
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{shown: make(map[string]string)}
}

func (p *recordingPresenter) Present(id, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown[id] = message
}

func (p *recordingPresenter) Hide(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hidden = append(p.hidden, id)
}

func (p *recordingPresenter) hiddenIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hidden...)
}

func TestToasterAutoDismissesServerError(t *testing.T) {
	p := newRecordingPresenter()
	toaster := NewToaster(p, 20*time.Millisecond)

	id, shown := toaster.Show(classify.FromStatus(500))
	require.True(t, shown)
	assert.Equal(t, classify.MsgServerError, p.shown[id])
	assert.Equal(t, 1, toaster.Active())

	assert.Eventually(t, func() bool { return len(p.hiddenIDs()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{id}, p.hiddenIDs())
	assert.Equal(t, 0, toaster.Active())
	assert.False(t, toaster.Dismiss(id))
}

func TestToasterDefaultDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, NewToaster(newRecordingPresenter(), 0).ttl)
}

func TestToasterSkipsInvisibleErrors(t *testing.T) {
	p := newRecordingPresenter()
	toaster := NewToaster(p, time.Second)

	_, shown := toaster.Show(classify.Classify(context.Canceled))
	assert.False(t, shown)
	_, shown = toaster.Show(classify.ClassifiedError{Category: classify.ProviderConfig})
	assert.False(t, shown)
	assert.Empty(t, p.shown)
}

func TestToasterDismissEarly(t *testing.T) {
	p := newRecordingPresenter()
	toaster := NewToaster(p, 30*time.Millisecond)

	id, _ := toaster.Show(classify.FromStatus(429))
	assert.Equal(t, classify.MsgRateLimited, p.shown[id])
	assert.True(t, toaster.Dismiss(id))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{id}, p.hiddenIDs(), "a dismissed toast must not be hidden twice")
}

func TestToasterClose(t *testing.T) {
	p := newRecordingPresenter()
	toaster := NewToaster(p, time.Hour)
	toaster.Show(classify.FromStatus(500))
	toaster.Show(classify.FromStatus(502))

	toaster.Close()
	assert.Len(t, p.hiddenIDs(), 2)
	assert.Equal(t, 0, toaster.Active())
}
