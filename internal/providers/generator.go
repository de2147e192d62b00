// Package providers reaches the external image-generation backends. A backend
// is chosen once at startup by name from a Registry and then invoked through
// a Dispatcher, one call per accepted try-on request.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"tryon/internal/classify"
	"tryon/internal/tryon"
)

// Provider ids registered by NewRegistry.
const (
	OpenAI = "openai"
	Gemini = "gemini"
)

// TryonPrompt is the instruction sent alongside the images.
const TryonPrompt = "Dress the person in the first image with the clothing items shown in the " +
	"following images. Keep the person's face, body shape, pose and the background unchanged. " +
	"Return a single photorealistic image."

var (
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrMissingCredentials = errors.New("missing provider credentials")
)

// Generator produces one try-on image, returned as a data URI.
type Generator interface {
	Generate(ctx context.Context, req tryon.Request) (string, error)
}

// Settings carries everything a Factory may need.
type Settings struct {
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAIOrg     string
	GeminiAPIKey  string
	GeminiModel   string
	HTTPClient    *http.Client
}

// Factory builds a Generator from settings.
type Factory func(Settings) (Generator, error)

// Registry maps case-insensitive provider ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(OpenAI, newOpenAIFactory)
	r.Register(Gemini, newGeminiFactory)
	return r
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[r.key(id)] = f
}

// Names lists the registered ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for id := range r.factories {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// Build resolves selection and constructs its Generator. Every failure wraps
// classify.ErrProviderConfig.
func (r *Registry) Build(selection string, s Settings) (Generator, error) {
	id := r.key(selection)
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w %q (known: %s)", classify.ErrProviderConfig, ErrUnknownProvider,
			selection, strings.Join(r.Names(), ", "))
	}
	gen, err := f(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", classify.ErrProviderConfig, id, err)
	}
	return gen, nil
}

// key folds id; a Caser is stateful so each call gets its own.
func (r *Registry) key(id string) string {
	return cases.Fold().String(strings.TrimSpace(id))
}
