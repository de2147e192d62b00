package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"tryon/internal/classify"
	"tryon/internal/imagedata"
	"tryon/internal/tryon"
)

const pixelB64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

var pixel = "data:image/png;base64," + pixelB64

func sampleRequest() tryon.Request {
	return tryon.Request{ModelImage: pixel, ApparelImages: []string{pixel, pixel}}
}

type fakeGenerator struct {
	calls atomic.Int64
	out   string
	err   error
}

func (f *fakeGenerator) Generate(context.Context, tryon.Request) (string, error) {
	f.calls.Add(1)
	return f.out, f.err
}

func TestRegistryBuildIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	fake := &fakeGenerator{out: "data:image/png;base64,AAAA"}
	r.Register("Stub", func(Settings) (Generator, error) { return fake, nil })

	for _, sel := range []string{"stub", "STUB", " Stub "} {
		gen, err := r.Build(sel, Settings{})
		require.NoError(t, err, sel)
		assert.Same(t, fake, gen)
	}
	assert.Equal(t, []string{"gemini", "openai", "stub"}, r.Names())
}

func TestRegistryBuildErrorsAreProviderConfig(t *testing.T) {
	r := NewRegistry()

	_, err := r.Build("midjourney", Settings{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.ErrorIs(t, err, classify.ErrProviderConfig)
	assert.Equal(t, classify.ProviderConfig, classify.Classify(err).Category)

	for _, sel := range []string{OpenAI, Gemini} {
		_, err = r.Build(sel, Settings{})
		assert.ErrorIs(t, err, ErrMissingCredentials, sel)
		assert.ErrorIs(t, err, classify.ErrProviderConfig, sel)
	}
}

func TestDispatcherCallsGeneratorOnce(t *testing.T) {
	fake := &fakeGenerator{out: "data:image/png;base64,QUJD"}
	d := NewDispatcher("stub", fake, 0, zerolog.Nop())

	got, err := d.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, fake.out, got)
	assert.EqualValues(t, 1, fake.calls.Load())

	fake.err = errors.New("upstream exploded")
	_, err = d.Generate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, fake.err)
	assert.EqualValues(t, 2, fake.calls.Load())
}

func TestDispatcherAdmissionHonoursContext(t *testing.T) {
	fake := &fakeGenerator{out: pixel}
	d := NewDispatcher("stub", fake, 0.001, zerolog.Nop())

	_, err := d.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Generate(ctx, sampleRequest())
	require.Error(t, err)
	assert.EqualValues(t, 1, fake.calls.Load(), "throttled call must not reach the generator")
}

func TestOpenAIGeneratorSendsMultipartEdit(t *testing.T) {
	var gotParts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/edits", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "gpt-image-1", r.FormValue("model"))
		assert.Equal(t, TryonPrompt, r.FormValue("prompt"))
		files := r.MultipartForm.File["image[]"]
		gotParts.Store(int64(len(files)))
		for _, fh := range files {
			assert.Equal(t, "image/png", fh.Header.Get("Content-Type"))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": pixelB64}},
		})
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(Settings{
		OpenAIAPIKey:  "sk-test",
		OpenAIBaseURL: srv.URL + "/v1/",
		OpenAIOrg:     "org-1",
		HTTPClient:    srv.Client(),
	})
	require.NoError(t, err)

	got, err := gen.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, pixel, got)
	assert.EqualValues(t, 3, gotParts.Load())
}

func TestOpenAIGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid image","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(Settings{OpenAIAPIKey: "sk", OpenAIBaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), sampleRequest())
	var statusErr *OpenAIStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
	assert.Equal(t, "Invalid image", statusErr.Message)
	_, limited := UpstreamRateLimit(err)
	assert.False(t, limited)
}

func TestOpenAIGeneratorRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(Settings{OpenAIAPIKey: "sk", OpenAIBaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), sampleRequest())
	wait, limited := UpstreamRateLimit(err)
	assert.True(t, limited)
	assert.Equal(t, 12*time.Second, wait)
}

func TestUpstreamRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name    string
		err     error
		limited bool
	}{
		{"openai 429", &OpenAIStatusError{Status: http.StatusTooManyRequests}, true},
		{"wrapped openai 429", errors.Join(errors.New("dispatch"), &OpenAIStatusError{Status: http.StatusTooManyRequests}), true},
		{"openai 500", &OpenAIStatusError{Status: http.StatusInternalServerError}, false},
		{"gemini 429", genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}, true},
		{"gemini 400", genai.APIError{Code: http.StatusBadRequest}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		_, limited := UpstreamRateLimit(tc.err)
		assert.Equal(t, tc.limited, limited, tc.name)
	}

	assert.Equal(t, 7*time.Second, retryAfter("7", now))
	assert.Equal(t, 90*time.Second, retryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, retryAfter("-3", now))
	assert.Zero(t, retryAfter("soon", now))
}

func TestOpenAIGeneratorRejectsMalformedInput(t *testing.T) {
	gen, err := NewOpenAIGenerator(Settings{OpenAIAPIKey: "sk", HTTPClient: &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			t.Fatal("no request expected")
			return nil, nil
		}),
	}})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), tryon.Request{ModelImage: "junk", ApparelImages: []string{pixel}})
	assert.ErrorIs(t, err, imagedata.ErrMalformed)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type fakeModels struct {
	model    string
	contents []*genai.Content
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	return f.resp, f.err
}

func TestGeminiGeneratorReturnsFirstImagePart(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString(pixelB64)
	require.NoError(t, err)
	fm := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Here is the result"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: raw}},
			}},
		}},
	}}
	gen := NewGeminiGenerator(fm, "")

	got, err := gen.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, pixel, got)
	assert.Equal(t, defaultGeminiModel, fm.model)

	require.Len(t, fm.contents, 1)
	parts := fm.contents[0].Parts
	require.Len(t, parts, 4)
	assert.Equal(t, TryonPrompt, parts[0].Text)
	for _, p := range parts[1:] {
		require.NotNil(t, p.InlineData)
		assert.Equal(t, "image/png", p.InlineData.MIMEType)
	}
}

func TestGeminiGeneratorWithoutImage(t *testing.T) {
	fm := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "I can't do that"}}}}},
	}}
	_, err := NewGeminiGenerator(fm, "m").Generate(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no image"))

	fm.err = errors.New("quota")
	_, err = NewGeminiGenerator(fm, "m").Generate(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, fm.err)
}
