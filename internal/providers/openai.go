package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"tryon/internal/imagedata"
	"tryon/internal/tryon"
)

const (
	openAIDefaultTimeout = 120 * time.Second
	defaultOpenAIModel   = "gpt-image-1"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// OpenAIGenerator calls the image edits endpoint with the model photo first
// and every apparel photo after it.
type OpenAIGenerator struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	client       *http.Client
}

type openAIImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OpenAIStatusError is a non-success answer from the OpenAI API.
type OpenAIStatusError struct {
	Status  int
	Message string
	// RetryAfter is taken from the response header; zero when absent.
	RetryAfter time.Duration
}

func (e *OpenAIStatusError) Error() string {
	return fmt.Sprintf("openai status %d: %s", e.Status, e.Message)
}

func newOpenAIFactory(s Settings) (Generator, error) {
	return NewOpenAIGenerator(s)
}

// NewOpenAIGenerator requires s.OpenAIAPIKey.
func NewOpenAIGenerator(s Settings) (*OpenAIGenerator, error) {
	key := strings.TrimSpace(s.OpenAIAPIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is required", ErrMissingCredentials)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(s.OpenAIBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(s.OpenAIModel)
	if model == "" {
		model = defaultOpenAIModel
	}
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAIGenerator{
		apiKey:       key,
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(s.OpenAIOrg),
		client:       client,
	}, nil
}

func (o *OpenAIGenerator) Generate(ctx context.Context, req tryon.Request) (string, error) {
	body, contentType, err := o.buildForm(req)
	if err != nil {
		return "", err
	}

	endpoint := o.baseURL + "/images/edits"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var out openAIImageResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&out)
	if resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", &OpenAIStatusError{
			Status:     resp.StatusCode,
			Message:    msg,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decodeErr)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return "", errors.New("openai: response contained no image")
	}
	img, err := imagedata.DecodeLoose(out.Data[0].B64JSON)
	if err != nil {
		return "", fmt.Errorf("openai: image payload: %w", err)
	}
	return imagedata.Encode(img), nil
}

func (o *OpenAIGenerator) buildForm(req tryon.Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{{"model", o.model}, {"prompt", TryonPrompt}, {"n", "1"}}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("openai: write field %s: %w", f[0], err)
		}
	}

	images := append([]string{req.ModelImage}, req.ApparelImages...)
	for i, uri := range images {
		mime, data, err := imagedata.Decode(uri)
		if err != nil {
			return nil, "", fmt.Errorf("openai: image %d: %w", i, err)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image[]"; filename="image-%d.%s"`, i, extension(mime)))
		h.Set("Content-Type", mime)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("openai: image part %d: %w", i, err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("openai: image part %d: %w", i, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("openai: close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func extension(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	}
	if _, sub, ok := strings.Cut(mime, "/"); ok && sub != "" {
		return sub
	}
	return "bin"
}

var _ Generator = (*OpenAIGenerator)(nil)
