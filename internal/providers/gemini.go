package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"tryon/internal/imagedata"
	"tryon/internal/tryon"
)

const defaultGeminiModel = "gemini-2.5-flash-image-preview"

// contentGenerator is the part of genai.Models the backend calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator sends the prompt and every image as inline data in one
// user turn and returns the first image part of the reply.
type GeminiGenerator struct {
	models contentGenerator
	model  string
}

func newGeminiFactory(s Settings) (Generator, error) {
	key := strings.TrimSpace(s.GeminiAPIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is required", ErrMissingCredentials)
	}
	cfg := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	if s.HTTPClient != nil {
		cfg.HTTPClient = s.HTTPClient
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewGeminiGenerator(client.Models, s.GeminiModel), nil
}

// NewGeminiGenerator wraps a genai Models service.
func NewGeminiGenerator(models contentGenerator, model string) *GeminiGenerator {
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{models: models, model: model}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req tryon.Request) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(TryonPrompt)}
	for i, uri := range append([]string{req.ModelImage}, req.ApparelImages...) {
		mime, data, err := imagedata.Decode(uri)
		if err != nil {
			return "", fmt.Errorf("gemini: image %d: %w", i, err)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: data}})
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{})
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil {
		return "", errors.New("gemini: empty response")
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if !strings.HasPrefix(mime, "image/") {
				mime = imagedata.DetectMIME(part.InlineData.Data)
			}
			return imagedata.EncodeAs(mime, part.InlineData.Data), nil
		}
	}
	return "", errors.New("gemini: response contained no image")
}

var _ Generator = (*GeminiGenerator)(nil)
