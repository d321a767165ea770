package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when a request names no model.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini completes through the Gemini generateContent API.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini Completer using the Gemini API backend.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// GeminiConfig builds the generation config for req.
func GeminiConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		},
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = DefaultGeminiModel
	}
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.User), GeminiConfig(req))
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Text())
	log.Debug().
		Str("model", model).
		Int("response_length", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Gemini completion received")
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
