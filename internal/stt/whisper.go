package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultWhisperModel is the hosted Whisper model.
const DefaultWhisperModel = openai.Whisper1

// ResolveWhisperModel maps local model size names onto the hosted model.
func ResolveWhisperModel(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "small", "base", "tiny", "medium", "large", "whisper":
		return DefaultWhisperModel
	default:
		return name
	}
}

type audioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Whisper transcribes through the OpenAI audio transcription endpoint.
type Whisper struct {
	client audioClient
	model  string
}

// NewWhisper creates a Whisper transcriber. baseURL may point at any
// OpenAI-compatible server and is optional.
func NewWhisper(apiKey, baseURL, model string) *Whisper {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Whisper{client: openai.NewClientWithConfig(cfg), model: ResolveWhisperModel(model)}
}

// Name implements Transcriber.
func (w *Whisper) Name() string { return ProviderOpenAI + ":" + w.model }

// Transcribe implements Transcriber.
func (w *Whisper) Transcribe(ctx context.Context, path, language string) (string, error) {
	start := time.Now()
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	log.Debug().
		Str("model", w.model).
		Str("language", language).
		Int("chars", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Whisper transcription received")
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
