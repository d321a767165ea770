// Package stt wraps the speech-to-text services behind one interface.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ErrEmptyTranscript is returned when the service answers with no text.
var ErrEmptyTranscript = errors.New("stt: empty transcript")

// Transcriber turns an audio file into text. language is an optional
// ISO-639-1 hint and may be empty.
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (string, error)
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Provider string

	OpenAIKey     string
	OpenAIBaseURL string
	WhisperModel  string

	GeminiKey   string
	GeminiModel string
}

// New builds the Transcriber named by cfg.Provider. An empty provider selects OpenAI.
func New(ctx context.Context, cfg Config) (Transcriber, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("stt: OPENAI_API_KEY is required for provider %q", ProviderOpenAI)
		}
		return NewWhisper(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.WhisperModel), nil
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("stt: GEMINI_API_KEY is required for provider %q", ProviderGemini)
		}
		return NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("stt: unknown provider %q (supported: %s, %s)", cfg.Provider, ProviderOpenAI, ProviderGemini)
	}
}
