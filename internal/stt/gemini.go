package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

const geminiInstruction = "Transcribe the speech in this audio verbatim. " +
	"Return only the transcript text with no commentary, labels or timestamps."

// MaxInlineBytes is the largest audio file sent inline. Gemini caps a whole
// request at 20 MB and inline data is base64-encoded, so larger files go
// through the Files API.
const MaxInlineBytes = 14 * 1024 * 1024

// Files API polling while an upload is processed.
const (
	filePollInterval = 2 * time.Second
	filePollTimeout  = 3 * time.Minute
)

// UseFilesAPI reports whether a file of size bytes must be uploaded rather
// than sent inline.
func UseFilesAPI(size int64) bool { return size > MaxInlineBytes }

// Gemini transcribes by sending the audio to a Gemini model, inline when it
// is small enough and through the Files API otherwise.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini transcriber using the Gemini API backend.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{client: client, model: model}, nil
}

// Name implements Transcriber.
func (g *Gemini) Name() string { return ProviderGemini + ":" + g.model }

// Transcribe implements Transcriber.
func (g *Gemini) Transcribe(ctx context.Context, path, language string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat audio: %w", err)
	}
	audio, cleanup, err := g.audioPart(ctx, path, info.Size())
	if err != nil {
		return "", err
	}
	defer cleanup()
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{audio, {Text: GeminiPrompt(language)}},
	}}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyTranscript
	}
	text := strings.TrimSpace(resp.Text())
	log.Debug().
		Str("model", g.model).
		Int64("audio_bytes", info.Size()).
		Int("chars", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Gemini transcription received")
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// audioPart returns the request part carrying the audio and a func that
// releases anything uploaded for it.
func (g *Gemini) audioPart(ctx context.Context, path string, size int64) (*genai.Part, func(), error) {
	mimeType := AudioMIMEType(path)
	if !UseFilesAPI(size) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read audio: %w", err)
		}
		return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}, func() {}, nil
	}

	file, err := g.upload(ctx, path, mimeType)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if _, err := g.client.Files.Delete(context.WithoutCancel(ctx), file.Name, nil); err != nil {
			log.Warn().Err(err).Str("file", file.Name).Msg("Failed to delete uploaded Gemini file")
		}
	}
	return &genai.Part{FileData: &genai.FileData{MIMEType: mimeType, FileURI: file.URI}}, cleanup, nil
}

// upload sends the file to the Files API and waits until it is ACTIVE.
func (g *Gemini) upload(ctx context.Context, path, mimeType string) (*genai.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	start := time.Now()
	file, err := g.client.Files.Upload(ctx, f, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("gemini file upload: %w", err)
	}
	deadline := time.Now().Add(filePollTimeout)
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("gemini file %s still processing after %v", file.Name, filePollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(filePollInterval):
		}
		if file, err = g.client.Files.Get(ctx, file.Name, nil); err != nil {
			return nil, fmt.Errorf("gemini file state: %w", err)
		}
	}
	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("gemini file processing failed: %s", file.Name)
	}
	log.Debug().
		Str("file", file.Name).
		Str("mimeType", mimeType).
		Dur("duration", time.Since(start)).
		Msg("Audio uploaded to Gemini Files API")
	return file, nil
}

// GeminiPrompt returns the transcription instruction, with the language hint when given.
func GeminiPrompt(language string) string {
	if language = strings.TrimSpace(language); language == "" {
		return geminiInstruction
	}
	return geminiInstruction + " The speaker uses language code " + language + "."
}

// AudioMIMEType guesses the MIME type of an audio or video file from its extension.
func AudioMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a", ".aac":
		return "audio/aac"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	default:
		return "audio/webm"
	}
}
