package stt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

type fakeAudio struct {
	got  openai.AudioRequest
	text string
	err  error
}

func (f *fakeAudio) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.got = req
	return openai.AudioResponse{Text: f.text}, f.err
}

func TestResolveWhisperModel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "whisper-1"},
		{"small", "whisper-1"},
		{" Small ", "whisper-1"},
		{"whisper-1", "whisper-1"},
		{"gpt-4o-transcribe", "gpt-4o-transcribe"},
	}
	for _, tt := range tests {
		if got := ResolveWhisperModel(tt.in); got != tt.want {
			t.Errorf("ResolveWhisperModel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWhisper_ForwardsLanguageAndTrims(t *testing.T) {
	fake := &fakeAudio{text: "  hello there \n"}
	w := &Whisper{client: fake, model: "whisper-1"}

	got, err := w.Transcribe(context.Background(), "/tmp/a.mp3", "fi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello there" {
		t.Errorf("got %q", got)
	}
	if fake.got.Language != "fi" || fake.got.FilePath != "/tmp/a.mp3" || fake.got.Model != "whisper-1" {
		t.Errorf("unexpected request %+v", fake.got)
	}
}

func TestWhisper_EmptyAndErrors(t *testing.T) {
	w := &Whisper{client: &fakeAudio{text: "   "}, model: "whisper-1"}
	if _, err := w.Transcribe(context.Background(), "a.mp3", ""); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("expected ErrEmptyTranscript, got %v", err)
	}

	boom := errors.New("503")
	w = &Whisper{client: &fakeAudio{err: boom}, model: "whisper-1"}
	if _, err := w.Transcribe(context.Background(), "a.mp3", ""); !errors.Is(err, boom) {
		t.Errorf("expected wrapped service error, got %v", err)
	}
}

func TestNew_ProviderSelection(t *testing.T) {
	ctx := context.Background()
	tr, err := New(ctx, Config{OpenAIKey: "sk-test", WhisperModel: "small"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Name() != "openai:whisper-1" {
		t.Errorf("unexpected provider %q", tr.Name())
	}

	if _, err := New(ctx, Config{Provider: "openai"}); err == nil {
		t.Error("expected error without an OpenAI key")
	}
	if _, err := New(ctx, Config{Provider: "gemini"}); err == nil {
		t.Error("expected error without a Gemini key")
	}
	if _, err := New(ctx, Config{Provider: "fpt", OpenAIKey: "k"}); err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("expected unknown provider error, got %v", err)
	}
}

func TestAudioMIMEType(t *testing.T) {
	tests := map[string]string{
		"x/chunk-000001.webm": "audio/webm",
		"a.MP3":               "audio/mpeg",
		"clip.mp4":            "video/mp4",
		"voice.m4a":           "audio/aac",
	}
	for path, want := range tests {
		if got := AudioMIMEType(path); got != want {
			t.Errorf("AudioMIMEType(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestGeminiPrompt(t *testing.T) {
	if strings.Contains(GeminiPrompt(""), "language code") {
		t.Error("prompt without language should not mention a language")
	}
	if !strings.HasSuffix(GeminiPrompt("sv"), "language code sv.") {
		t.Errorf("unexpected prompt %q", GeminiPrompt("sv"))
	}
}

func TestUseFilesAPI(t *testing.T) {
	if UseFilesAPI(MaxInlineBytes) {
		t.Error("a file at the inline limit should be sent inline")
	}
	if !UseFilesAPI(MaxInlineBytes + 1) {
		t.Error("a file over the inline limit should be uploaded")
	}
	if !UseFilesAPI(25 * 1024 * 1024) {
		t.Error("a file at the default upload ceiling exceeds the inline limit")
	}
}

func TestGemini_SmallAudioSentInline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk.mp3")
	if err := os.WriteFile(path, []byte("ID3 audio"), 0o600); err != nil {
		t.Fatal(err)
	}
	g := &Gemini{model: DefaultGeminiModel}
	part, cleanup, err := g.audioPart(context.Background(), path, 9)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if part.InlineData == nil || part.FileData != nil {
		t.Fatalf("expected inline data, got %+v", part)
	}
	if part.InlineData.MIMEType != "audio/mpeg" || string(part.InlineData.Data) != "ID3 audio" {
		t.Errorf("unexpected blob %+v", part.InlineData)
	}
}
