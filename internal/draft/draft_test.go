package draft

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/fpang/voice-draft-pipeline/internal/llm"
	"github.com/fpang/voice-draft-pipeline/internal/metrics"
)

const jobTranscript = "We are hiring a line cook for our Helsinki bistro, evenings and weekends, Finnish or English."

type stubCompleter struct {
	calls   int
	last    llm.Request
	answers []string
	err     error
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "", llm.ErrEmptyResponse
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func testPrompts(t *testing.T) Prompts {
	t.Helper()
	p, err := ParsePrompts([]byte(`{
		"job": {"system": "Write a job posting.", "provider": "openai"},
		"profile": {"system": "Write a profile.", "temperature": 0.2, "response_format": "json_object"}
	}`))
	if err != nil {
		t.Fatalf("ParsePrompts: %v", err)
	}
	return p
}

func newGenerator(t *testing.T, stub *stubCompleter) *Generator {
	t.Helper()
	t.Cleanup(metrics.SetOutput(&bytes.Buffer{}))
	return NewGenerator(testPrompts(t), llm.NewRegistry().Register(llm.ProviderOpenAI, stub), nil)
}

func TestGenerate_ShortJobTranscriptRejectedBeforeModelCall(t *testing.T) {
	stub := &stubCompleter{answers: []string{`{"title":"x","description":"y"}`}}
	g := newGenerator(t, stub)

	transcript := "twenty chars exactly"
	if len(transcript) != 20 {
		t.Fatalf("fixture has %d chars", len(transcript))
	}
	_, err := g.Generate(context.Background(), Input{Kind: KindJob, Transcript: transcript})
	if !errors.Is(err, ErrTranscriptTooShort) {
		t.Fatalf("expected ErrTranscriptTooShort, got %v", err)
	}
	if stub.calls != 0 {
		t.Errorf("expected no model call, got %d", stub.calls)
	}
}

func TestGenerate_MinLengthIsConfigurablePerKind(t *testing.T) {
	t.Cleanup(metrics.SetOutput(&bytes.Buffer{}))
	stub := &stubCompleter{answers: []string{`{"title":"Cook","description":"Evening shifts."}`}}
	g := NewGenerator(testPrompts(t), llm.NewRegistry().Register(llm.ProviderOpenAI, stub), map[Kind]int{KindJob: 5})

	if _, err := g.Generate(context.Background(), Input{Kind: KindJob, Transcript: "cook wanted"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerate_JobDraftWithSynonymsAndLanguage(t *testing.T) {
	stub := &stubCompleter{answers: []string{
		"```json\n{\"job_title\":\" Line cook \",\"job_description\":\"Evening shifts in a small bistro.\",\"tags\":\"cooking, Helsinki, ,evenings\"}\n```",
	}}
	g := newGenerator(t, stub)

	d, err := g.Generate(context.Background(), Input{Kind: KindJob, Transcript: jobTranscript, Language: "fi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Title != "Line cook" || d.Description != "Evening shifts in a small bistro." {
		t.Errorf("unexpected draft %+v", d)
	}
	if want := []string{"cooking", "Helsinki", "evenings"}; !reflect.DeepEqual(d.Keywords, want) {
		t.Errorf("keywords = %q, want %q", d.Keywords, want)
	}
	if !strings.HasSuffix(stub.last.System, " Respond in fi.") {
		t.Errorf("language instruction missing from system prompt %q", stub.last.System)
	}
	if stub.last.User != jobTranscript {
		t.Errorf("transcript must be the only user message, got %q", stub.last.User)
	}
	if !stub.last.JSONMode || stub.last.Model != DefaultModel || stub.last.MaxTokens != DefaultMaxTokens {
		t.Errorf("unexpected request %+v", stub.last)
	}
	if stub.last.Temperature != float32(DefaultTemperature) {
		t.Errorf("temperature = %v", stub.last.Temperature)
	}
}

func TestKeywordNormalization_BothShapesAgree(t *testing.T) {
	fromArray, err := ParseDraft(KindJob, `{"title":"t","description":"d","keywords":[" a ","", "b", "a"]}`, "")
	if err != nil {
		t.Fatal(err)
	}
	fromString, err := ParseDraft(KindJob, `{"title":"t","description":"d","keywords":" a ,, b,a"}`, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "a"}
	if !reflect.DeepEqual(fromArray.Keywords, want) || !reflect.DeepEqual(fromString.Keywords, want) {
		t.Errorf("array %q, string %q, want %q", fromArray.Keywords, fromString.Keywords, want)
	}
}

func TestParseDraft_KeywordEdgeCases(t *testing.T) {
	d, err := ParseDraft(KindJob, `{"title":"t","description":"d","keywords":[1, "go", null]}`, "")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"1", "go"}; !reflect.DeepEqual(d.Keywords, want) {
		t.Errorf("keywords = %q, want %q", d.Keywords, want)
	}

	d, err = ParseDraft(KindJob, `{"title":"t","description":"d"}`, "")
	if err != nil {
		t.Fatal(err)
	}
	if d.Keywords == nil || len(d.Keywords) != 0 {
		t.Errorf("expected empty non-nil keywords, got %#v", d.Keywords)
	}

	if _, err := ParseDraft(KindJob, `{"title":"t","description":"d","keywords":{"a":1}}`, ""); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("expected ErrMalformedOutput for object keywords, got %v", err)
	}
}

func TestParseDraft_ProfileDegenerateSummaryReplaced(t *testing.T) {
	transcript := "  I am a nurse with   ten years of experience in emergency care and I speak three languages. "
	tests := []struct {
		name    string
		content string
	}{
		{"summary equals headline", `{"headline":"Emergency Nurse","summary":"emergency nurse"}`},
		{"summary too short", `{"headline":"Emergency Nurse","bio":"Experienced nurse."}`},
		{"summary missing", `{"title":"Emergency Nurse"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDraft(KindProfile, tt.content, transcript)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Headline != "Emergency Nurse" {
				t.Errorf("headline = %q", d.Headline)
			}
			want := "I am a nurse with ten years of experience in emergency care and I speak three languages."
			if d.Summary != want {
				t.Errorf("summary = %q, want %q", d.Summary, want)
			}
		})
	}
}

func TestParseDraft_ProfileGoodSummaryKept(t *testing.T) {
	summary := "Registered nurse with a decade in emergency departments, calm under pressure and fluent in three languages."
	d, err := ParseDraft(KindProfile, `{"headline":"Emergency Nurse","summary":"`+summary+`","skills":["triage"]}`, "transcript")
	if err != nil {
		t.Fatal(err)
	}
	if d.Summary != summary {
		t.Errorf("summary replaced unexpectedly: %q", d.Summary)
	}
	if !reflect.DeepEqual(d.Keywords, []string{"triage"}) {
		t.Errorf("keywords = %q", d.Keywords)
	}
}

func TestParseDraft_Failures(t *testing.T) {
	if _, err := ParseDraft(KindJob, "I cannot help with that.", ""); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("expected ErrMalformedOutput, got %v", err)
	}
	if _, err := ParseDraft(KindJob, `{"title":"t","description":`, ""); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("expected ErrMalformedOutput for truncated JSON, got %v", err)
	}
	if _, err := ParseDraft(KindJob, `{"title":"Cook","description":"  "}`, ""); !errors.Is(err, ErrIncompleteDraft) {
		t.Errorf("expected ErrIncompleteDraft, got %v", err)
	}
	if _, err := ParseDraft(KindProfile, `{"summary":"a long enough summary that has more than ten words in it for sure"}`, "x"); !errors.Is(err, ErrIncompleteDraft) {
		t.Errorf("expected ErrIncompleteDraft for missing headline, got %v", err)
	}
}

func TestGenerate_ServiceErrorsAreDistinguished(t *testing.T) {
	boom := errors.New("429 rate limited")
	g := newGenerator(t, &stubCompleter{err: boom})
	_, err := g.Generate(context.Background(), Input{Kind: KindJob, Transcript: jobTranscript})
	if !errors.Is(err, ErrCompletion) || !errors.Is(err, boom) {
		t.Errorf("expected ErrCompletion wrapping the cause, got %v", err)
	}

	g = newGenerator(t, &stubCompleter{})
	_, err = g.Generate(context.Background(), Input{Kind: KindJob, Transcript: jobTranscript})
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("expected empty answer to be malformed output, got %v", err)
	}
}

func TestGenerate_UnknownKindAndProvider(t *testing.T) {
	g := newGenerator(t, &stubCompleter{})
	if _, err := g.Generate(context.Background(), Input{Kind: "resume", Transcript: jobTranscript}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	prompts := testPrompts(t)
	cfg := prompts[KindJob]
	cfg.Provider = "gemini"
	prompts[KindJob] = cfg
	g = NewGenerator(prompts, llm.NewRegistry(), nil)
	if _, err := g.Generate(context.Background(), Input{Kind: KindJob, Transcript: jobTranscript}); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for unconfigured provider, got %v", err)
	}
}

func TestParsePrompts(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"job":`},
		{"missing profile", `{"job":{"system":"s"}}`},
		{"empty system", `{"job":{"system":" "},"profile":{"system":"p"}}`},
		{"bad format", `{"job":{"system":"s","response_format":"xml"},"profile":{"system":"p"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePrompts([]byte(tt.json)); !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}

	p := testPrompts(t)
	if got := *p[KindProfile].Temperature; got != 0.2 {
		t.Errorf("explicit temperature overwritten: %v", got)
	}
	if !p[KindJob].JSONMode() {
		t.Error("empty response_format should default to JSON mode")
	}
}

func TestLoadPrompts_MissingFile(t *testing.T) {
	if _, err := LoadPrompts(t.TempDir() + "/prompts.json"); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func TestLoadPrompts_ShippedConfig(t *testing.T) {
	p, err := LoadPrompts("../../config/prompts.json")
	if err != nil {
		t.Fatalf("shipped prompts.json invalid: %v", err)
	}
	if !strings.HasPrefix(p[KindJob].System, "You turn raw spoken job transcripts") {
		t.Errorf("unexpected job prompt %q", p[KindJob].System)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Profile "); err != nil || k != KindProfile {
		t.Errorf("ParseKind = %q, %v", k, err)
	}
	if _, err := ParseKind(""); err == nil {
		t.Error("expected error for empty kind")
	}
}
