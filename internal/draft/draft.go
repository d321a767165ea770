// Package draft turns a transcript into a validated job posting or candidate
// profile using a chat model.
package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/jsonutil"
	"github.com/fpang/voice-draft-pipeline/internal/llm"
	"github.com/fpang/voice-draft-pipeline/internal/metrics"
)

// Kind selects the draft shape.
type Kind string

const (
	KindJob     Kind = "job"
	KindProfile Kind = "profile"
)

// Kinds lists every supported draft kind.
var Kinds = []Kind{KindJob, KindProfile}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown draft kind %q", ErrInvalidInput, s)
}

// DefaultMinLength is the minimum transcript length, in characters, for both kinds.
const DefaultMinLength = 30

var (
	// ErrConfig marks missing or malformed prompt configuration.
	ErrConfig = errors.New("draft: configuration error")
	// ErrInvalidInput marks a request that can never succeed as given.
	ErrInvalidInput = errors.New("draft: invalid input")
	// ErrTranscriptTooShort is returned before any model call.
	ErrTranscriptTooShort = errors.New("draft: transcript too short")
	// ErrCompletion wraps failures of the model service itself.
	ErrCompletion = errors.New("draft: completion failed")
	// ErrMalformedOutput marks a model answer that is not a JSON object.
	ErrMalformedOutput = errors.New("draft: malformed model output")
	// ErrIncompleteDraft marks an answer missing a required field.
	ErrIncompleteDraft = errors.New("draft: incomplete draft")
)

// Draft is the generated structured output. Job drafts fill Title and
// Description; profile drafts fill Headline and Summary.
type Draft struct {
	Kind        Kind     `json:"kind"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Headline    string   `json:"headline,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Keywords    []string `json:"keywords"`
}

// Input is one generation request.
type Input struct {
	Kind       Kind
	Transcript string
	Language   string
}

// Providers resolves a provider name to a Completer. *llm.Registry implements it.
type Providers interface {
	Get(name string) (llm.Completer, error)
}

// Generator validates input, calls the model and validates the answer.
type Generator struct {
	prompts   Prompts
	providers Providers
	minLength map[Kind]int
}

// NewGenerator creates a Generator. minLength may be nil or partial; missing
// kinds use DefaultMinLength.
func NewGenerator(prompts Prompts, providers Providers, minLength map[Kind]int) *Generator {
	ml := make(map[Kind]int, len(Kinds))
	for _, k := range Kinds {
		ml[k] = DefaultMinLength
		if v, ok := minLength[k]; ok && v > 0 {
			ml[k] = v
		}
	}
	return &Generator{prompts: prompts, providers: providers, minLength: ml}
}

// Generate produces a Draft for in.
func (g *Generator) Generate(ctx context.Context, in Input) (*Draft, error) {
	kind, err := ParseKind(string(in.Kind))
	if err != nil {
		return nil, err
	}
	transcript := strings.TrimSpace(in.Transcript)
	if n := utf8.RuneCountInString(transcript); n < g.minLength[kind] {
		return nil, fmt.Errorf("%w: %d characters, need at least %d", ErrTranscriptTooShort, n, g.minLength[kind])
	}

	cfg, ok := g.prompts[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no prompt configured for kind %q", ErrConfig, kind)
	}
	completer, err := g.providers.Get(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	req := llm.Request{
		Model:     cfg.Model,
		System:    cfg.SystemPrompt(in.Language),
		User:      transcript,
		MaxTokens: cfg.MaxTokens,
		JSONMode:  cfg.JSONMode(),
	}
	if cfg.Temperature != nil {
		req.Temperature = *cfg.Temperature
	}

	log.Debug().
		Str("kind", string(kind)).
		Str("model", cfg.Model).
		Str("provider", cfg.Provider).
		Int("transcript_length", len(transcript)).
		Msg("Requesting draft from model")

	start := time.Now()
	content, err := completer.Complete(ctx, req)
	m := metrics.New().Stage("draft.generate").Dimension("Kind", string(kind)).Since("DraftMs", start)
	if err != nil {
		m.Count("DraftErrors").Flush()
		if errors.Is(err, llm.ErrEmptyResponse) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	m.Flush()

	return ParseDraft(kind, content, transcript)
}

// ParseDraft decodes and validates a model answer for kind. transcript is
// used for the profile summary fallback.
func ParseDraft(kind Kind, content, transcript string) (*Draft, error) {
	out, err := jsonutil.ParseObject[modelOutput](content)
	if err != nil {
		log.Debug().Str("preview", jsonutil.Preview(content, 200)).Msg("Model output is not a draft object")
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	d := out.resolve(kind)

	switch kind {
	case KindProfile:
		if d.Headline == "" {
			return nil, fmt.Errorf("%w: missing headline", ErrIncompleteDraft)
		}
		if degenerateSummary(d.Headline, d.Summary) {
			log.Debug().Str("headline", d.Headline).Msg("Replacing degenerate profile summary with transcript snippet")
			d.Summary = TranscriptSnippet(transcript)
		}
		if d.Summary == "" {
			return nil, fmt.Errorf("%w: missing summary", ErrIncompleteDraft)
		}
	default:
		if d.Title == "" || d.Description == "" {
			return nil, fmt.Errorf("%w: missing title or description", ErrIncompleteDraft)
		}
	}
	return d, nil
}
