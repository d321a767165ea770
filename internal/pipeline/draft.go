package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/draft"
	"github.com/fpang/voice-draft-pipeline/internal/jobutil"
	"github.com/fpang/voice-draft-pipeline/internal/queue"
)

// Drafter generates drafts. *draft.Generator implements it.
type Drafter interface {
	Generate(ctx context.Context, in draft.Input) (*draft.Draft, error)
}

// DraftWorker handles draft.generate and publishes each outcome on draft.results.
type DraftWorker struct {
	Drafts Drafter
	Queue  queue.Sender
}

// Handle implements queue.Handler.
func (w *DraftWorker) Handle(ctx context.Context, env queue.Envelope) error {
	var req DraftRequest
	if err := env.Decode(&req); err != nil {
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
	}
	d, err := w.Drafts.Generate(ctx, draft.Input{
		Kind:       draft.Kind(req.Kind),
		Transcript: req.Transcript,
		Language:   req.Language,
	})
	if err != nil {
		return classifyDraftError(err)
	}

	result := DraftResult{TaskID: env.ID, Kind: string(d.Kind), SourceKey: req.SourceKey, Draft: d}
	if _, err := queue.Publish(ctx, w.Queue, QueueDraftResults, result); err != nil {
		return jobutil.Transient(jobutil.ReasonEnqueueFailed, err)
	}
	log.Info().
		Str("kind", string(d.Kind)).
		Str("sourceKey", req.SourceKey).
		Int("keywords", len(d.Keywords)).
		Msg("Draft published")
	return nil
}

// OnTerminal publishes the structured failure so the producer is not left waiting.
func (w *DraftWorker) OnTerminal(ctx context.Context, env queue.Envelope, failure *jobutil.TaskError) error {
	var req DraftRequest
	if err := env.Decode(&req); err != nil {
		log.Warn().Err(err).Str("taskId", env.ID).Msg("Draft failure result has no kind or source key")
	}
	msg := failure.Reason
	if failure.Err != nil {
		msg = failure.Err.Error()
	}
	_, err := queue.Publish(ctx, w.Queue, QueueDraftResults, DraftResult{
		TaskID:    env.ID,
		Kind:      req.Kind,
		SourceKey: req.SourceKey,
		Error:     &ResultError{Reason: failure.Reason, Message: msg},
	})
	return err
}

func classifyDraftError(err error) error {
	switch {
	case errors.Is(err, draft.ErrTranscriptTooShort):
		return jobutil.Fatal(jobutil.ReasonTranscriptTooShort, err)
	case errors.Is(err, draft.ErrInvalidInput):
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
	case errors.Is(err, draft.ErrConfig):
		return jobutil.Fatal(jobutil.ReasonConfig, err)
	case errors.Is(err, draft.ErrIncompleteDraft):
		return jobutil.Fatal(jobutil.ReasonIncompleteDraft, err)
	case errors.Is(err, draft.ErrMalformedOutput):
		return jobutil.Capped(jobutil.ReasonMalformedModelOutput, 1, err)
	default:
		return jobutil.Transient(jobutil.ReasonLLMFailed, err)
	}
}
