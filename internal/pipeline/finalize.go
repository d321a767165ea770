package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/draft"
	"github.com/fpang/voice-draft-pipeline/internal/jobutil"
	"github.com/fpang/voice-draft-pipeline/internal/metrics"
	"github.com/fpang/voice-draft-pipeline/internal/objstore"
	"github.com/fpang/voice-draft-pipeline/internal/queue"
	"github.com/fpang/voice-draft-pipeline/internal/recording"
)

// FinalizeWorker handles session.finalize. While chunk transcripts are
// missing it fails transiently and the dispatcher re-schedules it with the
// finalize budget; once all are present it writes the final transcript.
type FinalizeWorker struct {
	Store  objstore.Store
	Queue  queue.Sender
	Bucket string
	// MaxChunks bounds total_chunks (default recording.DefaultMaxChunks).
	MaxChunks int
}

// Handle implements queue.Handler.
func (w *FinalizeWorker) Handle(ctx context.Context, env queue.Envelope) error {
	var req FinalizeRequest
	if err := env.Decode(&req); err != nil {
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
	}
	session, err := recording.SanitizeSessionID(req.SessionID)
	if err != nil {
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
	}
	maxChunks := w.MaxChunks
	if maxChunks <= 0 {
		maxChunks = recording.DefaultMaxChunks
	}
	if err := recording.CheckTotal(req.TotalChunks, maxChunks); err != nil {
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
	}
	var kind draft.Kind
	if strings.TrimSpace(req.DraftKind) != "" {
		if kind, err = draft.ParseKind(req.DraftKind); err != nil {
			return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
		}
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = w.Bucket
	}

	assembly, err := recording.Assemble(ctx, w.Store, bucket, session, req.TotalChunks)
	var missing *recording.MissingChunksError
	switch {
	case errors.As(err, &missing):
		metrics.New().Stage(env.Task).
			Metric("FinalizeMissingChunks", float64(len(missing.Missing)), metrics.UnitCount).
			Flush()
		log.Info().
			Str("sessionId", session).
			Int("total", req.TotalChunks).
			Int("missing", len(missing.Missing)).
			Int("attempt", env.Attempt).
			Msg("Session not ready to finalize")
		return jobutil.Transient(jobutil.ReasonMissingChunks, err)
	case errors.Is(err, recording.ErrInvalidTotal):
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
	case err != nil:
		return jobutil.Transient(jobutil.ReasonStorageFailed, err)
	}

	if !assembly.Reused {
		metrics.New().Stage(env.Task).
			Count("SessionsAssembled").
			Metric("TranscriptChars", float64(len(assembly.Text)), metrics.UnitCount).
			Flush()
	}

	if kind != "" {
		next, err := queue.Publish(ctx, w.Queue, TaskDraftGenerate, DraftRequest{
			Kind:       string(kind),
			Transcript: assembly.Text,
			Language:   req.Language,
			SourceKey:  recording.FinalTranscriptKey(session),
		})
		if err != nil {
			return jobutil.Transient(jobutil.ReasonEnqueueFailed, err)
		}
		log.Info().Str("sessionId", session).Str("draftTaskId", next.ID).Str("kind", string(kind)).Msg("Final transcript handed to draft generation")
	}
	return nil
}
