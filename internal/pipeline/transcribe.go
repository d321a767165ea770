package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/draft"
	"github.com/fpang/voice-draft-pipeline/internal/jobutil"
	"github.com/fpang/voice-draft-pipeline/internal/metrics"
	"github.com/fpang/voice-draft-pipeline/internal/objstore"
	"github.com/fpang/voice-draft-pipeline/internal/queue"
	"github.com/fpang/voice-draft-pipeline/internal/recording"
	"github.com/fpang/voice-draft-pipeline/internal/stt"
	"github.com/fpang/voice-draft-pipeline/internal/transcode"
)

// Preparer applies the upload size gate. *transcode.Transcoder implements it.
type Preparer interface {
	Prepare(ctx context.Context, inputPath string) (transcode.Prepared, func(), error)
}

// TranscribeWorker handles transcribe.single and transcribe.chunk.
type TranscribeWorker struct {
	Store      objstore.Store
	Queue      queue.Sender
	Transcoder Preparer
	STT        stt.Transcriber
	// Bucket is used when a payload names none.
	Bucket  string
	TempDir string
}

// HandleSingle transcribes one finished upload and hands the transcript to
// draft.generate as a job draft.
func (w *TranscribeWorker) HandleSingle(ctx context.Context, env queue.Envelope) error {
	var job UploadJob
	if err := env.Decode(&job); err != nil {
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
	}
	key := strings.TrimSpace(job.ObjectKey)
	if key == "" {
		return jobutil.Fatal(jobutil.ReasonMissingObjectKey, errors.New("object_key is required"))
	}
	bucket := w.bucket(job.Bucket)

	text, err := w.transcribe(ctx, env.Task, bucket, key, job.Language)
	if err != nil {
		return err
	}

	req := DraftRequest{
		Kind:       string(draft.KindJob),
		Transcript: text,
		Language:   job.Language,
		SourceKey:  key,
	}
	next, err := queue.Publish(ctx, w.Queue, TaskDraftGenerate, req)
	if err != nil {
		return jobutil.Transient(jobutil.ReasonEnqueueFailed, err)
	}
	log.Info().
		Str("objectKey", key).
		Str("source", job.Source).
		Str("draftTaskId", next.ID).
		Int("transcriptChars", len(text)).
		Msg("Upload transcribed, draft requested")
	return nil
}

// HandleChunk transcribes one chunk and stores its ChunkTranscript. It does
// not enqueue anything; session.finalize picks the transcript up.
func (w *TranscribeWorker) HandleChunk(ctx context.Context, env queue.Envelope) error {
	var chunk AudioChunk
	if err := env.Decode(&chunk); err != nil {
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
	}
	session, err := recording.SanitizeSessionID(chunk.SessionID)
	if err != nil {
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, err)
	}
	if chunk.ChunkIndex == nil || *chunk.ChunkIndex < 0 {
		return jobutil.Fatal(jobutil.ReasonInvalidPayload, errors.New("chunk_index must be a non-negative integer"))
	}
	index := *chunk.ChunkIndex
	key := strings.TrimSpace(chunk.ObjectKey)
	if key == "" {
		return jobutil.Fatal(jobutil.ReasonMissingObjectKey, errors.New("object_key is required"))
	}
	bucket := w.bucket(chunk.Bucket)

	text, err := w.transcribe(ctx, env.Task, bucket, key, chunk.Language)
	if err != nil {
		return err
	}

	transcriptKey := recording.ChunkTranscriptKey(session, index)
	if err := w.Store.WriteText(ctx, bucket, transcriptKey, text); err != nil {
		return jobutil.Transient(jobutil.ReasonStorageFailed, err)
	}
	log.Info().
		Str("sessionId", session).
		Int("chunkIndex", index).
		Str("key", transcriptKey).
		Int("transcriptChars", len(text)).
		Msg("Chunk transcript stored")
	return nil
}

func (w *TranscribeWorker) bucket(b string) string {
	if b = strings.TrimSpace(b); b != "" {
		return b
	}
	return w.Bucket
}

// transcribe downloads, size-gates and transcribes one object. Every temp
// file it creates is removed before it returns. Silence is not an error: an
// empty transcript is returned as "".
func (w *TranscribeWorker) transcribe(ctx context.Context, task, bucket, key, language string) (string, error) {
	start := time.Now()
	path, size, cleanupDownload, err := objstore.DownloadToTemp(ctx, w.Store, bucket, key, w.TempDir)
	if err != nil {
		if errors.Is(err, objstore.ErrEmptyObject) {
			return "", jobutil.Fatal(jobutil.ReasonEmptyObject, err)
		}
		return "", jobutil.Transient(jobutil.ReasonDownloadFailed, err)
	}
	defer cleanupDownload()

	prepared, cleanupPrepared, err := w.Transcoder.Prepare(ctx, path)
	if err != nil {
		if errors.Is(err, transcode.ErrPayloadTooLarge) {
			return "", jobutil.Fatal(jobutil.ReasonPayloadTooLarge, err)
		}
		return "", jobutil.Transient(jobutil.ReasonTranscodeFailed, err)
	}
	defer cleanupPrepared()

	sttStart := time.Now()
	text, err := w.STT.Transcribe(ctx, prepared.Path, language)
	if errors.Is(err, stt.ErrEmptyTranscript) {
		log.Warn().Str("key", key).Msg("Speech-to-text returned no text")
		text, err = "", nil
	}
	if err != nil {
		metrics.New().Stage(task).Count("TranscribeErrors").Flush()
		return "", jobutil.Transient(jobutil.ReasonSTTFailed, fmt.Errorf("%s: %w", w.STT.Name(), err))
	}

	metrics.New().Stage(task).
		Since("TranscribeMs", sttStart).
		Since("TranscribeTotalMs", start).
		Metric("MediaFileSizeBytes", float64(size), metrics.UnitBytes).
		Metric("TranscriptChars", float64(len(text)), metrics.UnitCount).
		Property("transcoded", prepared.Transcoded).
		Flush()
	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", size).
		Bool("transcoded", prepared.Transcoded).
		Str("provider", w.STT.Name()).
		Dur("duration", time.Since(start)).
		Msg("Object transcribed")
	return text, nil
}
