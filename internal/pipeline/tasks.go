// Package pipeline holds the background workers that turn uploaded
// recordings into transcripts and drafts, and the dispatcher that routes
// queue envelopes to them and applies the retry policy.
package pipeline

import (
	"encoding/json"

	"github.com/fpang/voice-draft-pipeline/internal/draft"
)

// Task and queue names. Each task has its own queue of the same name.
const (
	TaskTranscribeSingle = "transcribe.single"
	TaskTranscribeChunk  = "transcribe.chunk"
	TaskSessionFinalize  = "session.finalize"
	TaskDraftGenerate    = "draft.generate"

	// QueueDraftResults carries DraftResult messages back to the producer.
	QueueDraftResults = "draft.results"
	// QueueDeadLetter receives DeadLetter records for tasks that will not be retried.
	QueueDeadLetter = "pipeline.dead-letter"
)

// Tasks lists every task a worker can consume.
var Tasks = []string{TaskTranscribeSingle, TaskTranscribeChunk, TaskSessionFinalize, TaskDraftGenerate}

// UploadJob is the transcribe.single payload.
type UploadJob struct {
	ObjectKey       string   `json:"object_key"`
	Bucket          string   `json:"bucket,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Source          string   `json:"source,omitempty"`
	Language        string   `json:"language,omitempty"`
}

// AudioChunk is the transcribe.chunk payload.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	ChunkIndex *int   `json:"chunk_index"`
	ObjectKey  string `json:"object_key"`
	Bucket     string `json:"bucket,omitempty"`
	Language   string `json:"language,omitempty"`
}

// FinalizeRequest is the session.finalize payload. A non-empty DraftKind
// hands the assembled transcript to draft.generate.
type FinalizeRequest struct {
	SessionID   string `json:"session_id"`
	TotalChunks int    `json:"total_chunks"`
	Bucket      string `json:"bucket,omitempty"`
	DraftKind   string `json:"draft_kind,omitempty"`
	Language    string `json:"language,omitempty"`
}

// DraftRequest is the draft.generate payload.
type DraftRequest struct {
	Kind       string `json:"kind"`
	Transcript string `json:"transcript"`
	Language   string `json:"language,omitempty"`
	SourceKey  string `json:"source_key,omitempty"`
}

// DraftResult is published on draft.results once a draft.generate task
// finishes, successfully or terminally.
type DraftResult struct {
	TaskID    string       `json:"task_id"`
	Kind      string       `json:"kind"`
	SourceKey string       `json:"source_key,omitempty"`
	Draft     *draft.Draft `json:"draft,omitempty"`
	Error     *ResultError `json:"error,omitempty"`
}

// ResultError is the structured failure on a DraftResult.
type ResultError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// DeadLetter is the record sent to QueueDeadLetter.
type DeadLetter struct {
	TaskID   string `json:"task_id"`
	Task     string `json:"task"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
	// MissingChunks lists the first MaxDeadLetterMissing indices still
	// missing when a finalize gave up; MissingCount is the full count.
	MissingChunks []int           `json:"missing_chunks,omitempty"`
	MissingCount  int             `json:"missing_count,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// MaxDeadLetterMissing bounds DeadLetter.MissingChunks.
const MaxDeadLetterMissing = 100
