// Package jobutil classifies task failures for the retry decision.
//
// Every worker returns plain Go errors; the ones that carry a *TaskError tell
// the dispatcher whether the failure is worth retrying, how many times at
// most, and which stable reason string to report to the producer. Errors
// without a *TaskError are treated as transient with reason "internal".
package jobutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Stable, machine-readable failure reasons.
const (
	ReasonDownloadFailed       = "download_failed"
	ReasonEmptyObject          = "empty_object"
	ReasonMissingObjectKey     = "missing_object_key"
	ReasonInvalidPayload       = "invalid_payload"
	ReasonTranscodeFailed      = "transcode_failed"
	ReasonPayloadTooLarge      = "payload_too_large"
	ReasonSTTFailed            = "stt_failed"
	ReasonMissingChunks        = "missing_chunks"
	ReasonStorageFailed        = "storage_failed"
	ReasonEnqueueFailed        = "enqueue_failed"
	ReasonTranscriptTooShort   = "transcript_too_short"
	ReasonLLMFailed            = "llm_failed"
	ReasonMalformedModelOutput = "malformed_model_output"
	ReasonIncompleteDraft      = "incomplete_draft"
	ReasonConfig               = "config_error"
	ReasonInternal             = "internal"
)

// Class says whether a failure may be retried.
type Class int

const (
	// ClassTransient failures are retried up to the stage budget.
	ClassTransient Class = iota
	// ClassFatal failures are never retried.
	ClassFatal
)

func (c Class) String() string {
	if c == ClassFatal {
		return "fatal"
	}
	return "transient"
}

// TaskError annotates an error with its retry class and reason.
type TaskError struct {
	Reason string
	Class  Class
	// MaxRetries caps retries below the stage budget when > 0.
	MaxRetries int
	Err        error
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Transient marks err as retryable under the stage's budget.
func Transient(reason string, err error) error {
	return &TaskError{Reason: reason, Class: ClassTransient, Err: err}
}

// Capped marks err as retryable at most maxRetries times, even when the stage allows more.
func Capped(reason string, maxRetries int, err error) error {
	return &TaskError{Reason: reason, Class: ClassTransient, MaxRetries: maxRetries, Err: err}
}

// Fatal marks err as not retryable.
func Fatal(reason string, err error) error {
	return &TaskError{Reason: reason, Class: ClassFatal, Err: err}
}

// Classify returns the TaskError view of err. Unannotated errors are
// transient with ReasonInternal.
func Classify(err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return &TaskError{Reason: ReasonInternal, Class: ClassTransient, Err: err}
}

// ReasonOf returns the stable reason for err.
func ReasonOf(err error) string {
	return Classify(err).Reason
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return Classify(err).Class == ClassFatal
}

// RetryCap returns the effective retry budget for err under a stage budget.
func RetryCap(err error, stageMax int) int {
	te := Classify(err)
	if te.Class == ClassFatal {
		return 0
	}
	if te.MaxRetries > 0 && te.MaxRetries < stageMax {
		return te.MaxRetries
	}
	return stageMax
}

// ShouldRetry reports whether a task that failed with err gets another
// attempt. attempt counts every earlier failure of the task and is checked
// against the stage budget. An error with its own cap is checked against
// reasonRetries instead, the number of retries already spent on that reason,
// so failures of other kinds do not use up its cap.
func ShouldRetry(err error, attempt, reasonRetries, stageMax int) bool {
	te := Classify(err)
	switch {
	case te.Class == ClassFatal:
		return false
	case te.MaxRetries > 0:
		return reasonRetries < RetryCap(err, stageMax)
	default:
		return attempt < stageMax
	}
}

// FailureWriter persists or publishes a terminal task failure. The dispatcher
// provides one that forwards to the dead-letter queue.
type FailureWriter func(ctx context.Context, taskID, reason, msg string) error

// ReportFailure logs a terminal failure and delegates reporting to write.
func ReportFailure(ctx context.Context, task, taskID string, attempt int, err error, write FailureWriter) error {
	te := Classify(err)
	log.Error().
		Str("task", task).
		Str("taskId", taskID).
		Int("attempt", attempt).
		Str("reason", te.Reason).
		Str("class", te.Class.String()).
		Err(err).
		Msg("Task failed")
	if write == nil {
		return nil
	}
	return write(ctx, taskID, te.Reason, err.Error())
}
