package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/jobutil"
	"github.com/fpang/voice-draft-pipeline/internal/metrics"
	"github.com/fpang/voice-draft-pipeline/internal/queue"
	"github.com/fpang/voice-draft-pipeline/internal/recording"
)

// TerminalHook runs once when a task fails for good, before dead-lettering.
type TerminalHook func(ctx context.Context, env queue.Envelope, failure *jobutil.TaskError) error

type route struct {
	handle     queue.Handler
	onTerminal TerminalHook
}

// Dispatcher routes envelopes to task handlers and owns the retry decision:
// a failed attempt is re-enqueued with the stage delay while budget remains,
// otherwise the task is reported and dead-lettered. It holds no mutable state
// after construction and is safe for concurrent use.
type Dispatcher struct {
	queue  queue.Sender
	policy Policy
	routes map[string]route
}

// NewDispatcher returns a Dispatcher with no routes.
func NewDispatcher(q queue.Sender, policy Policy) *Dispatcher {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Dispatcher{queue: q, policy: policy, routes: make(map[string]route)}
}

// Register binds task to h. onTerminal may be nil.
func (d *Dispatcher) Register(task string, h queue.Handler, onTerminal TerminalHook) {
	d.routes[task] = route{handle: h, onTerminal: onTerminal}
}

// Handle runs one delivery. It returns an error only when the outcome could
// not be recorded (the retry or dead-letter send failed); the caller should
// then leave the message for redelivery.
func (d *Dispatcher) Handle(ctx context.Context, env queue.Envelope) error {
	logger := log.With().Str("task", env.Task).Str("taskId", env.ID).Int("attempt", env.Attempt).Logger()
	r, ok := d.routes[env.Task]
	if !ok {
		return d.terminate(ctx, env, route{}, jobutil.Fatal(jobutil.ReasonInvalidPayload, fmt.Errorf("unknown task %q", env.Task)))
	}

	start := time.Now()
	err := r.handle(ctx, env)
	if err == nil {
		metrics.New().Stage(env.Task).Since("TaskMs", start).Count("TaskSucceeded").Flush()
		logger.Info().Dur("duration", time.Since(start)).Msg("Task succeeded")
		return nil
	}

	budget := d.policy.For(env.Task)
	failure := jobutil.Classify(err)
	maxRetries := jobutil.RetryCap(err, budget.MaxRetries)
	if jobutil.ShouldRetry(err, env.Attempt, env.CappedRetries[failure.Reason], budget.MaxRetries) {
		next := env.Retry()
		if failure.MaxRetries > 0 {
			next = env.RetryCapped(failure.Reason)
		}
		if sendErr := d.queue.Send(ctx, env.Task, next, budget.Delay); sendErr != nil {
			return fmt.Errorf("re-enqueue %s: %w", env.ID, sendErr)
		}
		metrics.New().Stage(env.Task).Since("TaskMs", start).Count("TaskRetries").
			Property("reason", failure.Reason).Flush()
		logger.Warn().
			Err(err).
			Str("reason", failure.Reason).
			Int("nextAttempt", next.Attempt).
			Int("maxRetries", maxRetries).
			Dur("delay", budget.Delay).
			Msg("Task failed, retry scheduled")
		return nil
	}
	return d.terminate(ctx, env, r, err)
}

func (d *Dispatcher) terminate(ctx context.Context, env queue.Envelope, r route, err error) error {
	failure := jobutil.Classify(err)
	if r.onTerminal != nil {
		if hookErr := r.onTerminal(ctx, env, failure); hookErr != nil {
			return fmt.Errorf("terminal hook for %s: %w", env.ID, hookErr)
		}
	}

	write := func(ctx context.Context, taskID, reason, msg string) error {
		rec := DeadLetter{
			TaskID:   taskID,
			Task:     env.Task,
			Reason:   reason,
			Message:  msg,
			Attempts: env.Attempt + 1,
			Payload:  env.Payload,
		}
		var missing *recording.MissingChunksError
		if errors.As(err, &missing) {
			rec.MissingCount = len(missing.Missing)
			rec.MissingChunks = missing.Missing[:min(len(missing.Missing), MaxDeadLetterMissing)]
		}
		dl, buildErr := queue.NewEnvelope(QueueDeadLetter, rec)
		if buildErr != nil {
			return buildErr
		}
		return d.queue.Send(ctx, QueueDeadLetter, dl, 0)
	}
	if reportErr := jobutil.ReportFailure(ctx, env.Task, env.ID, env.Attempt, err, write); reportErr != nil {
		return fmt.Errorf("dead-letter %s: %w", env.ID, reportErr)
	}
	metrics.New().Stage(env.Task).Count("TaskDeadLettered").
		Property("reason", failure.Reason).
		Property("class", failure.Class.String()).
		Flush()
	return nil
}
