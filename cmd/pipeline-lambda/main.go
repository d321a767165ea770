// Package main provides the SQS-triggered Lambda entry point for one
// pipeline stage. PIPELINE_STAGE names the task the function consumes
// (transcribe.single, transcribe.chunk, session.finalize or draft.generate);
// the event source mapping must point at that stage's queue and have
// ReportBatchItemFailures enabled.
//
// Retries are scheduled by re-enqueueing with a delay, so a record is only
// reported as failed when that re-enqueue (or the dead-letter send) itself
// failed. SQS then redelivers it after the visibility timeout.
package main

import (
	"context"
	"os"
	"slices"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/app"
	"github.com/fpang/voice-draft-pipeline/internal/config"
	"github.com/fpang/voice-draft-pipeline/internal/logging"
	"github.com/fpang/voice-draft-pipeline/internal/pipeline"
	"github.com/fpang/voice-draft-pipeline/internal/queue"
)

// StageEnvVar selects the consumed task.
const StageEnvVar = "PIPELINE_STAGE"

// envelopeHandler is satisfied by *pipeline.Dispatcher.
type envelopeHandler interface {
	Handle(ctx context.Context, env queue.Envelope) error
}

type sqsHandler struct {
	stage      string
	dispatcher envelopeHandler
	coldStart  bool
}

func (h *sqsHandler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	if h.coldStart {
		h.coldStart = false
		log.Info().Str("function", "pipeline-lambda").Str("stage", h.stage).Msg("Cold start, first invocation")
	}
	var resp events.SQSEventResponse
	for _, record := range event.Records {
		env := queue.DecodeBody(h.stage, record.Body)
		if env.ID == "" {
			env.ID = record.MessageId
		}
		if err := h.dispatcher.Handle(ctx, env); err != nil {
			log.Error().Err(err).Str("messageId", record.MessageId).Str("taskId", env.ID).Msg("Record left for redelivery")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	log.Debug().
		Int("records", len(event.Records)).
		Int("failures", len(resp.BatchItemFailures)).
		Msg("SQS batch processed")
	return resp, nil
}

func main() {
	initStart := time.Now()
	logging.Init()

	stage := os.Getenv(StageEnvVar)
	if !slices.Contains(pipeline.Tasks, stage) {
		log.Fatal().Str("stage", stage).Strs("valid", pipeline.Tasks).Msg(StageEnvVar + " must name a pipeline task")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()
	a, err := app.New(ctx, "pipeline-lambda", cfg, app.AWSBackend(ctx, cfg), app.NeedsFor(stage))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise pipeline")
	}
	a.Startup.Stage(stage).InitDuration(time.Since(initStart)).Log()

	h := &sqsHandler{stage: stage, dispatcher: a.Dispatcher, coldStart: true}
	lambda.Start(h.handle)
}
