package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/voice-draft-pipeline/internal/app"
	"github.com/fpang/voice-draft-pipeline/internal/config"
	"github.com/fpang/voice-draft-pipeline/internal/logging"
	"github.com/fpang/voice-draft-pipeline/internal/pipeline"
	"github.com/fpang/voice-draft-pipeline/internal/queue"
	"github.com/fpang/voice-draft-pipeline/internal/recording"
)

// CLI flags
var (
	envFileFlag   string
	workersFlag   int
	waitFlag      time.Duration
	bucketFlag    string
	languageFlag  string
	durationFlag  float64
	sourceFlag    string
	draftKindFlag string
)

// rootCmd is the main Cobra command for the pipeline-worker binary.
var rootCmd = &cobra.Command{
	Use:   "pipeline-worker",
	Short: "Long-running transcription and draft workers",
	Long: `Pipeline Worker consumes the transcribe, finalize and draft queues outside
Lambda, and offers helpers to enqueue tasks and inspect session transcripts.

Configuration comes from $PIPELINE_CONFIG_DIR/runtime.json and the
environment. A .env file in the working directory is loaded first if present.

Examples:
  pipeline-worker run                          # every stage
  pipeline-worker run transcribe.chunk session.finalize --workers 4
  pipeline-worker enqueue single uploads/abc.mp4 --language es
  pipeline-worker enqueue chunk sess-1 0 sessions/sess-1/chunk-000000.webm
  pipeline-worker enqueue finalize sess-1 3 --draft-kind profile
  pipeline-worker status sess-1`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFileFlag); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envFileFlag, err)
		}
		logging.Init()
		return nil
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:       "run [stage...]",
	Short:     "Consume one or more stage queues until interrupted",
	ValidArgs: pipeline.Tasks,
	Args:      cobra.OnlyValidArgs,
	RunE:      runWorkers,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Publish a task envelope",
}

var enqueueSingleCmd = &cobra.Command{
	Use:   "single <object-key>",
	Short: "Enqueue transcribe.single for an uploaded recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job := pipeline.UploadJob{
			ObjectKey: args[0],
			Bucket:    bucketFlag,
			Source:    sourceFlag,
			Language:  languageFlag,
		}
		if cmd.Flags().Changed("duration") {
			job.DurationSeconds = &durationFlag
		}
		return enqueue(cmd.Context(), pipeline.TaskTranscribeSingle, job)
	},
}

var enqueueChunkCmd = &cobra.Command{
	Use:   "chunk <session-id> <index> <object-key>",
	Short: "Enqueue transcribe.chunk for one recorded chunk",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var index int
		if _, err := fmt.Sscan(args[1], &index); err != nil {
			return fmt.Errorf("chunk index %q: %w", args[1], err)
		}
		return enqueue(cmd.Context(), pipeline.TaskTranscribeChunk, pipeline.AudioChunk{
			SessionID:  args[0],
			ChunkIndex: &index,
			ObjectKey:  args[2],
			Bucket:     bucketFlag,
			Language:   languageFlag,
		})
	},
}

var enqueueFinalizeCmd = &cobra.Command{
	Use:   "finalize <session-id> <total-chunks>",
	Short: "Enqueue session.finalize",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var total int
		if _, err := fmt.Sscan(args[1], &total); err != nil {
			return fmt.Errorf("total chunks %q: %w", args[1], err)
		}
		return enqueue(cmd.Context(), pipeline.TaskSessionFinalize, pipeline.FinalizeRequest{
			SessionID:   args[0],
			TotalChunks: total,
			Bucket:      bucketFlag,
			DraftKind:   draftKindFlag,
			Language:    languageFlag,
		})
	},
}

var enqueueDraftCmd = &cobra.Command{
	Use:   "draft <kind> <transcript>",
	Short: "Enqueue draft.generate for a transcript",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(cmd.Context(), pipeline.TaskDraftGenerate, pipeline.DraftRequest{
			Kind:       args[0],
			Transcript: args[1],
			Language:   languageFlag,
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Print the transcript state of a chunked session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := recording.SanitizeSessionID(args[0])
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		be := app.AWSBackend(cmd.Context(), cfg)
		st, err := recording.ReadStatus(cmd.Context(), be.Store, cfg.Bucket, session)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Environment file loaded before configuration")

	runCmd.Flags().IntVarP(&workersFlag, "workers", "w", 0, "Concurrent pollers per stage (0 = PIPELINE_WORKERS)")
	runCmd.Flags().DurationVar(&waitFlag, "wait", 20*time.Second, "Long-poll duration per receive")

	enqueueCmd.PersistentFlags().StringVarP(&bucketFlag, "bucket", "b", "", "Bucket override (default MEDIA_BUCKET_NAME)")
	enqueueCmd.PersistentFlags().StringVarP(&languageFlag, "language", "l", "", "Language hint, e.g. es")
	enqueueSingleCmd.Flags().Float64Var(&durationFlag, "duration", 0, "Recording duration in seconds")
	enqueueSingleCmd.Flags().StringVar(&sourceFlag, "source", "cli", "Free-form origin label")
	enqueueFinalizeCmd.Flags().StringVar(&draftKindFlag, "draft-kind", "", "Generate a draft of this kind (job or profile) once assembled")

	enqueueCmd.AddCommand(enqueueSingleCmd, enqueueChunkCmd, enqueueFinalizeCmd, enqueueDraftCmd)
	rootCmd.AddCommand(runCmd, enqueueCmd, statusCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("pipeline-worker failed")
		os.Exit(1)
	}
}

// runWorkers starts one consumer per requested stage and blocks until the
// process is interrupted.
func runWorkers(cmd *cobra.Command, stages []string) error {
	start := time.Now()
	if len(stages) == 0 {
		stages = pipeline.Tasks
	}
	stages = slices.Compact(slices.Sorted(slices.Values(stages)))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	workers := workersFlag
	if workers <= 0 {
		workers = cfg.Workers
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, "pipeline-worker", cfg, app.AWSBackend(ctx, cfg), app.NeedsFor(stages...))
	if err != nil {
		return err
	}
	a.Startup.Stage(strings.Join(stages, ",")).Config("workers", fmt.Sprint(workers)).InitDuration(time.Since(start)).Log()

	g, ctx := errgroup.WithContext(ctx)
	for _, stage := range stages {
		c := &queue.Consumer{
			Receiver: a.Queue,
			Queue:    stage,
			Handler:  a.Dispatcher.Handle,
			Workers:  workers,
			Wait:     waitFlag,
		}
		g.Go(func() error { return c.Run(ctx) })
	}
	return g.Wait()
}

// enqueue publishes one envelope on the task's queue.
func enqueue(ctx context.Context, task string, payload any) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	be := app.AWSBackend(ctx, cfg)
	env, err := queue.Publish(ctx, be.Queue, task, payload)
	if err != nil {
		return err
	}
	log.Info().Str("task", task).Str("taskId", env.ID).Str("queue", queue.QueueName(cfg.QueuePrefix, task)).Msg("Task enqueued")
	fmt.Println(env.ID)
	return nil
}
