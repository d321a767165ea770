// Package app builds the pipeline's collaborators from configuration. Every
// entry point calls it once at start-up and reuses the result for the life
// of the process.
package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/config"
	"github.com/fpang/voice-draft-pipeline/internal/draft"
	"github.com/fpang/voice-draft-pipeline/internal/lambdaboot"
	"github.com/fpang/voice-draft-pipeline/internal/llm"
	"github.com/fpang/voice-draft-pipeline/internal/logging"
	"github.com/fpang/voice-draft-pipeline/internal/objstore"
	"github.com/fpang/voice-draft-pipeline/internal/pipeline"
	"github.com/fpang/voice-draft-pipeline/internal/queue"
	"github.com/fpang/voice-draft-pipeline/internal/stt"
	"github.com/fpang/voice-draft-pipeline/internal/transcode"
)

// App holds the wired process.
type App struct {
	Config     *config.Config
	Store      objstore.Store
	Queue      queue.Queue
	Dispatcher *pipeline.Dispatcher
	Startup    *logging.StartupLogger
}

// Needs says which workers the process must be able to run.
type Needs struct {
	Transcribe bool
	Draft      bool
}

// NeedsFor returns the Needs of a process consuming the given tasks. No tasks
// means every worker.
func NeedsFor(tasks ...string) Needs {
	if len(tasks) == 0 {
		return Needs{Transcribe: true, Draft: true}
	}
	var n Needs
	for _, t := range tasks {
		switch t {
		case pipeline.TaskTranscribeSingle, pipeline.TaskTranscribeChunk:
			n.Transcribe = true
		case pipeline.TaskDraftGenerate:
			n.Draft = true
		}
	}
	return n
}

// Backend is the storage and broker a process talks to.
type Backend struct {
	Store objstore.Store
	Queue queue.Queue
	// Secrets resolves API keys. Nil disables SSM lookups.
	Secrets lambdaboot.ParameterGetter
}

// AWSBackend builds the S3 and SQS backend.
func AWSBackend(ctx context.Context, cfg *config.Config) Backend {
	clients := lambdaboot.InitAWS(ctx)
	s3Client := lambdaboot.NewS3(clients.Config, cfg.S3Endpoint, cfg.S3ForcePathStyle)
	return Backend{
		Store:   objstore.NewS3(s3Client),
		Queue:   queue.NewSQS(lambdaboot.NewSQS(clients.Config), cfg.QueuePrefix),
		Secrets: clients.SSM,
	}
}

// New wires the dispatcher for name (the process name used in logs).
func New(ctx context.Context, name string, cfg *config.Config, be Backend, needs Needs) (*App, error) {
	start := time.Now()
	startup := logging.NewStartupLogger(name).
		Bucket("media", cfg.Bucket).
		Config("maxUploadBytes", strconv.FormatInt(cfg.MaxUploadBytes, 10)).
		Config("maxChunks", strconv.Itoa(cfg.MaxChunks)).
		Config("configDir", cfg.Dir).
		Config("transcribeRetry", retryString(cfg.Transcribe)).
		Config("finalizeRetry", retryString(cfg.Finalize)).
		Config("draftRetry", retryString(cfg.Draft))
	for _, task := range append(append([]string{}, pipeline.Tasks...), pipeline.QueueDraftResults, pipeline.QueueDeadLetter) {
		startup.Queue(task, queue.QueueName(cfg.QueuePrefix, task))
	}
	startup.SSMParam("openai", os.Getenv(lambdaboot.OpenAIKey.ParamEnvVar)).
		SSMParam("gemini", os.Getenv(lambdaboot.GeminiKey.ParamEnvVar))

	deps := pipeline.Deps{
		Store:     be.Store,
		Queue:     be.Queue,
		Bucket:    cfg.Bucket,
		TempDir:   cfg.TempDir,
		Policy:    pipeline.PolicyFrom(cfg),
		MaxChunks: cfg.MaxChunks,
	}

	if needs.Transcribe {
		transcriber, err := newTranscriber(ctx, cfg, be)
		if err != nil {
			return nil, err
		}
		deps.STT = transcriber
		deps.Transcoder = transcode.New(cfg.FFmpegPath, cfg.MaxUploadBytes, transcode.WithTempDir(cfg.TempDir))
		startup.Provider("stt", transcriber.Name()).Config("ffmpeg", cfg.FFmpegPath)
	}
	startup.Feature("transcribe", needs.Transcribe)

	if needs.Draft {
		generator, providers, err := newGenerator(ctx, cfg, be)
		if err != nil {
			return nil, err
		}
		deps.Drafts = generator
		for _, p := range providers {
			startup.Provider("llm:"+p, p)
		}
	}
	startup.Feature("draft", needs.Draft)

	return &App{
		Config:     cfg,
		Store:      be.Store,
		Queue:      be.Queue,
		Dispatcher: pipeline.New(deps),
		Startup:    startup.InitDuration(time.Since(start)),
	}, nil
}

func newTranscriber(ctx context.Context, cfg *config.Config, be Backend) (stt.Transcriber, error) {
	sc := stt.Config{
		Provider:      cfg.STTProvider,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		WhisperModel:  cfg.WhisperModel,
		GeminiModel:   cfg.GeminiSTTModel,
	}
	var err error
	switch cfg.STTProvider {
	case stt.ProviderGemini:
		sc.GeminiKey, err = lambdaboot.LoadSecret(ctx, be.Secrets, lambdaboot.GeminiKey)
	default:
		sc.OpenAIKey, err = lambdaboot.LoadSecret(ctx, be.Secrets, lambdaboot.OpenAIKey)
	}
	if err != nil {
		return nil, err
	}
	return stt.New(ctx, sc)
}

// newGenerator loads prompts.json and registers a client for every provider
// the prompts reference.
func newGenerator(ctx context.Context, cfg *config.Config, be Backend) (*draft.Generator, []string, error) {
	prompts, err := draft.LoadPrompts(cfg.PromptsPath())
	if err != nil {
		return nil, nil, err
	}

	registry := llm.NewRegistry()
	seen := make(map[string]bool)
	var providers []string
	for _, kind := range draft.Kinds {
		p := prompts[kind].Provider
		if p == "" {
			p = llm.ProviderOpenAI
		}
		if seen[p] {
			continue
		}
		seen[p] = true

		switch p {
		case llm.ProviderOpenAI:
			key, err := lambdaboot.LoadSecret(ctx, be.Secrets, lambdaboot.OpenAIKey)
			if err != nil {
				return nil, nil, err
			}
			if key == "" {
				return nil, nil, fmt.Errorf("%w: OPENAI_API_KEY is not configured", draft.ErrConfig)
			}
			registry.Register(p, llm.NewOpenAI(key, cfg.OpenAIBaseURL))
		case llm.ProviderGemini:
			key, err := lambdaboot.LoadSecret(ctx, be.Secrets, lambdaboot.GeminiKey)
			if err != nil {
				return nil, nil, err
			}
			if key == "" {
				return nil, nil, fmt.Errorf("%w: GEMINI_API_KEY is not configured", draft.ErrConfig)
			}
			g, err := llm.NewGemini(ctx, key)
			if err != nil {
				return nil, nil, err
			}
			registry.Register(p, g)
		default:
			return nil, nil, fmt.Errorf("%w: unknown llm provider %q", draft.ErrConfig, p)
		}
		providers = append(providers, p)
	}

	minLength := make(map[draft.Kind]int, len(cfg.MinTranscriptLength))
	for k, v := range cfg.MinTranscriptLength {
		minLength[draft.Kind(k)] = v
	}
	log.Debug().Strs("providers", providers).Str("prompts", cfg.PromptsPath()).Msg("Draft generator ready")
	return draft.NewGenerator(prompts, registry, minLength), providers, nil
}

func retryString(r config.Retry) string {
	return fmt.Sprintf("%dx%s", r.MaxRetries, r.Delay)
}
