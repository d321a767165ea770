// Package config assembles the pipeline's settings from environment
// variables and the optional runtime.json in the config directory.
//
// Precedence, lowest first: built-in defaults, runtime.json, environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/logging"
	"github.com/fpang/voice-draft-pipeline/internal/recording"
)

// DirEnvVar names the environment variable that overrides the config directory.
const DirEnvVar = "PIPELINE_CONFIG_DIR"

// File names inside the config directory.
const (
	RuntimeFile = "runtime.json"
	PromptsFile = "prompts.json"
)

// Retry is a fixed-delay retry budget for one stage.
type Retry struct {
	MaxRetries int
	Delay      time.Duration
}

// Config is the resolved process configuration.
type Config struct {
	Bucket           string
	S3Endpoint       string
	S3ForcePathStyle bool
	QueuePrefix      string

	MaxUploadBytes int64
	FFmpegPath     string
	TempDir        string

	// MaxChunks bounds total_chunks on a finalize request.
	MaxChunks int

	STTProvider    string
	WhisperModel   string
	GeminiSTTModel string
	OpenAIBaseURL  string

	Transcribe Retry
	Finalize   Retry
	Draft      Retry

	// MinTranscriptLength is keyed by draft kind ("job", "profile").
	MinTranscriptLength map[string]int

	Workers int

	Dir string
}

// PromptsPath returns the location of prompts.json.
func (c *Config) PromptsPath() string { return filepath.Join(c.Dir, PromptsFile) }

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Bucket:         "media",
		MaxUploadBytes: 25 * 1024 * 1024,
		FFmpegPath:     "ffmpeg",
		STTProvider:    "openai",
		WhisperModel:   "whisper-1",
		GeminiSTTModel: "gemini-2.5-flash",
		Transcribe:     Retry{MaxRetries: 3, Delay: 15 * time.Second},
		Finalize:       Retry{MaxRetries: 60, Delay: 10 * time.Second},
		Draft:          Retry{MaxRetries: 3, Delay: 15 * time.Second},
		MinTranscriptLength: map[string]int{
			"job":     30,
			"profile": 30,
		},
		MaxChunks: recording.DefaultMaxChunks,
		Workers:   1,
	}
}

// runtimeFile mirrors runtime.json. Every field is optional.
type runtimeFile struct {
	Workers struct {
		MaxUploadBytes *int64      `json:"maxUploadBytes"`
		MaxChunks      *int        `json:"maxChunks"`
		Transcribe     *retryEntry `json:"transcribe"`
		Finalize       *retryEntry `json:"finalize"`
		Draft          *retryEntry `json:"draft"`
	} `json:"workers"`
	Draft struct {
		MinTranscriptLength map[string]int `json:"minTranscriptLength"`
	} `json:"draft"`
}

type retryEntry struct {
	MaxRetries        *int `json:"maxRetries"`
	RetryDelaySeconds *int `json:"retryDelaySeconds"`
}

func (e *retryEntry) apply(r *Retry) {
	if e == nil {
		return
	}
	if e.MaxRetries != nil && *e.MaxRetries >= 0 {
		r.MaxRetries = *e.MaxRetries
	}
	if e.RetryDelaySeconds != nil && *e.RetryDelaySeconds >= 0 {
		r.Delay = time.Duration(*e.RetryDelaySeconds) * time.Second
	}
}

// ResolveDir picks the config directory: $PIPELINE_CONFIG_DIR, then
// /config when it exists, then ./config.
func ResolveDir() string {
	if dir := strings.TrimSpace(os.Getenv(DirEnvVar)); dir != "" {
		return dir
	}
	if info, err := os.Stat("/config"); err == nil && info.IsDir() {
		return "/config"
	}
	return "config"
}

// Load resolves the configuration.
func Load() (*Config, error) {
	cfg := Defaults()
	cfg.Dir = ResolveDir()

	if err := cfg.applyRuntimeFile(filepath.Join(cfg.Dir, RuntimeFile)); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyRuntimeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("path", path).Msg("No runtime.json, using defaults")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var rf runtimeFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if rf.Workers.MaxUploadBytes != nil && *rf.Workers.MaxUploadBytes > 0 {
		c.MaxUploadBytes = *rf.Workers.MaxUploadBytes
	}
	if rf.Workers.MaxChunks != nil && *rf.Workers.MaxChunks > 0 {
		c.MaxChunks = *rf.Workers.MaxChunks
	}
	rf.Workers.Transcribe.apply(&c.Transcribe)
	rf.Workers.Finalize.apply(&c.Finalize)
	rf.Workers.Draft.apply(&c.Draft)
	for kind, n := range rf.Draft.MinTranscriptLength {
		if n > 0 {
			c.MinTranscriptLength[kind] = n
		}
	}
	log.Debug().Str("path", path).Msg("Applied runtime.json")
	return nil
}

func (c *Config) applyEnv() error {
	c.Bucket = logging.EnvOrDefault("MEDIA_BUCKET_NAME", c.Bucket)
	c.S3Endpoint = logging.EnvOrDefault("S3_ENDPOINT", c.S3Endpoint)
	c.QueuePrefix = logging.EnvOrDefault("QUEUE_PREFIX", c.QueuePrefix)
	c.FFmpegPath = logging.EnvOrDefault("FFMPEG_PATH", c.FFmpegPath)
	c.TempDir = logging.EnvOrDefault("PIPELINE_TEMP_DIR", c.TempDir)
	c.STTProvider = logging.EnvOrDefault("STT_PROVIDER", c.STTProvider)
	c.WhisperModel = logging.EnvOrDefault("WHISPER_MODEL", c.WhisperModel)
	c.GeminiSTTModel = logging.EnvOrDefault("GEMINI_STT_MODEL", c.GeminiSTTModel)
	c.OpenAIBaseURL = logging.EnvOrDefault("OPENAI_BASE_URL", c.OpenAIBaseURL)

	var errs []error
	if v := os.Getenv("S3_FORCE_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, wrapEnv("S3_FORCE_PATH_STYLE", err))
		c.S3ForcePathStyle = b
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, wrapEnv("MAX_UPLOAD_BYTES", err))
		if err == nil {
			c.MaxUploadBytes = n
		}
	}
	errs = append(errs,
		envInt("PIPELINE_WORKERS", &c.Workers),
		envInt("MAX_SESSION_CHUNKS", &c.MaxChunks),
		envInt("TRANSCRIBE_MAX_RETRIES", &c.Transcribe.MaxRetries),
		envDuration("TRANSCRIBE_RETRY_DELAY", &c.Transcribe.Delay),
		envInt("FINALIZE_MAX_RETRIES", &c.Finalize.MaxRetries),
		envDuration("FINALIZE_RETRY_DELAY", &c.Finalize.Delay),
		envInt("DRAFT_MAX_RETRIES", &c.Draft.MaxRetries),
		envDuration("DRAFT_RETRY_DELAY", &c.Draft.Delay),
	)
	return errors.Join(errs...)
}

// Validate rejects settings no worker can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, errors.New("bucket name is empty"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes))
	}
	for name, r := range map[string]Retry{"transcribe": c.Transcribe, "finalize": c.Finalize, "draft": c.Draft} {
		if r.MaxRetries < 0 || r.Delay < 0 {
			errs = append(errs, fmt.Errorf("%s retry budget must not be negative", name))
		}
	}
	if c.MaxChunks <= 0 {
		errs = append(errs, fmt.Errorf("max chunks must be positive, got %d", c.MaxChunks))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	return errors.Join(errs...)
}

func wrapEnv(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return wrapEnv(name, err)
	}
	*dst = n
	return nil
}

// envDuration accepts Go durations ("15s", "2m") or a bare number of seconds.
func envDuration(name string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return wrapEnv(name, err)
	}
	*dst = d
	return nil
}
