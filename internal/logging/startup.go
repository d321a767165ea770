package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects a process's identity, the resources it talks to and
// its effective configuration, then emits one structured event summarising
// the start-up state. Grepping for that single line answers "how was this
// worker configured" without reading the deployment.
type StartupLogger struct {
	name         string
	stage        string
	initDuration time.Duration

	buckets   map[string]string
	queues    map[string]string
	ssmParams map[string]string
	providers map[string]string
	features  map[string]bool
	config    map[string]string
}

// NewStartupLogger creates a StartupLogger for the named process
// (e.g. "pipeline-lambda", "pipeline-worker").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		buckets:   make(map[string]string),
		queues:    make(map[string]string),
		ssmParams: make(map[string]string),
		providers: make(map[string]string),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

// Stage records which pipeline stage this process consumes.
func (s *StartupLogger) Stage(stage string) *StartupLogger {
	s.stage = stage
	return s
}

// Bucket registers an object-store bucket.
func (s *StartupLogger) Bucket(label, name string) *StartupLogger {
	s.buckets[label] = name
	return s
}

// Queue registers a message queue by task name.
func (s *StartupLogger) Queue(task, name string) *StartupLogger {
	s.queues[task] = name
	return s
}

// SSMParam registers an SSM parameter path. Only the path is logged, never the value.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	s.ssmParams[label] = path
	return s
}

// Provider registers an external service provider (e.g. "stt" -> "openai").
func (s *StartupLogger) Provider(label, name string) *StartupLogger {
	s.providers[label] = name
	return s
}

// Feature registers a boolean feature flag.
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long start-up took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits a single structured INFO event with everything collected.
func (s *StartupLogger) Log() {
	evt := log.Info()

	process := zerolog.Dict().
		Str("name", s.name).
		Str("functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
		Str("region", os.Getenv("AWS_REGION")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", os.Getenv(LevelEnvVar))
	if s.stage != "" {
		process = process.Str("stage", s.stage)
	}
	evt = evt.Dict("process", process)

	resources := zerolog.Dict()
	hasResources := false
	for label, m := range map[string]map[string]string{
		"buckets":   s.buckets,
		"queues":    s.queues,
		"ssmParams": s.ssmParams,
		"providers": s.providers,
	} {
		if len(m) > 0 {
			resources = resources.Dict(label, dictFromMap(m))
			hasResources = true
		}
	}
	if hasResources {
		evt = evt.Dict("resources", resources)
	}

	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}

	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}

	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Pipeline process start-up complete")
}

// dictFromMap converts a map[string]string into a zerolog dictionary.
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
