package pipeline

import "github.com/fpang/voice-draft-pipeline/internal/config"

// Policy is the per-task retry budget.
type Policy map[string]config.Retry

// PolicyFrom builds a Policy from the configured stage budgets.
func PolicyFrom(cfg *config.Config) Policy {
	return Policy{
		TaskTranscribeSingle: cfg.Transcribe,
		TaskTranscribeChunk:  cfg.Transcribe,
		TaskSessionFinalize:  cfg.Finalize,
		TaskDraftGenerate:    cfg.Draft,
	}
}

// DefaultPolicy uses the built-in stage budgets.
func DefaultPolicy() Policy {
	return PolicyFrom(config.Defaults())
}

// For returns the budget for task. Unknown tasks get no retries.
func (p Policy) For(task string) config.Retry {
	if r, ok := p[task]; ok {
		return r
	}
	return config.Retry{}
}
