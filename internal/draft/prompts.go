package draft

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Response format modes for PromptConfig.ResponseFormat.
const (
	FormatJSONObject = "json_object"
	FormatText       = "text"
)

// Defaults applied when prompts.json leaves a field out.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.45
	DefaultMaxTokens   = 480
)

// PromptConfig holds the generation settings for one draft kind.
type PromptConfig struct {
	System         string   `json:"system"`
	Model          string   `json:"model"`
	Temperature    *float32 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens"`
	ResponseFormat string   `json:"response_format"`
	Provider       string   `json:"provider"`
}

// JSONMode reports whether the provider should be asked for a strict JSON object.
func (p PromptConfig) JSONMode() bool {
	return p.ResponseFormat == "" || p.ResponseFormat == FormatJSONObject
}

// SystemPrompt returns the system prompt with the optional language instruction.
func (p PromptConfig) SystemPrompt(language string) string {
	if language = strings.TrimSpace(language); language != "" {
		return p.System + " Respond in " + language + "."
	}
	return p.System
}

// Prompts maps each draft kind to its configuration. It is loaded once at
// process start and shared read-only by every generation.
type Prompts map[Kind]PromptConfig

// LoadPrompts reads and validates prompts.json.
func LoadPrompts(path string) (Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read prompts %s: %v", ErrConfig, path, err)
	}
	return ParsePrompts(data)
}

// ParsePrompts decodes prompts JSON of the form {"job": {...}, "profile": {...}}.
// Both kinds must be present with a system prompt.
func ParsePrompts(data []byte) (Prompts, error) {
	var raw map[string]PromptConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed prompts: %v", ErrConfig, err)
	}
	prompts := make(Prompts, len(Kinds))
	for _, kind := range Kinds {
		cfg, ok := raw[string(kind)]
		if !ok {
			return nil, fmt.Errorf("%w: no prompt configured for kind %q", ErrConfig, kind)
		}
		cfg.System = strings.TrimSpace(cfg.System)
		if cfg.System == "" {
			return nil, fmt.Errorf("%w: empty system prompt for kind %q", ErrConfig, kind)
		}
		switch cfg.ResponseFormat {
		case "", FormatJSONObject, FormatText:
		default:
			return nil, fmt.Errorf("%w: unknown response_format %q for kind %q", ErrConfig, cfg.ResponseFormat, kind)
		}
		if cfg.Model == "" {
			cfg.Model = DefaultModel
		}
		if cfg.Temperature == nil {
			t := float32(DefaultTemperature)
			cfg.Temperature = &t
		}
		if cfg.MaxTokens <= 0 {
			cfg.MaxTokens = DefaultMaxTokens
		}
		prompts[kind] = cfg
	}
	return prompts, nil
}
