// Package llm sends one system prompt plus one user message to a chat model
// and returns the raw text answer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ErrEmptyResponse is returned when the model produced no content.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is a single-turn completion request.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// JSONMode asks the provider for a strict JSON object answer.
	JSONMode bool
}

// Completer produces a completion for a Request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Registry routes requests to a Completer by provider name.
type Registry struct {
	providers map[string]Completer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Completer)}
}

// Register adds or replaces the Completer for name.
func (r *Registry) Register(name string, c Completer) *Registry {
	r.providers[strings.ToLower(name)] = c
	return r
}

// Get returns the Completer for name. An empty name selects OpenAI.
func (r *Registry) Get(name string) (Completer, error) {
	if name == "" {
		name = ProviderOpenAI
	}
	c, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("llm: provider %q not configured", name)
	}
	return c, nil
}
