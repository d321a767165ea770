// Package queue carries pipeline tasks between producers and workers.
//
// Every message body is an Envelope. Delivery is at-least-once: a handler may
// see the same envelope more than once and must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/fpang/voice-draft-pipeline/internal/jobs"
)

// Envelope wraps a task payload with its identity and attempt counter.
type Envelope struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`

	// CappedRetries counts earlier retries per failure reason, for reasons
	// that carry their own retry cap.
	CappedRetries map[string]int `json:"capped_retries,omitempty"`
}

// NewEnvelope marshals payload into a first-attempt envelope for task.
func NewEnvelope(task string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", task, err)
	}
	return Envelope{
		ID:         jobs.GenerateID(strings.ReplaceAll(task, ".", "-")),
		Task:       task,
		EnqueuedAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// Retry returns the envelope for the next attempt. The ID is kept so every
// attempt of one task shares it in logs.
func (e Envelope) Retry() Envelope {
	next := e
	next.Attempt++
	next.EnqueuedAt = time.Now().UTC()
	next.CappedRetries = maps.Clone(e.CappedRetries)
	return next
}

// RetryCapped is Retry that also counts one more retry against reason.
func (e Envelope) RetryCapped(reason string) Envelope {
	next := e.Retry()
	if next.CappedRetries == nil {
		next.CappedRetries = make(map[string]int)
	}
	next.CappedRetries[reason]++
	return next
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Task, err)
	}
	return nil
}

// Message is a received envelope plus the handle needed to acknowledge it.
type Message struct {
	Envelope Envelope
	Receipt  string
}

// Sender publishes envelopes. delay postpones visibility of the message.
type Sender interface {
	Send(ctx context.Context, queue string, env Envelope, delay time.Duration) error
}

// Receiver pulls messages and acknowledges them once handled.
type Receiver interface {
	Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, queue, receipt string) error
}

// Queue is both ends of a message broker.
type Queue interface {
	Sender
	Receiver
}

// Publish builds a first-attempt envelope and sends it to the queue named after task.
func Publish(ctx context.Context, s Sender, task string, payload any) (Envelope, error) {
	env, err := NewEnvelope(task, payload)
	if err != nil {
		return Envelope{}, err
	}
	if err := s.Send(ctx, task, env, 0); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
