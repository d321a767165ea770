package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Sent records one Send call on a Memory queue.
type Sent struct {
	Queue    string
	Envelope Envelope
	Delay    time.Duration
}

// Memory is an in-process Queue for tests and local runs. Delays are
// recorded but not waited for, so every pending message is receivable at once.
type Memory struct {
	mu      sync.Mutex
	pending map[string][]Envelope
	history []Sent
	seq     int
}

// NewMemory returns an empty Memory queue.
func NewMemory() *Memory {
	return &Memory{pending: make(map[string][]Envelope)}
}

// Send implements Sender.
func (m *Memory) Send(_ context.Context, queue string, env Envelope, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[queue] = append(m.pending[queue], env)
	m.history = append(m.history, Sent{Queue: queue, Envelope: env, Delay: delay})
	return nil
}

// Receive implements Receiver. Received messages are removed immediately.
// When nothing is pending it waits up to wait for a Send.
func (m *Memory) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error) {
	deadline := time.Now().Add(wait)
	for {
		if msgs := m.take(queue, max); len(msgs) > 0 || wait <= 0 || time.Now().After(deadline) {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *Memory) take(queue string, max int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.pending[queue]
	if max <= 0 || max > len(q) {
		max = len(q)
	}
	msgs := make([]Message, 0, max)
	for _, env := range q[:max] {
		m.seq++
		msgs = append(msgs, Message{Envelope: env, Receipt: fmt.Sprintf("mem-%d", m.seq)})
	}
	m.pending[queue] = q[max:]
	return msgs
}

// Delete implements Receiver.
func (m *Memory) Delete(context.Context, string, string) error { return nil }

// Pop removes and returns the oldest pending envelope on queue.
func (m *Memory) Pop(queue string) (Envelope, bool) {
	msgs, _ := m.Receive(context.Background(), queue, 1, 0)
	if len(msgs) == 0 {
		return Envelope{}, false
	}
	return msgs[0].Envelope, true
}

// Len returns the number of pending envelopes on queue.
func (m *Memory) Len(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[queue])
}

// History returns every Send call so far, oldest first.
func (m *Memory) History() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.history...)
}
