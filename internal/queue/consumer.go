package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Handler processes one envelope. A nil return acknowledges the message; an
// error leaves it on the queue for redelivery after its visibility timeout.
type Handler func(ctx context.Context, env Envelope) error

// Consumer long-polls one queue with a fixed number of concurrent pollers.
type Consumer struct {
	Receiver Receiver
	Queue    string
	Handler  Handler
	// Workers is the number of concurrent pollers (default 1).
	Workers int
	// Wait is the long-poll duration per receive (default 20s).
	Wait time.Duration
	// Backoff is the pause after a failed receive (default 5s).
	Backoff time.Duration
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}
	log.Info().Str("queue", c.Queue).Int("workers", workers).Msg("Consumer started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			for ctx.Err() == nil {
				c.poll(ctx, worker)
			}
			return nil
		})
	}
	err := g.Wait()
	log.Info().Str("queue", c.Queue).Msg("Consumer stopped")
	return err
}

// poll receives one batch and handles each message in turn.
func (c *Consumer) poll(ctx context.Context, worker int) {
	wait := c.Wait
	if wait <= 0 {
		wait = 20 * time.Second
	}
	msgs, err := c.Receiver.Receive(ctx, c.Queue, 1, wait)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		backoff := c.Backoff
		if backoff <= 0 {
			backoff = 5 * time.Second
		}
		log.Warn().Err(err).Str("queue", c.Queue).Dur("backoff", backoff).Msg("Receive failed")
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		return
	}
	for _, msg := range msgs {
		// A message that was received is handled to completion even when
		// shutdown has begun.
		hctx := context.WithoutCancel(ctx)
		if err := c.Handler(hctx, msg.Envelope); err != nil {
			log.Error().Err(err).Str("queue", c.Queue).Str("taskId", msg.Envelope.ID).Int("worker", worker).
				Msg("Handler failed, leaving message for redelivery")
			continue
		}
		if err := c.Receiver.Delete(hctx, c.Queue, msg.Receipt); err != nil {
			log.Warn().Err(err).Str("queue", c.Queue).Str("taskId", msg.Envelope.ID).Msg("Failed to delete handled message")
		}
	}
}

// Drain handles every pending message on a Memory queue until it is empty,
// including messages the handler itself enqueues. It returns the number handled.
func Drain(ctx context.Context, m *Memory, queue string, h Handler) (int, error) {
	n := 0
	for {
		env, ok := m.Pop(queue)
		if !ok {
			return n, nil
		}
		n++
		if err := h(ctx, env); err != nil {
			return n, err
		}
	}
}
