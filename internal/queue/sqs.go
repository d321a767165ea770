package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
)

// MaxDelay is the longest delivery delay SQS supports.
const MaxDelay = 15 * time.Minute

// SQSAPI is the subset of *sqs.Client used by SQS.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS is a Queue backed by Amazon SQS. Logical queue names such as
// "transcribe.chunk" map to SQS queue names via QueueName.
type SQS struct {
	client SQSAPI
	prefix string

	mu   sync.Mutex
	urls map[string]string
}

// NewSQS returns an SQS queue. prefix is prepended to every queue name.
func NewSQS(client SQSAPI, prefix string) *SQS {
	return &SQS{client: client, prefix: prefix, urls: make(map[string]string)}
}

// QueueName maps a logical queue name to an SQS queue name. SQS names
// allow only alphanumerics, hyphens and underscores.
func QueueName(prefix, queue string) string {
	return prefix + strings.ReplaceAll(queue, ".", "-")
}

func (q *SQS) url(ctx context.Context, queue string) (string, error) {
	q.mu.Lock()
	u, ok := q.urls[queue]
	q.mu.Unlock()
	if ok {
		return u, nil
	}

	name := QueueName(q.prefix, queue)
	out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("resolve SQS queue %s: %w", name, err)
	}
	u = aws.ToString(out.QueueUrl)

	q.mu.Lock()
	q.urls[queue] = u
	q.mu.Unlock()
	log.Debug().Str("queue", queue).Str("url", u).Msg("Resolved SQS queue URL")
	return u, nil
}

// Send implements Sender. Delays beyond MaxDelay are clamped.
func (q *SQS) Send(ctx context.Context, queue string, env Envelope, delay time.Duration) error {
	u, err := q.url(ctx, queue)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if delay > MaxDelay {
		log.Warn().Dur("delay", delay).Dur("max", MaxDelay).Str("queue", queue).Msg("Clamping SQS delivery delay")
		delay = MaxDelay
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(u),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("SQS SendMessage %s: %w", queue, err)
	}
	log.Debug().
		Str("queue", queue).
		Str("taskId", env.ID).
		Int("attempt", env.Attempt).
		Dur("delay", delay).
		Msg("Task enqueued")
	return nil
}

// Receive implements Receiver using long polling. Messages that do not
// decode as an Envelope are returned with only Receipt and Payload set so the
// caller can dead-letter them.
func (q *SQS) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error) {
	u, err := q.url(ctx, queue)
	if err != nil {
		return nil, err
	}
	if max <= 0 || max > 10 {
		max = 10
	}
	if wait > 20*time.Second {
		wait = 20 * time.Second
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(u),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("SQS ReceiveMessage %s: %w", queue, err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			Envelope: DecodeBody(queue, aws.ToString(m.Body)),
			Receipt:  aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Delete implements Receiver.
func (q *SQS) Delete(ctx context.Context, queue, receipt string) error {
	u, err := q.url(ctx, queue)
	if err != nil {
		return err
	}
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(u),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		return fmt.Errorf("SQS DeleteMessage %s: %w", queue, err)
	}
	return nil
}

// DecodeBody parses a raw message body. A body that is not an envelope is
// kept verbatim as the payload of a task named after the queue, so the
// handler rejects it as invalid instead of the message being lost.
func DecodeBody(queue, body string) Envelope {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil || env.Task == "" {
		raw := json.RawMessage(body)
		if !json.Valid(raw) {
			quoted, _ := json.Marshal(body)
			raw = quoted
		}
		return Envelope{Task: queue, Payload: raw}
	}
	return env
}
