package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type chunkPayload struct {
	SessionID  string `json:"session_id"`
	ChunkIndex int    `json:"chunk_index"`
}

func TestNewEnvelopeAndRetry(t *testing.T) {
	env, err := NewEnvelope("transcribe.chunk", chunkPayload{SessionID: "s1", ChunkIndex: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(env.ID, "transcribe-chunk-") || env.Attempt != 0 {
		t.Errorf("unexpected envelope %+v", env)
	}
	next := env.Retry()
	if next.ID != env.ID || next.Attempt != 1 || env.Attempt != 0 {
		t.Errorf("retry must keep id and bump attempt: %+v -> %+v", env, next)
	}
	var p chunkPayload
	if err := next.Decode(&p); err != nil || p.ChunkIndex != 2 {
		t.Errorf("decode = %+v, %v", p, err)
	}
}

func TestRetryCapped_CountsPerReasonWithoutAliasing(t *testing.T) {
	env, err := NewEnvelope("draft.generate", map[string]string{"kind": "job"})
	if err != nil {
		t.Fatal(err)
	}
	first := env.Retry()
	second := first.RetryCapped("malformed_model_output")
	third := second.Retry()
	third.CappedRetries["malformed_model_output"]++

	if first.CappedRetries["malformed_model_output"] != 0 {
		t.Errorf("plain retry must not count a reason: %+v", first.CappedRetries)
	}
	if second.Attempt != 2 || second.CappedRetries["malformed_model_output"] != 1 {
		t.Errorf("unexpected capped retry %+v", second)
	}
	if third.Attempt != 3 || second.CappedRetries["malformed_model_output"] != 1 {
		t.Errorf("later retries must not share the counter map: %+v", second.CappedRetries)
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName("", "session.finalize"); got != "session-finalize" {
		t.Errorf("got %q", got)
	}
	if got := QueueName("prod-", "draft.generate"); got != "prod-draft-generate" {
		t.Errorf("got %q", got)
	}
}

func TestDecodeBody(t *testing.T) {
	env, _ := NewEnvelope("draft.generate", map[string]string{"kind": "job"})
	body, _ := json.Marshal(env)
	if got := DecodeBody("draft.generate", string(body)); got.ID != env.ID || got.Task != "draft.generate" {
		t.Errorf("round trip lost identity: %+v", got)
	}

	raw := DecodeBody("transcribe.single", `{"object_key":"a.mp4"}`)
	if raw.Task != "transcribe.single" || string(raw.Payload) != `{"object_key":"a.mp4"}` {
		t.Errorf("bare payload not kept: %+v", raw)
	}
	junk := DecodeBody("transcribe.single", "not json")
	if !json.Valid(junk.Payload) {
		t.Errorf("junk body must become valid JSON, got %s", junk.Payload)
	}
}

func TestMemory_FIFOAndHistory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env, _ := NewEnvelope("transcribe.chunk", chunkPayload{ChunkIndex: i})
		if err := m.Send(ctx, "transcribe.chunk", env, time.Duration(i)*time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if m.Len("transcribe.chunk") != 3 {
		t.Fatalf("expected 3 pending")
	}
	first, ok := m.Pop("transcribe.chunk")
	var p chunkPayload
	_ = first.Decode(&p)
	if !ok || p.ChunkIndex != 0 {
		t.Errorf("expected FIFO order, got %+v", p)
	}
	h := m.History()
	if len(h) != 3 || h[2].Delay != 2*time.Second {
		t.Errorf("unexpected history %+v", h)
	}
}

func TestMemory_ReceiveWaitsThenTimesOut(t *testing.T) {
	m := NewMemory()
	start := time.Now()
	msgs, err := m.Receive(context.Background(), "q", 1, 30*time.Millisecond)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty receive, got %v, %v", msgs, err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("expected receive to wait for the poll duration")
	}
}

func TestConsumer_HandlesAndStops(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	for i := 0; i < 4; i++ {
		_, _ = Publish(ctx, m, "draft.generate", map[string]int{"i": i})
	}
	c := &Consumer{
		Receiver: m,
		Queue:    "draft.generate",
		Workers:  2,
		Wait:     20 * time.Millisecond,
		Handler: func(context.Context, Envelope) error {
			if handled.Add(1) == 4 {
				cancel()
			}
			return nil
		},
	}
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	if handled.Load() != 4 {
		t.Errorf("handled %d messages, want 4", handled.Load())
	}
}

func TestDrain_StopsOnHandlerError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = Publish(ctx, m, "q", 1)
	_, _ = Publish(ctx, m, "q", 2)
	boom := errors.New("boom")
	n, err := Drain(ctx, m, "q", func(context.Context, Envelope) error { return boom })
	if n != 1 || !errors.Is(err, boom) {
		t.Errorf("Drain = %d, %v", n, err)
	}
}

type fakeSQS struct {
	urlCalls int
	sent     []*sqs.SendMessageInput
	deleted  []string
	messages []sqstypes.Message
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.urlCalls++
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/" + aws.ToString(in.QueueName))}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQS_SendResolvesAndCachesURL(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQS(fake, "dev-")
	ctx := context.Background()
	env, _ := NewEnvelope("session.finalize", map[string]any{"session_id": "s1", "total_chunks": 3})

	if err := q.Send(ctx, "session.finalize", env, 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := q.Send(ctx, "session.finalize", env.Retry(), time.Hour); err != nil {
		t.Fatal(err)
	}
	if fake.urlCalls != 1 {
		t.Errorf("expected cached queue URL, resolved %d times", fake.urlCalls)
	}
	if got := aws.ToString(fake.sent[0].QueueUrl); got != "https://sqs.local/dev-session-finalize" {
		t.Errorf("unexpected url %q", got)
	}
	if fake.sent[0].DelaySeconds != 10 || fake.sent[1].DelaySeconds != 900 {
		t.Errorf("unexpected delays %d, %d", fake.sent[0].DelaySeconds, fake.sent[1].DelaySeconds)
	}
	var decoded Envelope
	if err := json.Unmarshal([]byte(aws.ToString(fake.sent[1].MessageBody)), &decoded); err != nil || decoded.Attempt != 1 {
		t.Errorf("body = %+v, %v", decoded, err)
	}
}

func TestSQS_ReceiveAndDelete(t *testing.T) {
	env, _ := NewEnvelope("transcribe.single", map[string]string{"object_key": "a.mp4"})
	body, _ := json.Marshal(env)
	fake := &fakeSQS{messages: []sqstypes.Message{{Body: aws.String(string(body)), ReceiptHandle: aws.String("r-1")}}}
	q := NewSQS(fake, "")
	ctx := context.Background()

	msgs, err := q.Receive(ctx, "transcribe.single", 10, time.Minute)
	if err != nil || len(msgs) != 1 || msgs[0].Envelope.ID != env.ID {
		t.Fatalf("Receive = %+v, %v", msgs, err)
	}
	if err := q.Delete(ctx, "transcribe.single", msgs[0].Receipt); err != nil {
		t.Fatal(err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "r-1" {
		t.Errorf("unexpected deletes %v", fake.deleted)
	}
}
