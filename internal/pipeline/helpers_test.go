package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/fpang/voice-draft-pipeline/internal/config"
	"github.com/fpang/voice-draft-pipeline/internal/draft"
	"github.com/fpang/voice-draft-pipeline/internal/llm"
	"github.com/fpang/voice-draft-pipeline/internal/metrics"
	"github.com/fpang/voice-draft-pipeline/internal/objstore"
	"github.com/fpang/voice-draft-pipeline/internal/queue"
	"github.com/fpang/voice-draft-pipeline/internal/transcode"
)

const testBucket = "media"

// echoSTT "transcribes" a file by returning its contents, so test audio
// objects are just the text they should produce.
type echoSTT struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	languages []string
}

func (e *echoSTT) Name() string { return "echo" }

func (e *echoSTT) Transcribe(_ context.Context, path, language string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.languages = append(e.languages, language)
	if e.calls <= e.failFirst {
		return "", errors.New("503 service unavailable")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

type stubCompleter struct {
	mu      sync.Mutex
	calls   int
	answers []string
	// failOn maps a 1-based call number to the error that call returns.
	failOn map[int]error
}

func (s *stubCompleter) Complete(context.Context, llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.failOn[s.calls]; err != nil {
		return "", err
	}
	if len(s.answers) == 0 {
		return `{"title":"Line cook","description":"Evening shifts in a bistro.","keywords":["cooking"]}`, nil
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

type harness struct {
	store *objstore.Memory
	queue *queue.Memory
	stt   *echoSTT
	llm   *stubCompleter
	disp  *Dispatcher
	tmp   string
}

// newHarness wires every worker against in-memory collaborators. ffmpeg is
// never expected to run: test objects are far below the ceiling.
func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Cleanup(metrics.SetOutput(&bytes.Buffer{}))

	prompts, err := draft.ParsePrompts([]byte(`{"job":{"system":"Write a job posting."},"profile":{"system":"Write a profile."}}`))
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		store: objstore.NewMemory(),
		queue: queue.NewMemory(),
		stt:   &echoSTT{},
		llm:   &stubCompleter{},
		tmp:   t.TempDir(),
	}
	noFFmpeg := func(context.Context, string, ...string) ([]byte, error) {
		t.Error("ffmpeg must not run for small objects")
		return nil, errors.New("unexpected ffmpeg call")
	}
	h.disp = New(Deps{
		Store:      h.store,
		Queue:      h.queue,
		Transcoder: transcode.New("ffmpeg", 0, transcode.WithRunner(noFFmpeg), transcode.WithTempDir(h.tmp)),
		STT:        h.stt,
		Drafts:     draft.NewGenerator(prompts, llm.NewRegistry().Register(llm.ProviderOpenAI, h.llm), nil),
		Bucket:     testBucket,
		TempDir:    h.tmp,
		Policy:     PolicyFrom(config.Defaults()),
	})
	return h
}

func (h *harness) publish(t *testing.T, task string, payload any) queue.Envelope {
	t.Helper()
	env, err := queue.Publish(context.Background(), h.queue, task, payload)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

// step handles exactly one pending envelope on task's queue.
func (h *harness) step(t *testing.T, task string) queue.Envelope {
	t.Helper()
	env, ok := h.queue.Pop(task)
	if !ok {
		t.Fatalf("no pending %s task", task)
	}
	if err := h.disp.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle(%s): %v", task, err)
	}
	return env
}

// drain handles tasks until the queue is empty, retries included.
func (h *harness) drain(t *testing.T, task string) int {
	t.Helper()
	n, err := queue.Drain(context.Background(), h.queue, task, h.disp.Handle)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func (h *harness) deadLetters(t *testing.T) []DeadLetter {
	t.Helper()
	var out []DeadLetter
	for h.queue.Len(QueueDeadLetter) > 0 {
		env, _ := h.queue.Pop(QueueDeadLetter)
		var dl DeadLetter
		if err := env.Decode(&dl); err != nil {
			t.Fatal(err)
		}
		out = append(out, dl)
	}
	return out
}

func (h *harness) results(t *testing.T) []DraftResult {
	t.Helper()
	var out []DraftResult
	for h.queue.Len(QueueDraftResults) > 0 {
		env, _ := h.queue.Pop(QueueDraftResults)
		var r DraftResult
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			t.Fatal(err)
		}
		out = append(out, r)
	}
	return out
}

func (h *harness) noTempFilesLeft(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected temp dir empty, found %d entries", len(entries))
	}
}

func intPtr(i int) *int { return &i }
