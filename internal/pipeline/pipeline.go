package pipeline

import (
	"github.com/fpang/voice-draft-pipeline/internal/objstore"
	"github.com/fpang/voice-draft-pipeline/internal/queue"
	"github.com/fpang/voice-draft-pipeline/internal/stt"
)

// Deps are the collaborators shared by every worker. They are constructed
// once at process start.
type Deps struct {
	Store      objstore.Store
	Queue      queue.Sender
	Transcoder Preparer
	STT        stt.Transcriber
	Drafts     Drafter
	Bucket     string
	TempDir    string
	Policy     Policy
	MaxChunks  int
}

// New returns a Dispatcher with every task registered. Workers whose
// dependency is nil are left unregistered, so a process can serve a subset
// of stages.
func New(d Deps) *Dispatcher {
	disp := NewDispatcher(d.Queue, d.Policy)

	if d.STT != nil && d.Transcoder != nil {
		tw := &TranscribeWorker{
			Store:      d.Store,
			Queue:      d.Queue,
			Transcoder: d.Transcoder,
			STT:        d.STT,
			Bucket:     d.Bucket,
			TempDir:    d.TempDir,
		}
		disp.Register(TaskTranscribeSingle, tw.HandleSingle, nil)
		disp.Register(TaskTranscribeChunk, tw.HandleChunk, nil)
	}

	fw := &FinalizeWorker{Store: d.Store, Queue: d.Queue, Bucket: d.Bucket, MaxChunks: d.MaxChunks}
	disp.Register(TaskSessionFinalize, fw.Handle, nil)

	if d.Drafts != nil {
		dw := &DraftWorker{Drafts: d.Drafts, Queue: d.Queue}
		disp.Register(TaskDraftGenerate, dw.Handle, dw.OnTerminal)
	}
	return disp
}
