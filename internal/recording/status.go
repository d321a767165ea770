package recording

import (
	"context"
	"fmt"
	"sort"

	"github.com/fpang/voice-draft-pipeline/internal/objstore"
)

// Session transcript states reported by ReadStatus.
const (
	StateFinal   = "final"
	StatePartial = "partial"
	StatePending = "pending"
)

// Status is the read-only view of a session's transcript.
type Status struct {
	SessionID string `json:"session_id"`
	State     string `json:"status"`
	Text      string `json:"transcript"`
	Chunks    int    `json:"chunk_count"`
}

// ReadStatus reports the final transcript if it exists, else whatever chunk
// transcripts exist joined in index order, else pending. It never writes.
func ReadStatus(ctx context.Context, store objstore.Store, bucket, session string) (Status, error) {
	st := Status{SessionID: session, State: StatePending}

	final, err := store.ReadText(ctx, bucket, FinalTranscriptKey(session))
	if err != nil {
		return st, fmt.Errorf("read final transcript: %w", err)
	}
	if final.Found {
		st.State = StateFinal
		st.Text = final.Value
		return st, nil
	}

	keys, err := store.List(ctx, bucket, TranscriptPrefix(session))
	if err != nil {
		return st, fmt.Errorf("list chunk transcripts: %w", err)
	}

	type indexed struct {
		index int
		key   string
	}
	var chunks []indexed
	for _, k := range keys {
		if idx, ok := ParseChunkTranscriptIndex(k); ok {
			chunks = append(chunks, indexed{idx, k})
		}
	}
	if len(chunks) == 0 {
		return st, nil
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })

	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		got, err := store.ReadText(ctx, bucket, c.key)
		if err != nil {
			return st, fmt.Errorf("read %s: %w", c.key, err)
		}
		if got.Found {
			texts = append(texts, got.Value)
		}
	}

	st.State = StatePartial
	st.Text = JoinTranscripts(texts)
	st.Chunks = len(texts)
	return st, nil
}
