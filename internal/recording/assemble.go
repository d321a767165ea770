package recording

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/objstore"
)

// ErrInvalidTotal is returned for a finalize request whose total_chunks is
// below 1 or above the session chunk limit.
var ErrInvalidTotal = errors.New("recording: invalid total_chunks")

// DefaultMaxChunks is the default upper bound on total_chunks.
const DefaultMaxChunks = 10000

// maxListedMissing bounds the indices spelled out in MissingChunksError.Error.
const maxListedMissing = 20

// CheckTotal validates total_chunks. maxChunks <= 0 means no upper bound.
func CheckTotal(total, maxChunks int) error {
	if total < 1 {
		return fmt.Errorf("%w: got %d, must be at least 1", ErrInvalidTotal, total)
	}
	if maxChunks > 0 && total > maxChunks {
		return fmt.Errorf("%w: got %d, limit is %d", ErrInvalidTotal, total, maxChunks)
	}
	return nil
}

// MissingChunksError reports the chunk indices that have no transcript yet.
type MissingChunksError struct {
	SessionID string
	Total     int
	Missing   []int
}

func (e *MissingChunksError) Error() string {
	listed, more := e.Missing, ""
	if len(listed) > maxListedMissing {
		listed, more = listed[:maxListedMissing], fmt.Sprintf(" and %d more", len(e.Missing)-maxListedMissing)
	}
	return fmt.Sprintf("session %s: %d of %d chunk transcripts missing %v%s",
		e.SessionID, len(e.Missing), e.Total, listed, more)
}

// Assembly is the outcome of a successful finalize.
type Assembly struct {
	Text string
	// Reused is true when final.txt already existed and chunks were not read.
	Reused bool
}

// Assemble joins the transcripts of chunks 0..total-1 in index order and
// writes them as the session's final transcript. Callers bound total with
// CheckTotal first.
//
// If the final transcript already exists it is returned untouched. If any
// chunk transcript is missing nothing is written and a *MissingChunksError
// listing every missing index is returned.
func Assemble(ctx context.Context, store objstore.Store, bucket, session string, total int) (Assembly, error) {
	if err := CheckTotal(total, 0); err != nil {
		return Assembly{}, err
	}

	finalKey := FinalTranscriptKey(session)
	existing, err := store.ReadText(ctx, bucket, finalKey)
	if err != nil {
		return Assembly{}, fmt.Errorf("read final transcript: %w", err)
	}
	if existing.Found {
		log.Info().Str("sessionId", session).Msg("Final transcript already assembled")
		return Assembly{Text: existing.Value, Reused: true}, nil
	}

	texts := make([]string, 0, total)
	var missing []int
	for i := 0; i < total; i++ {
		got, err := store.ReadText(ctx, bucket, ChunkTranscriptKey(session, i))
		if err != nil {
			return Assembly{}, fmt.Errorf("read chunk %d transcript: %w", i, err)
		}
		if !got.Found {
			missing = append(missing, i)
			continue
		}
		texts = append(texts, got.Value)
	}
	if len(missing) > 0 {
		return Assembly{}, &MissingChunksError{SessionID: session, Total: total, Missing: missing}
	}

	text := JoinTranscripts(texts)
	if err := store.WriteText(ctx, bucket, finalKey, text); err != nil {
		return Assembly{}, fmt.Errorf("write final transcript: %w", err)
	}
	log.Info().
		Str("sessionId", session).
		Int("chunks", total).
		Int("chars", len(text)).
		Msg("Final transcript assembled")
	return Assembly{Text: text}, nil
}

// JoinTranscripts joins the non-blank texts with newlines, trimming each.
func JoinTranscripts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
