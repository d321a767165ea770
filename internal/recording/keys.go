// Package recording names and assembles the object-store keys of chunked
// recording sessions. A session has no row anywhere: its state is exactly the
// set of keys under audio-sessions/{session}/.
package recording

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Namespace is the key prefix every session lives under.
const Namespace = "audio-sessions"

// MaxSessionIDLength bounds a sanitized session id.
const MaxSessionIDLength = 128

const (
	chunkPrefix     = "chunk-"
	transcriptExt   = ".txt"
	finalObjectName = "final.txt"
)

// ErrInvalidSessionID is returned when nothing usable remains after sanitizing.
var ErrInvalidSessionID = errors.New("recording: invalid session id")

// SanitizeSessionID keeps only letters, digits, '-' and '_' from a
// producer-supplied id so it is safe to embed in a key.
func SanitizeSessionID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r < 0x80 && (r == '-' || r == '_' || ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')) {
			b.WriteRune(r)
		}
		if b.Len() == MaxSessionIDLength {
			break
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, raw)
	}
	return b.String(), nil
}

// SessionPrefix is the root of every key belonging to a sanitized session.
func SessionPrefix(session string) string {
	return Namespace + "/" + session + "/"
}

// TranscriptPrefix is the directory holding chunk and final transcripts.
func TranscriptPrefix(session string) string {
	return SessionPrefix(session) + "transcripts/"
}

// ChunkAudioKey names an uploaded chunk blob. ext may be given with or without the dot.
func ChunkAudioKey(session string, index int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "webm"
	}
	return fmt.Sprintf("%schunks/%s%06d.%s", SessionPrefix(session), chunkPrefix, index, ext)
}

// ChunkTranscriptKey names the transcript of one chunk.
func ChunkTranscriptKey(session string, index int) string {
	return fmt.Sprintf("%s%s%06d%s", TranscriptPrefix(session), chunkPrefix, index, transcriptExt)
}

// FinalTranscriptKey names the assembled transcript of a session.
func FinalTranscriptKey(session string) string {
	return TranscriptPrefix(session) + finalObjectName
}

// ParseChunkTranscriptIndex returns the chunk index encoded in a chunk
// transcript key, or false for any other key (including final.txt).
func ParseChunkTranscriptIndex(key string) (int, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, chunkPrefix) || !strings.HasSuffix(name, transcriptExt) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, chunkPrefix), transcriptExt)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
