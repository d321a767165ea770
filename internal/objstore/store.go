// Package objstore is the pipeline's view of durable blob storage. It holds
// raw uploads, per-chunk transcripts and final transcripts, and doubles as the
// coordination medium between workers: there is no other shared state.
//
// All writes are whole-object overwrites keyed by deterministic names, so
// repeating one is always safe.
package objstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Open when the object does not exist.
var ErrNotFound = errors.New("objstore: object not found")

// Text is the result of reading an optional text object. Found is false when
// the object does not exist; that is not an error.
type Text struct {
	Value string
	Found bool
}

// Missing is the Text for an absent object.
var Missing = Text{}

// Found wraps an existing object's contents.
func Found(s string) Text { return Text{Value: s, Found: true} }

// Store is implemented by S3 and Memory.
type Store interface {
	// Open streams an object. Size is the object's length as reported by the
	// store. Returns ErrNotFound (wrapped) when the object does not exist.
	Open(ctx context.Context, bucket, key string) (body io.ReadCloser, size int64, err error)

	// ReadText reads an optional UTF-8 object.
	ReadText(ctx context.Context, bucket, key string) (Text, error)

	// WriteText creates or replaces a UTF-8 object.
	WriteText(ctx context.Context, bucket, key, text string) error

	// List returns every key under prefix in lexicographic order.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}
