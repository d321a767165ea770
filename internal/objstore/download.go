package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ErrEmptyObject is returned when a downloaded object has no content.
var ErrEmptyObject = errors.New("objstore: object is empty")

// DefaultTempExt is used for keys without an extension. Transcription
// services infer the format from the file name.
const DefaultTempExt = ".mp4"

// DownloadToTemp copies an object into a new temporary file inside dir (the
// OS temp dir when empty) keeping the key's extension (DefaultTempExt when it
// has none), and returns its path,
// size and a cleanup func that removes it. On error nothing is left behind.
func DownloadToTemp(ctx context.Context, store Store, bucket, key, dir string) (path string, size int64, cleanup func(), err error) {
	body, _, err := store.Open(ctx, bucket, key)
	if err != nil {
		return "", 0, nil, err
	}
	defer body.Close()

	ext := filepath.Ext(key)
	if ext == "" {
		ext = DefaultTempExt
	}
	tmp, err := os.CreateTemp(dir, "pipeline-dl-*"+ext)
	if err != nil {
		return "", 0, nil, fmt.Errorf("create temp file: %w", err)
	}
	path = tmp.Name()
	cleanup = func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", path).Msg("Failed to remove downloaded temp file")
		}
	}

	size, err = io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", 0, nil, fmt.Errorf("download %s: %w", key, err)
	}
	if size == 0 {
		cleanup()
		return "", 0, nil, fmt.Errorf("%s: %w", key, ErrEmptyObject)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Str("path", path).Int64("bytes", size).Msg("Object downloaded")
	return path, size, cleanup, nil
}
