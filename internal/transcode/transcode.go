// Package transcode shrinks media that is too large for the speech-to-text
// service by extracting a mono 16 kHz speech-quality audio track with ffmpeg.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/metrics"
)

// DefaultCeiling is the speech-to-text upload limit (25 MiB).
const DefaultCeiling int64 = 25 * 1024 * 1024

// Audio settings for the extracted track.
const (
	SampleRate   = "16000"
	Channels     = "1"
	AudioBitrate = "64k"
	OutputExt    = ".mp3"
)

// MaxDiagnosticTail bounds how much ffmpeg output is kept in an error.
const MaxDiagnosticTail = 400

// ErrPayloadTooLarge is returned when the media is still over the ceiling
// after transcoding. Retrying cannot change that outcome.
var ErrPayloadTooLarge = errors.New("transcode: payload exceeds upload ceiling")

// FailureError is returned when ffmpeg exits unsuccessfully.
type FailureError struct {
	Err error
	// Tail is the end of ffmpeg's diagnostic output, at most MaxDiagnosticTail characters.
	Tail string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("ffmpeg failed: %v: %s", e.Err, e.Tail)
}

func (e *FailureError) Unwrap() error { return e.Err }

// RunFunc executes a command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Transcoder applies the size gate and, when needed, the ffmpeg extraction.
type Transcoder struct {
	ffmpegPath string
	ceiling    int64
	tempDir    string
	run        RunFunc
}

// Option customizes a Transcoder.
type Option func(*Transcoder)

// WithRunner replaces the command runner, e.g. in tests.
func WithRunner(run RunFunc) Option {
	return func(t *Transcoder) { t.run = run }
}

// WithTempDir places transcoded files in dir instead of the OS temp dir.
func WithTempDir(dir string) Option {
	return func(t *Transcoder) { t.tempDir = dir }
}

// New returns a Transcoder. A ceiling <= 0 selects DefaultCeiling and an
// empty ffmpegPath selects "ffmpeg" from PATH.
func New(ffmpegPath string, ceiling int64, opts ...Option) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	t := &Transcoder{ffmpegPath: ffmpegPath, ceiling: ceiling, run: execRun}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ceiling returns the configured byte ceiling.
func (t *Transcoder) Ceiling() int64 { return t.ceiling }

// Prepared describes the file to hand to the speech-to-text service.
type Prepared struct {
	Path       string
	Size       int64
	Transcoded bool
}

// Prepare passes inputPath through when it fits under the ceiling; otherwise
// it transcodes into a new temp file and re-checks the size. The returned
// cleanup removes only files Prepare created and is never nil on success.
func (t *Transcoder) Prepare(ctx context.Context, inputPath string) (Prepared, func(), error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return Prepared{}, nil, fmt.Errorf("stat input: %w", err)
	}
	inputSize := info.Size()
	if inputSize <= t.ceiling {
		log.Debug().Str("path", inputPath).Int64("bytes", inputSize).Int64("ceiling", t.ceiling).Msg("Media fits upload ceiling, no transcode")
		return Prepared{Path: inputPath, Size: inputSize}, func() {}, nil
	}

	out, err := os.CreateTemp(t.tempDir, "pipeline-audio-*"+OutputExt)
	if err != nil {
		return Prepared{}, nil, fmt.Errorf("create transcode output: %w", err)
	}
	outputPath := out.Name()
	out.Close()
	cleanup := func() {
		if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", outputPath).Msg("Failed to remove transcoded temp file")
		}
	}

	args := BuildArgs(inputPath, outputPath)
	log.Info().
		Str("input_path", inputPath).
		Int64("input_size_bytes", inputSize).
		Int64("ceiling_bytes", t.ceiling).
		Strs("args", args).
		Msg("Media over upload ceiling, extracting speech audio")

	start := time.Now()
	output, err := t.run(ctx, t.ffmpegPath, args...)
	elapsed := time.Since(start)
	if err != nil {
		cleanup()
		metrics.New().Stage("transcode").
			Metric("TranscodeMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
			Count("TranscodeErrors").
			Flush()
		return Prepared{}, nil, &FailureError{Err: err, Tail: Tail(string(output), MaxDiagnosticTail)}
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		cleanup()
		return Prepared{}, nil, fmt.Errorf("stat transcode output: %w", err)
	}
	outputSize := outInfo.Size()

	metrics.New().Stage("transcode").
		Metric("TranscodeMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("MediaFileSizeBytes", float64(inputSize), metrics.UnitBytes).
		Metric("TranscodedSizeBytes", float64(outputSize), metrics.UnitBytes).
		Count("Transcodes").
		Flush()

	if outputSize > t.ceiling {
		cleanup()
		return Prepared{}, nil, fmt.Errorf("%w: %d bytes after transcode, ceiling %d", ErrPayloadTooLarge, outputSize, t.ceiling)
	}

	log.Info().
		Str("output_path", outputPath).
		Int64("input_size_bytes", inputSize).
		Int64("output_size_bytes", outputSize).
		Dur("transcode_time", elapsed).
		Msg("Speech audio extracted")
	return Prepared{Path: outputPath, Size: outputSize, Transcoded: true}, cleanup, nil
}

// BuildArgs returns the ffmpeg arguments that drop video and write mono
// 16 kHz MP3 audio at a speech bitrate.
func BuildArgs(inputPath, outputPath string) []string {
	return []string{
		"-hide_banner", "-nostdin",
		"-y", "-i", inputPath,
		"-vn",
		"-ac", Channels,
		"-ar", SampleRate,
		"-b:a", AudioBitrate,
		outputPath,
	}
}

// Tail returns the last n characters of s, trimmed.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
