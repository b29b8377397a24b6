package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var ErrExtraction = errors.New("audio extraction failed")

// Extractor pulls the audio track out of a media file.
type Extractor interface {
	Extract(ctx context.Context, inputPath, outputPath string) error
}

// FFmpeg converts any input ffmpeg can read into 16 kHz mono PCM WAV, the
// format the transcription providers and the silence gate expect.
type FFmpeg struct {
	Binary string
	Logger *zap.Logger
}

func (f FFmpeg) Extract(ctx context.Context, inputPath, outputPath string) error {
	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("%w: ffmpeg executable not found: %w", ErrExtraction, err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	// A retried or interrupted attempt must never leave a half written file
	// at outputPath.
	tempPath := outputPath + ".part"
	_ = os.Remove(tempPath)

	args := Args(inputPath, tempPath)
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.logger().Debug("running ffmpeg", zap.String("ffmpeg", binary), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: %w (%s)", ErrExtraction, err, lastLines(stderr.String(), 5))
	}

	if err := os.Rename(tempPath, outputPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("move extracted audio into place: %w", err)
	}
	return nil
}

// Args is the ffmpeg command line used for extraction.
func Args(inputPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		outputPath,
	}
}

func (f FFmpeg) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}
