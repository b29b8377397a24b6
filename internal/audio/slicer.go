package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// Slicer materializes the audio of one chunk as a file. Non-ephemeral chunks
// resolve to the asset itself.
type Slicer interface {
	Slice(ctx context.Context, asset Asset, chunk Chunk) (string, error)
}

// FormatSlicer cuts WAV assets by byte range and everything else with ffmpeg.
type FormatSlicer struct {
	WAV    WAVSlicer
	FFmpeg FFmpegSlicer
}

func NewSlicer(tempDir, ffmpegBinary string) FormatSlicer {
	return FormatSlicer{
		WAV:    WAVSlicer{Dir: tempDir},
		FFmpeg: FFmpegSlicer{Binary: ffmpegBinary, Dir: tempDir},
	}
}

func (s FormatSlicer) Slice(ctx context.Context, asset Asset, chunk Chunk) (string, error) {
	if asset.IsWAV() {
		return s.WAV.Slice(ctx, asset, chunk)
	}
	return s.FFmpeg.Slice(ctx, asset, chunk)
}

type WAVSlicer struct {
	Dir string
}

func (s WAVSlicer) Slice(_ context.Context, asset Asset, chunk Chunk) (string, error) {
	if !chunk.Ephemeral {
		return asset.Path, nil
	}

	src, err := os.Open(asset.Path)
	if err != nil {
		return "", fmt.Errorf("open wav: %w", err)
	}
	defer src.Close()

	info, err := readWAVInfo(src)
	if err != nil {
		return "", err
	}

	from := alignedOffset(chunk.Start.Seconds(), info)
	to := min(alignedOffset(chunk.End.Seconds(), info), info.DataSize)
	if to <= from {
		return "", fmt.Errorf("chunk %d is empty (bytes %d-%d)", chunk.Index, from, to)
	}

	out, err := os.CreateTemp(s.Dir, fmt.Sprintf("chunk-%03d-*.wav", chunk.Index))
	if err != nil {
		return "", fmt.Errorf("create chunk file: %w", err)
	}

	success := false
	defer func() {
		_ = out.Close()
		if !success {
			_ = os.Remove(out.Name())
		}
	}()

	if err := writeWAVHeader(out, info, to-from); err != nil {
		return "", fmt.Errorf("write chunk header: %w", err)
	}
	section := io.NewSectionReader(src, info.DataOffset+from, to-from)
	if _, err := io.Copy(out, section); err != nil {
		return "", fmt.Errorf("copy chunk %d: %w", chunk.Index, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close chunk file: %w", err)
	}

	success = true
	return out.Name(), nil
}

func alignedOffset(seconds float64, info WAVInfo) int64 {
	offset := int64(seconds * float64(info.ByteRate))
	return offset - offset%int64(info.BlockAlign)
}

type FFmpegSlicer struct {
	Binary string
	Dir    string
}

func (s FFmpegSlicer) Slice(ctx context.Context, asset Asset, chunk Chunk) (string, error) {
	if !chunk.Ephemeral {
		return asset.Path, nil
	}

	binary := s.Binary
	if binary == "" {
		binary = "ffmpeg"
	}

	reserved, err := os.CreateTemp(s.Dir, fmt.Sprintf("chunk-%03d-*.mp3", chunk.Index))
	if err != nil {
		return "", fmt.Errorf("create chunk file: %w", err)
	}
	out := reserved.Name()
	_ = reserved.Close()

	cmd := exec.CommandContext(ctx, binary,
		"-y",
		"-ss", strconv.FormatFloat(chunk.Start.Seconds(), 'f', 3, 64),
		"-t", strconv.FormatFloat(chunk.Length().Seconds(), 'f', 3, 64),
		"-i", asset.Path,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", "128k",
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("ffmpeg slice chunk %d failed: %w\n%s", chunk.Index, err, string(output))
	}
	return out, nil
}
