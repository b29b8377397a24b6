package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Asset is an extracted audio file. It is not modified once probed.
type Asset struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration"`
}

func (a Asset) IsWAV() bool {
	return strings.EqualFold(filepath.Ext(a.Path), ".wav")
}

type Prober interface {
	Probe(ctx context.Context, path string) (Asset, error)
}

// FileProber reads the duration from the WAV header when possible and falls
// back to ffprobe for other containers.
type FileProber struct {
	FFprobe string
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p FileProber) Probe(ctx context.Context, path string) (Asset, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Asset{}, fmt.Errorf("stat audio: %w", err)
	}
	if stat.IsDir() {
		return Asset{}, fmt.Errorf("audio path %s is a directory", path)
	}

	asset := Asset{Path: path, Size: stat.Size()}

	info, wavErr := ReadWAVInfo(path)
	if wavErr == nil {
		asset.Duration = info.Duration()
		return asset, nil
	}
	if asset.IsWAV() && !errors.Is(wavErr, ErrUnsupportedWAV) {
		return Asset{}, wavErr
	}

	duration, err := p.ffprobeDuration(ctx, path)
	if err != nil {
		return Asset{}, err
	}
	asset.Duration = duration
	return asset, nil
}

func (p FileProber) ffprobeDuration(ctx context.Context, path string) (time.Duration, error) {
	binary := p.FFprobe
	if binary == "" {
		binary = "ffprobe"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return 0, fmt.Errorf("ffprobe not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %q: %w", probe.Format.Duration, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
