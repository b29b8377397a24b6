package transcribe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/shailesh-ag78/Inspecta/internal/audio"
	"go.uber.org/zap"
)

// DefaultPrompt keeps mixed-language inspection speech verbatim.
const DefaultPrompt = "Transcribe this inspection exactly as spoken. Keep original English, Hindi, and Marathi words verbatim."

// TranslatePrompt asks for an English rendering instead.
const TranslatePrompt = "Translate this site inspection into professional English. Marathi and Hindi words should be translated to English."

// ChunkTranscriber makes exactly one provider call per chunk and never fails:
// errors come back tagged on the ChunkResult.
type ChunkTranscriber struct {
	Provider  Provider
	Prompt    string
	Language  string
	Translate bool
	Logger    *zap.Logger
}

func NewChunkTranscriber(provider Provider, logger *zap.Logger) *ChunkTranscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChunkTranscriber{Provider: provider, Prompt: DefaultPrompt, Logger: logger}
}

// Transcribe sends the audio at path for chunk and rebases the returned
// timestamps onto the asset timeline. An ephemeral chunk file is removed
// before returning.
func (t *ChunkTranscriber) Transcribe(ctx context.Context, chunk audio.Chunk, path string) ChunkResult {
	logger := t.logger().With(zap.Int("chunk", chunk.Index))
	if chunk.Ephemeral {
		defer func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn("remove chunk file", zap.String("path", path), zap.Error(err))
			}
		}()
	}

	if t.Provider == nil {
		return ChunkResult{Index: chunk.Index, Err: errors.New("no transcription provider configured")}
	}

	prompt := t.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
		if t.Translate {
			prompt = TranslatePrompt
		}
	}

	logger.Debug("transcribing chunk",
		zap.Duration("start", chunk.Start),
		zap.Duration("end", chunk.End),
		zap.String("path", path))

	resp, err := t.Provider.Transcribe(ctx, Request{
		Path:      path,
		Prompt:    prompt,
		Language:  t.Language,
		Translate: t.Translate,
	})
	if err != nil {
		logger.Warn("chunk transcription failed", zap.Error(err))
		return ChunkResult{Index: chunk.Index, Err: fmt.Errorf("transcribe chunk %d: %w", chunk.Index, err)}
	}

	offset := chunk.StartOffsetSec()
	segments := make([]Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, Segment{
			Start: roundMillis(seg.Start + offset),
			End:   roundMillis(seg.End + offset),
			Text:  seg.Text,
		})
	}

	return ChunkResult{
		Index:    chunk.Index,
		Segments: segments,
		Text:     resp.Text,
		Language: resp.Language,
	}
}

func (t *ChunkTranscriber) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func roundMillis(seconds float64) float64 {
	return math.Round(seconds*1000) / 1000
}
