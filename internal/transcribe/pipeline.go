package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/audio"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var ErrAllChunksFailed = errors.New("all chunks failed to transcribe")

const (
	DefaultMaxChunkBytes = 25 * 1024 * 1024
	DefaultOverlap       = 5 * time.Second
	DefaultConcurrency   = 4
)

type Options struct {
	MaxChunkBytes int64
	Overlap       time.Duration
	// Concurrency bounds in-flight provider calls. Zero uses DefaultConcurrency.
	Concurrency int
	// RequestsPerMinute throttles provider calls across all transcriptions
	// sharing the pipeline. Zero disables throttling.
	RequestsPerMinute int
	// SkipSilence returns an empty transcript for WAV audio whose level stays
	// under SilenceThresholdDBFS, without calling the provider.
	SkipSilence          bool
	SilenceThresholdDBFS float64
}

// Pipeline plans an asset into chunks, transcribes them concurrently and
// merges the results in chunk order.
type Pipeline struct {
	transcriber *ChunkTranscriber
	slicer      audio.Slicer
	opts        Options
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func NewPipeline(transcriber *ChunkTranscriber, slicer audio.Slicer, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxChunkBytes == 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	p := &Pipeline{
		transcriber: transcriber,
		slicer:      slicer,
		opts:        opts,
		logger:      logger,
	}
	if opts.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}
	return p
}

func (p *Pipeline) Plan(asset audio.Asset) ([]audio.Chunk, error) {
	return audio.Plan(asset.Size, asset.Duration, p.opts.MaxChunkBytes, p.opts.Overlap)
}

// Transcribe returns the merged transcript of asset. Individual chunk failures
// are reported in Result.ChunkErrors; an error is returned only when planning
// fails, the context ends, or no chunk succeeded.
func (p *Pipeline) Transcribe(ctx context.Context, asset audio.Asset) (Result, error) {
	if p.opts.SkipSilence && asset.IsWAV() {
		silent, metrics, err := audio.IsSilentWAV(asset.Path, p.opts.SilenceThresholdDBFS)
		switch {
		case err != nil:
			p.logger.Debug("silence check skipped", zap.String("path", asset.Path), zap.Error(err))
		case silent:
			p.logger.Info("audio is silent, skipping transcription",
				zap.String("path", asset.Path),
				zap.Float64("rms_dbfs", metrics.RMSdBFS),
				zap.Float64("peak_dbfs", metrics.PeakdBFS))
			return Result{Language: defaultLanguage}, nil
		}
	}

	chunks, err := p.Plan(asset)
	if err != nil {
		return Result{}, err
	}

	p.logger.Info("transcribing audio",
		zap.String("path", asset.Path),
		zap.Int64("bytes", asset.Size),
		zap.Duration("duration", asset.Duration),
		zap.Int("chunks", len(chunks)),
		zap.Int("max_concurrent", p.opts.Concurrency))

	results := make([]ChunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for _, chunk := range chunks {
		g.Go(func() error {
			if p.limiter != nil {
				if err := p.limiter.Wait(gctx); err != nil {
					return fmt.Errorf("rate limiter: %w", err)
				}
			}

			path, err := p.slicer.Slice(gctx, asset, chunk)
			if err != nil {
				p.logger.Warn("slice chunk failed", zap.Int("chunk", chunk.Index), zap.Error(err))
				results[chunk.Index] = ChunkResult{Index: chunk.Index, Err: fmt.Errorf("slice chunk %d: %w", chunk.Index, err)}
				return nil
			}

			results[chunk.Index] = p.transcriber.Transcribe(gctx, chunk, path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	merged := Merge(results)
	if len(merged.ChunkErrors) == len(chunks) {
		return Result{}, fmt.Errorf("%w: %w", ErrAllChunksFailed, merged.ChunkErrors[0].Err)
	}
	if len(merged.ChunkErrors) > 0 {
		p.logger.Warn("transcript has gaps",
			zap.Int("failed_chunks", len(merged.ChunkErrors)),
			zap.Int("chunks", len(chunks)))
	}

	if len(merged.TextOnlyChunks) > 0 {
		p.logger.Warn("overlap kept in transcript text, provider returned no segments",
			zap.Ints("chunks", merged.TextOnlyChunks),
			zap.Duration("overlap", p.opts.Overlap))
	}

	return merged, nil
}
