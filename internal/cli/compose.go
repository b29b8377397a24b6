package cli

import (
	"context"
	"fmt"

	"github.com/shailesh-ag78/Inspecta/internal/audio"
	"github.com/shailesh-ag78/Inspecta/internal/checkpoint"
	"github.com/shailesh-ag78/Inspecta/internal/config"
	"github.com/shailesh-ag78/Inspecta/internal/extract"
	"github.com/shailesh-ag78/Inspecta/internal/incident"
	"github.com/shailesh-ag78/Inspecta/internal/records"
	"github.com/shailesh-ag78/Inspecta/internal/storage"
	"github.com/shailesh-ag78/Inspecta/internal/tasks"
	"github.com/shailesh-ag78/Inspecta/internal/transcribe"
	"github.com/shailesh-ag78/Inspecta/internal/whisper"
)

// audioTranscriber is the chunked transcription pipeline as the standalone
// transcribe and plan commands use it.
type audioTranscriber interface {
	Plan(asset audio.Asset) ([]audio.Chunk, error)
	Transcribe(ctx context.Context, asset audio.Asset) (transcribe.Result, error)
}

// buildService wires the production incident service over the data
// directory. requireKeys is set by commands that execute workflow nodes.
func (a *appState) buildService(_ context.Context, requireKeys bool) (incidentService, error) {
	if requireKeys {
		if err := a.cfg.RequireKeys(); err != nil {
			return nil, err
		}
	}
	if err := a.layout.Ensure(); err != nil {
		return nil, err
	}

	repo, err := records.NewFileRepository(a.layout.Records)
	if err != nil {
		return nil, err
	}
	checkpoints, err := checkpoint.NewFileStore(a.layout.Checkpoints)
	if err != nil {
		return nil, err
	}
	pipeline, err := a.newPipeline()
	if err != nil {
		return nil, err
	}

	media := storage.NewLocal(a.layout.Media, a.log())
	media.NoProgress = !a.progressEnabled()

	nodes := make(map[string]incident.NodeSettings, len(a.cfg.Nodes))
	for name, n := range a.cfg.Nodes {
		nodes[name] = incident.NodeSettings{Retry: n.RetryPolicy, Timeout: n.Timeout}
	}

	return incident.New(incident.Deps{
		Records:     repo,
		Media:       media,
		Extractor:   extract.FFmpeg{Binary: a.cfg.Tools.FFmpeg, Logger: a.log()},
		Prober:      audio.FileProber{FFprobe: a.cfg.Tools.FFprobe},
		Transcriber: pipeline,
		Generator:   tasks.NewOpenAIGenerator(a.cfg.Tasks.BaseURL, a.cfg.Tasks.APIKey, a.cfg.Tasks.Model, a.log()),
		Checkpoints: checkpoints,
		Logger:      a.log(),
		AudioDir:    a.layout.Audio,
		Nodes:       nodes,
	})
}

func (a *appState) buildPipeline() (audioTranscriber, error) {
	if err := a.layout.Ensure(); err != nil {
		return nil, err
	}
	return a.newPipeline()
}

func (a *appState) newPipeline() (*transcribe.Pipeline, error) {
	provider, err := a.newProvider()
	if err != nil {
		return nil, err
	}

	t := a.cfg.Transcription
	transcriber := transcribe.NewChunkTranscriber(provider, a.log())
	transcriber.Language = t.Language
	transcriber.Translate = t.Translate
	switch {
	case t.Prompt != "":
		transcriber.Prompt = t.Prompt
	case t.Translate:
		transcriber.Prompt = transcribe.TranslatePrompt
	}

	slicer := audio.NewSlicer(a.layout.Chunks, a.cfg.Tools.FFmpeg)
	return transcribe.NewPipeline(transcriber, slicer, transcribe.Options{
		MaxChunkBytes:        t.MaxChunkBytes,
		Overlap:              t.Overlap,
		Concurrency:          t.Concurrency,
		RequestsPerMinute:    t.RequestsPerMinute,
		SkipSilence:          t.SkipSilence,
		SilenceThresholdDBFS: t.SilenceThresholdDBFS,
	}, a.log()), nil
}

func (a *appState) newProvider() (transcribe.Provider, error) {
	t := a.cfg.Transcription
	switch t.Provider {
	case config.ProviderWhisper:
		return whisper.NewEngine(t.WhisperModel, a.log())
	case config.ProviderGroq, config.ProviderOpenAI:
		baseURL := t.BaseURL
		if baseURL == "" {
			baseURL = transcribe.DefaultGroqBaseURL
			if t.Provider == config.ProviderOpenAI {
				baseURL = transcribe.DefaultOpenAIBaseURL
			}
		}
		opts := []transcribe.Option{transcribe.WithBaseURL(baseURL), transcribe.WithAPIKey(t.APIKey)}
		if t.Model != "" {
			opts = append(opts, transcribe.WithModel(t.Model))
		}
		return transcribe.NewHTTPProvider(opts...), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", t.Provider)
	}
}
