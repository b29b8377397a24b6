package incident

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shailesh-ag78/Inspecta/internal/records"
	"github.com/shailesh-ag78/Inspecta/internal/tasks"
	"github.com/shailesh-ag78/Inspecta/internal/workflow"
	"go.uber.org/zap"
)

const (
	NodeExtractAudio  = "extract_audio"
	NodeTranscribe    = "transcribe"
	NodeGenerateTasks = "generate_tasks"
)

// Workflow state keys.
const (
	KeyIncidentID     = "incident_id"
	KeyTenantID       = "tenant_id"
	KeyVideoPath      = "video_path"
	KeyAudioPath      = "audio_path"
	KeyTranscript     = "transcript"
	KeyLanguage       = "language"
	KeyDuration       = "duration"
	KeyFailedChunks   = "failed_chunks"
	KeyGeneratedTasks = "generated_tasks"
)

func (s *Service) nodes(settings map[string]NodeSettings) []workflow.Node {
	node := func(name string, run workflow.NodeFunc) workflow.Node {
		n := workflow.Node{Name: name, Run: run, Retry: defaultRetry}
		if cfg, ok := settings[name]; ok {
			n.Retry = cfg.Retry
			n.Timeout = cfg.Timeout
		}
		return n
	}
	return []workflow.Node{
		node(NodeExtractAudio, s.extractAudio),
		node(NodeTranscribe, s.transcribeAudio),
		node(NodeGenerateTasks, s.generateTasks),
	}
}

type runKeys struct {
	incidentID string
	tenantID   string
}

func keysFrom(state workflow.State) (runKeys, error) {
	k := runKeys{incidentID: state.String(KeyIncidentID), tenantID: state.String(KeyTenantID)}
	if k.incidentID == "" || k.tenantID == "" {
		return k, workflow.Permanent(errors.New("workflow state lacks incident or tenant id"))
	}
	return k, nil
}

func (s *Service) extractAudio(ctx context.Context, state workflow.State) (workflow.State, error) {
	k, err := keysFrom(state)
	if err != nil {
		return nil, err
	}
	video := state.String(KeyVideoPath)
	if video == "" {
		return nil, workflow.Permanent(errors.New("workflow state lacks a video path"))
	}

	dir := filepath.Join(s.audioDir, k.tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}
	out := filepath.Join(dir, k.incidentID+".wav")

	if err := s.extractor.Extract(ctx, video, out); err != nil {
		return nil, err
	}
	if err := s.records.UpdateIncidentAudio(ctx, k.tenantID, k.incidentID, out); err != nil {
		return nil, recordErr(err)
	}

	s.logger.Debug("audio extracted", zap.String("incident", k.incidentID), zap.String("audio", out))
	return workflow.State{KeyAudioPath: out}, nil
}

func (s *Service) transcribeAudio(ctx context.Context, state workflow.State) (workflow.State, error) {
	k, err := keysFrom(state)
	if err != nil {
		return nil, err
	}
	path := state.String(KeyAudioPath)
	if path == "" {
		return nil, workflow.Permanent(errors.New("workflow state lacks an audio path"))
	}

	asset, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe audio: %w", err)
	}

	result, err := s.transcriber.Transcribe(ctx, asset)
	if err != nil {
		return nil, err
	}

	failed := make([]int, 0, len(result.ChunkErrors))
	for _, ce := range result.ChunkErrors {
		failed = append(failed, ce.Index)
	}

	meta := map[string]any{
		KeyTranscript: result.Text,
		KeyLanguage:   result.Language,
		KeyDuration:   result.Duration,
		"segments":    len(result.Segments),
	}
	if len(failed) > 0 {
		meta[KeyFailedChunks] = failed
	}
	if err := s.records.UpdateIncidentMetadata(ctx, k.tenantID, k.incidentID, meta); err != nil {
		return nil, recordErr(err)
	}

	delta := workflow.State{
		KeyTranscript: result.Text,
		KeyLanguage:   result.Language,
		KeyDuration:   result.Duration,
	}
	if len(failed) > 0 {
		delta[KeyFailedChunks] = failed
	}
	return delta, nil
}

func (s *Service) generateTasks(ctx context.Context, state workflow.State) (workflow.State, error) {
	k, err := keysFrom(state)
	if err != nil {
		return nil, err
	}

	generated, err := s.generator.Generate(ctx, state.String(KeyTranscript))
	if err != nil {
		return nil, err
	}
	if len(generated) == 0 {
		s.logger.Info("no tasks found in transcript", zap.String("incident", k.incidentID))
		return workflow.State{KeyGeneratedTasks: []tasks.Task{}}, nil
	}

	if _, err := s.records.AddTasks(ctx, k.tenantID, k.incidentID, generated); err != nil {
		return nil, recordErr(err)
	}

	s.logger.Info("tasks generated", zap.String("incident", k.incidentID), zap.Int("tasks", len(generated)))
	return workflow.State{KeyGeneratedTasks: generated}, nil
}

// recordErr makes a vanished record final; retrying cannot bring it back.
func recordErr(err error) error {
	if errors.Is(err, records.ErrNotFound) {
		return workflow.Permanent(err)
	}
	return err
}
