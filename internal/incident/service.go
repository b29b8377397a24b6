package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shailesh-ag78/Inspecta/internal/audio"
	"github.com/shailesh-ag78/Inspecta/internal/checkpoint"
	"github.com/shailesh-ag78/Inspecta/internal/extract"
	"github.com/shailesh-ag78/Inspecta/internal/records"
	"github.com/shailesh-ag78/Inspecta/internal/storage"
	"github.com/shailesh-ag78/Inspecta/internal/tasks"
	"github.com/shailesh-ag78/Inspecta/internal/transcribe"
	"github.com/shailesh-ag78/Inspecta/internal/workflow"
	"go.uber.org/zap"
)

// Repository is the slice of the records store the service needs.
type Repository interface {
	CreateInspection(ctx context.Context, tenantID, siteID, inspectorID string) (records.Inspection, error)
	VerifyInspectionOwnership(ctx context.Context, tenantID, inspectionID string) (records.Inspection, error)
	CreateIncident(ctx context.Context, in records.Incident) (records.Incident, error)
	GetIncident(ctx context.Context, tenantID, incidentID string) (records.Incident, error)
	IncidentOwner(ctx context.Context, incidentID string) (string, error)
	UpdateIncidentAudio(ctx context.Context, tenantID, incidentID, audioURL string) error
	UpdateIncidentMetadata(ctx context.Context, tenantID, incidentID string, fields map[string]any) error
	AddTasks(ctx context.Context, tenantID, incidentID string, generated []tasks.Task) ([]records.TaskRecord, error)
	ListTasks(ctx context.Context, tenantID, incidentID string) ([]records.TaskRecord, error)
	UpdateTaskReview(ctx context.Context, tenantID, taskID, comments string, status tasks.Status) error
}

type MediaStore interface {
	Save(ctx context.Context, tenantID, source string) (storage.Media, error)
}

// Transcriber produces the merged transcript of an audio asset.
type Transcriber interface {
	Transcribe(ctx context.Context, asset audio.Asset) (transcribe.Result, error)
}

// NodeSettings tunes one workflow node.
type NodeSettings struct {
	Retry   workflow.RetryPolicy
	Timeout time.Duration
}

var defaultRetry = workflow.RetryPolicy{MaxAttempts: 3, BackoffBase: 2}

type Deps struct {
	Records     Repository
	Media       MediaStore
	Extractor   extract.Extractor
	Prober      audio.Prober
	Transcriber Transcriber
	Generator   tasks.Generator
	Checkpoints checkpoint.Store
	Logger      *zap.Logger

	// AudioDir receives the extracted audio, one file per incident.
	AudioDir string
	// Nodes overrides retry and timeout per node name. Nodes not listed use
	// three attempts with a base-2 backoff.
	Nodes map[string]NodeSettings
	// EngineOptions are passed to the workflow engine after the service's own.
	EngineOptions []workflow.Option
}

// Upload is one media submission.
type Upload struct {
	TenantID     string
	InspectionID string
	InspectorID  string
	SiteID       string
	// Source is a local path or an http(s) URL.
	Source string
	// Defer queues the run without executing it; a later Resume runs it.
	Defer bool
}

// Service ties the records store, the media store and the workflow engine
// together: it accepts uploads, runs them through the incident workflow and
// answers status queries.
type Service struct {
	records     Repository
	media       MediaStore
	extractor   extract.Extractor
	prober      audio.Prober
	transcriber Transcriber
	generator   tasks.Generator
	audioDir    string
	logger      *zap.Logger

	engine    *workflow.Engine
	projector *workflow.Projector
}

func New(d Deps) (*Service, error) {
	switch {
	case d.Records == nil:
		return nil, errors.New("records repository is required")
	case d.Media == nil:
		return nil, errors.New("media store is required")
	case d.Extractor == nil, d.Prober == nil, d.Transcriber == nil, d.Generator == nil:
		return nil, errors.New("extractor, prober, transcriber and generator are required")
	case d.Checkpoints == nil:
		return nil, errors.New("checkpoint store is required")
	case d.AudioDir == "":
		return nil, errors.New("audio directory is required")
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		records:     d.Records,
		media:       d.Media,
		extractor:   d.Extractor,
		prober:      d.Prober,
		transcriber: d.Transcriber,
		generator:   d.Generator,
		audioDir:    d.AudioDir,
		logger:      logger,
	}

	opts := append([]workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithPolicies(workflow.Policies{KeyGeneratedTasks: workflow.Append}),
	}, d.EngineOptions...)

	engine, err := workflow.New(d.Checkpoints, s.nodes(d.Nodes), opts...)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.projector = workflow.NewProjector(workflow.OwnerLookupFunc(s.incidentOwner), d.Checkpoints)
	return s, nil
}

func (s *Service) CreateInspection(ctx context.Context, tenantID, siteID, inspectorID string) (records.Inspection, error) {
	return s.records.CreateInspection(ctx, tenantID, siteID, inspectorID)
}

// Submit stores the upload, records the incident and queues its workflow.
// It returns as soon as the run is queued.
func (s *Service) Submit(ctx context.Context, up Upload) (records.Incident, error) {
	inspection, err := s.records.VerifyInspectionOwnership(ctx, up.TenantID, up.InspectionID)
	if err != nil {
		return records.Incident{}, err
	}

	media, err := s.media.Save(ctx, up.TenantID, up.Source)
	if err != nil {
		return records.Incident{}, fmt.Errorf("store media: %w", err)
	}

	siteID := up.SiteID
	if siteID == "" {
		siteID = inspection.SiteID
	}
	inspectorID := up.InspectorID
	if inspectorID == "" {
		inspectorID = inspection.InspectorID
	}

	// The queued checkpoint goes first, so an incident record never exists
	// without a run that status and resume can see.
	id := uuid.NewString()
	initial := workflow.State{
		KeyIncidentID: id,
		KeyTenantID:   up.TenantID,
		KeyVideoPath:  media.Path,
	}
	if err := s.engine.Enqueue(ctx, id, initial); err != nil {
		return records.Incident{}, fmt.Errorf("queue workflow: %w", err)
	}

	inc, err := s.records.CreateIncident(ctx, records.Incident{
		ID:           id,
		TenantID:     up.TenantID,
		InspectionID: up.InspectionID,
		InspectorID:  inspectorID,
		SiteID:       siteID,
		VideoURL:     media.Path,
		Metadata: map[string]any{
			"media_name":   media.Name,
			"media_bytes":  media.Size,
			"media_sha256": media.SHA256,
		},
	})
	if err != nil {
		if cerr := s.engine.Cancel(context.WithoutCancel(ctx), id); cerr != nil {
			s.logger.Warn("drop queued run", zap.String("incident", id), zap.Error(cerr))
		}
		return records.Incident{}, err
	}

	if !up.Defer {
		if err := s.engine.Start(ctx, id, initial); err != nil {
			return inc, fmt.Errorf("start workflow, incident %s stays queued for resume: %w", id, err)
		}
	}

	s.logger.Info("incident submitted",
		zap.String("incident", inc.ID),
		zap.String("tenant", inc.TenantID),
		zap.String("inspection", inc.InspectionID))
	return inc, nil
}

func (s *Service) Status(ctx context.Context, tenantID, incidentID string) (workflow.Status, error) {
	return s.projector.Status(ctx, tenantID, incidentID)
}

func (s *Service) Tasks(ctx context.Context, tenantID, incidentID string) ([]records.TaskRecord, error) {
	return s.records.ListTasks(ctx, tenantID, incidentID)
}

func (s *Service) ReviewTask(ctx context.Context, tenantID, taskID, comments string, status tasks.Status) error {
	return s.records.UpdateTaskReview(ctx, tenantID, taskID, comments, status)
}

// Resume restarts every unfinished run found in the checkpoint store.
func (s *Service) Resume(ctx context.Context) (int, error) {
	return s.engine.Resume(ctx)
}

func (s *Service) Retry(ctx context.Context, tenantID, incidentID string) error {
	if err := s.authorize(ctx, tenantID, incidentID); err != nil {
		return err
	}
	return s.engine.Retry(ctx, incidentID)
}

func (s *Service) Cancel(ctx context.Context, tenantID, incidentID string) error {
	if err := s.authorize(ctx, tenantID, incidentID); err != nil {
		return err
	}
	return s.engine.Cancel(ctx, incidentID)
}

// Active reports whether the incident's run is executing in this process.
func (s *Service) Active(incidentID string) bool {
	return s.engine.Active(incidentID)
}

func (s *Service) Wait() {
	s.engine.Wait()
}

func (s *Service) Shutdown(ctx context.Context) error {
	return s.engine.Shutdown(ctx)
}

func (s *Service) authorize(ctx context.Context, tenantID, incidentID string) error {
	owner, err := s.incidentOwner(ctx, incidentID)
	if err != nil {
		return err
	}
	if owner != tenantID {
		return fmt.Errorf("%w: %s", workflow.ErrNotFound, incidentID)
	}
	return nil
}

func (s *Service) incidentOwner(ctx context.Context, incidentID string) (string, error) {
	owner, err := s.records.IncidentOwner(ctx, incidentID)
	if errors.Is(err, records.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", workflow.ErrNotFound, incidentID)
	}
	return owner, err
}
