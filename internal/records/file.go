package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/shailesh-ag78/Inspecta/internal/tasks"
)

// taskNamespace seeds deterministic task ids, so storing the same generated
// batch twice updates rather than duplicates.
var taskNamespace = uuid.MustParse("6f1c7a52-9d8e-4b1f-a3c2-5e0d7b9f4a11")

type document struct {
	Inspections map[string]Inspection `json:"inspections"`
	Incidents   map[string]Incident   `json:"incidents"`
	Tasks       map[string]TaskRecord `json:"tasks"`
}

// lockRetry is how often a writer polls for the records lock held by
// another process.
const lockRetry = 10 * time.Millisecond

// FileRepository stores business records in one JSON document. Every call
// re-reads the file, and every write holds an exclusive lock on <path>.lock
// from load to rename, so several inspecta processes sharing a data
// directory never lose each other's writes. Every query is scoped to a
// tenant.
type FileRepository struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	lock *flock.Flock
}

func NewFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create records directory: %w", err)
	}
	return &FileRepository{path: path, now: time.Now, lock: flock.New(path + ".lock")}, nil
}

func (r *FileRepository) load() (document, error) {
	doc := document{
		Inspections: map[string]Inspection{},
		Incidents:   map[string]Incident{},
		Tasks:       map[string]TaskRecord{},
	}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read records: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decode records %s: %w", r.path, err)
	}
	if doc.Inspections == nil {
		doc.Inspections = map[string]Inspection{}
	}
	if doc.Incidents == nil {
		doc.Incidents = map[string]Incident{}
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]TaskRecord{}
	}
	return doc, nil
}

func (r *FileRepository) save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".records-*.tmp")
	if err != nil {
		return fmt.Errorf("create records temp file: %w", err)
	}
	success := false
	defer func() {
		_ = tmp.Close()
		if !success {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close records: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	success = true
	return nil
}

func (r *FileRepository) read(ctx context.Context, fn func(doc document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (r *FileRepository) update(ctx context.Context, fn func(doc document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	locked, err := r.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock records: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock records: %s is held", r.lock.Path())
	}
	defer func() { _ = r.lock.Unlock() }()

	doc, err := r.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return r.save(doc)
}

func (r *FileRepository) CreateInspection(ctx context.Context, tenantID, siteID, inspectorID string) (Inspection, error) {
	if tenantID == "" {
		return Inspection{}, errors.New("tenant id is required")
	}
	in := Inspection{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		SiteID:      siteID,
		InspectorID: inspectorID,
		CreatedAt:   r.now().UTC(),
	}
	err := r.update(ctx, func(doc document) error {
		doc.Inspections[in.ID] = in
		return nil
	})
	return in, err
}

// VerifyInspectionOwnership fails with ErrOwnership when the inspection
// belongs to another tenant.
func (r *FileRepository) VerifyInspectionOwnership(ctx context.Context, tenantID, inspectionID string) (Inspection, error) {
	var out Inspection
	err := r.read(ctx, func(doc document) error {
		in, ok := doc.Inspections[inspectionID]
		if !ok {
			return fmt.Errorf("inspection %s: %w", inspectionID, ErrNotFound)
		}
		if in.TenantID != tenantID {
			return fmt.Errorf("inspection %s: %w", inspectionID, ErrOwnership)
		}
		out = in
		return nil
	})
	return out, err
}

func (r *FileRepository) CreateIncident(ctx context.Context, in Incident) (Incident, error) {
	if in.TenantID == "" || in.InspectionID == "" {
		return Incident{}, errors.New("incident needs a tenant and an inspection")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := r.now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now

	err := r.update(ctx, func(doc document) error {
		inspection, ok := doc.Inspections[in.InspectionID]
		if !ok {
			return fmt.Errorf("inspection %s: %w", in.InspectionID, ErrNotFound)
		}
		if inspection.TenantID != in.TenantID {
			return fmt.Errorf("inspection %s: %w", in.InspectionID, ErrOwnership)
		}
		if in.SiteID == "" {
			in.SiteID = inspection.SiteID
		}
		if _, exists := doc.Incidents[in.ID]; exists {
			return fmt.Errorf("incident %s already exists", in.ID)
		}
		doc.Incidents[in.ID] = in
		return nil
	})
	return in, err
}

func (r *FileRepository) GetIncident(ctx context.Context, tenantID, incidentID string) (Incident, error) {
	var out Incident
	err := r.read(ctx, func(doc document) error {
		in, err := ownedIncident(doc, tenantID, incidentID)
		out = in
		return err
	})
	return out, err
}

// IncidentOwner returns the tenant that owns incidentID.
func (r *FileRepository) IncidentOwner(ctx context.Context, incidentID string) (string, error) {
	var owner string
	err := r.read(ctx, func(doc document) error {
		in, ok := doc.Incidents[incidentID]
		if !ok {
			return fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
		}
		owner = in.TenantID
		return nil
	})
	return owner, err
}

func (r *FileRepository) UpdateIncidentAudio(ctx context.Context, tenantID, incidentID, audioURL string) error {
	return r.update(ctx, func(doc document) error {
		in, err := ownedIncident(doc, tenantID, incidentID)
		if err != nil {
			return err
		}
		in.AudioURL = audioURL
		in.UpdatedAt = r.now().UTC()
		doc.Incidents[incidentID] = in
		return nil
	})
}

// UpdateIncidentMetadata merges fields into the incident's metadata.
func (r *FileRepository) UpdateIncidentMetadata(ctx context.Context, tenantID, incidentID string, fields map[string]any) error {
	return r.update(ctx, func(doc document) error {
		in, err := ownedIncident(doc, tenantID, incidentID)
		if err != nil {
			return err
		}
		if in.Metadata == nil {
			in.Metadata = map[string]any{}
		}
		maps.Copy(in.Metadata, fields)
		in.UpdatedAt = r.now().UTC()
		doc.Incidents[incidentID] = in
		return nil
	})
}

// AddTasks stores generated tasks for an incident. Task ids derive from the
// incident and the task position, so repeating the call is harmless.
func (r *FileRepository) AddTasks(ctx context.Context, tenantID, incidentID string, generated []tasks.Task) ([]TaskRecord, error) {
	var out []TaskRecord
	err := r.update(ctx, func(doc document) error {
		in, err := ownedIncident(doc, tenantID, incidentID)
		if err != nil {
			return err
		}
		now := r.now().UTC()
		for i, task := range generated {
			id := uuid.NewSHA1(taskNamespace, []byte(incidentID+"/"+strconv.Itoa(i))).String()
			rec := TaskRecord{
				Task:         task,
				ID:           id,
				TenantID:     tenantID,
				IncidentID:   incidentID,
				InspectionID: in.InspectionID,
				VideoURL:     in.VideoURL,
				Position:     i,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if prev, ok := doc.Tasks[id]; ok {
				rec.CreatedAt = prev.CreatedAt
			}
			doc.Tasks[id] = rec
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (r *FileRepository) ListTasks(ctx context.Context, tenantID, incidentID string) ([]TaskRecord, error) {
	var out []TaskRecord
	err := r.read(ctx, func(doc document) error {
		if _, err := ownedIncident(doc, tenantID, incidentID); err != nil {
			return err
		}
		for _, rec := range doc.Tasks {
			if rec.IncidentID == incidentID {
				out = append(out, rec)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Position < out[j].Position
	})
	return out, err
}

// UpdateTaskReview records an expert's review of a generated task.
func (r *FileRepository) UpdateTaskReview(ctx context.Context, tenantID, taskID, comments string, status tasks.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid task status %d", int(status))
	}
	return r.update(ctx, func(doc document) error {
		rec, ok := doc.Tasks[taskID]
		if !ok {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		if rec.TenantID != tenantID {
			return fmt.Errorf("task %s: %w", taskID, ErrOwnership)
		}
		rec.ReviewComments = comments
		rec.Status = status
		rec.UpdatedAt = r.now().UTC()
		doc.Tasks[taskID] = rec
		return nil
	})
}

func ownedIncident(doc document, tenantID, incidentID string) (Incident, error) {
	in, ok := doc.Incidents[incidentID]
	if !ok {
		return Incident{}, fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
	}
	if in.TenantID != tenantID {
		return Incident{}, fmt.Errorf("incident %s: %w", incidentID, ErrOwnership)
	}
	return in, nil
}
