package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/checkpoint"
)

// OwnerLookup reports which tenant owns an incident. Unknown incidents must
// produce an error matching ErrNotFound.
type OwnerLookup interface {
	IncidentOwner(ctx context.Context, incidentID string) (string, error)
}

type OwnerLookupFunc func(ctx context.Context, incidentID string) (string, error)

func (f OwnerLookupFunc) IncidentOwner(ctx context.Context, incidentID string) (string, error) {
	return f(ctx, incidentID)
}

const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var displayMessages = map[string]string{
	NodeQueued:       "Waiting to start processing",
	"extract_audio":  "Extracting audio from the uploaded media",
	"transcribe":     "Transcribing audio",
	"generate_tasks": "Generating tasks from the transcript",
	NodeCompleted:    "Processing complete",
	StatusFailed:     "Processing failed",
}

const defaultDisplayMessage = "Processing"

// Status is what a polling caller sees.
type Status struct {
	IncidentID     string    `json:"incident_id"`
	Status         string    `json:"status"`
	DisplayMessage string    `json:"display_message"`
	IsFinished     bool      `json:"is_finished"`
	Error          string    `json:"error,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

// Projector derives caller facing status from the owner record and the
// checkpoint alone, so polling never waits on a running node.
type Projector struct {
	owners OwnerLookup
	store  checkpoint.Store
}

func NewProjector(owners OwnerLookup, store checkpoint.Store) *Projector {
	return &Projector{owners: owners, store: store}
}

func (p *Projector) Status(ctx context.Context, tenantID, incidentID string) (Status, error) {
	// Unknown incidents and other tenants' incidents are reported the same
	// way so callers cannot probe for existence.
	notFound := fmt.Errorf("%w: %s", ErrNotFound, incidentID)

	owner, err := p.owners.IncidentOwner(ctx, incidentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Status{}, notFound
		}
		return Status{}, fmt.Errorf("look up incident owner: %w", err)
	}
	if owner != tenantID {
		return Status{}, notFound
	}

	cp, err := p.store.Get(ctx, incidentID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return queued(incidentID), nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("load checkpoint: %w", err)
	}

	return project(cp), nil
}

func queued(incidentID string) Status {
	return Status{
		IncidentID:     incidentID,
		Status:         StatusQueued,
		DisplayMessage: displayMessages[NodeQueued],
	}
}

func project(cp checkpoint.Checkpoint) Status {
	st := Status{
		IncidentID: cp.IncidentID,
		Attempts:   cp.Attempts,
		UpdatedAt:  cp.UpdatedAt,
	}

	switch {
	case cp.Status == checkpoint.StatusFailed:
		st.Status = StatusFailed
		st.DisplayMessage = displayMessages[StatusFailed]
		st.IsFinished = true
		st.Error = cp.Error
	case cp.Node == NodeCompleted && len(cp.State) > 0:
		st.Status = StatusCompleted
		st.DisplayMessage = displayMessages[NodeCompleted]
		st.IsFinished = true
	default:
		st.Status = cp.Node
		st.DisplayMessage = DisplayMessage(cp.Node)
	}
	return st
}

// DisplayMessage maps a node name to a human readable progress message.
func DisplayMessage(node string) string {
	if msg, ok := displayMessages[node]; ok {
		return msg
	}
	return defaultDisplayMessage
}
