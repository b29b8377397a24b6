package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrLeased   = errors.New("incident run is held by another owner")
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Checkpoint is the durable record of one incident's workflow run. Node is
// the next node to execute, or the terminal pseudo node.
type Checkpoint struct {
	IncidentID string         `json:"incident_id"`
	Node       string         `json:"node"`
	Status     Status         `json:"status"`
	State      map[string]any `json:"state"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Lease is an exclusive hold on one incident's run.
type Lease interface {
	Release() error
}

// Store persists checkpoints. Put replaces the whole record atomically, so a
// concurrent Get sees either the previous or the new checkpoint.
//
// Claim hands out at most one lease per incident across every process
// sharing the store and fails with ErrLeased while one is held. A lease
// holder polls CancelRequested before each node; SetCancel lets anyone else
// ask it to stop without touching the checkpoint it is writing.
type Store interface {
	Put(ctx context.Context, cp Checkpoint) error
	Get(ctx context.Context, incidentID string) (Checkpoint, error)
	List(ctx context.Context) ([]Checkpoint, error)

	Claim(ctx context.Context, incidentID string) (Lease, error)
	SetCancel(ctx context.Context, incidentID string, requested bool) error
	CancelRequested(ctx context.Context, incidentID string) (bool, error)
}

// clone deep copies a checkpoint through its JSON form, which is also what
// FileStore persists, so both stores hand back the same value shapes.
func clone(cp Checkpoint) (Checkpoint, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("encode checkpoint %s: %w", cp.IncidentID, err)
	}
	var out Checkpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", cp.IncidentID, err)
	}
	return out, nil
}
