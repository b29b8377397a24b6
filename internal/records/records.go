package records

import (
	"errors"
	"fmt"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/tasks"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrOwnership reads exactly like ErrNotFound and matches it, so a caller
	// probing another tenant's ids learns nothing.
	ErrOwnership = fmt.Errorf("%w", ErrNotFound)
)

type Inspection struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	SiteID      string    `json:"site_id"`
	InspectorID string    `json:"inspector_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Incident struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	InspectionID string         `json:"inspection_id"`
	InspectorID  string         `json:"inspector_id"`
	SiteID       string         `json:"site_id,omitempty"`
	VideoURL     string         `json:"video_url"`
	AudioURL     string         `json:"audio_url,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type TaskRecord struct {
	tasks.Task
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	IncidentID     string    `json:"incident_id"`
	InspectionID   string    `json:"inspection_id"`
	VideoURL       string    `json:"video_url,omitempty"`
	ReviewComments string    `json:"task_review_comments,omitempty"`
	Position       int       `json:"position"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
