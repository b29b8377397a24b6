package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type Severity int

const (
	SeveritySevere  Severity = 1
	SeverityRegular Severity = 2
	SeverityLow     Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeveritySevere:
		return "severe"
	case SeverityRegular:
		return "regular"
	case SeverityLow:
		return "low"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

type Type int

const (
	TypeInstall Type = 1
	TypeRepair  Type = 2
	TypeVerify  Type = 3
	TypeClear   Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeInstall:
		return "install"
	case TypeRepair:
		return "repair"
	case TypeVerify:
		return "verify"
	case TypeClear:
		return "clear"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

type Status int

const (
	StatusPending      Status = 1
	StatusInProgress   Status = 2
	StatusExpertReview Status = 3
	StatusCompleted    Status = 4
	StatusFailed       Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusExpertReview:
		return "expert_review"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusFailed
}

// ParseStatus accepts a status name or its numeric id.
func ParseStatus(value string) (Status, error) {
	if n, err := strconv.Atoi(value); err == nil {
		if s := Status(n); s.Valid() {
			return s, nil
		}
	}
	for s := StatusPending; s <= StatusFailed; s++ {
		if s.String() == value {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", value)
}

// Task is one remediation action extracted from an inspection transcript.
type Task struct {
	Title         string   `json:"task_title"`
	Description   string   `json:"task_description"`
	OriginalQuote string   `json:"task_original_description"`
	Severity      Severity `json:"severity_id"`
	Status        Status   `json:"status_id"`
	Type          Type     `json:"task_type_id"`
}

const untitledTask = "Untitled Task"

// rawTask is the model's answer before defaults apply. Ids may arrive as
// numbers or strings.
type rawTask struct {
	Title         *string  `json:"task_title"`
	Description   string   `json:"task_description"`
	OriginalQuote string   `json:"task_original_description"`
	Severity      *flexInt `json:"severity_id"`
	Status        *flexInt `json:"status_id"`
	Type          *flexInt `json:"task_type_id"`
}

func (r rawTask) task() Task {
	t := Task{
		Title:         untitledTask,
		Description:   r.Description,
		OriginalQuote: r.OriginalQuote,
		Severity:      SeverityRegular,
		Status:        StatusPending,
		Type:          TypeVerify,
	}
	if r.Title != nil {
		t.Title = *r.Title
	}
	if r.Severity != nil {
		t.Severity = Severity(*r.Severity)
	}
	if r.Status != nil {
		t.Status = Status(*r.Status)
	}
	if r.Type != nil {
		t.Type = Type(*r.Type)
	}
	return t
}

type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*f = flexInt(n)
	return nil
}

func decodeTasks(content string) ([]Task, error) {
	var raw []rawTask
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.task())
	}
	return out, nil
}
