package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TaskKind names the pipeline a task runs.
type TaskKind string

const (
	DatasetPrepKind        TaskKind = "dataset-prep"
	FeatureMaterializeKind TaskKind = "feature-materialize"
	TrainingExportKind     TaskKind = "training-export"
)

// TaskKinds lists every kind in a stable order.
var TaskKinds = []TaskKind{DatasetPrepKind, FeatureMaterializeKind, TrainingExportKind}

func ParseTaskKind(s string) (TaskKind, error) {
	for _, k := range TaskKinds {
		if string(k) == strings.ToLower(strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", errors.Errorf("unknown task kind %q", s)
}

// TaskStatus is the integer status code exposed to pollers.
type TaskStatus int

const (
	SucceededTaskStatus TaskStatus = 0
	PendingTaskStatus   TaskStatus = 1
	RunningTaskStatus   TaskStatus = 2
	FailedTaskStatus    TaskStatus = -1
)

func (s TaskStatus) String() string {
	switch s {
	case SucceededTaskStatus:
		return "SUCCEEDED"
	case PendingTaskStatus:
		return "PENDING"
	case RunningTaskStatus:
		return "RUNNING"
	case FailedTaskStatus:
		return "FAILED"
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

// Active reports whether the status still holds the task's key.
func (s TaskStatus) Active() bool {
	return s == PendingTaskStatus || s == RunningTaskStatus
}

// ParseTaskStatus accepts either a status name or its integer code.
func ParseTaskStatus(s string) (TaskStatus, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, st := range []TaskStatus{SucceededTaskStatus, PendingTaskStatus, RunningTaskStatus, FailedTaskStatus} {
		if s == st.String() || s == strconv.Itoa(int(st)) {
			return st, nil
		}
	}
	return 0, errors.Errorf("unknown task status %q", s)
}

// TaskKey identifies the logical target a task works on. At most one
// pending or running task exists per key.
type TaskKey struct {
	TargetID string
	Kind     TaskKind
}

// Task is one ledger entry.
type Task struct {
	ID        string     `json:"id" db:"id"`               // uuid assigned on creation
	TargetID  string     `json:"target_id" db:"target_id"` // file id, feature group table or training dataset id
	Kind      TaskKind   `json:"kind" db:"kind"`
	Status    TaskStatus `json:"status" db:"status"`
	Message   string     `json:"message" db:"message"`
	Payload   []byte     `json:"-" db:"payload"` // originating request, JSON
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

func (t Task) Key() TaskKey { return TaskKey{TargetID: t.TargetID, Kind: t.Kind} }

// Record returns the externally visible view of the task.
func (t Task) Record() StatusRecord {
	return StatusRecord{
		TaskID:    t.ID,
		TargetID:  t.TargetID,
		Kind:      t.Kind,
		Status:    t.Status,
		Message:   t.Message,
		UpdatedAt: t.UpdatedAt,
	}
}

// StatusRecord is what pollers see for a task.
type StatusRecord struct {
	TaskID    string     `json:"task_id"`
	TargetID  string     `json:"target_id"`
	Kind      TaskKind   `json:"kind"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskFilter narrows a ledger listing. Zero values match everything.
type TaskFilter struct {
	Kind   TaskKind
	Status *TaskStatus
	Limit  int
	Offset int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize applies the default and maximum page size.
func (f TaskFilter) Normalize() TaskFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Match reports whether t passes the kind and status filters.
func (f TaskFilter) Match(t Task) bool {
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	return true
}

// TaskPage is one page of a ledger listing, newest first.
type TaskPage struct {
	Total  int            `json:"total"`
	Items  []StatusRecord `json:"items"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// TaskHandle is returned to a submitter.
type TaskHandle struct {
	TaskID    string     `json:"task_id"`
	TargetID  string     `json:"target_id"`
	Kind      TaskKind   `json:"kind"`
	Status    TaskStatus `json:"status"`
	Coalesced bool       `json:"coalesced"` // an in-flight task for the same target was returned
}
