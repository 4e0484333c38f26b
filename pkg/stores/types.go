package stores

import (
	"context"
	"time"
)

// RunStatus is the outcome of an environment execution.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is one environment execution as kept in the history.
type RunRecord struct {
	ID            string       `json:"id"`
	EnvironmentID string       `json:"environment_id"`
	FlowName      string       `json:"flow_name,omitempty"`
	FlowLocation  string       `json:"flow_location,omitempty"`
	FlowPath      string       `json:"flow_path,omitempty"`
	StorageKind   string       `json:"storage_kind,omitempty"`
	ImageRef      string       `json:"image_ref,omitempty"`
	Executor      string       `json:"executor,omitempty"`
	Runner        string       `json:"runner,omitempty"`
	Stage         string       `json:"stage"`
	Status        RunStatus    `json:"status"`
	Error         *string      `json:"error,omitempty"`
	ErrorClass    *string      `json:"error_class,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	Tasks         []TaskRecord `json:"tasks,omitempty"`
}

// Duration returns how long the execution took, or zero if it has not finished.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TaskRecord is the outcome of one task of a recorded run.
type TaskRecord struct {
	Task       string     `json:"task"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	FlowName string
	Status   RunStatus
	Limit    int
	Offset   int
}

// Store persists run history.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
}
