package engine

import (
	"sort"
	"time"
)

// TriggerRule decides whether a task runs given the outcome of its upstream tasks.
type TriggerRule string

const (
	// TriggerAllSuccessful runs the task only if every upstream task succeeded.
	TriggerAllSuccessful TriggerRule = "all_successful"

	// TriggerAlways runs the task once its upstream tasks finished, whatever their outcome.
	TriggerAlways TriggerRule = "always"
)

// Flow is the in-memory workflow graph materialized from a flow artifact.
type Flow struct {
	// Name identifies the flow.
	Name string `yaml:"name" validate:"required"`

	// Version is an optional free-form version label.
	Version string `yaml:"version,omitempty"`

	// Parameters are default values handed to every task.
	Parameters map[string]interface{} `yaml:"parameters,omitempty"`

	// Tasks are the nodes of the graph. Names must be unique.
	Tasks []Task `yaml:"tasks" validate:"required,min=1,unique=Name,dive"`
}

// Task is a single node of a flow.
type Task struct {
	// Name is the unique task name within the flow.
	Name string `yaml:"name" validate:"required"`

	// Kind selects the task handler (e.g. "shell", "starlark", "log").
	Kind string `yaml:"kind" validate:"required"`

	// Config is handler-specific configuration.
	Config map[string]interface{} `yaml:"config,omitempty"`

	// DependsOn lists the names of upstream tasks.
	DependsOn []string `yaml:"depends_on,omitempty" validate:"dive,required"`

	// Trigger is the trigger rule; empty means TriggerAllSuccessful.
	Trigger TriggerRule `yaml:"trigger,omitempty" validate:"omitempty,oneof=all_successful always"`
}

// EffectiveTrigger returns the trigger rule of the task, applying the default.
func (t *Task) EffectiveTrigger() TriggerRule {
	if t.Trigger == "" {
		return TriggerAllSuccessful
	}
	return t.Trigger
}

// Task returns the task with the given name, or nil.
func (f *Flow) Task(name string) *Task {
	for i := range f.Tasks {
		if f.Tasks[i].Name == name {
			return &f.Tasks[i]
		}
	}
	return nil
}

// TaskStatus is the state of a single task within a flow run.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
	TaskStatusSkipped TaskStatus = "skipped"
)

// FlowStatus is the state of a flow run.
type FlowStatus string

const (
	FlowStatusPending FlowStatus = "pending"
	FlowStatusRunning FlowStatus = "running"
	FlowStatusSuccess FlowStatus = "success"
	FlowStatusFailed  FlowStatus = "failed"
)

// TaskRunState records the outcome of one task.
type TaskRunState struct {
	// Task is the task name.
	Task string `json:"task"`

	// Status is the final task status.
	Status TaskStatus `json:"status"`

	// Result is the value returned by the task handler, if any.
	Result interface{} `json:"result,omitempty"`

	// Error is the failure message for failed or skipped tasks.
	Error string `json:"error,omitempty"`

	// StartedAt is when the task started.
	StartedAt time.Time `json:"started_at,omitempty"`

	// FinishedAt is when the task finished.
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the task ran.
func (s *TaskRunState) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// FlowRunState records the outcome of one flow run.
type FlowRunState struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Flow is the flow name.
	Flow string `json:"flow"`

	// Status is the final flow status.
	Status FlowStatus `json:"status"`

	// Tasks maps task names to their states.
	Tasks map[string]*TaskRunState `json:"tasks"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run finished.
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// FailedTasks returns the sorted names of tasks that failed.
func (s *FlowRunState) FailedTasks() []string {
	return s.tasksWithStatus(TaskStatusFailed)
}

// SkippedTasks returns the sorted names of tasks that were skipped.
func (s *FlowRunState) SkippedTasks() []string {
	return s.tasksWithStatus(TaskStatusSkipped)
}

func (s *FlowRunState) tasksWithStatus(status TaskStatus) []string {
	names := make([]string, 0)
	for name, ts := range s.Tasks {
		if ts.Status == status {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
