package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/flowenv/pkg/telemetry"
)

// Keyword arguments understood by the flow runner.
const (
	// KwargParameters overrides flow parameters. Expects map[string]interface{}.
	KwargParameters = "parameters"

	// KwargRunID forces the run identifier. Expects a non-empty string.
	KwargRunID = "run_id"
)

// Runner executes one flow with an executor.
type Runner interface {
	// Run blocks until the flow finished. The returned state is non-nil whenever
	// the run started, including when it failed.
	Run(ctx context.Context, executor Executor) (*FlowRunState, error)
}

// RunnerFactory builds a runner bound to one flow.
type RunnerFactory func(flow *Flow, kwargs map[string]interface{}) (Runner, error)

// TaskContext is what a task handler sees of the run.
type TaskContext struct {
	Flow  *Flow
	RunID string
	Task  *Task

	// Parameters are the flow parameters after keyword overrides.
	Parameters map[string]interface{}

	// Upstream holds the final states of the task's direct dependencies.
	Upstream map[string]*TaskRunState

	Logger *telemetry.Logger
}

// TaskHandler executes tasks of one kind.
type TaskHandler interface {
	Kind() string
	Run(ctx context.Context, tc *TaskContext) (interface{}, error)
}

// TaskRegistry maps task kinds to handlers.
type TaskRegistry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

// NewTaskRegistry creates an empty task registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{handlers: make(map[string]TaskHandler)}
}

// Register adds a handler under its kind.
func (r *TaskRegistry) Register(h TaskHandler) error {
	if h == nil {
		return fmt.Errorf("task handler is nil")
	}
	kind := h.Kind()
	if kind == "" {
		return fmt.Errorf("task handler kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("task handler %s already registered", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Get returns the handler for kind.
func (r *TaskRegistry) Get(kind string) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds, sorted.
func (r *TaskRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.handlers)
}

// FlowRunnerOptions carries the collaborators shared by every flow runner.
type FlowRunnerOptions struct {
	Handlers *TaskRegistry
	Logger   *telemetry.Logger
	Tracer   *telemetry.Tracer
	Events   *telemetry.EventPublisher
	Metrics  *telemetry.Metrics
}

// NewFlowRunnerFactory returns a RunnerFactory producing FlowRunners.
func NewFlowRunnerFactory(opts FlowRunnerOptions) RunnerFactory {
	return func(flow *Flow, kwargs map[string]interface{}) (Runner, error) {
		return NewFlowRunner(flow, kwargs, opts)
	}
}

// FlowRunner runs a flow's task graph level by level.
// Tasks within a level are handed to the executor as one batch.
type FlowRunner struct {
	flow     *Flow
	graph    *ExecutionGraph
	handlers map[string]TaskHandler
	params   map[string]interface{}
	runID    string
	opts     FlowRunnerOptions
}

// NewFlowRunner binds a runner to flow. Every task kind must have a registered handler.
func NewFlowRunner(flow *Flow, kwargs map[string]interface{}, opts FlowRunnerOptions) (*FlowRunner, error) {
	if flow == nil {
		return nil, NewRunError("flow is nil", nil).WithCode(ErrCodeInternal)
	}
	if opts.Handlers == nil {
		return nil, NewRunError("no task handlers configured", nil).WithFlow(flow.Name).WithCode(ErrCodeInternal)
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNopLogger()
	}

	graph, err := NewDAGBuilder().BuildGraph(flow.Tasks)
	if err != nil {
		return nil, err
	}

	handlers := make(map[string]TaskHandler, len(flow.Tasks))
	for i := range flow.Tasks {
		task := &flow.Tasks[i]
		h, ok := opts.Handlers.Get(task.Kind)
		if !ok {
			return nil, NewRunError(fmt.Sprintf("no handler for task kind %q", task.Kind), nil).
				WithCode(ErrCodeUnknownTaskKind).
				WithFlow(flow.Name).
				WithTask(task.Name).
				WithDetail("available", opts.Handlers.Kinds())
		}
		handlers[task.Name] = h
	}

	params, runID, err := parseKwargs(flow, kwargs)
	if err != nil {
		return nil, err
	}

	return &FlowRunner{
		flow:     flow,
		graph:    graph,
		handlers: handlers,
		params:   params,
		runID:    runID,
		opts:     opts,
	}, nil
}

func parseKwargs(flow *Flow, kwargs map[string]interface{}) (map[string]interface{}, string, error) {
	params := make(map[string]interface{}, len(flow.Parameters))
	for k, v := range flow.Parameters {
		params[k] = v
	}

	runID := uuid.New().String()

	if raw, ok := kwargs[KwargParameters]; ok && raw != nil {
		overrides, ok := raw.(map[string]interface{})
		if !ok {
			return nil, "", NewRunError(fmt.Sprintf("%s must be a map, got %T", KwargParameters, raw), nil).
				WithCode(ErrCodeValidation).WithFlow(flow.Name)
		}
		for k, v := range overrides {
			params[k] = v
		}
	}

	if raw, ok := kwargs[KwargRunID]; ok {
		id, ok := raw.(string)
		if !ok || id == "" {
			return nil, "", NewRunError(fmt.Sprintf("%s must be a non-empty string", KwargRunID), nil).
				WithCode(ErrCodeValidation).WithFlow(flow.Name)
		}
		runID = id
	}

	return params, runID, nil
}

// RunID returns the identifier of the run this runner performs.
func (r *FlowRunner) RunID() string {
	return r.runID
}

// Run implements Runner.
func (r *FlowRunner) Run(ctx context.Context, executor Executor) (*FlowRunState, error) {
	if executor == nil {
		return nil, NewRunError("executor is nil", nil).WithFlow(r.flow.Name).WithCode(ErrCodeInternal)
	}

	logger := r.opts.Logger.WithFlow(r.flow.Name).WithRunID(r.runID)

	state := &FlowRunState{
		RunID:     r.runID,
		Flow:      r.flow.Name,
		Status:    FlowStatusRunning,
		Tasks:     make(map[string]*TaskRunState, len(r.flow.Tasks)),
		StartedAt: time.Now(),
	}
	for _, task := range r.flow.Tasks {
		state.Tasks[task.Name] = &TaskRunState{Task: task.Name, Status: TaskStatusPending}
	}

	logger.Infof("Starting flow run on %s executor", executor.Name())
	r.opts.Metrics.RecordFlowRunStarted(r.flow.Name, executor.Name())
	r.opts.Events.PublishFlowRunStarted(r.runID, r.flow.Name, executor.Name())

	for level, names := range r.graph.Levels {
		if err := ctx.Err(); err != nil {
			r.skipRemaining(state, level, "flow run cancelled")
			return r.finish(state, NewRunError("flow run cancelled", err).WithFlow(r.flow.Name))
		}

		units := make([]Unit, 0, len(names))
		for _, name := range names {
			task := r.flow.Task(name)
			if reason, skip := r.shouldSkip(task, state); skip {
				r.markSkipped(state.Tasks[name], reason)
				continue
			}
			units = append(units, r.unitFor(task, state, logger))
		}

		if len(units) == 0 {
			continue
		}

		logger.Debugf("Submitting level %d with %d task(s)", level, len(units))
		for _, res := range executor.Submit(ctx, units) {
			r.recordResult(state.Tasks[res.Name], res, logger)
		}
	}

	if failed := state.FailedTasks(); len(failed) > 0 {
		return r.finish(state, NewRunError(fmt.Sprintf("%d task(s) failed: %v", len(failed), failed), nil).
			WithCode(ErrCodeTaskFailed).
			WithFlow(r.flow.Name).
			WithDetail("failed_tasks", failed))
	}

	return r.finish(state, nil)
}

// shouldSkip applies the task's trigger rule to its upstream states.
func (r *FlowRunner) shouldSkip(task *Task, state *FlowRunState) (string, bool) {
	if task.EffectiveTrigger() == TriggerAlways {
		return "", false
	}
	for _, dep := range task.DependsOn {
		switch state.Tasks[dep].Status {
		case TaskStatusFailed:
			return fmt.Sprintf("upstream task %s failed", dep), true
		case TaskStatusSkipped:
			return fmt.Sprintf("upstream task %s was skipped", dep), true
		}
	}
	return "", false
}

func (r *FlowRunner) unitFor(task *Task, state *FlowRunState, logger *telemetry.Logger) Unit {
	upstream := make(map[string]*TaskRunState, len(task.DependsOn))
	for _, dep := range task.DependsOn {
		upstream[dep] = state.Tasks[dep]
	}

	tc := &TaskContext{
		Flow:       r.flow,
		RunID:      r.runID,
		Task:       task,
		Parameters: r.params,
		Upstream:   upstream,
		Logger:     logger.WithTask(task.Name),
	}
	handler := r.handlers[task.Name]

	state.Tasks[task.Name].Status = TaskStatusRunning
	r.opts.Events.PublishTaskRunStarted(r.runID, task.Name, task.Kind)

	return Unit{
		Name: task.Name,
		Fn: func(ctx context.Context) (interface{}, error) {
			ctx, span := r.opts.Tracer.StartTaskSpan(ctx, r.runID, task.Name, task.Kind)
			defer span.End()

			value, err := handler.Run(ctx, tc)
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			return value, err
		},
	}
}

func (r *FlowRunner) recordResult(ts *TaskRunState, res UnitResult, logger *telemetry.Logger) {
	ts.StartedAt = res.StartedAt
	ts.FinishedAt = res.FinishedAt
	kind := r.flow.Task(ts.Task).Kind

	if res.Err != nil {
		ts.Status = TaskStatusFailed
		ts.Error = res.Err.Error()
		logger.WithTask(ts.Task).WithError(res.Err).Warn("Task failed")
		r.opts.Metrics.RecordTaskRun(kind, string(TaskStatusFailed), ts.Duration())
		r.opts.Events.PublishTaskRunFailed(r.runID, ts.Task, ts.Error)
		return
	}

	ts.Status = TaskStatusSuccess
	ts.Result = res.Value
	logger.WithTask(ts.Task).Debug("Task succeeded")
	r.opts.Metrics.RecordTaskRun(kind, string(TaskStatusSuccess), ts.Duration())
	r.opts.Events.PublishTaskRunCompleted(r.runID, ts.Task, ts.Duration())
}

func (r *FlowRunner) markSkipped(ts *TaskRunState, reason string) {
	ts.Status = TaskStatusSkipped
	ts.Error = reason
	r.opts.Metrics.RecordTaskRun(r.flow.Task(ts.Task).Kind, string(TaskStatusSkipped), 0)
	r.opts.Events.PublishTaskRunSkipped(r.runID, ts.Task, reason)
}

func (r *FlowRunner) skipRemaining(state *FlowRunState, fromLevel int, reason string) {
	for _, names := range r.graph.Levels[fromLevel:] {
		for _, name := range names {
			if state.Tasks[name].Status == TaskStatusPending {
				r.markSkipped(state.Tasks[name], reason)
			}
		}
	}
}

func (r *FlowRunner) finish(state *FlowRunState, err error) (*FlowRunState, error) {
	state.FinishedAt = time.Now()
	duration := state.FinishedAt.Sub(state.StartedAt)

	if err != nil {
		state.Status = FlowStatusFailed
		r.opts.Metrics.RecordFlowRunCompleted(r.flow.Name, string(FlowStatusFailed), duration)
		r.opts.Events.PublishFlowRunFailed(r.runID, r.flow.Name, err.Error())

		var engErr *EngineError
		if errors.As(err, &engErr) {
			r.opts.Metrics.RecordError(string(engErr.Class))
		}
		return state, err
	}

	state.Status = FlowStatusSuccess
	r.opts.Metrics.RecordFlowRunCompleted(r.flow.Name, string(FlowStatusSuccess), duration)
	r.opts.Events.PublishFlowRunCompleted(r.runID, r.flow.Name, duration)
	r.opts.Logger.WithFlow(r.flow.Name).WithRunID(r.runID).Infof("Flow run completed in %s", duration)
	return state, nil
}

// Summary renders a short, deterministic description of a finished run.
func (s *FlowRunState) Summary() string {
	names := make([]string, 0, len(s.Tasks))
	for name := range s.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := fmt.Sprintf("flow %s run %s: %s", s.Flow, s.RunID, s.Status)
	for _, name := range names {
		out += fmt.Sprintf("\n  %-24s %s", name, s.Tasks[name].Status)
	}
	return out
}
