package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/flowenv/pkg/config"
	"github.com/openfroyo/flowenv/pkg/engine"
	"github.com/openfroyo/flowenv/pkg/storage"
	"github.com/openfroyo/flowenv/pkg/tasks"
	"github.com/openfroyo/flowenv/pkg/telemetry"
)

// RunFailedMessage is logged once when a flow run fails.
const RunFailedMessage = "Unexpected error raised during flow run"

// Environment runs flows packaged in a storage.
type Environment interface {
	// Identifier returns the identity of the environment, stable for its lifetime.
	Identifier() string

	// Execute validates the storage, loads the flow and runs it to completion.
	Execute(ctx context.Context, store storage.Storage, flowLocation string, rc *config.RunContext, kwargs map[string]interface{}) error
}

// Options configures a SlimEnvironment. Zero values select defaults.
type Options struct {
	Logger    *telemetry.Logger
	Registry  *engine.Registry
	Loader    *Loader
	Tracer    *telemetry.Tracer
	Metrics   *telemetry.Metrics
	StageHook StageHook
}

// RunReport describes one execution. FailedStage is the stage that was
// running when the execution failed.
type RunReport struct {
	EnvironmentID string
	FlowLocation  string
	FlowPath      string
	StorageKind   storage.Kind
	ImageRef      string
	Executor      string
	Runner        string
	Flow          *engine.Flow
	State         *engine.FlowRunState
	Stage         Stage
	FailedStage   Stage
	StartedAt     time.Time
	FinishedAt    time.Time

	stageTimer *telemetry.Timer
}

// RunID returns the id of the flow run, or "" when the run never started.
func (r *RunReport) RunID() string {
	if r == nil || r.State == nil {
		return ""
	}
	return r.State.RunID
}

// FlowName returns the name of the loaded flow, or "" when loading failed.
func (r *RunReport) FlowName() string {
	if r == nil || r.Flow == nil {
		return ""
	}
	return r.Flow.Name
}

// SlimEnvironment runs flows baked into Docker images.
// It keeps no state between executions besides its identifier.
// Execute must not be called concurrently on the same instance.
type SlimEnvironment struct {
	identifier string
	logger     *telemetry.Logger
	registry   *engine.Registry
	loader     *Loader
	tracer     *telemetry.Tracer
	metrics    *telemetry.Metrics
	hook       StageHook
}

// NewSlimEnvironment creates an environment with a fresh identifier.
func NewSlimEnvironment(opts Options) *SlimEnvironment {
	id := uuid.New().String()

	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}

	registry := opts.Registry
	if registry == nil {
		registry = NewDefaultRegistry(nil, tasks.Options{})
	}

	loader := opts.Loader
	if loader == nil {
		loader = NewLoader()
	}

	return &SlimEnvironment{
		identifier: id,
		logger:     logger.NewComponentLogger("slim-environment").WithEnvironmentID(id),
		registry:   registry,
		loader:     loader,
		tracer:     opts.Tracer,
		metrics:    opts.Metrics,
		hook:       opts.StageHook,
	}
}

// NewDefaultRegistry returns the built-in executors and the flow runner with the
// built-in task kinds. A nil tel discards telemetry.
func NewDefaultRegistry(tel *telemetry.Telemetry, taskOpts tasks.Options) *engine.Registry {
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	return engine.NewDefaultRegistry(engine.FlowRunnerOptions{
		Handlers: tasks.DefaultRegistry(taskOpts),
		Logger:   tel.Logger,
		Tracer:   tel.Tracer,
		Events:   tel.Events,
		Metrics:  tel.Metrics,
	})
}

// Identifier implements Environment.
func (e *SlimEnvironment) Identifier() string {
	return e.identifier
}

// Execute implements Environment.
func (e *SlimEnvironment) Execute(ctx context.Context, store storage.Storage, flowLocation string, rc *config.RunContext, kwargs map[string]interface{}) error {
	_, err := e.Run(ctx, store, flowLocation, rc, kwargs)
	return err
}

// Run is Execute returning a report of what happened. The report is never nil.
// Errors are those of Execute: run failures are returned exactly as the runner
// produced them.
func (e *SlimEnvironment) Run(ctx context.Context, store storage.Storage, flowLocation string, rc *config.RunContext, kwargs map[string]interface{}) (*RunReport, error) {
	ctx, span := e.tracer.StartFlowRunSpan(ctx, e.identifier, flowLocation)
	defer span.End()

	report := &RunReport{
		EnvironmentID: e.identifier,
		FlowLocation:  flowLocation,
		StartedAt:     time.Now(),
	}
	e.enter(ctx, report, StageIdle)

	err := e.execute(ctx, report, store, rc, kwargs)
	report.FinishedAt = time.Now()

	if err != nil {
		report.FailedStage = report.Stage
		e.metrics.RecordStageFailure(report.Stage.String())
		e.enter(ctx, report, StageFailed)
		telemetry.RecordError(span, err)
		return report, err
	}

	e.enter(ctx, report, StageCompleted)
	telemetry.RecordSuccess(span)
	return report, nil
}

func (e *SlimEnvironment) execute(ctx context.Context, report *RunReport, store storage.Storage, rc *config.RunContext, kwargs map[string]interface{}) error {
	e.enter(ctx, report, StageValidating)
	docker, err := validateStorage(store)
	if err != nil {
		return err
	}
	report.StorageKind = docker.Kind()
	report.ImageRef = docker.ImageRef()
	telemetry.SetAttributes(trace.SpanFromContext(ctx),
		telemetry.AttrStorageKind.String(string(report.StorageKind)),
		telemetry.AttrImageRef.String(report.ImageRef),
	)

	e.enter(ctx, report, StageLoading)
	report.FlowPath = rc.ResolveFlowFilePath()
	flow, err := e.load(ctx, report.FlowPath)
	if err != nil {
		return err
	}
	report.Flow = flow

	e.enter(ctx, report, StageSelectingEngine)
	executor, runnerFactory, err := e.selectEngine(ctx, report, rc)
	if err != nil {
		return err
	}

	e.enter(ctx, report, StageRunning)
	return e.dispatch(ctx, report, executor, runnerFactory, runKwargs(rc, kwargs))
}

// enter moves report to stage. The time spent in the stage being left is
// observed, and the transition is added as an event on the execution span in ctx.
func (e *SlimEnvironment) enter(ctx context.Context, report *RunReport, stage Stage) {
	if report.stageTimer != nil {
		e.metrics.ObserveStage(report.Stage.String(), report.stageTimer)
		report.stageTimer = nil
	}
	report.Stage = stage
	if !stage.Terminal() {
		report.stageTimer = telemetry.NewTimer()
	}

	telemetry.AddStageEvent(trace.SpanFromContext(ctx), stage.String())
	e.logger.Debugf("Entering stage %s", stage)
	if e.hook != nil {
		e.hook(stage)
	}
}

// validateStorage accepts Docker descriptors only. It does no I/O.
func validateStorage(store storage.Storage) (*storage.Docker, error) {
	if store == nil {
		return nil, engine.NewContractViolation("storage descriptor is nil, expected Docker", nil).
			WithCode(engine.ErrCodeUnsupportedStorage).
			WithDetail("expected", string(storage.KindDocker))
	}

	docker, ok := store.(*storage.Docker)
	if !ok || docker == nil {
		return nil, engine.NewContractViolation(
			fmt.Sprintf("unsupported storage %s, expected Docker", store.Kind()), nil).
			WithCode(engine.ErrCodeUnsupportedStorage).
			WithDetail("expected", string(storage.KindDocker)).
			WithDetail("received", string(store.Kind()))
	}
	return docker, nil
}

func (e *SlimEnvironment) load(ctx context.Context, path string) (*engine.Flow, error) {
	_, span := e.tracer.StartStageSpan(ctx, "load")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.AttrFlowPath.String(path))

	flow, err := e.loader.Load(path)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.AttrFlowName.String(flow.Name))
	telemetry.RecordSuccess(span)
	return flow, nil
}

// selectEngine reads the executor and runner names from rc once each and builds
// the one executor of this run.
func (e *SlimEnvironment) selectEngine(ctx context.Context, report *RunReport, rc *config.RunContext) (engine.Executor, engine.RunnerFactory, error) {
	_, span := e.tracer.StartStageSpan(ctx, "select_engine")
	defer span.End()

	executorName := rc.ExecutorName(e.registry.DefaultExecutorName())
	runnerName := rc.RunnerName(e.registry.DefaultRunnerName())
	report.Executor = executorName
	report.Runner = runnerName
	telemetry.SetAttributes(span,
		telemetry.AttrExecutor.String(executorName),
		telemetry.AttrRunner.String(runnerName),
	)

	executorFactory, err := e.registry.ResolveExecutor(executorName)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	runnerFactory, err := e.registry.ResolveRunner(runnerName)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}

	var maxWorkers int
	if rc != nil {
		maxWorkers = rc.Engine.MaxWorkers
	}
	executor, err := executorFactory(engine.ExecutorOptions{MaxWorkers: maxWorkers})
	if err == nil && executor == nil {
		err = fmt.Errorf("factory returned no executor")
	}
	if err != nil {
		cfgErr := engine.NewConfigurationError(fmt.Sprintf("cannot create executor %q", executorName), err).
			WithCode(engine.ErrCodeExecutorInitFailed)
		telemetry.RecordError(span, cfgErr)
		return nil, nil, cfgErr
	}

	telemetry.RecordSuccess(span)
	return executor, runnerFactory, nil
}

// dispatch builds the runner and runs the flow. Every failure, panics included,
// is logged once here and returned unchanged.
func (e *SlimEnvironment) dispatch(ctx context.Context, report *RunReport, executor engine.Executor, newRunner engine.RunnerFactory, kwargs map[string]interface{}) (err error) {
	ctx, span := e.tracer.StartStageSpan(ctx, "run")
	defer span.End()

	defer func() {
		if shutdownErr := executor.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			e.logger.WithError(shutdownErr).Warnf("Failed to shut down %s executor", executor.Name())
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = engine.NewRunError(fmt.Sprintf("flow run panicked: %v", r), nil).
				WithCode(engine.ErrCodeRunnerPanic).
				WithFlow(report.FlowName())
		}
		if err != nil {
			e.logger.WithFlow(report.FlowName()).WithError(err).Error(RunFailedMessage)
			telemetry.RecordError(span, err)
		}
	}()

	runner, err := newRunner(report.Flow, kwargs)
	if err != nil {
		return err
	}
	if runner == nil {
		return engine.NewRunError("runner factory returned no runner", nil).
			WithCode(engine.ErrCodeInternal).
			WithFlow(report.FlowName())
	}

	state, err := runner.Run(ctx, executor)
	report.State = state
	if state != nil {
		telemetry.SetAttributes(span,
			telemetry.AttrRunID.String(state.RunID),
			telemetry.AttrRunStatus.String(string(state.Status)),
		)
	}
	if err != nil {
		return err
	}

	telemetry.RecordSuccess(span)
	return nil
}

// runKwargs folds the configured parameters under the caller's kwargs.
// Caller parameters win. kwargs is returned as is when nothing is configured.
func runKwargs(rc *config.RunContext, kwargs map[string]interface{}) map[string]interface{} {
	if rc == nil || len(rc.Parameters) == 0 {
		return kwargs
	}

	var overrides map[string]interface{}
	if raw := kwargs[engine.KwargParameters]; raw != nil {
		m, ok := raw.(map[string]interface{})
		if !ok {
			// Left for the runner to reject.
			return kwargs
		}
		overrides = m
	}

	params := make(map[string]interface{}, len(rc.Parameters)+len(overrides))
	for k, v := range rc.Parameters {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}

	out := make(map[string]interface{}, len(kwargs)+1)
	for k, v := range kwargs {
		out[k] = v
	}
	out[engine.KwargParameters] = params
	return out
}
