package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DefaultFlowFilePath is where the packaged flow is expected when the run
// configuration does not name a path.
const DefaultFlowFilePath = "/root/.prefect/flow_env.prefect"

// RunContext is the configuration of a single environment run.
type RunContext struct {
	// FlowFilePath is the path of the serialized flow. Empty means DefaultFlowFilePath.
	FlowFilePath string `json:"flow_file_path,omitempty" validate:"omitempty,max=4096"`

	// Engine selects the executor and runner.
	Engine EngineConfig `json:"engine,omitempty"`

	// Parameters override the flow's declared parameters.
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// EngineConfig names the engine collaborators of a run.
// Empty names select the registry defaults.
type EngineConfig struct {
	Executor   string `json:"executor,omitempty" validate:"omitempty,max=64,excludesall=/"`
	Runner     string `json:"runner,omitempty" validate:"omitempty,max=64,excludesall=/"`
	MaxWorkers int    `json:"max_workers,omitempty" validate:"gte=0,lte=1024"`
}

// DefaultRunContext returns the configuration used when nothing is configured.
func DefaultRunContext() *RunContext {
	return &RunContext{
		FlowFilePath: DefaultFlowFilePath,
	}
}

// ExecutorName returns the configured executor name, or fallback when none is set.
func (rc *RunContext) ExecutorName(fallback string) string {
	if rc == nil || rc.Engine.Executor == "" {
		return fallback
	}
	return rc.Engine.Executor
}

// RunnerName returns the configured runner name, or fallback when none is set.
func (rc *RunContext) RunnerName(fallback string) string {
	if rc == nil || rc.Engine.Runner == "" {
		return fallback
	}
	return rc.Engine.Runner
}

// ResolveFlowFilePath returns the flow path, falling back to DefaultFlowFilePath.
func (rc *RunContext) ResolveFlowFilePath() string {
	if rc == nil || rc.FlowFilePath == "" {
		return DefaultFlowFilePath
	}
	return rc.FlowFilePath
}

// Validate checks the configuration values.
func (rc *RunContext) Validate() error {
	if rc == nil {
		return fmt.Errorf("run context is nil")
	}
	if err := runContextValidator.Struct(rc); err != nil {
		return fmt.Errorf("invalid run context: %w", err)
	}
	return nil
}

// Clone returns a copy that shares no maps with rc.
func (rc *RunContext) Clone() *RunContext {
	if rc == nil {
		return nil
	}
	out := *rc
	if rc.Parameters != nil {
		out.Parameters = make(map[string]interface{}, len(rc.Parameters))
		for k, v := range rc.Parameters {
			out.Parameters[k] = v
		}
	}
	return &out
}

var runContextValidator = validator.New(validator.WithRequiredStructEnabled())
