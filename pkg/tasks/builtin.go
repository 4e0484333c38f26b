package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openfroyo/flowenv/pkg/engine"
)

// LogConfig is the configuration of a log task.
type LogConfig struct {
	// Message may reference flow parameters as $name or ${name}.
	Message string `yaml:"message" validate:"required"`
	Level   string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// LogHandler writes a message to the run logger.
type LogHandler struct{}

// Kind implements engine.TaskHandler.
func (h *LogHandler) Kind() string {
	return KindLog
}

// Run implements engine.TaskHandler. The expanded message is the task result.
func (h *LogHandler) Run(_ context.Context, tc *engine.TaskContext) (interface{}, error) {
	var cfg LogConfig
	if err := decodeConfig(tc.Task, &cfg); err != nil {
		return nil, err
	}

	msg := expandParameters(cfg.Message, tc.Parameters)

	switch cfg.Level {
	case "debug":
		tc.Logger.Debug(msg)
	case "warn":
		tc.Logger.Warn(msg)
	case "error":
		tc.Logger.Error(msg)
	default:
		tc.Logger.Info(msg)
	}

	return msg, nil
}

// NoopHandler does nothing and succeeds.
type NoopHandler struct{}

// Kind implements engine.TaskHandler.
func (h *NoopHandler) Kind() string {
	return KindNoop
}

// Run implements engine.TaskHandler.
func (h *NoopHandler) Run(_ context.Context, _ *engine.TaskContext) (interface{}, error) {
	return nil, nil
}

// ErrTaskFailedOnPurpose is returned by fail tasks.
var ErrTaskFailedOnPurpose = errors.New("task failed on purpose")

// FailConfig is the configuration of a fail task.
type FailConfig struct {
	Message string `yaml:"message,omitempty"`
}

// FailHandler always fails. It is used to smoke-test failure reporting.
type FailHandler struct{}

// Kind implements engine.TaskHandler.
func (h *FailHandler) Kind() string {
	return KindFail
}

// Run implements engine.TaskHandler.
func (h *FailHandler) Run(_ context.Context, tc *engine.TaskContext) (interface{}, error) {
	var cfg FailConfig
	if err := decodeConfig(tc.Task, &cfg); err != nil {
		return nil, err
	}
	if cfg.Message == "" {
		return nil, ErrTaskFailedOnPurpose
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskFailedOnPurpose, expandParameters(cfg.Message, tc.Parameters))
}

func expandParameters(s string, params map[string]interface{}) string {
	return os.Expand(s, func(name string) string {
		v, ok := params[name]
		if !ok {
			return ""
		}
		return fmt.Sprint(v)
	})
}
