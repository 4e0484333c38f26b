// Package tasks implements the built-in task handlers available to flows.
package tasks

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/flowenv/pkg/engine"
)

// Built-in task kinds.
const (
	KindShell    = "shell"
	KindStarlark = "starlark"
	KindLog      = "log"
	KindNoop     = "noop"
	KindFail     = "fail"
)

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Options configures the built-in handlers.
type Options struct {
	// Shell is the interpreter used by shell tasks. Default "/bin/sh".
	Shell string

	// StarlarkTimeout bounds a single Starlark task. Default 30s.
	StarlarkTimeout time.Duration
}

// Handlers returns one instance of every built-in handler.
func Handlers(opts Options) []engine.TaskHandler {
	return []engine.TaskHandler{
		NewShellHandler(opts.Shell),
		NewStarlarkHandler(opts.StarlarkTimeout),
		&LogHandler{},
		&NoopHandler{},
		&FailHandler{},
	}
}

// Register adds the built-in handlers to reg.
func Register(reg *engine.TaskRegistry, opts Options) error {
	for _, h := range Handlers(opts) {
		if err := reg.Register(h); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", h.Kind(), err)
		}
	}
	return nil
}

// DefaultRegistry returns a task registry holding the built-in handlers.
func DefaultRegistry(opts Options) *engine.TaskRegistry {
	reg := engine.NewTaskRegistry()
	// Built-in kinds are distinct, registration into an empty registry cannot fail.
	_ = Register(reg, opts)
	return reg
}

// decodeConfig maps a task's free-form configuration onto out and validates it.
// Unknown keys are rejected so that typos surface as task failures.
func decodeConfig(task *engine.Task, out interface{}) error {
	if len(task.Config) > 0 {
		raw, err := yaml.Marshal(task.Config)
		if err != nil {
			return fmt.Errorf("task %s: failed to encode config: %w", task.Name, err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("task %s: invalid %s config: %w", task.Name, task.Kind, err)
		}
	}

	if err := configValidator.Struct(out); err != nil {
		return fmt.Errorf("task %s: invalid %s config: %w", task.Name, task.Kind, err)
	}
	return nil
}
