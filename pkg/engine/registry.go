package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Built-in executor and runner names.
const (
	ExecutorLocal    = "local"
	ExecutorParallel = "parallel"
	RunnerFlow       = "flow"
)

// Registry maps configuration names to executor and runner factories.
// It replaces process-global class lookup: callers build one, register what the
// deployment supports and hand it to the environment.
type Registry struct {
	mu sync.RWMutex

	executors map[string]ExecutorFactory
	runners   map[string]RunnerFactory

	defaultExecutor string
	defaultRunner   string
}

// NewRegistry creates an empty registry whose defaults point at the built-in names.
func NewRegistry() *Registry {
	return &Registry{
		executors:       make(map[string]ExecutorFactory),
		runners:         make(map[string]RunnerFactory),
		defaultExecutor: ExecutorLocal,
		defaultRunner:   RunnerFlow,
	}
}

// NewDefaultRegistry creates a registry with the built-in executors and the flow runner.
func NewDefaultRegistry(opts FlowRunnerOptions) *Registry {
	r := NewRegistry()
	// Names are constant and distinct, registration cannot fail.
	_ = r.RegisterExecutor(ExecutorLocal, NewLocalExecutor)
	_ = r.RegisterExecutor(ExecutorParallel, NewParallelExecutor)
	_ = r.RegisterRunner(RunnerFlow, NewFlowRunnerFactory(opts))
	return r
}

// RegisterExecutor registers an executor factory under name.
func (r *Registry) RegisterExecutor(name string, factory ExecutorFactory) error {
	if name == "" {
		return fmt.Errorf("executor name is required")
	}
	if factory == nil {
		return fmt.Errorf("executor factory %s is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[name]; exists {
		return fmt.Errorf("executor %s already registered", name)
	}
	r.executors[name] = factory
	return nil
}

// RegisterRunner registers a runner factory under name.
func (r *Registry) RegisterRunner(name string, factory RunnerFactory) error {
	if name == "" {
		return fmt.Errorf("runner name is required")
	}
	if factory == nil {
		return fmt.Errorf("runner factory %s is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[name]; exists {
		return fmt.Errorf("runner %s already registered", name)
	}
	r.runners[name] = factory
	return nil
}

// SetDefaults changes the names used when the configuration does not select one.
// Empty arguments leave the current default unchanged.
func (r *Registry) SetDefaults(executor, runner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if executor != "" {
		r.defaultExecutor = executor
	}
	if runner != "" {
		r.defaultRunner = runner
	}
}

// DefaultExecutorName returns the executor used when none is configured.
func (r *Registry) DefaultExecutorName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultExecutor
}

// DefaultRunnerName returns the runner used when none is configured.
func (r *Registry) DefaultRunnerName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultRunner
}

// ResolveExecutor returns the executor factory registered under name.
// An empty name resolves the default executor.
func (r *Registry) ResolveExecutor(name string) (ExecutorFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultExecutor
	}
	factory, ok := r.executors[name]
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("no executor registered as %q", name), nil).
			WithCode(ErrCodeNoDefaultExecutor).
			WithDetail("available", sortedKeys(r.executors))
	}
	return factory, nil
}

// ResolveRunner returns the runner factory registered under name.
// An empty name resolves the default runner.
func (r *Registry) ResolveRunner(name string) (RunnerFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultRunner
	}
	factory, ok := r.runners[name]
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("no runner registered as %q", name), nil).
			WithCode(ErrCodeNoDefaultRunner).
			WithDetail("available", sortedKeys(r.runners))
	}
	return factory, nil
}

// Executors returns the registered executor names, sorted.
func (r *Registry) Executors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.executors)
}

// Runners returns the registered runner names, sorted.
func (r *Registry) Runners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.runners)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
