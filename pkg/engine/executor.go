package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Unit is a piece of work submitted to an executor.
type Unit struct {
	// Name identifies the unit in results and logs.
	Name string

	// Fn does the work. The returned value is stored in UnitResult.Value.
	Fn func(ctx context.Context) (interface{}, error)
}

// UnitResult is the outcome of a single unit.
type UnitResult struct {
	Name       string
	Value      interface{}
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Executor runs batches of independent units.
// Runners hand it one DAG level at a time; how the batch is scheduled is the
// executor's business.
type Executor interface {
	// Name returns the registry name of the executor.
	Name() string

	// Submit runs every unit and blocks until all of them finished.
	// Results are returned in submission order.
	Submit(ctx context.Context, units []Unit) []UnitResult

	// Shutdown releases executor resources. Submit must not be called afterwards.
	Shutdown(ctx context.Context) error
}

// ExecutorOptions configures executor construction.
type ExecutorOptions struct {
	// MaxWorkers bounds concurrent units for executors that run in parallel.
	// Zero means runtime.NumCPU().
	MaxWorkers int
}

// ExecutorFactory constructs an executor.
type ExecutorFactory func(opts ExecutorOptions) (Executor, error)

// runUnit executes a single unit, turning a panic into an error.
func runUnit(ctx context.Context, unit Unit) (result UnitResult) {
	result = UnitResult{Name: unit.Name, StartedAt: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("unit %s panicked: %v", unit.Name, r)
		}
		result.FinishedAt = time.Now()
	}()

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	result.Value, result.Err = unit.Fn(ctx)
	return result
}

// LocalExecutor runs units one after the other in the calling goroutine.
type LocalExecutor struct{}

// NewLocalExecutor creates a sequential executor.
func NewLocalExecutor(_ ExecutorOptions) (Executor, error) {
	return &LocalExecutor{}, nil
}

// Name implements Executor.
func (e *LocalExecutor) Name() string {
	return ExecutorLocal
}

// Submit implements Executor.
func (e *LocalExecutor) Submit(ctx context.Context, units []Unit) []UnitResult {
	results := make([]UnitResult, len(units))
	for i, unit := range units {
		results[i] = runUnit(ctx, unit)
	}
	return results
}

// Shutdown implements Executor.
func (e *LocalExecutor) Shutdown(_ context.Context) error {
	return nil
}

// ParallelExecutor runs units of a batch concurrently on a bounded worker pool.
type ParallelExecutor struct {
	maxWorkers int

	mu     sync.Mutex
	closed bool
}

// NewParallelExecutor creates a parallel executor.
func NewParallelExecutor(opts ExecutorOptions) (Executor, error) {
	if opts.MaxWorkers < 0 {
		return nil, fmt.Errorf("max workers must not be negative, got %d", opts.MaxWorkers)
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers == 0 {
		maxWorkers = runtime.NumCPU()
	}

	return &ParallelExecutor{maxWorkers: maxWorkers}, nil
}

// Name implements Executor.
func (e *ParallelExecutor) Name() string {
	return ExecutorParallel
}

// MaxWorkers returns the worker pool bound.
func (e *ParallelExecutor) MaxWorkers() int {
	return e.maxWorkers
}

// Submit implements Executor.
func (e *ParallelExecutor) Submit(ctx context.Context, units []Unit) []UnitResult {
	results := make([]UnitResult, len(units))

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		for i, unit := range units {
			results[i] = UnitResult{Name: unit.Name, Err: fmt.Errorf("executor is shut down")}
		}
		return results
	}

	workerCount := e.maxWorkers
	if len(units) < workerCount {
		workerCount = len(units)
	}

	// Work queue of unit indexes
	workQueue := make(chan int, len(units))
	for i := range units {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workQueue {
				results[i] = runUnit(ctx, units[i])
			}
		}()
	}

	wg.Wait()
	return results
}

// Shutdown implements Executor.
func (e *ParallelExecutor) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
