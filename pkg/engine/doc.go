// Package engine provides the flow model and the execution machinery behind a flow
// environment.
//
// # Overview
//
// A flow is a named directed acyclic graph of tasks. The engine turns a serialized
// flow artifact into a runnable graph and runs it:
//
//  1. Decode - DecodeFlow reads the YAML artifact and validates it
//  2. Plan - DAGBuilder orders tasks into execution levels and rejects cycles
//  3. Run - a Runner hands each level to an Executor as one batch
//  4. Result - FlowRunState records per-task outcomes
//
// # Core Domain Types
//
//   - Flow: the workflow graph (name, version, parameters, tasks)
//   - Task: a node with a kind, handler configuration, dependencies and trigger rule
//   - ExecutionGraph: tasks grouped by level
//   - FlowRunState / TaskRunState: outcome of a run
//
// # Executors and Runners
//
// Executors decide how a batch of independent units is scheduled. LocalExecutor runs
// them one after the other; ParallelExecutor uses a bounded worker pool.
//
// Runners own the flow semantics. FlowRunner resolves each task kind in a
// TaskRegistry, skips tasks whose upstreams failed (unless their trigger is
// "always") and reports a run-class EngineError when any task failed.
//
// Both are constructed through factories looked up by name in a Registry:
//
//	reg := engine.NewDefaultRegistry(engine.FlowRunnerOptions{Handlers: handlers})
//	newExecutor, err := reg.ResolveExecutor("parallel")
//	newRunner, err := reg.ResolveRunner("")
//
// # Error Handling
//
// Errors are classified with EngineError:
//
//   - contract_violation: the caller passed an unsupported storage descriptor
//   - load_failure: the flow artifact is unreadable or malformed
//   - configuration: no executor or runner is available under the configured name
//   - run: the flow run itself failed
//
// Use the IsX predicates or errors.Is with a template error to classify:
//
//	if engine.IsArtifactUnreadable(err) {
//	    // re-stage the artifact
//	}
package engine
