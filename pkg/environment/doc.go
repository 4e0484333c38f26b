// Package environment runs packaged flows.
//
// An Environment takes a storage descriptor and a flow location and drives one run
// through a fixed sequence of stages:
//
//	idle -> validating -> loading -> selecting_engine -> running -> completed | failed
//
// SlimEnvironment is the implementation for flows baked into Docker images. It
//
//   - rejects any storage other than *storage.Docker before touching the filesystem
//   - reads the flow from RunContext.FlowFilePath (config.DefaultFlowFilePath when unset)
//   - resolves the executor and runner through an engine.Registry
//   - runs the flow and logs a failed run exactly once before returning its error
//
// Errors are *engine.EngineError values classified as contract_violation,
// load_failure, configuration or run. Run errors are returned unchanged, so callers
// can compare them with errors.Is against what their runner produced.
//
// Usage:
//
//	env := environment.NewSlimEnvironment(environment.Options{Logger: logger})
//	rc, err := config.Load(ctx, config.LoadOptions{Path: "flowenv.cue"})
//	if err != nil {
//	    return err
//	}
//	store := storage.NewDocker("registry.example.com", "etl", "v1")
//	if err := env.Execute(ctx, store, "/root/.prefect/flows/etl.prefect", rc, nil); err != nil {
//	    return err
//	}
package environment
