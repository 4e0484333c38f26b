// Package telemetry instruments flow environments and flow runs.
//
// A Telemetry bundles four parts, each usable on its own:
//
//   - Logger wraps zerolog and carries environment_id, flow, run_id and task fields.
//   - Tracer starts an environment.execute span per execution, one child span per
//     stage and one span per task run. Spans are exported over OTLP/gRPC or to stdout.
//   - Metrics holds Prometheus collectors on a private registry: flow runs, task runs,
//     stage durations, stage failures and error classes.
//   - EventPublisher delivers flow_run.* and task_run.* events to subscribers,
//     synchronously on the publishing goroutine.
//
// Nil or disabled parts are valid and record nothing, so collaborators never need
// to check for them:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
