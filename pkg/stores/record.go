package stores

import (
	"errors"
	"sort"

	"github.com/openfroyo/flowenv/pkg/engine"
	"github.com/openfroyo/flowenv/pkg/environment"
)

// RecordFromReport builds the history record of an execution from its report
// and the error Execute returned.
func RecordFromReport(report *environment.RunReport, runErr error) *RunRecord {
	rec := &RunRecord{
		ID:            report.RunID(),
		EnvironmentID: report.EnvironmentID,
		FlowName:      report.FlowName(),
		FlowLocation:  report.FlowLocation,
		FlowPath:      report.FlowPath,
		StorageKind:   string(report.StorageKind),
		ImageRef:      report.ImageRef,
		Executor:      report.Executor,
		Runner:        report.Runner,
		Stage:         report.Stage.String(),
		Status:        RunStatusSucceeded,
		StartedAt:     report.StartedAt,
	}
	if !report.FinishedAt.IsZero() {
		finished := report.FinishedAt
		rec.FinishedAt = &finished
	}

	if runErr != nil {
		rec.Status = RunStatusFailed
		msg := runErr.Error()
		rec.Error = &msg

		var engErr *engine.EngineError
		if errors.As(runErr, &engErr) {
			class := string(engErr.Class)
			rec.ErrorClass = &class
		}
	}

	if report.State != nil {
		names := make([]string, 0, len(report.State.Tasks))
		for name := range report.State.Tasks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ts := report.State.Tasks[name]
			task := TaskRecord{Task: name, Status: string(ts.Status)}
			if ts.Error != "" {
				msg := ts.Error
				task.Error = &msg
			}
			if !ts.StartedAt.IsZero() {
				started := ts.StartedAt
				task.StartedAt = &started
			}
			if !ts.FinishedAt.IsZero() {
				finished := ts.FinishedAt
				task.FinishedAt = &finished
			}
			rec.Tasks = append(rec.Tasks, task)
		}
	}

	return rec
}
