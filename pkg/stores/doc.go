// Package stores keeps the history of environment executions in SQLite.
// The schema is applied from embedded migrations; one row per execution in runs,
// one row per task in task_runs.
package stores
