package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// DefaultListLimit bounds ListRuns when the filter sets no limit.
const DefaultListLimit = 50

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance. Init must be called before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to ":memory:" opens its own database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if !isMemory(dsn) {
		dsn = "file:" + dsn + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// SaveRun inserts or replaces a run and its task records in one transaction.
// A run without an ID is given a new one.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) (err error) {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, environment_id, flow_name, flow_location, flow_path, storage_kind, image_ref,
			executor, runner, stage, status, error, error_class, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.EnvironmentID,
		run.FlowName,
		run.FlowLocation,
		run.FlowPath,
		run.StorageKind,
		run.ImageRef,
		run.Executor,
		run.Runner,
		run.Stage,
		run.Status,
		run.Error,
		run.ErrorClass,
		run.StartedAt.UTC(),
		utcPtr(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM task_runs WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear task runs: %w", err)
	}
	for _, task := range run.Tasks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_runs (run_id, task, status, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, task.Task, task.Status, task.Error, utcPtr(task.StartedAt), utcPtr(task.FinishedAt))
		if err != nil {
			return fmt.Errorf("failed to save task run %s: %w", task.Task, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, environment_id, flow_name, flow_location, flow_path, storage_kind, image_ref,
	executor, runner, stage, status, error, error_class, started_at, finished_at`

// GetRun retrieves a run and its task records by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	tasks, err := s.listTaskRuns(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Tasks = tasks
	return run, nil
}

// ListRuns lists runs, most recent first. Task records are not loaded.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.FlowName != "" {
		where = append(where, "flow_name = ?")
		args = append(args, filter.FlowName)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its task records.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

func (s *SQLiteStore) listTaskRuns(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task, status, error, started_at, finished_at
		FROM task_runs
		WHERE run_id = ?
		ORDER BY task
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var (
			task       TaskRecord
			errMsg     sql.NullString
			startedAt  sql.NullTime
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&task.Task, &task.Status, &errMsg, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		task.Error = stringPtr(errMsg)
		task.StartedAt = timePtr(startedAt)
		task.FinishedAt = timePtr(finishedAt)
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task runs: %w", err)
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		run        RunRecord
		errMsg     sql.NullString
		errClass   sql.NullString
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID,
		&run.EnvironmentID,
		&run.FlowName,
		&run.FlowLocation,
		&run.FlowPath,
		&run.StorageKind,
		&run.ImageRef,
		&run.Executor,
		&run.Runner,
		&run.Stage,
		&run.Status,
		&errMsg,
		&errClass,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Error = stringPtr(errMsg)
	run.ErrorClass = stringPtr(errClass)
	run.FinishedAt = timePtr(finishedAt)
	return &run, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

func utcPtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
