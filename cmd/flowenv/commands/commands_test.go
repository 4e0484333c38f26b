package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/flowenv/pkg/engine"
	"github.com/openfroyo/flowenv/pkg/environment"
	"github.com/openfroyo/flowenv/pkg/storage"
	"github.com/openfroyo/flowenv/pkg/stores"
	"github.com/openfroyo/flowenv/pkg/telemetry"
)

const testFlow = `
name: etl
tasks:
  - name: extract
    kind: noop
  - name: load
    kind: noop
    depends_on: [extract]
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCommand("test", "none", "today")
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand("1.0.0", "abc", "2024-01-01")

	for _, name := range []string{"execute", "validate", "history", "dev"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not registered", name)
		}
	}
	for _, flag := range []string{"config", "verbose", "json", "db", "event-level"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("flag --%s not registered", flag)
		}
	}
	if !strings.Contains(root.Version, "abc") {
		t.Errorf("version = %s", root.Version)
	}
}

func TestStorageFlags_Resolve(t *testing.T) {
	docker := writeFile(t, "storage.yaml", "type: docker\nimage_name: etl\nimage_tag: v1\n")
	local := writeFile(t, "local.yaml", "type: local\ndirectory: /flows\n")

	tests := []struct {
		name     string
		flags    storageFlags
		wantKind storage.Kind
		wantErr  bool
	}{
		{name: "image flags", flags: storageFlags{image: "etl", tag: "v1"}, wantKind: storage.KindDocker},
		{name: "docker descriptor", flags: storageFlags{descriptor: docker}, wantKind: storage.KindDocker},
		{name: "local descriptor", flags: storageFlags{descriptor: local}, wantKind: storage.KindLocal},
		{name: "nothing", flags: storageFlags{}, wantErr: true},
		{name: "missing descriptor", flags: storageFlags{descriptor: filepath.Join(t.TempDir(), "nope.yaml")}, wantErr: true},
		{name: "invalid image", flags: storageFlags{image: "etl:v1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.resolve()
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.Kind() != tt.wantKind {
				t.Errorf("kind = %s, want %s", got.Kind(), tt.wantKind)
			}
		})
	}
}

func TestWriteReport(t *testing.T) {
	jsonOutput = false
	report := &environment.RunReport{Stage: environment.StageFailed, FailedStage: environment.StageLoading}

	var buf bytes.Buffer
	if err := writeReport(&buf, report, errors.New("no such file")); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "execution failed while loading: no such file\n" {
		t.Errorf("output = %q", got)
	}
}

func TestValidateCommand(t *testing.T) {
	path := writeFile(t, "flow.prefect", testFlow)

	out, err := runCLI(t, "validate", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	want := "flow etl is valid (2 tasks)\n  level 0: extract\n  level 1: load\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	unknown := writeFile(t, "flow.prefect", "name: etl\ntasks:\n  - name: extract\n    kind: spark\n")
	_, err = runCLI(t, "validate", unknown)
	if !engine.IsLoadFailure(err) {
		t.Errorf("error = %v, want load failure", err)
	}
}

func TestExecuteAndHistory(t *testing.T) {
	flowPath := writeFile(t, "flow.prefect", testFlow)
	db := filepath.Join(t.TempDir(), "history.db")

	out, err := runCLI(t, "execute", "--image", "etl", "--flow-file", flowPath, "--run-id", "run-1", "--db", db)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !strings.Contains(out, "flow etl run run-1") {
		t.Errorf("output = %q", out)
	}

	out, err = runCLI(t, "history", "--db", db)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "run-1") || !strings.Contains(out, "succeeded") {
		t.Errorf("history output = %q", out)
	}

	out, err = runCLI(t, "history", "--db", db, "run-1")
	if err != nil {
		t.Fatalf("history run failed: %v", err)
	}
	if !strings.Contains(out, "extract") || !strings.Contains(out, "Engine:      local/flow") {
		t.Errorf("run output = %q", out)
	}
}

func TestExecuteCommand_UnsupportedStorage(t *testing.T) {
	local := writeFile(t, "local.yaml", "type: local\ndirectory: /flows\n")

	_, err := runCLI(t, "execute", "--storage", local, "--flow-file", "/does/not/matter")
	if !engine.IsContractViolation(err) {
		t.Errorf("error = %v, want contract violation", err)
	}
}

func TestHistoryCommand_Errors(t *testing.T) {
	if _, err := runCLI(t, "history"); err == nil {
		t.Error("expected error without --db")
	}
	db := filepath.Join(t.TempDir(), "history.db")
	if _, err := runCLI(t, "history", "--db", db, "--status", "running"); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestRecordRun_CancelledContext(t *testing.T) {
	dbPath = filepath.Join(t.TempDir(), "history.db")
	defer func() { dbPath = "" }()

	store, err := openStore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := &environment.RunReport{
		EnvironmentID: "env-1",
		Stage:         environment.StageFailed,
		FailedStage:   environment.StageRunning,
		State:         &engine.FlowRunState{RunID: "run-interrupted", Flow: "etl"},
	}
	recordRun(ctx, store, report, context.Canceled)

	run, err := store.GetRun(context.Background(), "run-interrupted")
	if err != nil {
		t.Fatalf("run not recorded: %v", err)
	}
	if run.Status != stores.RunStatusFailed {
		t.Errorf("status = %s, want %s", run.Status, stores.RunStatusFailed)
	}

	// A nil store records nothing.
	recordRun(ctx, nil, report, nil)
}

func TestPrintEvents_EventLevel(t *testing.T) {
	defer func() { verbose, jsonOutput, eventLevel = false, false, telemetry.EventLevelInfo }()

	tests := []struct {
		name  string
		level string
		want  []string
		skip  []string
	}{
		{
			name:  "info",
			level: telemetry.EventLevelInfo,
			want:  []string{"task_run.started", "task_run.failed"},
		},
		{
			name:  "error",
			level: telemetry.EventLevelError,
			want:  []string{"task_run.failed"},
			skip:  []string{"task_run.started"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verbose, jsonOutput, eventLevel = true, false, tt.level
			tel := &telemetry.Telemetry{Events: telemetry.NewEventPublisher()}

			var buf bytes.Buffer
			printEvents(tel, &buf)
			tel.Events.PublishTaskRunStarted("run-1", "extract", "shell")
			tel.Events.PublishTaskRunFailed("run-1", "extract", "exit status 1")

			for _, s := range tt.want {
				if !strings.Contains(buf.String(), s) {
					t.Errorf("output %q missing %s", buf.String(), s)
				}
			}
			for _, s := range tt.skip {
				if strings.Contains(buf.String(), s) {
					t.Errorf("output %q should not contain %s", buf.String(), s)
				}
			}
		})
	}
}

func TestRootCommand_InvalidEventLevel(t *testing.T) {
	defer func() { eventLevel = telemetry.EventLevelInfo }()

	path := writeFile(t, "flow.prefect", testFlow)
	if _, err := runCLI(t, "--event-level", "loud", "validate", path); err == nil {
		t.Error("expected error for invalid event level")
	}
}
