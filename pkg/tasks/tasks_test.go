package tasks

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/flowenv/pkg/engine"
	"github.com/openfroyo/flowenv/pkg/telemetry"
)

func taskContext(kind string, config map[string]interface{}) *engine.TaskContext {
	task := engine.Task{Name: "t1", Kind: kind, Config: config}
	return &engine.TaskContext{
		Flow:       &engine.Flow{Name: "test-flow", Tasks: []engine.Task{task}},
		RunID:      "run-1",
		Task:       &task,
		Parameters: map[string]interface{}{"region": "eu", "replicas": 3},
		Upstream:   map[string]*engine.TaskRunState{},
		Logger:     telemetry.NewNopLogger(),
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell tasks need /bin/sh")
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry(Options{})
	want := []string{KindFail, KindLog, KindNoop, KindShell, KindStarlark}
	if got := reg.Kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}

	if err := Register(reg, Options{}); err == nil {
		t.Error("registering built-ins twice should fail")
	}
}

func TestShellHandler(t *testing.T) {
	requireShell(t)

	tests := []struct {
		name      string
		config    map[string]interface{}
		wantErr   string
		checkFunc func(*testing.T, *ShellResult)
	}{
		{
			name:   "stdout captured",
			config: map[string]interface{}{"command": "echo hello"},
			checkFunc: func(t *testing.T, r *ShellResult) {
				if strings.TrimSpace(r.Stdout) != "hello" {
					t.Errorf("stdout = %q", r.Stdout)
				}
			},
		},
		{
			name:   "run environment",
			config: map[string]interface{}{"command": `echo "$FLOWENV_FLOW/$FLOWENV_TASK/$FLOWENV_RUN_ID/$GREETING"`, "env": map[string]interface{}{"GREETING": "hi"}},
			checkFunc: func(t *testing.T, r *ShellResult) {
				if got := strings.TrimSpace(r.Stdout); got != "test-flow/t1/run-1/hi" {
					t.Errorf("stdout = %q", got)
				}
			},
		},
		{
			name:   "workdir",
			config: map[string]interface{}{"command": "pwd", "workdir": "/"},
			checkFunc: func(t *testing.T, r *ShellResult) {
				if strings.TrimSpace(r.Stdout) != "/" {
					t.Errorf("stdout = %q", r.Stdout)
				}
			},
		},
		{
			name:    "non-zero exit",
			config:  map[string]interface{}{"command": "echo broken >&2; exit 3"},
			wantErr: "exited with status 3: broken",
			checkFunc: func(t *testing.T, r *ShellResult) {
				if r.ExitCode != 3 {
					t.Errorf("exit code = %d", r.ExitCode)
				}
			},
		},
		{
			name:    "timeout",
			config:  map[string]interface{}{"command": "sleep 5", "timeout": "50ms"},
			wantErr: "interrupted",
		},
		{
			name:    "missing command",
			config:  map[string]interface{}{},
			wantErr: "invalid shell config",
		},
		{
			name:    "unknown key",
			config:  map[string]interface{}{"command": "true", "sudo": true},
			wantErr: "invalid shell config",
		},
	}

	h := NewShellHandler("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := h.Run(context.Background(), taskContext(KindShell, tt.config))

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.checkFunc != nil {
				result, ok := value.(*ShellResult)
				if !ok {
					t.Fatalf("result type = %T", value)
				}
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestStarlarkHandler(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    interface{}
		wantErr string
	}{
		{
			name:   "result global",
			script: "result = 2 + 2\n",
			want:   int64(4),
		},
		{
			name:   "parameters",
			script: "result = '%s-%d' % (params['region'], params['replicas'])\n",
			want:   "eu-3",
		},
		{
			name: "exported globals",
			script: `
def double(n):
    return [i * 2 for i in range(n)]

_hidden = 1
values = double(3)
label = flow + "/" + run_id
`,
			want: map[string]interface{}{
				"values": []interface{}{int64(0), int64(2), int64(4)},
				"label":  "test-flow/run-1",
			},
		},
		{
			name:   "struct",
			script: "result = struct(ok = True, count = 2)\n",
			want:   map[string]interface{}{"ok": true, "count": int64(2)},
		},
		{
			name:    "runtime error",
			script:  "result = 1 // 0\n",
			wantErr: "starlark execution failed",
		},
		{
			name:    "syntax error",
			script:  "result = (\n",
			wantErr: "starlark execution failed",
		},
	}

	h := NewStarlarkHandler(5 * time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Run(context.Background(), taskContext(KindStarlark, map[string]interface{}{"script": tt.script}))

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("result = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestStarlarkHandler_Upstream(t *testing.T) {
	tc := taskContext(KindStarlark, map[string]interface{}{"script": "result = upstream['extract'] + 1\n"})
	tc.Upstream["extract"] = &engine.TaskRunState{Task: "extract", Status: engine.TaskStatusSuccess, Result: int64(41)}

	got, err := NewStarlarkHandler(0).Run(context.Background(), tc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != int64(42) {
		t.Errorf("result = %v, want 42", got)
	}
}

func TestStarlarkHandler_Timeout(t *testing.T) {
	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

result = spin()
`
	h := NewStarlarkHandler(50 * time.Millisecond)

	start := time.Now()
	_, err := h.Run(context.Background(), taskContext(KindStarlark, map[string]interface{}{"script": script}))
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("error = %v, want timeout", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("script was not interrupted")
	}
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	tc := taskContext(KindLog, map[string]interface{}{"message": "deploying to ${region} x$replicas", "level": "warn"})
	tc.Logger = telemetry.NewLoggerFromZerolog(zerolog.New(&buf))

	got, err := (&LogHandler{}).Run(context.Background(), tc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "deploying to eu x3" {
		t.Errorf("result = %v", got)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), "deploying to eu x3") {
		t.Errorf("log output = %s", buf.String())
	}

	_, err = (&LogHandler{}).Run(context.Background(), taskContext(KindLog, map[string]interface{}{"message": "x", "level": "loud"}))
	if err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNoopAndFailHandlers(t *testing.T) {
	if v, err := (&NoopHandler{}).Run(context.Background(), taskContext(KindNoop, nil)); v != nil || err != nil {
		t.Errorf("noop = %v, %v", v, err)
	}

	_, err := (&FailHandler{}).Run(context.Background(), taskContext(KindFail, nil))
	if !errors.Is(err, ErrTaskFailedOnPurpose) {
		t.Errorf("error = %v, want ErrTaskFailedOnPurpose", err)
	}

	_, err = (&FailHandler{}).Run(context.Background(), taskContext(KindFail, map[string]interface{}{"message": "region $region is down"}))
	if !errors.Is(err, ErrTaskFailedOnPurpose) || !strings.Contains(err.Error(), "region eu is down") {
		t.Errorf("error = %v", err)
	}
}

func TestBuiltinsInFlowRun(t *testing.T) {
	requireShell(t)

	flow, err := engine.DecodeFlow([]byte(`
name: smoke
parameters:
  who: world
tasks:
  - name: greet
    kind: shell
    config:
      command: printf hello
  - name: compute
    kind: starlark
    depends_on: [greet]
    config:
      script: "result = upstream['greet']['stdout'] + ' ' + params['who']"
  - name: boom
    kind: fail
  - name: after-boom
    kind: noop
    depends_on: [boom]
`))
	if err != nil {
		t.Fatalf("DecodeFlow failed: %v", err)
	}

	runner, err := engine.NewFlowRunner(flow, nil, engine.FlowRunnerOptions{Handlers: DefaultRegistry(Options{})})
	if err != nil {
		t.Fatalf("NewFlowRunner failed: %v", err)
	}

	exec, _ := engine.NewParallelExecutor(engine.ExecutorOptions{MaxWorkers: 2})
	state, err := runner.Run(context.Background(), exec)

	if !engine.IsRunError(err) {
		t.Fatalf("expected run error, got %v", err)
	}
	if state.Tasks["boom"].Status != engine.TaskStatusFailed {
		t.Errorf("boom status = %s", state.Tasks["boom"].Status)
	}
	if state.Tasks["after-boom"].Status != engine.TaskStatusSkipped {
		t.Errorf("after-boom status = %s", state.Tasks["after-boom"].Status)
	}
	if state.Tasks["compute"].Result != "hello world" {
		t.Errorf("compute result = %v", state.Tasks["compute"].Result)
	}
}
