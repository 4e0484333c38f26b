package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openfroyo/flowenv/pkg/engine"
)

// ShellConfig is the configuration of a shell task.
type ShellConfig struct {
	// Command is run through the shell unless Args is set, in which case it is
	// executed directly with Args.
	Command string            `yaml:"command" validate:"required"`
	Args    []string          `yaml:"args,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty" validate:"gte=0"`
}

// ShellResult is the value returned by a shell task.
type ShellResult struct {
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	ExitCode int     `json:"exit_code"`
	Duration float64 `json:"duration"`
}

// ShellHandler runs commands on the local host.
type ShellHandler struct {
	shell string
}

// NewShellHandler creates a shell handler using the given interpreter.
func NewShellHandler(shell string) *ShellHandler {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &ShellHandler{shell: shell}
}

// Kind implements engine.TaskHandler.
func (h *ShellHandler) Kind() string {
	return KindShell
}

// Run implements engine.TaskHandler. A non-zero exit status fails the task.
func (h *ShellHandler) Run(ctx context.Context, tc *engine.TaskContext) (interface{}, error) {
	var cfg ShellConfig
	if err := decodeConfig(tc.Task, &cfg); err != nil {
		return nil, err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if len(cfg.Args) > 0 {
		cmd = exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	} else {
		// If no args, run command through shell
		cmd = exec.CommandContext(ctx, h.shell, "-c", cfg.Command)
	}

	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	cmd.Env = append(os.Environ(),
		"FLOWENV_FLOW="+tc.Flow.Name,
		"FLOWENV_RUN_ID="+tc.RunID,
		"FLOWENV_TASK="+tc.Task.Name,
	)
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of a killed shell may keep the output pipes open.
	cmd.WaitDelay = time.Second

	tc.Logger.Debugf("Running command: %s", cfg.Command)

	start := time.Now()
	err := cmd.Run()

	result := &ShellResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start).Seconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("command interrupted: %w", ctxErr)
		}
		return result, fmt.Errorf("command exited with status %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return result, nil
}
