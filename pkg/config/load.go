package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// Environment variables that override file configuration.
const (
	EnvFlowFilePath = "FLOWENV_FLOW_FILE_PATH"
	EnvExecutor     = "FLOWENV_EXECUTOR"
	EnvRunner       = "FLOWENV_RUNNER"
	EnvMaxWorkers   = "FLOWENV_MAX_WORKERS"
)

//go:embed schema.cue
var schemaSource []byte

// LoadOptions controls where Load reads configuration from.
type LoadOptions struct {
	// Path is an optional CUE (or JSON) file. Empty skips the file.
	Path string

	// LookupEnv reads environment overrides. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// ValidationError is one problem found in a configuration file.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// LoadError aggregates the problems of a configuration file.
type LoadError struct {
	Path   string
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Path, strings.Join(msgs, "; "))
}

// Load builds a RunContext from defaults, the optional configuration file and
// FLOWENV_* environment variables, in that order of precedence (lowest first).
func Load(ctx context.Context, opts LoadOptions) (*RunContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc := DefaultRunContext()

	if opts.Path != "" {
		fileRC, err := loadFile(opts.Path)
		if err != nil {
			return nil, err
		}
		merge(rc, fileRC)
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(rc, lookup); err != nil {
		return nil, err
	}

	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return rc, nil
}

// Parse decodes CUE source into a RunContext without defaults or overrides.
// The filename is used in error positions only.
func Parse(filename string, src []byte) (*RunContext, error) {
	cctx := cuecontext.New()

	schema := cctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile configuration schema: %w", err)
	}

	val := cctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Path: filename, Errors: convertCUEErrors(err)}
	}

	unified := schema.LookupPath(cue.ParsePath("#RunContext")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Path: filename, Errors: convertCUEErrors(err)}
	}

	var rc RunContext
	if err := unified.Decode(&rc); err != nil {
		return nil, fmt.Errorf("failed to decode configuration %s: %w", filename, err)
	}
	return &rc, nil
}

func loadFile(path string) (*RunContext, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return Parse(path, content)
}

// merge copies the values set in src over dst.
func merge(dst, src *RunContext) {
	if src.FlowFilePath != "" {
		dst.FlowFilePath = src.FlowFilePath
	}
	if src.Engine.Executor != "" {
		dst.Engine.Executor = src.Engine.Executor
	}
	if src.Engine.Runner != "" {
		dst.Engine.Runner = src.Engine.Runner
	}
	if src.Engine.MaxWorkers != 0 {
		dst.Engine.MaxWorkers = src.Engine.MaxWorkers
	}
	if len(src.Parameters) > 0 {
		if dst.Parameters == nil {
			dst.Parameters = make(map[string]interface{}, len(src.Parameters))
		}
		for k, v := range src.Parameters {
			dst.Parameters[k] = v
		}
	}
}

func applyEnv(rc *RunContext, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvFlowFilePath); ok && v != "" {
		rc.FlowFilePath = v
	}
	if v, ok := lookup(EnvExecutor); ok && v != "" {
		rc.Engine.Executor = v
	}
	if v, ok := lookup(EnvRunner); ok && v != "" {
		rc.Engine.Runner = v
	}
	if v, ok := lookup(EnvMaxWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxWorkers, v, err)
		}
		rc.Engine.MaxWorkers = n
	}
	return nil
}

func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}
