package tasks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/flowenv/pkg/engine"
)

// StarlarkConfig is the configuration of a starlark task.
type StarlarkConfig struct {
	// Script is the Starlark source. The flow parameters are predeclared as
	// "params", the results of upstream tasks as "upstream".
	Script string `yaml:"script" validate:"required"`
}

// StarlarkHandler runs Starlark scripts in a sandbox without file or network access.
// The task result is the global "result" if the script defines one, otherwise the map
// of exported globals.
type StarlarkHandler struct {
	timeout time.Duration
}

// NewStarlarkHandler creates a Starlark handler. A zero timeout means 30 seconds.
func NewStarlarkHandler(timeout time.Duration) *StarlarkHandler {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkHandler{timeout: timeout}
}

// Kind implements engine.TaskHandler.
func (h *StarlarkHandler) Kind() string {
	return KindStarlark
}

// Run implements engine.TaskHandler.
func (h *StarlarkHandler) Run(ctx context.Context, tc *engine.TaskContext) (interface{}, error) {
	var cfg StarlarkConfig
	if err := decodeConfig(tc.Task, &cfg); err != nil {
		return nil, err
	}

	predeclared, err := h.predeclared(tc)
	if err != nil {
		return nil, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: tc.Task.Name,
		Print: func(_ *starlark.Thread, msg string) {
			tc.Logger.Info(msg)
		},
	}

	type outcome struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		globals, err := starlark.ExecFile(thread, tc.Task.Name+".star", cfg.Script, predeclared)
		done <- outcome{globals: globals, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-done
		if ctx.Err() != nil {
			return nil, fmt.Errorf("starlark execution cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("starlark execution timeout after %v", h.timeout)
	}

	if out.err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", out.err)
	}

	return exportGlobals(out.globals)
}

func (h *StarlarkHandler) predeclared(tc *engine.TaskContext) (starlark.StringDict, error) {
	params, err := toStarlarkValue(tc.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to convert parameters: %w", err)
	}

	upstream := starlark.NewDict(len(tc.Upstream))
	for name, state := range tc.Upstream {
		v, err := toStarlarkValue(state.Result)
		if err != nil {
			// Results of other handlers may hold Go types Starlark cannot represent.
			v = starlark.None
		}
		if err := upstream.SetKey(starlark.String(name), v); err != nil {
			return nil, err
		}
	}
	upstream.Freeze()

	return starlark.StringDict{
		"struct":   starlark.NewBuiltin("struct", starlarkstruct.Make),
		"params":   params,
		"upstream": upstream,
		"flow":     starlark.String(tc.Flow.Name),
		"run_id":   starlark.String(tc.RunID),
	}, nil
}

// exportGlobals converts the script globals into the task result.
func exportGlobals(globals starlark.StringDict) (interface{}, error) {
	if v, ok := globals["result"]; ok {
		return fromStarlarkValue(v)
	}

	output := make(map[string]interface{})
	for _, name := range globals.Keys() {
		// Skip internal variables and functions
		if name[0] == '_' {
			continue
		}
		val := globals[name]
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}
	return output, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case *ShellResult:
		return toStarlarkValue(map[string]interface{}{
			"stdout":    val.Stdout,
			"stderr":    val.Stderr,
			"exit_code": val.ExitCode,
			"duration":  val.Duration,
		})
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
