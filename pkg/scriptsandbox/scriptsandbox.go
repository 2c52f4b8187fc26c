// Package scriptsandbox runs a package's install/remove scripts in a
// restricted Starlark interpreter: no filesystem, network, or subprocess
// access, and no load() — the only capability a script has is calling back
// into aurora's logger.
package scriptsandbox

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/aurora-pkg/aurora/pkg/telemetry"
)

// Sandbox executes package scriptlets under a bounded timeout.
type Sandbox struct {
	timeout time.Duration
	logger  *telemetry.Logger
}

// New creates a Sandbox. logger may be nil. A zero timeout defaults to 30s.
func New(timeout time.Duration, logger *telemetry.Logger) *Sandbox {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Sandbox{timeout: timeout, logger: logger.NewComponentLogger("scriptsandbox")}
}

// Run loads scriptSource, looks up its top-level main(target_root) function,
// and calls it with targetRoot as the sole positional argument. Execution
// is bounded by the sandbox's timeout.
func (sb *Sandbox) Run(ctx context.Context, scriptSource string, targetRoot string) error {
	runCtx, cancel := context.WithTimeout(ctx, sb.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "aurora-script",
		Print: func(_ *starlark.Thread, msg string) {
			// Scripts must go through aurora.info/aurora.warn; raw print is dropped.
		},
	}

	// Stop the interpreter itself when the deadline passes; without this
	// the goroutine below would keep executing the script after Run returns.
	go func() {
		<-runCtx.Done()
		thread.Cancel("execution cancelled")
	}()

	errCh := make(chan error, 1)

	go func() {
		errCh <- sb.runSync(thread, scriptSource, targetRoot)
	}()

	select {
	case <-runCtx.Done():
		return fmt.Errorf("scriptsandbox: execution timed out after %v", sb.timeout)
	case err := <-errCh:
		return err
	}
}

func (sb *Sandbox) runSync(thread *starlark.Thread, scriptSource string, targetRoot string) error {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"aurora": sb.capabilityStruct(),
	}

	globals, err := starlark.ExecFile(thread, "script.star", scriptSource, predeclared)
	if err != nil {
		return fmt.Errorf("scriptsandbox: loading script: %w", err)
	}

	mainFn, ok := globals["main"]
	if !ok {
		return fmt.Errorf("scriptsandbox: script defines no main(target_root) function")
	}

	callable, ok := mainFn.(starlark.Callable)
	if !ok {
		return fmt.Errorf("scriptsandbox: main is not callable")
	}

	_, err = starlark.Call(thread, callable, starlark.Tuple{starlark.String(targetRoot)}, nil)
	if err != nil {
		return fmt.Errorf("scriptsandbox: main(target_root) failed: %w", err)
	}

	return nil
}

// capabilityStruct builds the "aurora" predeclared object exposing info()
// and warn(), the only capability a sandboxed script has.
func (sb *Sandbox) capabilityStruct() *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"info": starlark.NewBuiltin("info", sb.builtinInfo),
		"warn": starlark.NewBuiltin("warn", sb.builtinWarn),
	})
}

func (sb *Sandbox) builtinInfo(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg", &msg); err != nil {
		return nil, err
	}
	sb.logger.Info(msg)
	return starlark.None, nil
}

func (sb *Sandbox) builtinWarn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg", &msg); err != nil {
		return nil, err
	}
	sb.logger.Warn(msg)
	return starlark.None, nil
}
