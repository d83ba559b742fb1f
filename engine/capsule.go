package engine

import (
	"bytes"
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
)

// Export names that select the capsule flavour.
const (
	RunExport   = "run"
	StartExport = "_start"
)

// Flavour names reported by capsules.
const (
	FlavourFunction = "function"
	FlavourCommand  = "command"
)

// functionCapsule keeps one live instance and calls its run export.
type functionCapsule struct {
	engine   *Engine
	compiled wazero.CompiledModule
	module   api.Module
	run      api.Function
	result   wit.Type
}

// instantiate runs the start section and _initialize under the execution
// deadline.
func (c *functionCapsule) instantiate(ctx context.Context) error {
	initCtx, cancel := c.engine.runContext(ctx)
	defer cancel()

	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize").
		WithStdout(guestWriter(ctx, "stdout")).
		WithStderr(guestWriter(ctx, "stderr"))

	mod, err := c.engine.runtime.InstantiateModule(initCtx, c.compiled, cfg)
	if err != nil {
		return err
	}
	c.module = mod
	c.run = mod.ExportedFunction(RunExport)
	return nil
}

func (c *functionCapsule) Run(ctx context.Context) (wasmsandbox.Output, error) {
	if c.module == nil || c.module.IsClosed() {
		Logger().Debug("reinstantiating closed capsule", zap.String("capsule", wasmsandbox.NameFrom(ctx)))
		if err := c.instantiate(ctx); err != nil {
			return wasmsandbox.Output{}, err
		}
	}

	runCtx, cancel := c.engine.runContext(ctx)
	defer cancel()

	values, err := c.run.Call(runCtx)
	if err != nil {
		return wasmsandbox.Output{}, err
	}

	value, err := decodeResult(c.result, values, c.module.Memory())
	if err != nil {
		return wasmsandbox.Output{}, err
	}
	return wasmsandbox.Output{Type: c.result, Value: value}, nil
}

func (c *functionCapsule) Flavour() string {
	return FlavourFunction
}

func (c *functionCapsule) Close(ctx context.Context) error {
	var err error
	if c.module != nil {
		err = c.module.Close(ctx)
		c.module = nil
	}
	return stderrors.Join(err, c.compiled.Close(ctx))
}

// commandCapsule instantiates a fresh WASI module for every run; the
// module's _start runs during instantiation and its stdout is the result.
type commandCapsule struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

func (c *commandCapsule) Run(ctx context.Context) (wasmsandbox.Output, error) {
	runCtx, cancel := c.engine.runContext(ctx)
	defer cancel()

	stdout := &cappedBuffer{limit: c.engine.cfg.MaxOutputBytes}
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(wasmsandbox.NameFrom(ctx)).
		WithStdout(stdout).
		WithStderr(guestWriter(ctx, "stderr"))

	mod, err := c.engine.runtime.InstantiateModule(runCtx, c.compiled, cfg)
	if mod != nil {
		_ = mod.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if !stderrors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			return wasmsandbox.Output{}, err
		}
	}

	return wasmsandbox.Output{Type: wit.String{}, Value: stdout.String()}, nil
}

func (c *commandCapsule) Flavour() string {
	return FlavourCommand
}

func (c *commandCapsule) Close(ctx context.Context) error {
	return c.compiled.Close(ctx)
}

// guestWriter forwards guest output lines to the engine logger.
func guestWriter(ctx context.Context, stream string) *zapio.Writer {
	return &zapio.Writer{
		Log: Logger().With(
			zap.String("capsule", wasmsandbox.NameFrom(ctx)),
			zap.String("stream", stream)),
		Level: zap.DebugLevel,
	}
}

// cappedBuffer silently drops output beyond limit.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.limit - b.buf.Len(); room < len(p) {
		p = p[:max(room, 0)]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

var (
	_ wasmsandbox.Capsule   = (*functionCapsule)(nil)
	_ wasmsandbox.Capsule   = (*commandCapsule)(nil)
	_ wasmsandbox.Describer = (*functionCapsule)(nil)
	_ wasmsandbox.Describer = (*commandCapsule)(nil)
)
