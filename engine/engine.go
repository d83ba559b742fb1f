package engine

import (
	"context"
	"crypto/rand"
	"io"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// Sensors answers sensor_read. Nil means every read fails.
	Sensors SensorSource

	// Rand feeds random_u32. Defaults to crypto/rand.
	Rand io.Reader

	// Clock feeds now_ms. Defaults to time.Now.
	Clock func() time.Time

	// ExecutionTimeout bounds a single run. 0 means no deadline.
	ExecutionTimeout time.Duration

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// MaxOutputBytes caps the captured stdout of a command capsule.
	// 0 means 64KiB.
	MaxOutputBytes int

	// HostBindings exposes the "sandbox" host module to guests.
	HostBindings bool
}

const defaultMaxOutput = 64 << 10

// Engine compiles and runs capsules on a single wazero runtime.
type Engine struct {
	runtime wazero.Runtime
	cfg     Config
	closed  atomic.Bool
}

var _ wasmsandbox.Instantiator = (*Engine)(nil)

// New creates an engine with its WASI and host modules instantiated.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutput
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCustomSections(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	e := &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     cfg,
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseInstantiate, errors.KindEngineFault, err, "instantiate WASI")
	}

	if cfg.HostBindings {
		if err := e.instantiateHost(ctx); err != nil {
			_ = e.runtime.Close(ctx)
			return nil, errors.Wrap(errors.PhaseInstantiate, errors.KindEngineFault, err, "instantiate host module")
		}
	}

	Logger().Debug("engine ready",
		zap.Bool("host_bindings", cfg.HostBindings),
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages),
		zap.Duration("execution_timeout", cfg.ExecutionTimeout))

	return e, nil
}

// Instantiate compiles code and returns a capsule of the matching flavour.
// Every failure is reported as an invalid_module error.
func (e *Engine) Instantiate(ctx context.Context, code wasmsandbox.AttestedCode) (wasmsandbox.Capsule, error) {
	if e.closed.Load() {
		return nil, errors.Closed(errors.PhaseInstantiate, "engine")
	}

	compiled, err := e.runtime.CompileModule(ctx, code.Bytes())
	if err != nil {
		return nil, errors.InvalidModule("compile", err)
	}

	if err := e.checkImports(compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	exports := compiled.ExportedFunctions()
	if def, ok := exports[RunExport]; ok {
		result, err := resultType(compiled, def)
		if err != nil {
			_ = compiled.Close(ctx)
			return nil, err
		}
		c := &functionCapsule{engine: e, compiled: compiled, result: result}
		if err := c.instantiate(ctx); err != nil {
			_ = compiled.Close(ctx)
			return nil, errors.InvalidModule("instantiate", err)
		}
		return c, nil
	}

	if _, ok := exports[StartExport]; ok {
		return &commandCapsule{engine: e, compiled: compiled}, nil
	}

	_ = compiled.Close(ctx)
	return nil, errors.InvalidModule("module exports neither run nor _start", nil)
}

// checkImports rejects modules importing anything the engine cannot provide,
// so a bad upload fails at finalize rather than on its first run.
func (e *Engine) checkImports(compiled wazero.CompiledModule) error {
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		switch {
		case module == wasi_snapshot_preview1.ModuleName:
		case module == HostModule && e.cfg.HostBindings:
		default:
			return errors.New(errors.PhaseInstantiate, errors.KindInvalidModule).
				Detail("unresolved import %s.%s", module, name).
				Build()
		}
	}
	return nil
}

// runContext applies the execution deadline.
func (e *Engine) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.ExecutionTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	}
	return context.WithCancel(ctx)
}

// Close releases the runtime and every module compiled by it.
// All capsules must be closed before calling this.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.runtime.Close(ctx)
}
