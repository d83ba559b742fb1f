// sandboxd serves the capsule sandbox over CoAP.
//
// Usage:
//
//	sandboxd [--config FILE] [--listen ADDR] [--log-level LEVEL]
//
// Flags override the matching keys of the config file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/coap"
	"github.com/wippyai/wasm-sandbox/config"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/registry"
	"github.com/wippyai/wasm-sandbox/sandbox"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sandboxd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	zc, err := cfg.ZapConfig()
	if err != nil {
		return err
	}
	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	engine.SetLogger(logger.Named("engine"))
	registry.SetLogger(logger.Named("registry"))
	sandbox.SetLogger(logger.Named("sandbox"))
	coap.SetLogger(logger.Named("coap"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	eng, err := engine.New(ctx, ecfg)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close(context.Background())

	reg := registry.New()
	reg.Subscribe(registry.ObserverFunc(func(e registry.Event) {
		logger.Info("capsule "+e.Type.String(),
			zap.String("name", e.Name),
			zap.String("flavour", e.Info.Flavour),
			zap.String("size", humanize.IBytes(uint64(e.Info.Size))),
			zap.Uint64("runs", e.Info.Runs))
	}))

	sb := sandbox.New(eng, reg, cfg.SandboxOptions())
	defer sb.Close(context.Background())

	if timeout := cfg.Sandbox.StagingTimeout.Std(); timeout > 0 {
		go reclaimLoop(ctx, sb, timeout/2)
	}

	logger.Info("sandboxd starting",
		zap.String("listen", cfg.Listen),
		zap.String("max_module_size", humanize.IBytes(uint64(cfg.Sandbox.MaxModuleSize))),
		zap.Bool("host_bindings", cfg.Engine.HostBindings),
		zap.Duration("execution_timeout", cfg.Engine.ExecutionTimeout.Std()))

	srv := coap.NewServer(sb, coap.ServerOptions{})
	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		return err
	}
	logger.Info("sandboxd stopped")
	return nil
}

// loadConfig parses flags, loads the config file they name and applies
// flag overrides on top of it.
func loadConfig(args []string) (*config.Config, error) {
	var (
		path     string
		listen   string
		logLevel string
	)
	flags := pflag.NewFlagSet("sandboxd", pflag.ContinueOnError)
	flags.StringVarP(&path, "config", "c", "", "path to a YAML or TOML config file")
	flags.StringVar(&listen, "listen", "", "UDP address to serve CoAP on (default "+config.DefaultListen+")")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", flags.Arg(0))
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flags.Changed("listen") {
		cfg.Listen = listen
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func reclaimLoop(ctx context.Context, sb *sandbox.Sandbox, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sb.Reclaim()
		}
	}
}
