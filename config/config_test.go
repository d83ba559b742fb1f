package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Sandbox.StagingTimeout != 0 {
		t.Errorf("staging timeout enabled by default: %v", cfg.Sandbox.StagingTimeout)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
}

const yamlConfig = `
listen: "127.0.0.1:15683"
log:
  level: debug
  mode: development
sandbox:
  max_module_size: 4096
  staging_timeout: 90s
  block_szx: 2
  diagnostics: true
engine:
  execution_timeout: 250ms
  host_bindings: false
  sensors:
    jitter: 0
    seed: 7
    readings:
      temperature: {value: 190, scaling: -1, unit: Cel}
`

const tomlConfig = `
listen = "127.0.0.1:15683"

[log]
level = "debug"
mode = "development"

[sandbox]
max_module_size = 4096
staging_timeout = "90s"
block_szx = 2
diagnostics = true

[engine]
execution_timeout = "250ms"
host_bindings = false

[engine.sensors]
jitter = 0
seed = 7

[engine.sensors.readings.temperature]
value = 190
scaling = -1
unit = "Cel"
`

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "sandboxd.yaml", yamlConfig},
		{"yml", "sandboxd.yml", yamlConfig},
		{"toml", "sandboxd.toml", tomlConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Listen != "127.0.0.1:15683" {
				t.Errorf("Listen = %q", cfg.Listen)
			}
			if cfg.Log.Mode != "development" || cfg.Log.Level != "debug" {
				t.Errorf("Log = %+v", cfg.Log)
			}
			if cfg.Sandbox.MaxModuleSize != 4096 || cfg.Sandbox.BlockSZX != 2 || !cfg.Sandbox.Diagnostics {
				t.Errorf("Sandbox = %+v", cfg.Sandbox)
			}
			if cfg.Sandbox.StagingTimeout.Std() != 90*time.Second {
				t.Errorf("StagingTimeout = %v", cfg.Sandbox.StagingTimeout)
			}
			if cfg.Engine.ExecutionTimeout.Std() != 250*time.Millisecond {
				t.Errorf("ExecutionTimeout = %v", cfg.Engine.ExecutionTimeout)
			}
			if cfg.Engine.HostBindings {
				t.Error("HostBindings should be overridden to false")
			}
			// Unset keys keep their defaults.
			if cfg.Engine.MemoryLimitPages != Default().Engine.MemoryLimitPages {
				t.Errorf("MemoryLimitPages = %d", cfg.Engine.MemoryLimitPages)
			}
			r, ok := cfg.Engine.Sensors.Readings["temperature"]
			if !ok || r.Value != 190 || r.Scaling != -1 || r.Unit != "Cel" {
				t.Errorf("temperature reading = %+v (ok=%v)", r, ok)
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		kind    errors.Kind
	}{
		{"unknown extension", "sandboxd.json", "{}", errors.KindInvalidInput},
		{"bad yaml", "bad.yaml", "listen: [", errors.KindInvalidInput},
		{"bad toml", "bad.toml", "listen = ", errors.KindInvalidInput},
		{"bad duration", "dur.yaml", "sandbox:\n  staging_timeout: soon\n", errors.KindInvalidInput},
		{"invalid value", "szx.yaml", "sandbox:\n  block_szx: 7\n", errors.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("kind = %q, want %q (%v)", got, tt.kind, err)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		if errors.KindOf(err) != errors.KindNotFound {
			t.Errorf("err = %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"listen", func(c *Config) { c.Listen = "" }, "listen is required"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"mode", func(c *Config) { c.Log.Mode = "verbose" }, "log.mode"},
		{"max size", func(c *Config) { c.Sandbox.MaxModuleSize = 0 }, "max_module_size"},
		{"staging", func(c *Config) { c.Sandbox.StagingTimeout = -1 }, "staging_timeout"},
		{"szx", func(c *Config) { c.Sandbox.BlockSZX = 7 }, "block_szx"},
		{"timeout", func(c *Config) { c.Engine.ExecutionTimeout = -1 }, "execution_timeout"},
		{"pages", func(c *Config) { c.Engine.MemoryLimitPages = 70000 }, "memory_limit_pages"},
		{"jitter", func(c *Config) { c.Engine.Sensors.Jitter = -3 }, "jitter"},
		{"category", func(c *Config) {
			c.Engine.Sensors.Readings = map[string]SensorReading{"wind": {Value: 1}}
		}, `unknown category "wind"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}

	t.Run("collects all", func(t *testing.T) {
		cfg := Default()
		cfg.Listen = ""
		cfg.Sandbox.BlockSZX = 9
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "listen") || !strings.Contains(err.Error(), "block_szx") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.StagingTimeout = Duration(time.Minute)
	cfg.Sandbox.Diagnostics = true
	cfg.Engine.Sensors.Seed = 1
	cfg.Engine.Sensors.Readings = map[string]SensorReading{
		"Humidity": {Value: 80, Unit: "%RH"},
	}

	opts := cfg.SandboxOptions()
	if opts.StagingTimeout != time.Minute || !opts.Diagnostics || opts.MaxModuleSize != cfg.Sandbox.MaxModuleSize {
		t.Errorf("SandboxOptions = %+v", opts)
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !ec.HostBindings || ec.ExecutionTimeout != 5*time.Second {
		t.Errorf("EngineConfig = %+v", ec)
	}
	r, err := ec.Sensors.Read(context.Background(), engine.Humidity)
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != 80 || r.Unit != "%RH" {
		t.Errorf("humidity = %v", r)
	}
}

func TestZapConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	zc, err := cfg.ZapConfig()
	if err != nil {
		t.Fatal(err)
	}
	if zc.Level.String() != "warn" {
		t.Errorf("level = %s", zc.Level)
	}
	if zc.Encoding != "json" {
		t.Errorf("production encoding = %q", zc.Encoding)
	}

	cfg.Log.Mode = "development"
	zc, _ = cfg.ZapConfig()
	if zc.Encoding != "console" {
		t.Errorf("development encoding = %q", zc.Encoding)
	}
}
