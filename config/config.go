package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/sandbox"
)

// DefaultListen is the standard unsecured CoAP port.
const DefaultListen = ":5683"

// Config is the top-level daemon configuration.
type Config struct {
	// Listen is the UDP address the CoAP server binds.
	Listen string `yaml:"listen" toml:"listen"`

	Log     LogConfig     `yaml:"log" toml:"log"`
	Sandbox SandboxConfig `yaml:"sandbox" toml:"sandbox"`
	Engine  EngineConfig  `yaml:"engine" toml:"engine"`
}

// LogConfig selects the zap preset and level.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`

	// Mode is "production" (JSON) or "development" (console).
	Mode string `yaml:"mode" toml:"mode"`
}

// SandboxConfig configures the resource state machine.
type SandboxConfig struct {
	// MaxModuleSize bounds an upload and its unpacked module, in bytes.
	MaxModuleSize int `yaml:"max_module_size" toml:"max_module_size"`

	// StagingTimeout reclaims an idle upload. Zero disables reclaim.
	StagingTimeout Duration `yaml:"staging_timeout" toml:"staging_timeout"`

	// BlockSZX is the largest Block2 size exponent for reads (0..6).
	BlockSZX uint8 `yaml:"block_szx" toml:"block_szx"`

	// Diagnostics includes error text in 4.xx/5.xx payloads.
	Diagnostics bool `yaml:"diagnostics" toml:"diagnostics"`
}

// EngineConfig configures the wazero engine and its host bindings.
type EngineConfig struct {
	MemoryLimitPages uint32   `yaml:"memory_limit_pages" toml:"memory_limit_pages"`
	ExecutionTimeout Duration `yaml:"execution_timeout" toml:"execution_timeout"`
	MaxOutputBytes   int      `yaml:"max_output_bytes" toml:"max_output_bytes"`
	HostBindings     bool     `yaml:"host_bindings" toml:"host_bindings"`

	Sensors SensorsConfig `yaml:"sensors" toml:"sensors"`
}

// SensorsConfig seeds the fake sensor table.
type SensorsConfig struct {
	// Readings overrides the default reading per category name.
	Readings map[string]SensorReading `yaml:"readings" toml:"readings"`

	// Jitter is the maximum random offset added to each raw value.
	Jitter int32 `yaml:"jitter" toml:"jitter"`

	// Seed fixes the jitter sequence. Zero uses a time-derived seed.
	Seed uint64 `yaml:"seed" toml:"seed"`
}

// SensorReading is one configured sensor value.
type SensorReading struct {
	Unit    string `yaml:"unit" toml:"unit"`
	Value   int32  `yaml:"value" toml:"value"`
	Scaling int8   `yaml:"scaling" toml:"scaling"`
}

// Default returns a configuration usable without a file.
func Default() *Config {
	return &Config{
		Listen: DefaultListen,
		Log: LogConfig{
			Level: "info",
			Mode:  "production",
		},
		Sandbox: SandboxConfig{
			MaxModuleSize: sandbox.DefaultMaxModuleSize,
			BlockSZX:      blockwise.MaxSZX,
		},
		Engine: EngineConfig{
			MemoryLimitPages: 256,
			ExecutionTimeout: Duration(5 * time.Second),
			HostBindings:     true,
		},
	}
}

// Load reads the file at path over Default. An empty path returns Default.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a single file into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read config")
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unsupported config extension %q", ext))
	}
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err,
			fmt.Sprintf("parse error in %s", path))
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf(format, args...)))
	}

	if c.Listen == "" {
		invalid("listen is required")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level %q is not a level", c.Log.Level)
	}
	if c.Log.Mode != "production" && c.Log.Mode != "development" {
		invalid("log.mode must be production or development, got %q", c.Log.Mode)
	}
	if c.Sandbox.MaxModuleSize <= 0 {
		invalid("sandbox.max_module_size must be positive")
	}
	if c.Sandbox.StagingTimeout < 0 {
		invalid("sandbox.staging_timeout must not be negative")
	}
	if c.Sandbox.BlockSZX > blockwise.MaxSZX {
		invalid("sandbox.block_szx must be at most %d", blockwise.MaxSZX)
	}
	if c.Engine.ExecutionTimeout < 0 {
		invalid("engine.execution_timeout must not be negative")
	}
	if c.Engine.MemoryLimitPages > 65536 {
		invalid("engine.memory_limit_pages must be at most 65536")
	}
	if c.Engine.Sensors.Jitter < 0 {
		invalid("engine.sensors.jitter must not be negative")
	}
	for name := range c.Engine.Sensors.Readings {
		if _, err := engine.ParseCategory(name); err != nil {
			invalid("engine.sensors.readings: unknown category %q", name)
		}
	}

	return stderrors.Join(errs...)
}

// ZapConfig builds the logger configuration from the log section.
func (c *Config) ZapConfig() (zap.Config, error) {
	var zc zap.Config
	if c.Log.Mode == "development" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return zc, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	zc.Level = level
	return zc, nil
}

// SandboxOptions converts the sandbox section.
func (c *Config) SandboxOptions() sandbox.Options {
	return sandbox.Options{
		MaxModuleSize:  c.Sandbox.MaxModuleSize,
		StagingTimeout: c.Sandbox.StagingTimeout.Std(),
		BlockSZX:       c.Sandbox.BlockSZX,
		Diagnostics:    c.Sandbox.Diagnostics,
	}
}

// EngineConfig converts the engine section. Sensors are built from the
// sensor table; seed 0 falls back to the current time.
func (c *Config) EngineConfig() (engine.Config, error) {
	seed := c.Engine.Sensors.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	sensors := engine.NewFakeSensors(c.Engine.Sensors.Jitter, seed)
	for name, r := range c.Engine.Sensors.Readings {
		cat, err := engine.ParseCategory(name)
		if err != nil {
			return engine.Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "engine.sensors.readings")
		}
		sensors.Set(cat, engine.Reading{Value: r.Value, Scaling: r.Scaling, Unit: r.Unit})
	}

	return engine.Config{
		Sensors:          sensors,
		ExecutionTimeout: c.Engine.ExecutionTimeout.Std(),
		MemoryLimitPages: c.Engine.MemoryLimitPages,
		MaxOutputBytes:   c.Engine.MaxOutputBytes,
		HostBindings:     c.Engine.HostBindings,
	}, nil
}
