package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

type Config struct {
	// Workers bounds the cases run in parallel.
	Workers int `mapstructure:"workers"`
	// EmulatorWorkers bounds the goroutines of one emulated dispatch.
	EmulatorWorkers int `mapstructure:"emulator_workers"`
	// MaxMemory bounds a single emulator allocation in bytes.
	MaxMemory int64 `mapstructure:"max_memory"`
	// CaseTimeout aborts a case that runs longer; zero disables it.
	CaseTimeout time.Duration `mapstructure:"case_timeout"`

	// Filter selects cases by dotted name prefix.
	Filter   string `mapstructure:"filter"`
	FailFast bool   `mapstructure:"fail_fast"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	ResultsFile string `mapstructure:"results_file"`
	FlightAddr  string `mapstructure:"flight_addr"`

	DebugShaders    bool `mapstructure:"debug_shaders"`
	DebugMismatches bool `mapstructure:"debug_mismatches"`
}

func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d (must be positive)", c.Workers)
	}
	if c.EmulatorWorkers <= 0 {
		return fmt.Errorf("invalid emulator_workers: %d (must be positive)", c.EmulatorWorkers)
	}
	if c.MaxMemory < 1<<20 {
		return fmt.Errorf("invalid max_memory: %d (must be at least %d)", c.MaxMemory, 1<<20)
	}
	if c.CaseTimeout < 0 {
		return fmt.Errorf("invalid case_timeout: %v (must be non-negative)", c.CaseTimeout)
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateOutputs()
}

func (c *Config) validateLogging() error {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log_level: %q (must be debug, info, warn or error)", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	return nil
}

func (c *Config) validateOutputs() error {
	if c.ResultsFile != "" && !strings.HasSuffix(c.ResultsFile, ".arrow") {
		return fmt.Errorf("invalid results_file: %q (must end in .arrow)", c.ResultsFile)
	}
	if c.FlightAddr != "" && !strings.Contains(c.FlightAddr, ":") {
		return fmt.Errorf("invalid flight_addr: %q (must be host:port)", c.FlightAddr)
	}
	return nil
}

func (c *Config) NeedsMetricsServer() bool {
	return c.MetricsAddr != ""
}

func Default() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		EmulatorWorkers: 4,
		MaxMemory:       1 << 30,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// FromMap overlays a flat settings map on Default. Durations accept the
// time.ParseDuration syntax and numbers may be given as strings.
func FromMap(settings map[string]interface{}) (Config, error) {
	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(settings); err != nil {
		return Config{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return cfg, nil
}
