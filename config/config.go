// Package config loads the YAML-driven VM configuration: register-stack
// and rescue-stack limits, the ensure-recursion cap, debug verbosity, and
// DSNs for the domain extensions under runtime/db. This generalizes the
// teacher's ad hoc CLI-flag configuration into a single structured
// document, the way a repository that grew a config package would.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level document shape.
type Config struct {
	Stack   StackConfig   `yaml:"stack"`
	Debug   DebugConfig   `yaml:"debug"`
	Sources map[string]DataSource `yaml:"sources"`
}

// StackConfig controls the growth/recursion limits spec.md §4.1 and §4.3
// name: maxStackSize, the ensure-call nesting cap, and the rescue-stack
// ceiling.
type StackConfig struct {
	MaxRegisters   int `yaml:"max_registers"`
	MaxEnsureDepth int `yaml:"max_ensure_depth"`
	MaxRescueSize  int `yaml:"max_rescue_size"`
}

// DebugConfig controls the profiler/breakpoint instrumentation level.
type DebugConfig struct {
	Level   int  `yaml:"level"`
	Profile bool `yaml:"profile"`
}

// DataSource names a database driver + DSN pair for runtime/db to open.
type DataSource struct {
	Driver string `yaml:"driver"` // "mysql", "postgres", "sqlite"
	DSN    string `yaml:"dsn"`
}

// Default returns the built-in limits this VM ships with absent a
// config file (spec.md §4.1/§4.3's stated defaults).
func Default() *Config {
	return &Config{
		Stack: StackConfig{
			MaxRegisters:   262144 - 128,
			MaxEnsureDepth: 512,
			MaxRescueSize:  65535,
		},
		Debug: DebugConfig{Level: 0, Profile: false},
	}
}

// Load reads and parses a YAML config file, filling in Default()'s
// values for anything the document leaves zero.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Stack.MaxRegisters == 0 {
		cfg.Stack.MaxRegisters = Default().Stack.MaxRegisters
	}
	if cfg.Stack.MaxEnsureDepth == 0 {
		cfg.Stack.MaxEnsureDepth = Default().Stack.MaxEnsureDepth
	}
	if cfg.Stack.MaxRescueSize == 0 {
		cfg.Stack.MaxRescueSize = Default().Stack.MaxRescueSize
	}
	return cfg, nil
}
