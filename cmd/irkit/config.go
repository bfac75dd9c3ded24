package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/irkit"
	"github.com/wippyai/irkit/engine"
)

// Config is the YAML configuration file. Flags override its values.
type Config struct {
	CPU              string `yaml:"cpu"`
	OptLevel         string `yaml:"opt_level"`
	Engine           string `yaml:"engine"`
	LogLevel         string `yaml:"log_level"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

func defaultConfig() Config {
	return Config{
		CPU:      "native",
		OptLevel: "O2",
		Engine:   "interpreter",
		LogLevel: "warn",
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if _, err := cfg.cpu(); err != nil {
		return cfg, err
	}
	if _, err := cfg.level(); err != nil {
		return cfg, err
	}
	if _, err := cfg.mode(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) cpu() (irkit.CPU, error) { return irkit.ParseCPU(c.CPU) }

func (c Config) level() (irkit.CodegenLevel, error) { return irkit.ParseCodegenLevel(c.OptLevel) }

func (c Config) mode() (engine.Mode, error) {
	switch strings.ToLower(c.Engine) {
	case "", "interpreter":
		return engine.ModeInterpreter, nil
	case "jit":
		return engine.ModeJIT, nil
	}
	return 0, fmt.Errorf("unknown engine %q", c.Engine)
}

// newLogger builds the console logger used by all packages.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
