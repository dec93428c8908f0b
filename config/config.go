// Package config loads and carries the immutable description of one
// benchmark run: what to execute, how often, and under what limits.
package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/viper"
)

// Environment variables understood by the harness.
const (
	// EnvIteration carries a serialized per-iteration config. Its
	// presence selects iteration-child mode.
	EnvIteration = "PERFRUN_ITERATION"
	// EnvSkipSetup skips the setup command when set.
	EnvSkipSetup = "PERFRUN_SKIP_SETUP"
	// EnvNoStdio discards child stdout/stderr when set.
	EnvNoStdio = "PERFRUN_NO_STDIO"
	// EnvVersion surfaces a build identifier as the "version" key of
	// the report.
	EnvVersion = "GIT_COMMIT_HASH"
)

// Config describes one benchmark run. It is immutable after Load;
// iterations work on clones.
type Config struct {
	Run        []string          `mapstructure:"run" json:"run"`
	Setup      []string          `mapstructure:"setup" json:"setup,omitempty"`
	Env        map[string]string `mapstructure:"env" json:"env,omitempty"`
	Iterations int               `mapstructure:"iterations" json:"iterations"`
	Timeout    int               `mapstructure:"timeout" json:"timeout,omitempty"`
	Cachegrind bool              `mapstructure:"cachegrind" json:"cachegrind"`
	Name       string            `mapstructure:"name" json:"name,omitempty"`
	Variant    string            `mapstructure:"variant" json:"variant,omitempty"`
}

// Load reads and validates the config file at path. YAML and JSON are
// both accepted; extension-less files are read as YAML.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}

	v.SetDefault("iterations", 1)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return &cfg, nil
}

// DecodeEnv deserializes a config carried in the iteration-marker
// environment variable.
func DecodeEnv(carrier string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(carrier), &cfg); err != nil {
		return nil, fmt.Errorf("decode iteration config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("iteration config: %w", err)
	}

	return &cfg, nil
}

// EncodeEnv serializes the config for the iteration-marker
// environment variable.
func (c *Config) EncodeEnv() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode iteration config: %w", err)
	}

	return string(b), nil
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	dup := *c
	dup.Run = slices.Clone(c.Run)
	dup.Setup = slices.Clone(c.Setup)
	dup.Env = maps.Clone(c.Env)

	return &dup
}

// Environ returns the inherited environment extended with the
// config's env entries.
func (c *Config) Environ() []string {
	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}

	return env
}

func (c *Config) validate() error {
	if len(c.Run) == 0 {
		return fmt.Errorf("run command must not be empty")
	}

	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", c.Timeout)
	}

	return nil
}
