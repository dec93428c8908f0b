package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "bench.yaml", `
run: ["node", "bench.js"]
setup: ["sh", "-c", "echo ready"]
env:
  NODE_ENV: production
iterations: 5
timeout: 30
cachegrind: true
name: startup
variant: baseline
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"node", "bench.js"}, cfg.Run)
	assert.Equal(t, []string{"sh", "-c", "echo ready"}, cfg.Setup)
	assert.Equal(t, map[string]string{"NODE_ENV": "production"}, cfg.Env)
	assert.Equal(t, 5, cfg.Iterations)
	assert.Equal(t, 30, cfg.Timeout)
	assert.True(t, cfg.Cachegrind)
	assert.Equal(t, "startup", cfg.Name)
	assert.Equal(t, "baseline", cfg.Variant)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "bench.json",
		`{"run": ["sleep", "1"], "name": "sleepy"}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"sleep", "1"}, cfg.Run)
	assert.Equal(t, "sleepy", cfg.Name)
}

func TestLoadDefaultsIterationsToOne(t *testing.T) {
	path := writeConfig(t, "bench.yaml", `run: ["true"]`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Iterations)
	assert.False(t, cfg.Cachegrind)
	assert.Equal(t, 0, cfg.Timeout)
}

func TestLoadRejectsEmptyRun(t *testing.T) {
	path := writeConfig(t, "bench.yaml", `iterations: 3`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "run command")
}

func TestLoadRejectsZeroIterations(t *testing.T) {
	path := writeConfig(t, "bench.yaml", "run: [\"true\"]\niterations: 0\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "iterations")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEncodeDecodeEnvRoundTrip(t *testing.T) {
	cfg := &Config{
		Run:        []string{"node", "bench.js"},
		Env:        map[string]string{"A": "1"},
		Iterations: 3,
		Timeout:    10,
		Name:       "startup",
	}

	carrier, err := cfg.EncodeEnv()
	require.NoError(t, err)

	got, err := DecodeEnv(carrier)
	require.NoError(t, err)

	assert.Equal(t, cfg, got)
}

func TestDecodeEnvRejectsGarbage(t *testing.T) {
	_, err := DecodeEnv("not json")
	assert.Error(t, err)
}

func TestDecodeEnvValidates(t *testing.T) {
	_, err := DecodeEnv(`{"run": [], "iterations": 1}`)
	assert.ErrorContains(t, err, "run command")
}

func TestCloneIsDeep(t *testing.T) {
	cfg := &Config{
		Run:        []string{"a", "b"},
		Setup:      []string{"s"},
		Env:        map[string]string{"K": "v"},
		Iterations: 2,
		Cachegrind: true,
	}

	dup := cfg.Clone()
	dup.Run[0] = "changed"
	dup.Env["K"] = "changed"
	dup.Cachegrind = false

	assert.Equal(t, "a", cfg.Run[0])
	assert.Equal(t, "v", cfg.Env["K"])
	assert.True(t, cfg.Cachegrind)
}

func TestEnvironAppendsConfigEntries(t *testing.T) {
	cfg := &Config{
		Run: []string{"true"},
		Env: map[string]string{"PERFRUN_TEST_MARKER": "yes"},
	}

	env := cfg.Environ()
	assert.Contains(t, env, "PERFRUN_TEST_MARKER=yes")
	assert.Greater(t, len(env), 1)
}
