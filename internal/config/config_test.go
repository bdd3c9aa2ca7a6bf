package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ald-reactor/internal/recipe"
	"ald-reactor/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
actuator:
  driver: remote
  remote_addr: "http://gateway:9090"
  lines:
    precursor1: 2
    precursor2: 4
carrier:
  driver: mks
  serial_port: /dev/ttyS1
  channel: 3
policy:
  abort_on_actuator_failure: true
defaults:
  t1_ms: 15
  p1: 40
  n: 100
recipes:
  pulsed_pecvd:
    wait_s: 300
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "Logs", cfg.RunLogDir)
	assert.Equal(t, "remote", cfg.Actuator.Driver)
	assert.Equal(t, 2*time.Second, cfg.Actuator.Timeout())
	assert.Equal(t, map[types.Line]int{types.LinePrecursor1: 2, types.LinePrecursor2: 4}, cfg.Actuator.Lines)
	assert.Equal(t, "mks", cfg.Carrier.Driver)
	assert.Equal(t, 3, cfg.Carrier.Channel)
	assert.True(t, cfg.Policy.AbortOnActuatorFailure)

	p := cfg.Defaults.Params()
	assert.InDelta(t, 0.015, p.Pulse1, 1e-12)
	assert.Equal(t, 100, p.Cycles)
	assert.Equal(t, 1, p.InnerRepeats)
	assert.Equal(t, "TEB", p.Precursor1)

	require.Contains(t, cfg.Recipes, recipe.PulsedPECVD)
	assert.Equal(t, 300*time.Second, cfg.Recipes[recipe.PulsedPECVD].Wait())
	assert.False(t, cfg.Recipes[recipe.PulsedPECVD].IncludeWaitInEstimate)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "actuator:\n  driver: simulated\n")
	t.Setenv("REACTOR_ACTUATOR_DRIVER", "remote")
	t.Setenv("REACTOR_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "remote", cfg.Actuator.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestMissingDefaultConfigUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "simulated", cfg.Actuator.Driver)
	assert.Equal(t, "relay", cfg.Carrier.Driver)
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown driver":    "actuator:\n  driver: i2c\n",
		"mks without port":  "carrier:\n  driver: mks\n",
		"unknown recipe":    "recipes:\n  sputtering:\n    wait_s: 10\n",
		"negative wait":     "recipes:\n  pulsed_pecvd:\n    wait_s: -1\n",
		"negative defaults": "defaults:\n  p1: -3\n",
		"missing file":      "",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.yaml")
			if body != "" {
				path = writeConfig(t, body)
			}
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}
