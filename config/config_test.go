package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 502, cfg.Device.Port)
	assert.Equal(t, uint8(1), cfg.Device.UnitID)
	assert.Equal(t, 1, cfg.Device.InverterCount)
	assert.True(t, cfg.Device.EnableIpu1)
	assert.Equal(t, 1, cfg.Device.ParameterSet)
	assert.Equal(t, 0.07, cfg.Device.ChargeEfficiencyLoss)

	assert.Equal(t, time.Second, cfg.Controller.Interval)
	assert.Equal(t, 800.0, cfg.Controller.DcLinkVoltageSetpoint)
	assert.Equal(t, 20.0, cfg.Controller.DcLinkVoltageTolerance)
	assert.Equal(t, 3, cfg.Controller.CommFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Controller.SettlingWindow)
	assert.Equal(t, 55*time.Second, cfg.Controller.HardResetDuration)
	assert.Equal(t, int64(49700), cfg.Controller.MinFrequency)
	assert.Equal(t, int64(245000), cfg.Controller.MaxVoltage)

	assert.Empty(t, cfg.Batteries)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "gridcon", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 8045, cfg.API.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigWithNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent_config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
device:
  host: 10.0.0.5
  port: 1502
  inverter_count: 3
  enable_ipu2: true
  enable_ipu3: true
  parameter_set: 2
  balancing_mode: negative_sequence_compensation
controller:
  interval: 500ms
  static_grid_mode: on_grid
batteries:
  - string: a
    unit_id: 2
    capacity: 40000
  - string: b
    unit_id: 5
    capacity: 80000
meter:
  enabled: true
  frequency_address: 16
  voltage_address: 18
mqtt:
  enabled: true
  broker: tcp://broker:1883
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "10.0.0.5", cfg.Device.Host)
	assert.Equal(t, 1502, cfg.Device.Port)
	assert.Equal(t, 3, cfg.Device.InverterCount)
	assert.True(t, cfg.Device.EnableIpu1, "defaults survive partial sections")
	assert.True(t, cfg.Device.EnableIpu3)
	assert.Equal(t, 2, cfg.Device.ParameterSet)
	assert.Equal(t, "negative_sequence_compensation", cfg.Device.BalancingMode)
	assert.Equal(t, 500*time.Millisecond, cfg.Controller.Interval)
	assert.Equal(t, "on_grid", cfg.Controller.StaticGridMode)
	assert.Equal(t, 3, cfg.Controller.CommFailureThreshold)

	require.Len(t, cfg.Batteries, 2)
	assert.Equal(t, "a", cfg.Batteries[0].Slot)
	assert.Equal(t, uint8(2), cfg.Batteries[0].UnitID)
	assert.Equal(t, 80000.0, cfg.Batteries[1].Capacity)

	assert.True(t, cfg.Meter.Enabled)
	assert.Equal(t, uint16(16), cfg.Meter.FrequencyAddress)
	assert.Equal(t, uint8(4), cfg.Meter.UnitID)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
device:
  host: 10.0.0.5
`)
	t.Setenv("GRIDCON_DEVICE_HOST", "10.0.0.9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", cfg.Device.Host)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "device: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"inverter count", func(c *Config) { c.Device.InverterCount = 4 }, "inverter_count"},
		{"parameter set", func(c *Config) { c.Device.ParameterSet = 0 }, "parameter_set"},
		{"efficiency loss", func(c *Config) { c.Device.ChargeEfficiencyLoss = 1 }, "charge_efficiency_loss"},
		{"interval", func(c *Config) { c.Controller.Interval = 0 }, "controller.interval"},
		{"comm failure threshold", func(c *Config) { c.Controller.CommFailureThreshold = 0 }, "comm_failure_threshold"},
		{"static grid mode", func(c *Config) { c.Controller.StaticGridMode = "island" }, "static_grid_mode"},
		{"battery string", func(c *Config) { c.Batteries = []BatteryConfig{{Slot: "d"}} }, "not one of a, b, c"},
		{"duplicate battery", func(c *Config) { c.Batteries = []BatteryConfig{{Slot: "a"}, {Slot: "A"}} }, "configured twice"},
		{"mqtt broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }, "mqtt.broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
