// Package config loads the gridcon-pcs configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Device     DeviceConfig     `mapstructure:"device"`
	Controller ControllerConfig `mapstructure:"controller"`
	Batteries  []BatteryConfig  `mapstructure:"batteries"`
	Meter      MeterConfig      `mapstructure:"meter"`
	Dio        DioConfig        `mapstructure:"dio"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	API        APIConfig        `mapstructure:"api"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// DeviceConfig describes the Gridcon cabinet and the Modbus TCP gateway in front of it.
type DeviceConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	UnitID  uint8         `mapstructure:"unit_id"`
	Timeout time.Duration `mapstructure:"timeout"`

	InverterCount            int     `mapstructure:"inverter_count"`
	EnableIpu1               bool    `mapstructure:"enable_ipu1"`
	EnableIpu2               bool    `mapstructure:"enable_ipu2"`
	EnableIpu3               bool    `mapstructure:"enable_ipu3"`
	ParameterSet             int     `mapstructure:"parameter_set"`
	BalancingMode            string  `mapstructure:"balancing_mode"`
	FundamentalFrequencyMode string  `mapstructure:"fundamental_frequency_mode"`
	HarmonicCompensationMode string  `mapstructure:"harmonic_compensation_mode"`
	CosPhiSetpoint1          float64 `mapstructure:"cos_phi_setpoint1"`
	CosPhiSetpoint2          float64 `mapstructure:"cos_phi_setpoint2"`
	ChargeEfficiencyLoss     float64 `mapstructure:"charge_efficiency_loss"`
	DischargeEfficiencyLoss  float64 `mapstructure:"discharge_efficiency_loss"`
}

type ControllerConfig struct {
	Interval               time.Duration `mapstructure:"interval"`
	DcLinkVoltageSetpoint  float64       `mapstructure:"dc_link_voltage_setpoint"`
	DcLinkVoltageTolerance float64       `mapstructure:"dc_link_voltage_tolerance"`
	// StaticGridMode overrides the grid mode derived from the NA-protection
	// inputs: "on_grid", "off_grid" or empty.
	StaticGridMode         string        `mapstructure:"static_grid_mode"`
	CommFailureThreshold   int           `mapstructure:"comm_failure_threshold"`
	RunGracePeriod         time.Duration `mapstructure:"run_grace_period"`
	GoingOffGridWait       time.Duration `mapstructure:"going_off_grid_wait"`
	SettlingWindow         time.Duration `mapstructure:"settling_window"`
	MaxAcknowledgeAttempts int           `mapstructure:"max_acknowledge_attempts"`
	MaxHardResetAttempts   int           `mapstructure:"max_hard_reset_attempts"`
	HardResetSwitchOff     time.Duration `mapstructure:"hard_reset_switch_off"`
	HardResetDuration      time.Duration `mapstructure:"hard_reset_duration"`
	MinFrequency           int64         `mapstructure:"min_frequency"`
	MaxFrequency           int64         `mapstructure:"max_frequency"`
	MinVoltage             int64         `mapstructure:"min_voltage"`
	MaxVoltage             int64         `mapstructure:"max_voltage"`
}

// BatteryConfig is one Soltaro rack. Host and Port default to the device gateway.
type BatteryConfig struct {
	Slot     string  `mapstructure:"string"`
	Host     string  `mapstructure:"host"`
	Port     int     `mapstructure:"port"`
	UnitID   uint8   `mapstructure:"unit_id"`
	Capacity float64 `mapstructure:"capacity"`
}

type MeterConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	UnitID           uint8  `mapstructure:"unit_id"`
	FrequencyAddress uint16 `mapstructure:"frequency_address"`
	VoltageAddress   uint16 `mapstructure:"voltage_address"`
}

type DioConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	UnitID        uint8  `mapstructure:"unit_id"`
	Na1Input      uint16 `mapstructure:"na1_input"`
	Na2Input      uint16 `mapstructure:"na2_input"`
	HardResetCoil uint16 `mapstructure:"hard_reset_coil"`
}

type MQTTConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Broker          string `mapstructure:"broker"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	ClientID        string `mapstructure:"client_id"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Discovery       bool   `mapstructure:"discovery"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: "info"}

	cfg.Device.Host = "192.168.1.10"
	cfg.Device.Port = 502
	cfg.Device.UnitID = 1
	cfg.Device.Timeout = 5 * time.Second
	cfg.Device.InverterCount = 1
	cfg.Device.EnableIpu1 = true
	cfg.Device.ParameterSet = 1
	cfg.Device.BalancingMode = "disabled"
	cfg.Device.FundamentalFrequencyMode = "pure_grid_former"
	cfg.Device.HarmonicCompensationMode = "disabled"
	cfg.Device.CosPhiSetpoint1 = 1
	cfg.Device.CosPhiSetpoint2 = 1
	cfg.Device.ChargeEfficiencyLoss = 0.07
	cfg.Device.DischargeEfficiencyLoss = 0.07

	cfg.Controller.Interval = time.Second
	cfg.Controller.DcLinkVoltageSetpoint = 800
	cfg.Controller.DcLinkVoltageTolerance = 20
	cfg.Controller.CommFailureThreshold = 3
	cfg.Controller.RunGracePeriod = 15 * time.Second
	cfg.Controller.GoingOffGridWait = 5 * time.Second
	cfg.Controller.SettlingWindow = 30 * time.Second
	cfg.Controller.MaxAcknowledgeAttempts = 5
	cfg.Controller.MaxHardResetAttempts = 5
	cfg.Controller.HardResetSwitchOff = 10 * time.Second
	cfg.Controller.HardResetDuration = 55 * time.Second
	cfg.Controller.MinFrequency = 49700
	cfg.Controller.MaxFrequency = 50300
	cfg.Controller.MinVoltage = 215000
	cfg.Controller.MaxVoltage = 245000

	cfg.Meter.UnitID = 4
	cfg.Meter.VoltageAddress = 2

	cfg.Dio.UnitID = 3
	cfg.Dio.Na1Input = 0
	cfg.Dio.Na2Input = 1
	cfg.Dio.HardResetCoil = 0

	cfg.MQTT.Enabled = false
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.TopicPrefix = "gridcon"
	cfg.MQTT.ClientID = "gridcon-pcs"
	cfg.MQTT.Discovery = true
	cfg.MQTT.DiscoveryPrefix = "homeassistant"

	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8045

	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/gridcon-pcs")

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			log.Info().Msg("no configuration file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	v.SetEnvPrefix("GRIDCON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the controller cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Device.Host == "" {
		errs = append(errs, errors.New("device.host is required"))
	}
	if c.Device.InverterCount < 1 || c.Device.InverterCount > 3 {
		errs = append(errs, fmt.Errorf("device.inverter_count must be 1..3, got %d", c.Device.InverterCount))
	}
	if c.Device.ParameterSet < 1 || c.Device.ParameterSet > 4 {
		errs = append(errs, fmt.Errorf("device.parameter_set must be 1..4, got %d", c.Device.ParameterSet))
	}
	for name, loss := range map[string]float64{
		"device.charge_efficiency_loss":    c.Device.ChargeEfficiencyLoss,
		"device.discharge_efficiency_loss": c.Device.DischargeEfficiencyLoss,
	} {
		if loss < 0 || loss >= 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0, 1), got %v", name, loss))
		}
	}

	if c.Controller.Interval <= 0 {
		errs = append(errs, errors.New("controller.interval must be positive"))
	}
	if c.Controller.CommFailureThreshold < 1 {
		errs = append(errs, errors.New("controller.comm_failure_threshold must be at least 1"))
	}
	switch c.Controller.StaticGridMode {
	case "", "on_grid", "off_grid":
	default:
		errs = append(errs, fmt.Errorf("controller.static_grid_mode %q is not one of on_grid, off_grid", c.Controller.StaticGridMode))
	}

	seen := map[string]bool{}
	for _, b := range c.Batteries {
		s := strings.ToLower(b.Slot)
		switch s {
		case "a", "b", "c":
		default:
			errs = append(errs, fmt.Errorf("battery string %q is not one of a, b, c", b.Slot))
			continue
		}
		if seen[s] {
			errs = append(errs, fmt.Errorf("battery string %q configured twice", b.Slot))
		}
		seen[s] = true
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	return errors.Join(errs...)
}

// Print logs the effective configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Str("log_level", c.LogLevel).Msg("gridcon-pcs configuration")
	logger.Info().
		Str("host", c.Device.Host).
		Int("port", c.Device.Port).
		Uint8("unit_id", c.Device.UnitID).
		Int("inverter_count", c.Device.InverterCount).
		Int("parameter_set", c.Device.ParameterSet).
		Msg("device")
	logger.Info().
		Dur("interval", c.Controller.Interval).
		Str("static_grid_mode", c.Controller.StaticGridMode).
		Int("comm_failure_threshold", c.Controller.CommFailureThreshold).
		Msg("controller")
	for _, b := range c.Batteries {
		logger.Info().Str("string", b.Slot).Uint8("unit_id", b.UnitID).Float64("capacity", b.Capacity).Msg("battery")
	}
	logger.Info().Bool("enabled", c.Meter.Enabled).Uint8("unit_id", c.Meter.UnitID).Msg("meter")
	logger.Info().Bool("enabled", c.Dio.Enabled).Uint8("unit_id", c.Dio.UnitID).Msg("dio")
	logger.Info().Bool("enabled", c.MQTT.Enabled).Str("broker", c.MQTT.Broker).Str("topic_prefix", c.MQTT.TopicPrefix).Msg("mqtt")
	logger.Info().Bool("enabled", c.API.Enabled).Str("host", c.API.Host).Int("port", c.API.Port).Msg("api")
	logger.Info().Bool("enabled", c.Metrics.Enabled).Str("path", c.Metrics.Path).Msg("metrics")
}
