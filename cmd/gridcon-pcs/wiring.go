package main

import (
	"fmt"
	"strings"

	"gridcon-pcs/config"
	"gridcon-pcs/internal/battery"
	"gridcon-pcs/internal/controller"
	"gridcon-pcs/internal/dio"
	"gridcon-pcs/internal/gridcon"
	"gridcon-pcs/internal/gridcon/errcatalog"
	"gridcon-pcs/internal/meter"
	"gridcon-pcs/internal/modbus"
	"gridcon-pcs/internal/statemachine"
)

var slotIndex = map[string]int{"a": 0, "b": 1, "c": 2}

// system holds the device drivers built from the configuration. Peripherals
// without their own host share the connection of the Gridcon gateway.
type system struct {
	cfg     *config.Config
	clients map[string]*modbus.Client
	device  *modbus.Client
	pcs     *gridcon.Pcs
	racks   [3]*battery.Rack
	meter   *meter.Meter
	dio     *dio.Module
}

func deviceSettings(cfg *config.Config) (gridcon.Settings, error) {
	balancing, err := gridcon.ParseBalancingMode(cfg.Device.BalancingMode)
	if err != nil {
		return gridcon.Settings{}, err
	}
	frequency, err := gridcon.ParseFundamentalFrequencyMode(cfg.Device.FundamentalFrequencyMode)
	if err != nil {
		return gridcon.Settings{}, err
	}
	harmonics, err := gridcon.ParseHarmonicCompensationMode(cfg.Device.HarmonicCompensationMode)
	if err != nil {
		return gridcon.Settings{}, err
	}

	return gridcon.Settings{
		InverterCount:            gridcon.InverterCount(cfg.Device.InverterCount),
		EnableIpu1:               cfg.Device.EnableIpu1,
		EnableIpu2:               cfg.Device.EnableIpu2,
		EnableIpu3:               cfg.Device.EnableIpu3,
		ParameterSet:             gridcon.ParameterSet(cfg.Device.ParameterSet),
		BalancingMode:            balancing,
		FundamentalFrequencyMode: frequency,
		HarmonicCompensationMode: harmonics,
		CosPhiSetpoint1:          float32(cfg.Device.CosPhiSetpoint1),
		CosPhiSetpoint2:          float32(cfg.Device.CosPhiSetpoint2),
		DcLinkVoltageSetpoint:    float32(cfg.Controller.DcLinkVoltageSetpoint),
	}, nil
}

func machineConfig(cfg *config.Config) statemachine.Config {
	c := cfg.Controller
	return statemachine.Config{
		DcLinkVoltageSetpoint:  c.DcLinkVoltageSetpoint,
		DcLinkVoltageTolerance: c.DcLinkVoltageTolerance,
		RunGracePeriod:         c.RunGracePeriod,
		GoingOffGridWait:       c.GoingOffGridWait,
		SettlingWindow:         c.SettlingWindow,
		MaxAcknowledgeAttempts: c.MaxAcknowledgeAttempts,
		MaxHardResetAttempts:   c.MaxHardResetAttempts,
		HardResetSwitchOff:     c.HardResetSwitchOff,
		HardResetDuration:      c.HardResetDuration,
		MinFrequency:           c.MinFrequency,
		MaxFrequency:           c.MaxFrequency,
		MinVoltage:             c.MinVoltage,
		MaxVoltage:             c.MaxVoltage,
	}
}

func staticGridMode(cfg *config.Config) statemachine.GridMode {
	mode, ok := statemachine.ParseGridMode(cfg.Controller.StaticGridMode)
	if !ok {
		return statemachine.GridModeUndefined
	}
	return mode
}

func newSystem(cfg *config.Config) (*system, error) {
	settings, err := deviceSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid device settings: %w", err)
	}

	s := &system{cfg: cfg, clients: map[string]*modbus.Client{}}
	s.device = s.client(cfg.Device.Host, cfg.Device.Port)
	s.pcs = gridcon.NewPcs(s.device.Unit(cfg.Device.UnitID), settings)

	for _, b := range cfg.Batteries {
		slot := strings.ToLower(b.Slot)
		idx, ok := slotIndex[slot]
		if !ok {
			return nil, fmt.Errorf("battery string %q is not one of a, b, c", b.Slot)
		}
		unit := s.client(b.Host, b.Port).Unit(b.UnitID)
		s.racks[idx] = battery.NewRack(unit, slot, b.Capacity)
	}

	if cfg.Meter.Enabled {
		unit := s.client(cfg.Meter.Host, cfg.Meter.Port).Unit(cfg.Meter.UnitID)
		s.meter = meter.New(unit, cfg.Meter.FrequencyAddress, cfg.Meter.VoltageAddress)
	}

	if cfg.Dio.Enabled {
		unit := s.client(cfg.Dio.Host, cfg.Dio.Port).Unit(cfg.Dio.UnitID)
		s.dio = dio.New(unit, dio.Addresses{
			Na1Input:      cfg.Dio.Na1Input,
			Na2Input:      cfg.Dio.Na2Input,
			HardResetCoil: cfg.Dio.HardResetCoil,
		})
	}

	return s, nil
}

// client returns the shared connection for host:port. An empty host or a
// zero port falls back to the device gateway.
func (s *system) client(host string, port int) *modbus.Client {
	if host == "" {
		host = s.cfg.Device.Host
	}
	if port == 0 {
		port = s.cfg.Device.Port
	}
	key := fmt.Sprintf("%s:%d", host, port)
	if c, ok := s.clients[key]; ok {
		return c
	}
	c := modbus.NewClient(host, port, s.cfg.Device.UnitID, s.cfg.Device.Timeout)
	s.clients[key] = c
	return c
}

func (s *system) peripherals() []controller.Connection {
	var conns []controller.Connection
	for _, c := range s.clients {
		if c != s.device {
			conns = append(conns, c)
		}
	}
	return conns
}

func (s *system) controllerConfig(machine *statemachine.Machine, catalog *errcatalog.Catalog) controller.Config {
	cc := controller.Config{
		Device:                  s.device,
		Peripherals:             s.peripherals(),
		Pcs:                     s.pcs,
		Machine:                 machine,
		Catalog:                 catalog,
		Clock:                   statemachine.SystemClock{},
		Interval:                s.cfg.Controller.Interval,
		StaticGridMode:          staticGridMode(s.cfg),
		CommFailureThreshold:    s.cfg.Controller.CommFailureThreshold,
		ChargeEfficiencyLoss:    s.cfg.Device.ChargeEfficiencyLoss,
		DischargeEfficiencyLoss: s.cfg.Device.DischargeEfficiencyLoss,
	}
	for i, rack := range s.racks {
		if rack != nil {
			cc.Racks[i] = rack
		}
	}
	if s.meter != nil {
		cc.Meter = s.meter
	}
	if s.dio != nil {
		cc.Dio = s.dio
	}
	return cc
}

func (s *system) connect() error {
	for key, c := range s.clients {
		if err := c.Connect(); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", key, err)
		}
	}
	return nil
}

func (s *system) close() {
	for _, c := range s.clients {
		c.Close()
	}
}
