// Package battery reads Soltaro battery racks that feed the Gridcon DC/DC
// strings.
package battery

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gridcon-pcs/internal/weighting"
)

// Registers is the register access of one rack. *modbus.Unit satisfies it.
type Registers interface {
	ReadHoldingRegisters(address uint16, quantity uint16) ([]uint16, error)
	WriteRegister(address uint16, value uint16) error
}

type RackData struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`

	Contactor       ContactorState `json:"-"`
	ContactorString string         `json:"contactor"`
	Ready           bool           `json:"ready"`

	Voltage            float64 `json:"voltage_v"`
	Current            float64 `json:"current_a"`
	Soc                int     `json:"soc"`
	Soh                int     `json:"soh"`
	MaxCellVoltage     int     `json:"max_cell_voltage_mv"`
	MinCellVoltage     int     `json:"min_cell_voltage_mv"`
	MaxCellTemperature float64 `json:"max_cell_temperature_c"`
	MinCellTemperature float64 `json:"min_cell_temperature_c"`

	ChargeMaxCurrent    float64 `json:"charge_max_current_a"`
	DischargeMaxCurrent float64 `json:"discharge_max_current_a"`
	ChargeMaxVoltage    float64 `json:"charge_max_voltage_v"`
	DischargeMinVoltage float64 `json:"discharge_min_voltage_v"`

	AlarmLevel2 uint16  `json:"alarm_level_2"`
	AlarmLevel1 uint16  `json:"alarm_level_1"`
	Capacity    float64 `json:"capacity_wh"`
}

// View converts the reading into the weighting input of its string.
func (d *RackData) View() weighting.StringView {
	if d == nil {
		return weighting.StringView{}
	}
	return weighting.StringView{
		Present:               true,
		Ready:                 d.Ready,
		Voltage:               d.Voltage,
		ChargeCurrentLimit:    d.ChargeMaxCurrent,
		DischargeCurrentLimit: d.DischargeMaxCurrent,
		Soc:                   float64(d.Soc),
		SocValid:              true,
		Capacity:              d.Capacity,
	}
}

// HasLevel2Alarm reports a level 2 (protective) alarm.
func (d *RackData) HasLevel2Alarm() bool {
	return d.AlarmLevel2 != 0
}

type Rack struct {
	regs     Registers
	name     string
	capacity float64
	logger   zerolog.Logger
}

// NewRack returns a reader for the rack behind regs. capacity is in Wh.
func NewRack(regs Registers, name string, capacity float64) *Rack {
	return &Rack{
		regs:     regs,
		name:     name,
		capacity: capacity,
		logger:   log.With().Str("component", "battery").Str("rack", name).Logger(),
	}
}

func (r *Rack) Name() string { return r.name }

func (r *Rack) Contactor() (ContactorState, error) {
	regs, err := r.regs.ReadHoldingRegisters(RegContactorControl, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to read contactor state: %w", err)
	}
	return ContactorState(regs[0]), nil
}

func (r *Rack) ReadAllData() (*RackData, error) {
	data := &RackData{
		Timestamp: time.Now(),
		Name:      r.name,
		Capacity:  r.capacity,
	}

	contactor, err := r.Contactor()
	if err != nil {
		return nil, err
	}
	data.Contactor = contactor
	data.ContactorString = contactor.String()
	data.Ready = contactor == ContactorOnGrid

	regs, err := r.regs.ReadHoldingRegisters(RegChargeMaxVoltage, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read charge max voltage: %w", err)
	}
	data.ChargeMaxVoltage = float64(regs[0]) * 0.1

	regs, err = r.regs.ReadHoldingRegisters(RegDischargeMinVoltage, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read discharge min voltage: %w", err)
	}
	data.DischargeMinVoltage = float64(regs[0]) * 0.1

	regs, err = r.regs.ReadHoldingRegisters(RegVoltage, summaryLength)
	if err != nil {
		return nil, fmt.Errorf("failed to read rack summary: %w", err)
	}
	at := func(reg uint16) uint16 { return regs[reg-RegVoltage] }
	data.Voltage = float64(at(RegVoltage)) * 0.1
	data.Current = float64(int16(at(RegCurrent))) * 0.1
	data.Soc = int(at(RegSoc))
	data.Soh = int(at(RegSoh))
	data.MaxCellVoltage = int(at(RegMaxCellVoltage))
	data.MinCellVoltage = int(at(RegMinCellVoltage))
	data.MaxCellTemperature = float64(int16(at(RegMaxCellTemperature))) * 0.1
	data.MinCellTemperature = float64(int16(at(RegMinCellTemperature))) * 0.1

	regs, err = r.regs.ReadHoldingRegisters(RegAlarmLevel2, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to read alarms: %w", err)
	}
	data.AlarmLevel2 = regs[0]
	data.AlarmLevel1 = regs[1]

	regs, err = r.regs.ReadHoldingRegisters(RegChargeMaxCurrent, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to read current limits: %w", err)
	}
	data.ChargeMaxCurrent = float64(regs[0]) * 0.1
	data.DischargeMaxCurrent = float64(regs[1]) * 0.1

	return data, nil
}

// Start closes the rack contactor unless it is already connected or connecting.
func (r *Rack) Start() error {
	state, err := r.Contactor()
	if err != nil {
		return err
	}
	if state == ContactorOnGrid || state == ContactorConnectionInitiating {
		return nil
	}
	r.logger.Info().Str("contactor", state.String()).Msg("starting rack")
	if err := r.regs.WriteRegister(RegContactorControl, systemOn); err != nil {
		return fmt.Errorf("failed to start rack %s: %w", r.name, err)
	}
	return nil
}

// Stop opens the rack contactor unless it is already cut off.
func (r *Rack) Stop() error {
	state, err := r.Contactor()
	if err != nil {
		return err
	}
	if state == ContactorCutOff {
		return nil
	}
	r.logger.Info().Str("contactor", state.String()).Msg("stopping rack")
	if err := r.regs.WriteRegister(RegContactorControl, systemOff); err != nil {
		return fmt.Errorf("failed to stop rack %s: %w", r.name, err)
	}
	return nil
}

func (r *Rack) TestConnection() error {
	if _, err := r.Contactor(); err != nil {
		return fmt.Errorf("failed to read from rack %s: %w", r.name, err)
	}
	return nil
}
