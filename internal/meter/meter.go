// Package meter reads grid frequency and voltage from the grid meter used
// to decide whether a blackstart is needed.
package meter

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Both values are unsigned 32 bit, low word first, scaled by 1000
// (mHz and mV).
const (
	DefaultFrequencyAddress = 0x0000
	DefaultVoltageAddress   = 0x0002
)

type Registers interface {
	ReadHoldingRegisters(address uint16, quantity uint16) ([]uint16, error)
}

type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Frequency int64     `json:"frequency_mhz"`
	Voltage   int64     `json:"voltage_mv"`
}

func (r *Reading) FrequencyHz() float64 { return float64(r.Frequency) / 1000 }
func (r *Reading) VoltageV() float64    { return float64(r.Voltage) / 1000 }

type Meter struct {
	regs             Registers
	frequencyAddress uint16
	voltageAddress   uint16
	logger           zerolog.Logger
}

func New(regs Registers, frequencyAddress, voltageAddress uint16) *Meter {
	return &Meter{
		regs:             regs,
		frequencyAddress: frequencyAddress,
		voltageAddress:   voltageAddress,
		logger:           log.With().Str("component", "meter").Logger(),
	}
}

func (m *Meter) readUint32(address uint16) (uint32, error) {
	regs, err := m.regs.ReadHoldingRegisters(address, 2)
	if err != nil {
		return 0, err
	}
	return uint32(regs[0]) | uint32(regs[1])<<16, nil
}

func (m *Meter) Read() (*Reading, error) {
	frequency, err := m.readUint32(m.frequencyAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read grid frequency: %w", err)
	}
	voltage, err := m.readUint32(m.voltageAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to read grid voltage: %w", err)
	}

	r := &Reading{Timestamp: time.Now(), Frequency: int64(frequency), Voltage: int64(voltage)}
	m.logger.Debug().Int64("frequency", r.Frequency).Int64("voltage", r.Voltage).Msg("grid meter read")
	return r, nil
}
