// Package dio drives the digital I/O module wired to the Gridcon cabinet:
// the two NA-protection feedback inputs and the hard-reset contactor.
package dio

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Registers interface {
	ReadDiscreteInputs(address uint16, quantity uint16) ([]bool, error)
	WriteCoil(address uint16, value bool) error
}

type Addresses struct {
	Na1Input      uint16
	Na2Input      uint16
	HardResetCoil uint16
}

type Module struct {
	regs   Registers
	addr   Addresses
	closed bool
	known  bool
	logger zerolog.Logger
}

func New(regs Registers, addr Addresses) *Module {
	return &Module{
		regs:   regs,
		addr:   addr,
		logger: log.With().Str("component", "dio").Logger(),
	}
}

func (m *Module) readInput(address uint16) (bool, error) {
	bits, err := m.regs.ReadDiscreteInputs(address, 1)
	if err != nil {
		return false, err
	}
	return bits[0], nil
}

// ReadNaProtection returns the states of NA-protection relays 1 and 2.
func (m *Module) ReadNaProtection() (na1, na2 bool, err error) {
	if na1, err = m.readInput(m.addr.Na1Input); err != nil {
		return false, false, fmt.Errorf("failed to read NA protection 1: %w", err)
	}
	if na2, err = m.readInput(m.addr.Na2Input); err != nil {
		return false, false, fmt.Errorf("failed to read NA protection 2: %w", err)
	}
	return na1, na2, nil
}

// SetHardReset drives the hard-reset contactor. The coil is written only
// when its state changes or after a failed write.
func (m *Module) SetHardReset(closed bool) error {
	if m.known && m.closed == closed {
		return nil
	}
	if err := m.regs.WriteCoil(m.addr.HardResetCoil, closed); err != nil {
		m.known = false
		return fmt.Errorf("failed to switch hard reset contactor: %w", err)
	}
	m.logger.Info().Bool("closed", closed).Msg("hard reset contactor switched")
	m.closed = closed
	m.known = true
	return nil
}

func (m *Module) HardResetClosed() bool { return m.known && m.closed }
