// Package sim is a Modbus TCP stand-in for a Gridcon cabinet and its
// peripherals (battery racks, grid meter, digital I/O). It keeps a register
// bank per unit id and answers the CCU status block from a scriptable state.
package sim

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/simonvetter/modbus"

	"gridcon-pcs/internal/gridcon"
)

type Config struct {
	InverterCount gridcon.InverterCount
	GridconUnit   uint8
	DioUnit       uint8
	HardResetCoil uint16
	// Autonomous lets the simulated CCU follow play, acknowledge and hard
	// reset commands on its own.
	Autonomous bool
}

// Write is one register write request received by the device.
type Write struct {
	Unit    uint8
	Address uint16
	Values  []uint16
}

type bank struct {
	holding  map[uint16]uint16
	coils    map[uint16]bool
	discrete map[uint16]bool
}

func newBank() *bank {
	return &bank{
		holding:  map[uint16]uint16{},
		coils:    map[uint16]bool{},
		discrete: map[uint16]bool{},
	}
}

type Device struct {
	mu     sync.Mutex
	cfg    Config
	logger zerolog.Logger
	units  map[uint8]*bank

	ccuState      gridcon.CcuState
	errorCode     uint32
	dcLinkVoltage float32
	resetClosed   bool
	writes        []Write
	failReads     map[uint16]int
}

func NewDevice(cfg Config) *Device {
	if cfg.InverterCount == 0 {
		cfg.InverterCount = gridcon.InverterCountOne
	}
	if cfg.GridconUnit == 0 {
		cfg.GridconUnit = 1
	}
	return &Device{
		cfg:           cfg,
		logger:        log.With().Str("component", "sim").Logger(),
		units:         map[uint8]*bank{},
		failReads:     map[uint16]int{},
		ccuState:      gridcon.CcuStateIdle,
		dcLinkVoltage: gridcon.DcLinkVoltageSetpoint,
	}
}

func (d *Device) unit(id uint8) *bank {
	b, ok := d.units[id]
	if !ok {
		b = newBank()
		d.units[id] = b
	}
	return b
}

func (d *Device) SetCcuState(s gridcon.CcuState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ccuState = s
}

func (d *Device) CcuState() gridcon.CcuState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ccuState
}

// SetErrorCode sets the raw error code register. A non-zero code also puts
// the CCU into the error state.
func (d *Device) SetErrorCode(raw uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errorCode = raw
	if raw != 0 {
		d.ccuState = gridcon.CcuStateError
	}
}

func (d *Device) ErrorCode() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errorCode
}

func (d *Device) SetDcLinkVoltage(v float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dcLinkVoltage = v
}

func (d *Device) SetHolding(unit uint8, address uint16, values ...uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.unit(unit)
	for i, v := range values {
		b.holding[address+uint16(i)] = v
	}
}

func (d *Device) Holding(unit uint8, address, quantity uint16) []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refresh()
	return d.readHolding(d.unit(unit), address, quantity)
}

func (d *Device) SetDiscreteInput(unit uint8, address uint16, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unit(unit).discrete[address] = v
}

func (d *Device) Coil(unit uint8, address uint16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unit(unit).coils[address]
}

// Writes returns every register write received so far, oldest first.
func (d *Device) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Write(nil), d.writes...)
}

// FailReads makes the next n reads starting at address on the Gridcon unit
// answer with a server device failure exception.
func (d *Device) FailReads(address uint16, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReads[address] = n
}

// LastWrite returns the most recent values written to address on the
// Gridcon unit.
func (d *Device) LastWrite(address uint16) ([]uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.writes) - 1; i >= 0; i-- {
		w := d.writes[i]
		if w.Unit == d.cfg.GridconUnit && w.Address == address {
			return append([]uint16(nil), w.Values...), true
		}
	}
	return nil, false
}

// WrittenAddresses lists the distinct block addresses written on the Gridcon unit.
func (d *Device) WrittenAddresses() []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := map[uint16]bool{}
	var out []uint16
	for _, w := range d.writes {
		if w.Unit == d.cfg.GridconUnit && !seen[w.Address] {
			seen[w.Address] = true
			out = append(out, w.Address)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// refresh mirrors the scripted state into the Gridcon status registers.
func (d *Device) refresh() {
	b := d.unit(d.cfg.GridconUnit)

	regs := make([]uint16, gridcon.CcuStatusLength)
	regs[0] = gridcon.StateWord(d.ccuState)
	if d.errorCode != 0 {
		regs[gridcon.RegCcuErrorCount-gridcon.RegCcuState] = 1
	}
	gridcon.PutUint32(regs, gridcon.RegCcuErrorCode-gridcon.RegCcuState, d.errorCode)
	gridcon.PutFloat32(regs, gridcon.RegCcuFrequency-gridcon.RegCcuState, 50)
	for i, v := range regs {
		b.holding[gridcon.RegCcuState+uint16(i)] = v
	}

	dcdc := make([]uint16, 6)
	gridcon.PutFloat32(dcdc, 4, d.dcLinkVoltage)
	base := d.cfg.InverterCount.DcDcStatusAddress()
	for i, v := range dcdc[4:] {
		b.holding[base+4+uint16(i)] = v
	}
}

func (d *Device) readHolding(b *bank, address, quantity uint16) []uint16 {
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = b.holding[address+uint16(i)]
	}
	return out
}

func outOfRange(address, quantity uint16) bool {
	return int(address)+int(quantity) > 0x10000
}

// HandleHoldingRegisters implements modbus.RequestHandler.
func (d *Device) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if outOfRange(req.Addr, req.Quantity) {
		return nil, modbus.ErrIllegalDataAddress
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.unit(req.UnitId)

	if !req.IsWrite {
		if req.UnitId == d.cfg.GridconUnit {
			if d.failReads[req.Addr] > 0 {
				d.failReads[req.Addr]--
				return nil, modbus.ErrServerDeviceFailure
			}
			d.refresh()
		}
		return d.readHolding(b, req.Addr, req.Quantity), nil
	}

	values := append([]uint16(nil), req.Args...)
	for i, v := range values {
		b.holding[req.Addr+uint16(i)] = v
	}
	d.writes = append(d.writes, Write{Unit: req.UnitId, Address: req.Addr, Values: values})

	if req.UnitId == d.cfg.GridconUnit {
		d.mirror(b, req.Addr, values)
		if req.Addr == gridcon.RegCommands {
			d.onCommands(values)
		}
	}
	return values, nil
}

// mirror echoes a write block at base + MirrorOffset. The command block
// echo carries its two bit words swapped.
func (d *Device) mirror(b *bank, address uint16, values []uint16) {
	echo := append([]uint16(nil), values...)
	if address == gridcon.RegCommands && len(echo) >= 2 {
		echo[0], echo[1] = echo[1], echo[0]
	}
	for i, v := range echo {
		b.holding[address+gridcon.MirrorOffset+uint16(i)] = v
	}
}

func (d *Device) onCommands(values []uint16) {
	if !d.cfg.Autonomous {
		return
	}
	cmd, err := gridcon.DecodeCommands(values, false)
	if err != nil {
		return
	}

	switch {
	case cmd.Acknowledge() && d.errorCode != 0 && cmd.ErrorCodeFeedback == d.errorCode>>8:
		d.logger.Info().Uint32("code", cmd.ErrorCodeFeedback).Msg("error acknowledged")
		d.clearError()
	case cmd.Play() && d.errorCode == 0:
		switch d.ccuState {
		case gridcon.CcuStateIdle, gridcon.CcuStateReady, gridcon.CcuStatePause:
			d.logger.Info().Msg("play received, running")
			d.ccuState = gridcon.CcuStateRun
		}
	}
}

func (d *Device) clearError() {
	d.errorCode = 0
	d.ccuState = gridcon.CcuStateIdle
}

// HandleCoils implements modbus.RequestHandler.
func (d *Device) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if outOfRange(req.Addr, req.Quantity) {
		return nil, modbus.ErrIllegalDataAddress
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.unit(req.UnitId)

	if req.IsWrite {
		for i, v := range req.Args {
			addr := req.Addr + uint16(i)
			b.coils[addr] = v
			if req.UnitId == d.cfg.DioUnit && addr == d.cfg.HardResetCoil {
				d.onHardResetCoil(v)
			}
		}
		return nil, nil
	}

	out := make([]bool, req.Quantity)
	for i := range out {
		out[i] = b.coils[req.Addr+uint16(i)]
	}
	return out, nil
}

// onHardResetCoil clears the error when the contactor opens again after
// having been closed.
func (d *Device) onHardResetCoil(closed bool) {
	if closed {
		d.resetClosed = true
		return
	}
	if d.resetClosed && d.cfg.Autonomous {
		d.logger.Info().Msg("hard reset completed")
		d.clearError()
	}
	d.resetClosed = false
}

// HandleDiscreteInputs implements modbus.RequestHandler.
func (d *Device) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	if outOfRange(req.Addr, req.Quantity) {
		return nil, modbus.ErrIllegalDataAddress
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.unit(req.UnitId)

	out := make([]bool, req.Quantity)
	for i := range out {
		out[i] = b.discrete[req.Addr+uint16(i)]
	}
	return out, nil
}

// HandleInputRegisters implements modbus.RequestHandler. Input registers
// share the holding register bank.
func (d *Device) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	if outOfRange(req.Addr, req.Quantity) {
		return nil, modbus.ErrIllegalDataAddress
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readHolding(d.unit(req.UnitId), req.Addr, req.Quantity), nil
}
