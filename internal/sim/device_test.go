package sim

import (
	"testing"

	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcon-pcs/internal/gridcon"
)

func holdingWrite(addr uint16, values ...uint16) *modbus.HoldingRegistersRequest {
	return &modbus.HoldingRegistersRequest{UnitId: 1, Addr: addr, Quantity: uint16(len(values)), IsWrite: true, Args: values}
}

func holdingRead(addr, quantity uint16) *modbus.HoldingRegistersRequest {
	return &modbus.HoldingRegistersRequest{UnitId: 1, Addr: addr, Quantity: quantity}
}

func TestDeviceReportsScriptedCcuState(t *testing.T) {
	d := NewDevice(Config{InverterCount: gridcon.InverterCountThree})
	d.SetErrorCode(0x06000A00)

	regs, err := d.HandleHoldingRegisters(holdingRead(gridcon.RegCcuState, gridcon.CcuStatusLength))
	require.NoError(t, err)

	status, err := gridcon.DecodeCcuStatus(regs)
	require.NoError(t, err)
	assert.Equal(t, gridcon.CcuStateError, status.State)
	assert.Equal(t, uint32(0x06000A00), status.ErrorCode)
	assert.Equal(t, uint16(1), status.ErrorCount)
}

func TestDeviceReportsDcLinkVoltage(t *testing.T) {
	d := NewDevice(Config{InverterCount: gridcon.InverterCountTwo})
	d.SetDcLinkVoltage(760)

	regs, err := d.HandleHoldingRegisters(holdingRead(gridcon.RegDcDcStatusTwoIpus, gridcon.StatusBlockLength))
	require.NoError(t, err)

	status, err := gridcon.DecodeUnitStatus(regs)
	require.NoError(t, err)
	assert.Equal(t, float32(760), status.DcLinkPositiveVoltage)
}

func TestDeviceRecordsAndMirrorsWrites(t *testing.T) {
	d := NewDevice(Config{})

	_, err := d.HandleHoldingRegisters(holdingWrite(gridcon.RegCommands, 0x0002, 0x8001))
	require.NoError(t, err)

	last, ok := d.LastWrite(gridcon.RegCommands)
	require.True(t, ok)
	assert.Equal(t, []uint16{0x0002, 0x8001}, last)
	assert.Equal(t, []uint16{0x8001, 0x0002}, d.Holding(1, gridcon.RegCommands+gridcon.MirrorOffset, 2))

	_, err = d.HandleHoldingRegisters(holdingWrite(gridcon.RegCosPhi, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3, 4}, d.Holding(1, gridcon.RegCosPhi+gridcon.MirrorOffset, 4))
	assert.Equal(t, []uint16{gridcon.RegCommands, gridcon.RegCosPhi}, d.WrittenAddresses())
}

func TestAutonomousDeviceFollowsCommands(t *testing.T) {
	d := NewDevice(Config{Autonomous: true})

	play := gridcon.NewCommands()
	play.SetPlay(true)
	_, err := d.HandleHoldingRegisters(holdingWrite(gridcon.RegCommands, play.Encode()...))
	require.NoError(t, err)
	assert.Equal(t, gridcon.CcuStateRun, d.CcuState())

	d.SetErrorCode(0x06000A00)
	ack := gridcon.NewCommands()
	ack.SetAcknowledge(true)
	ack.ErrorCodeFeedback = 0x060009
	_, err = d.HandleHoldingRegisters(holdingWrite(gridcon.RegCommands, ack.Encode()...))
	require.NoError(t, err)
	assert.Equal(t, gridcon.CcuStateError, d.CcuState(), "wrong code must not clear the error")

	ack.ErrorCodeFeedback = 0x06000A
	_, err = d.HandleHoldingRegisters(holdingWrite(gridcon.RegCommands, ack.Encode()...))
	require.NoError(t, err)
	assert.Equal(t, gridcon.CcuStateIdle, d.CcuState())
	assert.Zero(t, d.ErrorCode())
}

func TestAutonomousDeviceHardReset(t *testing.T) {
	d := NewDevice(Config{Autonomous: true, DioUnit: 3, HardResetCoil: 5})
	d.SetErrorCode(0x01000000)

	_, err := d.HandleCoils(&modbus.CoilsRequest{UnitId: 3, Addr: 5, Quantity: 1, IsWrite: true, Args: []bool{true}})
	require.NoError(t, err)
	assert.True(t, d.Coil(3, 5))
	assert.Equal(t, gridcon.CcuStateError, d.CcuState())

	_, err = d.HandleCoils(&modbus.CoilsRequest{UnitId: 3, Addr: 5, Quantity: 1, IsWrite: true, Args: []bool{false}})
	require.NoError(t, err)
	assert.Equal(t, gridcon.CcuStateIdle, d.CcuState())
}

func TestDiscreteInputs(t *testing.T) {
	d := NewDevice(Config{})
	d.SetDiscreteInput(3, 1, true)

	bits, err := d.HandleDiscreteInputs(&modbus.DiscreteInputsRequest{UnitId: 3, Addr: 0, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, bits)
}

func TestOutOfRangeAddress(t *testing.T) {
	d := NewDevice(Config{})
	_, err := d.HandleHoldingRegisters(holdingRead(0xFFFF, 2))
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)
}

func TestFailReads(t *testing.T) {
	d := NewDevice(Config{})
	d.FailReads(gridcon.RegDcDcMeasurements, 2)

	for i := 0; i < 2; i++ {
		_, err := d.HandleHoldingRegisters(holdingRead(gridcon.RegDcDcMeasurements, gridcon.DcDcMeasurementsLength))
		assert.ErrorIs(t, err, modbus.ErrServerDeviceFailure)
	}
	_, err := d.HandleHoldingRegisters(holdingRead(gridcon.RegDcDcMeasurements, gridcon.DcDcMeasurementsLength))
	assert.NoError(t, err)

	_, err = d.HandleHoldingRegisters(holdingRead(gridcon.RegCcuState, gridcon.CcuStatusLength))
	assert.NoError(t, err, "other blocks are unaffected")
}
