package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcon-pcs/internal/gridcon"
)

func newTestMachine() (*Machine, *fakeClock) {
	clock := newFakeClock()
	return New(DefaultConfig(), fakeCatalog{hardReset: map[uint32]bool{0x010000: true}}, clock), clock
}

func TestDeriveGridMode(t *testing.T) {
	assert.Equal(t, GridModeOnGrid, DeriveGridMode(true, true))
	assert.Equal(t, GridModeOffGrid, DeriveGridMode(false, false))
	assert.Equal(t, GridModeUndefined, DeriveGridMode(true, false))
	assert.Equal(t, GridModeUndefined, DeriveGridMode(false, true))
}

func TestParseGridMode(t *testing.T) {
	mode, ok := ParseGridMode("on_grid")
	assert.True(t, ok)
	assert.Equal(t, GridModeOnGrid, mode)

	_, ok = ParseGridMode("")
	assert.False(t, ok)
}

func TestUndefinedTransitions(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want GridTieState
	}{
		{"grid present", Inputs{GridMode: GridModeOnGrid}, StateOnGrid},
		{"grid absent", Inputs{GridMode: GridModeOffGrid}, StateOffGrid},
		{"grid unknown", Inputs{GridMode: GridModeUndefined}, StateUndefined},
		{"ccu error wins", Inputs{GridMode: GridModeOnGrid, CcuState: gridcon.CcuStateError}, StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMachine()
			m.Step(tt.in)
			assert.Equal(t, tt.want, m.State())
		})
	}
}

func TestOnGridStartAndRun(t *testing.T) {
	m, _ := newTestMachine()

	m.Step(onGridInputs(gridcon.CcuStateIdle))
	require.Equal(t, StateOnGrid, m.State())
	assert.Equal(t, OnGridUndefined, m.OnGridState())

	out := m.Step(onGridInputs(gridcon.CcuStateIdle))
	assert.Equal(t, OnGridIdle, m.OnGridState())
	assert.Equal(t, CommandNone, out.Command)

	out = m.Step(onGridInputs(gridcon.CcuStateIdle))
	assert.Equal(t, CommandStart, out.Command)

	m.Step(onGridInputs(gridcon.CcuStateRun))
	assert.Equal(t, OnGridRun, m.OnGridState())

	out = m.Step(onGridInputs(gridcon.CcuStateRun))
	assert.Equal(t, CommandRun, out.Command)
	assert.True(t, out.ApplyPower)
}

func TestOnGridIdleHoldsWithoutReadyString(t *testing.T) {
	m, _ := newTestMachine()
	in := onGridInputs(gridcon.CcuStateReady)
	in.AnyStringReady = false

	m.Step(in)
	m.Step(in)
	require.Equal(t, OnGridIdle, m.OnGridState())

	out := m.Step(in)
	assert.Equal(t, CommandNone, out.Command)
}

func TestOnGridRunFallsBack(t *testing.T) {
	m, _ := newTestMachine()
	m.Step(onGridInputs(gridcon.CcuStateRun))
	m.Step(onGridInputs(gridcon.CcuStateRun))
	require.Equal(t, OnGridRun, m.OnGridState())

	m.Step(onGridInputs(gridcon.CcuStateIdle))
	assert.Equal(t, OnGridIdle, m.OnGridState())

	m.Step(onGridInputs(gridcon.CcuStateRun))
	require.Equal(t, OnGridRun, m.OnGridState())
	m.Step(onGridInputs(gridcon.CcuStateOverload))
	assert.Equal(t, OnGridUndefined, m.OnGridState())
	assert.Equal(t, StateOnGrid, m.State())
}

func TestGoingOffGridWaitsFiveSeconds(t *testing.T) {
	m, clock := newTestMachine()
	m.Step(onGridInputs(gridcon.CcuStateIdle))
	require.Equal(t, StateOnGrid, m.State())

	lost := onGridInputs(gridcon.CcuStateIdle)
	lost.GridMode = GridModeOffGrid
	lost.Na1, lost.Na2 = false, false

	m.Step(lost)
	require.Equal(t, StateGoingOffGrid, m.State())

	clock.Advance(4 * time.Second)
	m.Step(lost)
	assert.Equal(t, StateGoingOffGrid, m.State())

	clock.Advance(time.Second)
	m.Step(lost)
	assert.Equal(t, StateOffGrid, m.State())
}

func offGridMachine(t *testing.T) *Machine {
	t.Helper()
	m, _ := newTestMachine()
	m.Step(Inputs{GridMode: GridModeOffGrid})
	require.Equal(t, StateOffGrid, m.State())
	return m
}

func TestOffGridBlackstartThreshold(t *testing.T) {
	m := offGridMachine(t)
	in := Inputs{GridMode: GridModeOffGrid, MeterValid: true, MeterFrequency: 49650, MeterVoltage: 230000}

	out := m.Step(in)
	assert.Equal(t, CommandBlackstart, out.Command)
	assert.Equal(t, StateOffGrid, m.State())

	in.MeterFrequency = 49750
	out = m.Step(in)
	assert.Equal(t, CommandNone, out.Command)
	assert.Equal(t, StateOffGrid, m.State())
}

func TestOffGridBlackstartOnVoltage(t *testing.T) {
	m := offGridMachine(t)

	out := m.Step(Inputs{GridMode: GridModeOffGrid, MeterValid: true, MeterFrequency: 50000, MeterVoltage: 210000})
	assert.Equal(t, CommandBlackstart, out.Command)

	out = m.Step(Inputs{GridMode: GridModeOffGrid, MeterValid: true, MeterFrequency: 50000, MeterVoltage: 246000})
	assert.Equal(t, CommandBlackstart, out.Command)

	// missing meter values never blackstart
	out = m.Step(Inputs{GridMode: GridModeOffGrid})
	assert.Equal(t, CommandNone, out.Command)
}

func TestOffGridNaProtection(t *testing.T) {
	m := offGridMachine(t)
	m.Step(Inputs{GridMode: GridModeUndefined, Na1: true})
	assert.Equal(t, StateGoingOnGrid, m.State())
	m.Step(Inputs{GridMode: GridModeUndefined, Na1: true})
	assert.Equal(t, StateOnGrid, m.State())

	m = offGridMachine(t)
	m.Step(Inputs{GridMode: GridModeOnGrid, Na1: true, Na2: true})
	assert.Equal(t, StateOnGrid, m.State())

	m = offGridMachine(t)
	m.Step(Inputs{GridMode: GridModeUndefined, Na2: true})
	assert.Equal(t, StateOffGrid, m.State())
}

func TestErrorEntryIsEdgeTriggered(t *testing.T) {
	m, clock := newTestMachine()
	m.Step(onGridInputs(gridcon.CcuStateRun))
	require.Equal(t, StateOnGrid, m.State())

	in := onGridInputs(gridcon.CcuStateError)
	in.ErrorCode = 0x06000000
	m.Step(in)
	require.Equal(t, StateError, m.State())
	assert.Equal(t, []uint32{0x060000}, m.ErrorHandler().ActiveErrors())

	// settle, acknowledge and finish while the CCU still reports the error
	clock.Advance(30 * time.Second)
	m.Step(in)
	m.Step(in)
	out := m.Step(in)
	assert.Equal(t, CommandAcknowledge, out.Command)
	assert.Equal(t, uint32(0x060000), out.ErrorCodeFeedback)
	m.Step(in)
	assert.Equal(t, StateUndefined, m.State())

	// the error is no new edge, Undefined takes it back into Error
	m.Step(in)
	assert.Equal(t, StateError, m.State())
}

func TestDcLinkToleranceEntersError(t *testing.T) {
	m, clock := newTestMachine()
	in := onGridInputs(gridcon.CcuStateRun)
	in.DcLinkVoltage = 750

	m.Step(in)
	for i := 0; i < 15; i++ {
		clock.Advance(time.Second)
		m.Step(in)
		require.NotEqual(t, StateError, m.State(), "still in grace period after %ds", i+1)
	}

	clock.Advance(time.Second)
	m.Step(in)
	assert.Equal(t, StateError, m.State())
}

func TestDcLinkWithinToleranceStaysOnGrid(t *testing.T) {
	m, clock := newTestMachine()
	in := onGridInputs(gridcon.CcuStateRun)
	in.DcLinkVoltage = 819

	for i := 0; i < 30; i++ {
		m.Step(in)
		clock.Advance(time.Second)
	}
	assert.Equal(t, StateOnGrid, m.State())
}

func TestCommunicationFailureEntersError(t *testing.T) {
	m, _ := newTestMachine()
	m.Step(onGridInputs(gridcon.CcuStateIdle))

	in := onGridInputs(gridcon.CcuStateUndefined)
	in.CommunicationFailed = true
	m.Step(in)
	assert.Equal(t, StateError, m.State())
}

func TestStableRunResetsCounters(t *testing.T) {
	m, clock := newTestMachine()
	m.ErrorHandler().ackAttempts = 3
	m.ErrorHandler().resetAttempts = 2

	in := onGridInputs(gridcon.CcuStateRun)
	m.Step(in)
	clock.Advance(16 * time.Second)
	m.Step(in)

	assert.Equal(t, 0, m.ErrorHandler().AckAttempts())
	assert.Equal(t, 0, m.ErrorHandler().ResetAttempts())
}

func TestUnrecoverableUntilReset(t *testing.T) {
	m, clock := newTestMachine()
	m.ErrorHandler().resetAttempts = 5

	in := onGridInputs(gridcon.CcuStateError)
	in.ErrorCode = 0x01000000
	m.Step(in)
	clock.Advance(30 * time.Second)
	m.Step(in)
	out := m.Step(in)
	require.True(t, out.Unrecoverable)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Minute)
		out = m.Step(in)
		assert.True(t, out.Unrecoverable)
		assert.Equal(t, StateError, m.State())
	}

	m.Reset()
	assert.Equal(t, StateUndefined, m.State())
	out = m.Step(onGridInputs(gridcon.CcuStateIdle))
	assert.False(t, out.Unrecoverable)
	assert.Equal(t, StateOnGrid, m.State())
}

func TestMissingStatusHoldsOnGridRun(t *testing.T) {
	m, clock := newTestMachine()
	in := onGridInputs(gridcon.CcuStateRun)
	m.Step(in)
	m.Step(in)
	require.Equal(t, OnGridRun, m.OnGridState())

	clock.Advance(10 * time.Second)
	out := m.Step(Inputs{StatusMissing: true, GridMode: GridModeOnGrid, Na1: true, Na2: true})
	assert.Equal(t, StateOnGrid, m.State())
	assert.Equal(t, OnGridRun, m.OnGridState())
	assert.Equal(t, CommandNone, out.Command)

	// run time keeps counting across the missed read, so the grace period
	// is over and an off-setpoint DC link is caught
	clock.Advance(6 * time.Second)
	in.DcLinkVoltage = 750
	m.Step(in)
	assert.Equal(t, StateError, m.State())
}

func TestMissingStatusWithCommunicationFailure(t *testing.T) {
	m, _ := newTestMachine()
	m.Step(onGridInputs(gridcon.CcuStateRun))

	m.Step(Inputs{StatusMissing: true, CommunicationFailed: true})
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, ErrorHandleErrors, m.ErrorHandler().State())
}

func TestMissingDcLinkVoltageSkipsToleranceCheck(t *testing.T) {
	m, clock := newTestMachine()
	in := onGridInputs(gridcon.CcuStateRun)
	in.DcLinkVoltage = 0
	in.DcLinkVoltageMissing = true

	for i := 0; i < 30; i++ {
		m.Step(in)
		clock.Advance(time.Second)
	}
	assert.Equal(t, StateOnGrid, m.State())
}

func TestResetRestartsRunGracePeriod(t *testing.T) {
	m, clock := newTestMachine()
	in := onGridInputs(gridcon.CcuStateRun)
	m.Step(in)
	clock.Advance(20 * time.Second)
	m.Step(in)

	m.Reset()
	in.DcLinkVoltage = 750
	m.Step(in)
	assert.Equal(t, StateOnGrid, m.State())
	clock.Advance(10 * time.Second)
	m.Step(in)
	assert.Equal(t, StateOnGrid, m.State())
}
