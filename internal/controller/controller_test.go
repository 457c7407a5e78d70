package controller

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcon-pcs/internal/battery"
	"gridcon-pcs/internal/dio"
	"gridcon-pcs/internal/gridcon"
	"gridcon-pcs/internal/gridcon/errcatalog"
	"gridcon-pcs/internal/modbus"
	"gridcon-pcs/internal/sim"
	"gridcon-pcs/internal/statemachine"
	"gridcon-pcs/internal/weighting"
)

const (
	rackUnit      = 2
	dioUnit       = 3
	hardResetCoil = 7
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time         { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingPublisher struct {
	snapshots []*Snapshot
}

func (p *recordingPublisher) Publish(s *Snapshot) error {
	p.snapshots = append(p.snapshots, s)
	return nil
}

type rig struct {
	server    *sim.Server
	device    *sim.Device
	clock     *fakeClock
	pcs       *gridcon.Pcs
	publisher *recordingPublisher
	ctrl      *Controller
}

func newRig(t *testing.T) *rig {
	t.Helper()

	server, port := sim.StartTestServer(t, sim.Config{
		DioUnit:       dioUnit,
		HardResetCoil: hardResetCoil,
		Autonomous:    true,
	})
	device := server.Device()
	device.SetHolding(rackUnit, battery.RegContactorControl, uint16(battery.ContactorOnGrid))
	device.SetHolding(rackUnit, battery.RegVoltage, 7000)
	device.SetHolding(rackUnit, battery.RegSoc, 60)
	device.SetHolding(rackUnit, battery.RegChargeMaxCurrent, 500, 500)
	device.SetDiscreteInput(dioUnit, 0, true)
	device.SetDiscreteInput(dioUnit, 1, true)

	client := modbus.NewClient("127.0.0.1", port, 1, time.Second)
	t.Cleanup(func() { client.Close() })

	clock := &fakeClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
	catalog := errcatalog.Default()
	pcs := gridcon.NewPcs(client, gridcon.Settings{EnableIpu1: true})
	publisher := &recordingPublisher{}

	ctrl := New(Config{
		Device:  client,
		Pcs:     pcs,
		Machine: statemachine.New(statemachine.DefaultConfig(), catalog, clock),
		Catalog: catalog,
		Racks:   [3]Rack{battery.NewRack(client.Unit(rackUnit), "a", 40000)},
		Dio: dio.New(client.Unit(dioUnit), dio.Addresses{
			Na1Input:      0,
			Na2Input:      1,
			HardResetCoil: hardResetCoil,
		}),
		Publisher: publisher,
		Clock:     clock,
	})

	return &rig{
		server:    server,
		device:    device,
		clock:     clock,
		pcs:       pcs,
		publisher: publisher,
		ctrl:      ctrl,
	}
}

func (r *rig) cycle(t *testing.T) *Snapshot {
	t.Helper()
	require.NoError(t, r.ctrl.CycleOnce(context.Background()))
	snap := r.ctrl.Snapshot()
	require.NotNil(t, snap)
	return snap
}

func (r *rig) lastCommands(t *testing.T) *gridcon.Commands {
	t.Helper()
	regs, ok := r.device.LastWrite(gridcon.RegCommands)
	require.True(t, ok, "command block never written")
	cmd, err := gridcon.DecodeCommands(regs, false)
	require.NoError(t, err)
	return cmd
}

func (r *rig) lastDcDc(t *testing.T) *gridcon.DcDcParameter {
	t.Helper()
	regs, ok := r.device.LastWrite(r.pcs.DcDcParameter().Address())
	require.True(t, ok, "DC/DC block never written")
	p, err := gridcon.DecodeDcDcParameter(regs)
	require.NoError(t, err)
	return p
}

func (r *rig) writeCount(address uint16) int {
	n := 0
	for _, w := range r.device.Writes() {
		if w.Unit == 1 && w.Address == address {
			n++
		}
	}
	return n
}

// runUp drives the rig from power on to a running unit.
func (r *rig) runUp(t *testing.T) {
	t.Helper()
	assert.Equal(t, statemachine.StateOnGrid, r.cycle(t).State)
	assert.Equal(t, statemachine.OnGridIdle, r.cycle(t).OnGrid)

	snap := r.cycle(t)
	assert.Equal(t, "start", snap.Command)
	require.Equal(t, gridcon.CcuStateRun, r.device.CcuState())

	assert.Equal(t, statemachine.OnGridRun, r.cycle(t).OnGrid)
}

func TestSnapshotNilBeforeFirstCycle(t *testing.T) {
	r := newRig(t)
	assert.Nil(t, r.ctrl.Snapshot())
	assert.False(t, r.ctrl.IsRunning())
}

func TestStartAndRunOnGrid(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.ctrl.SetPower(10000, 0))

	r.runUp(t)

	snap := r.cycle(t)
	assert.Equal(t, "run", snap.Command)
	assert.True(t, snap.CycleOK)
	assert.True(t, snap.PowerApplied)
	assert.Equal(t, weighting.ModeStringA, snap.Weights.ControlMode)
	assert.InDelta(t, 35000, snap.Weights.A, 0.001)
	assert.Equal(t, 10000.0, r.pcs.ActivePowerPreset())
	assert.Equal(t, 10000.0, snap.ActivePower)
	assert.Equal(t, "on_grid", snap.GridMode)
	assert.InDelta(t, 800, snap.DcLinkVoltage, 0.01)

	require.Len(t, snap.Batteries, 1)
	assert.True(t, snap.Totals.AnyReady)
	assert.InDelta(t, 700, snap.Strings[0].Voltage, 0.001)
	assert.False(t, snap.Strings[1].Present)

	assert.Len(t, r.publisher.snapshots, 5)
}

func TestRunWithoutSetpointLeavesPowerUntouched(t *testing.T) {
	r := newRig(t)
	r.runUp(t)

	snap := r.cycle(t)
	assert.Equal(t, "run", snap.Command)
	assert.False(t, snap.PowerApplied)
	assert.True(t, snap.Weights.Empty())
}

func TestAcknowledgeableErrorRecovers(t *testing.T) {
	r := newRig(t)
	r.runUp(t)

	r.device.SetErrorCode(0x20120000)
	snap := r.cycle(t)
	require.Equal(t, statemachine.StateError, snap.State)
	assert.Equal(t, "read_errors", snap.ErrorState)
	require.Len(t, snap.ActiveErrors, 1)
	assert.Equal(t, "0x201200", snap.ActiveErrors[0].Code)
	assert.Equal(t, "Temp Trip IGBT 3", snap.ActiveErrors[0].Text)
	assert.False(t, snap.ActiveErrors[0].HardReset)

	r.clock.Advance(30 * time.Second)
	assert.Equal(t, statemachine.ErrorHandleErrors, r.cycle(t).ErrorHandling)
	assert.Equal(t, statemachine.ErrorAcknowledgeErrors, r.cycle(t).ErrorHandling)

	snap = r.cycle(t)
	assert.Equal(t, "acknowledge", snap.Command)
	assert.Equal(t, 1, snap.AckAttempts)
	assert.Equal(t, uint32(0), r.device.ErrorCode())
	assert.Equal(t, gridcon.CcuStateIdle, r.device.CcuState())
	cmd := r.lastCommands(t)
	assert.True(t, cmd.Acknowledge())
	assert.Equal(t, uint32(0x201200), cmd.ErrorCodeFeedback)

	assert.Equal(t, statemachine.StateUndefined, r.cycle(t).State)
	cmd = r.lastCommands(t)
	assert.False(t, cmd.Acknowledge())
	assert.Zero(t, cmd.ErrorCodeFeedback)

	assert.Equal(t, statemachine.StateOnGrid, r.cycle(t).State)
}

func TestAcknowledgeIsWithdrawnAfterRecovery(t *testing.T) {
	r := newRig(t)
	r.runUp(t)

	r.device.SetErrorCode(0x20120000)
	r.cycle(t)
	// NA2 open keeps the grid mode undefined once the error is handled
	r.device.SetDiscreteInput(dioUnit, 1, false)
	r.clock.Advance(30 * time.Second)
	r.cycle(t)
	r.cycle(t)
	require.Equal(t, "acknowledge", r.cycle(t).Command)

	dcdcWrites := r.writeCount(r.pcs.DcDcParameter().Address())
	for i := 0; i < 3; i++ {
		snap := r.cycle(t)
		require.Equal(t, statemachine.StateUndefined, snap.State)
		assert.Equal(t, "none", snap.Command)

		cmd := r.lastCommands(t)
		assert.False(t, cmd.Acknowledge(), "cycle %d", i)
		assert.False(t, cmd.Play(), "cycle %d", i)
		assert.Zero(t, cmd.ErrorCodeFeedback, "cycle %d", i)
		assert.InDelta(t, 800, r.lastDcDc(t).DcVoltageSetpoint, 0.001)
	}
	assert.Equal(t, dcdcWrites+3, r.writeCount(r.pcs.DcDcParameter().Address()))
	assert.Equal(t, uint32(0), r.device.ErrorCode())
}

func TestFailedDiagnosticReadKeepsRunning(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.ctrl.SetPower(10000, 0))
	r.runUp(t)

	commandWrites := r.writeCount(gridcon.RegCommands)
	r.device.FailReads(gridcon.RegDcDcMeasurements, 1)

	err := r.ctrl.CycleOnce(context.Background())
	require.ErrorIs(t, err, gridcon.ErrIncompleteStatus)

	snap := r.ctrl.Snapshot()
	assert.False(t, snap.CycleOK)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Equal(t, statemachine.StateOnGrid, snap.State)
	assert.Equal(t, statemachine.OnGridRun, snap.OnGrid)
	assert.Equal(t, "run", snap.Command)
	assert.True(t, snap.PowerApplied)
	assert.Equal(t, commandWrites+1, r.writeCount(gridcon.RegCommands))
	assert.InDelta(t, 800, r.lastDcDc(t).DcVoltageSetpoint, 0.001)
	assert.InDelta(t, 35000, r.lastDcDc(t).WeightStringA, 0.001)

	snap = r.cycle(t)
	assert.True(t, snap.CycleOK)
	assert.Equal(t, statemachine.OnGridRun, snap.OnGrid)
}

func TestMissingDcLinkReadingDoesNotTripTolerance(t *testing.T) {
	r := newRig(t)
	r.runUp(t)

	r.device.FailReads(gridcon.InverterCountOne.DcDcStatusAddress(), 20)
	for i := 0; i < 20; i++ {
		r.clock.Advance(time.Second)
		require.ErrorIs(t, r.ctrl.CycleOnce(context.Background()), gridcon.ErrIncompleteStatus)
		require.Equal(t, statemachine.StateOnGrid, r.ctrl.Snapshot().State, "cycle %d", i)
	}
	assert.Equal(t, statemachine.OnGridRun, r.cycle(t).OnGrid)
}

func TestFailedStatusReadHoldsState(t *testing.T) {
	r := newRig(t)
	r.runUp(t)

	commandWrites := r.writeCount(gridcon.RegCommands)
	// first attempt and the retry after reconnecting
	r.device.FailReads(gridcon.RegCcuState, 2)
	r.clock.Advance(time.Second)

	require.Error(t, r.ctrl.CycleOnce(context.Background()))
	snap := r.ctrl.Snapshot()
	assert.Nil(t, snap.Device)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.Equal(t, statemachine.StateOnGrid, snap.State)
	assert.Equal(t, statemachine.OnGridRun, snap.OnGrid)
	assert.Equal(t, commandWrites+1, r.writeCount(gridcon.RegCommands), "heartbeat written without a status")

	cmd := r.lastCommands(t)
	assert.True(t, cmd.SyncApproval)
	assert.False(t, cmd.Acknowledge())
	assert.InDelta(t, 800, r.lastDcDc(t).DcVoltageSetpoint, 0.001)

	snap = r.cycle(t)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Equal(t, statemachine.OnGridRun, snap.OnGrid)
	assert.Equal(t, "run", snap.Command)
}

func TestCommandBlockCarriesControllerClock(t *testing.T) {
	r := newRig(t)

	snap := r.cycle(t)
	assert.Equal(t, r.clock.Now(), snap.Timestamp)
	cmd := r.lastCommands(t)
	assert.Equal(t, uint32(20240601), cmd.SyncDate)
	assert.Equal(t, uint32(80000), cmd.SyncTime)

	r.clock.Advance(90 * time.Minute)
	r.cycle(t)
	cmd = r.lastCommands(t)
	assert.Equal(t, uint32(93000), cmd.SyncTime)
}

func TestHardResetRecovers(t *testing.T) {
	r := newRig(t)
	r.runUp(t)

	r.device.SetErrorCode(0x20180900)
	snap := r.cycle(t)
	require.Equal(t, statemachine.StateError, snap.State)
	require.Len(t, snap.ActiveErrors, 1)
	assert.True(t, snap.ActiveErrors[0].HardReset)

	r.clock.Advance(30 * time.Second)
	assert.Equal(t, statemachine.ErrorHandleErrors, r.cycle(t).ErrorHandling)
	assert.Equal(t, statemachine.ErrorHardReset, r.cycle(t).ErrorHandling)

	snap = r.cycle(t)
	assert.True(t, snap.HardResetCoil)
	assert.True(t, r.device.Coil(dioUnit, hardResetCoil))
	assert.Equal(t, 1, snap.ResetAttempts)

	r.clock.Advance(10 * time.Second)
	snap = r.cycle(t)
	assert.False(t, snap.HardResetCoil)
	assert.False(t, r.device.Coil(dioUnit, hardResetCoil))
	assert.Equal(t, uint32(0), r.device.ErrorCode())

	r.clock.Advance(45 * time.Second)
	assert.Equal(t, statemachine.ErrorFinishErrorHandling, r.cycle(t).ErrorHandling)
	assert.Equal(t, statemachine.StateUndefined, r.cycle(t).State)
}

func TestCommunicationFailureEntersError(t *testing.T) {
	r := newRig(t)
	r.cycle(t)

	require.NoError(t, r.server.Close())

	for i := 1; i <= 3; i++ {
		err := r.ctrl.CycleOnce(context.Background())
		require.Error(t, err)

		snap := r.ctrl.Snapshot()
		assert.False(t, snap.CycleOK)
		assert.Equal(t, i, snap.ConsecutiveFailures)
		if i < 3 {
			assert.NotEqual(t, statemachine.StateError, snap.State)
		} else {
			assert.Equal(t, statemachine.StateError, snap.State)
		}
	}
}

func TestSetPowerRejectsInvalidValues(t *testing.T) {
	r := newRig(t)

	assert.ErrorIs(t, r.ctrl.SetPower(0, math.Inf(1)), ErrInvalidSetpoint)
	assert.ErrorIs(t, r.ctrl.SetPower(math.NaN(), 0), ErrInvalidSetpoint)
}

func TestRequestQueueFull(t *testing.T) {
	r := newRig(t)

	for i := 0; i < cap(r.ctrl.requests); i++ {
		require.NoError(t, r.ctrl.Reset())
	}
	assert.ErrorIs(t, r.ctrl.Reset(), ErrBusy)

	r.cycle(t)
	assert.NoError(t, r.ctrl.Reset(), "queue drained by the cycle")
}

func TestStartStopsWithContext(t *testing.T) {
	r := newRig(t)
	r.ctrl.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.ctrl.Start(ctx) }()

	require.Eventually(t, func() bool {
		return r.ctrl.IsRunning() && r.ctrl.Snapshot() != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
	assert.False(t, r.ctrl.IsRunning())
}
