// Package controller runs the read, decide, write cycle of one Gridcon PCS.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gridcon-pcs/internal/battery"
	"gridcon-pcs/internal/gridcon"
	"gridcon-pcs/internal/gridcon/errcatalog"
	"gridcon-pcs/internal/meter"
	"gridcon-pcs/internal/statemachine"
	"gridcon-pcs/internal/weighting"
)

var (
	ErrBusy            = errors.New("controller command queue full")
	ErrInvalidSetpoint = errors.New("invalid power setpoint")
)

// Connection is a transport link the controller keeps open. *modbus.Client
// satisfies it.
type Connection interface {
	Connect() error
	Reconnect() error
	Close() error
	IsConnected() bool
}

type Rack interface {
	Name() string
	ReadAllData() (*battery.RackData, error)
	Start() error
}

type GridMeter interface {
	Read() (*meter.Reading, error)
}

type DigitalIO interface {
	ReadNaProtection() (na1, na2 bool, err error)
	SetHardReset(closed bool) error
}

type Publisher interface {
	Publish(s *Snapshot) error
}

type Config struct {
	// Device is the connection to the Gridcon unit. Peripherals may sit on
	// further connections.
	Device      Connection
	Peripherals []Connection

	Pcs     *gridcon.Pcs
	Machine *statemachine.Machine
	Catalog *errcatalog.Catalog

	// Racks are indexed by string A, B, C. Nil entries are not installed.
	Racks [3]Rack
	Meter GridMeter
	Dio   DigitalIO

	Publisher Publisher
	Clock     statemachine.Clock

	Interval             time.Duration
	StaticGridMode       statemachine.GridMode
	CommFailureThreshold int

	ChargeEfficiencyLoss    float64
	DischargeEfficiencyLoss float64
}

type requestKind int

const (
	requestReset requestKind = iota
	requestSetpoint
)

type request struct {
	kind     requestKind
	active   float64
	reactive float64
}

type Controller struct {
	cfg    Config
	logger zerolog.Logger

	requests chan request

	// Owned by the cycle goroutine.
	failures         int
	activeSetpoint   float64
	reactiveSetpoint float64

	mu        sync.RWMutex
	latest    *Snapshot
	isRunning bool
}

func New(cfg Config) *Controller {
	if cfg.CommFailureThreshold < 1 {
		cfg.CommFailureThreshold = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Catalog == nil {
		cfg.Catalog = errcatalog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = statemachine.SystemClock{}
	}
	return &Controller{
		cfg:      cfg,
		logger:   log.With().Str("component", "controller").Logger(),
		requests: make(chan request, 16),
	}
}

// Start runs cycles until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.isRunning = true
	c.mu.Unlock()

	c.logger.Info().Dur("interval", c.cfg.Interval).Msg("starting controller")

	c.runCycle(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("controller stopped")
			c.mu.Lock()
			c.isRunning = false
			c.mu.Unlock()
			return nil
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

func (c *Controller) runCycle(ctx context.Context) {
	if err := c.CycleOnce(ctx); err != nil {
		c.logger.Warn().Err(err).Int("consecutive_failures", c.failures).Msg("cycle failed")
	}
}

// SetPublisher replaces the snapshot publisher. It must be called before Start.
func (c *Controller) SetPublisher(p Publisher) {
	c.cfg.Publisher = p
}

func (c *Controller) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// Snapshot returns the state of the last completed cycle, nil before the first.
func (c *Controller) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Reset clears an unrecoverable error state at the start of the next cycle.
func (c *Controller) Reset() error {
	return c.enqueue(request{kind: requestReset})
}

// SetPower requests active (W, positive discharges) and reactive (var)
// power from the next cycle on.
func (c *Controller) SetPower(active, reactive float64) error {
	if math.IsNaN(active) || math.IsInf(active, 0) || math.IsNaN(reactive) || math.IsInf(reactive, 0) {
		return fmt.Errorf("%v/%v: %w", active, reactive, ErrInvalidSetpoint)
	}
	return c.enqueue(request{kind: requestSetpoint, active: active, reactive: reactive})
}

func (c *Controller) enqueue(r request) error {
	select {
	case c.requests <- r:
		return nil
	default:
		return ErrBusy
	}
}

func (c *Controller) drainRequests() {
	for {
		select {
		case r := <-c.requests:
			switch r.kind {
			case requestReset:
				c.cfg.Machine.Reset()
			case requestSetpoint:
				c.logger.Info().Float64("active_power", r.active).Float64("reactive_power", r.reactive).Msg("power setpoint changed")
				c.activeSetpoint = r.active
				c.reactiveSetpoint = r.reactive
			}
		default:
			return
		}
	}
}

// CycleOnce runs a single read, decide, write cycle. It must not be called
// concurrently with Start.
func (c *Controller) CycleOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.drainRequests()

	now := c.cfg.Clock.Now()
	snap := &Snapshot{Timestamp: now}

	// only a missing CCU block counts towards a communication failure; a
	// partial read still drives the machine
	status, readErr := c.readDevice()
	if status == nil {
		c.failures++
	} else {
		c.failures = 0
	}
	snap.Device = status
	snap.ConsecutiveFailures = c.failures

	in := statemachine.Inputs{
		StatusMissing:        status == nil,
		DcLinkVoltageMissing: true,
		CommunicationFailed:  c.failures >= c.cfg.CommFailureThreshold,
	}
	if status != nil {
		in.CcuState = status.Ccu.State
		in.ErrorCode = status.Ccu.ErrorCode
		if status.DcDc != nil {
			in.DcLinkVoltage = float64(status.DcDc.DcLinkPositiveVoltage)
			in.DcLinkVoltageMissing = false
		}
	}

	c.readBatteries(snap)
	in.AnyStringReady = snap.Totals.AnyReady

	c.readGrid(snap, &in)

	out := c.cfg.Machine.Step(in)
	c.apply(out, snap)

	if c.cfg.Dio != nil {
		if err := c.cfg.Dio.SetHardReset(out.HardResetContactor); err != nil {
			c.logger.Error().Err(err).Msg("hard reset contactor write failed")
		}
	}

	// written every cycle, also without a status; the command block is the heartbeat
	if err := c.cfg.Pcs.Flush(now); err != nil {
		snap.WriteFailures = countJoined(err)
	}

	c.fillState(snap, in, out)
	snap.CycleOK = readErr == nil && snap.WriteFailures == 0

	c.mu.Lock()
	c.latest = snap
	c.mu.Unlock()

	if c.cfg.Publisher != nil {
		if err := c.cfg.Publisher.Publish(snap); err != nil {
			c.logger.Warn().Err(err).Msg("publish failed")
		}
	}

	c.logger.Debug().
		Str("state", snap.GridTieState).
		Str("ccu_state", snap.CcuStateName).
		Str("command", snap.Command).
		Float64("dc_link_voltage", snap.DcLinkVoltage).
		Msg("cycle complete")

	return readErr
}

// readDevice connects if needed and reads the status blocks, reconnecting
// and retrying once when the CCU block is unreadable. A partial status is
// returned together with its error.
func (c *Controller) readDevice() (*gridcon.Status, error) {
	for _, conn := range c.cfg.Peripherals {
		if !conn.IsConnected() {
			if err := conn.Connect(); err != nil {
				c.logger.Warn().Err(err).Msg("peripheral connection failed")
			}
		}
	}

	if !c.cfg.Device.IsConnected() {
		if err := c.cfg.Device.Connect(); err != nil {
			return nil, fmt.Errorf("error connecting to PCS: %w", err)
		}
	}

	status, err := c.cfg.Pcs.ReadStatus()
	if status != nil {
		return status, err
	}
	c.logger.Warn().Err(err).Msg("error reading PCS, reconnecting")

	if reconnErr := c.cfg.Device.Reconnect(); reconnErr != nil {
		return nil, fmt.Errorf("failed to reconnect: %w", reconnErr)
	}
	status, err = c.cfg.Pcs.ReadStatus()
	if err != nil {
		err = fmt.Errorf("error reading PCS after reconnect: %w", err)
	}
	return status, err
}

func (c *Controller) readBatteries(snap *Snapshot) {
	var views []weighting.StringView
	for i, rack := range c.cfg.Racks {
		if rack == nil {
			continue
		}
		data, err := rack.ReadAllData()
		if err != nil {
			c.logger.Warn().Err(err).Str("rack", rack.Name()).Msg("battery read failed")
			continue
		}
		snap.Batteries = append(snap.Batteries, data)
		snap.Strings[i] = data.View()
		views = append(views, snap.Strings[i])

		if data.Contactor == battery.ContactorCutOff && c.cfg.Machine.State() != statemachine.StateError {
			if err := rack.Start(); err != nil {
				c.logger.Warn().Err(err).Str("rack", rack.Name()).Msg("battery start failed")
			}
		}
	}
	snap.Totals = weighting.Aggregate(views).ApplyEfficiencyLoss(c.cfg.ChargeEfficiencyLoss, c.cfg.DischargeEfficiencyLoss)
}

func (c *Controller) readGrid(snap *Snapshot, in *statemachine.Inputs) {
	switch {
	case c.cfg.StaticGridMode != statemachine.GridModeUndefined:
		in.GridMode = c.cfg.StaticGridMode
	case c.cfg.Dio == nil:
		in.GridMode = statemachine.GridModeOnGrid
	}

	if c.cfg.Dio != nil {
		na1, na2, err := c.cfg.Dio.ReadNaProtection()
		if err != nil {
			c.logger.Warn().Err(err).Msg("NA protection read failed")
		} else {
			in.Na1, in.Na2 = na1, na2
		}
		if c.cfg.StaticGridMode == statemachine.GridModeUndefined {
			in.GridMode = statemachine.DeriveGridMode(in.Na1, in.Na2)
		}
	}

	if c.cfg.Meter != nil {
		reading, err := c.cfg.Meter.Read()
		if err != nil {
			c.logger.Debug().Err(err).Msg("grid meter read failed")
		} else {
			snap.Meter = reading
			in.MeterValid = true
			in.MeterFrequency = reading.Frequency
			in.MeterVoltage = reading.Voltage
		}
	}
}

// apply maps the machine outputs onto the PCS write blocks.
func (c *Controller) apply(out statemachine.Outputs, snap *Snapshot) {
	pcs := c.cfg.Pcs
	switch out.Command {
	case statemachine.CommandStart:
		pcs.ApplyStart()
	case statemachine.CommandRun:
		pcs.ApplyRun()
	case statemachine.CommandBlackstart:
		pcs.ApplyBlackstart()
	case statemachine.CommandAcknowledge:
		pcs.ApplyAcknowledge(out.ErrorCodeFeedback)
	case statemachine.CommandNone:
		if c.cfg.Machine.State() == statemachine.StateError {
			pcs.ApplyIdle()
		} else {
			pcs.ClearAcknowledge()
		}
	}

	if out.ApplyPower {
		snap.PowerApplied = c.applyPower(snap)
	}
}

// applyPower weights the strings for the requested power and writes the
// power factors. Nothing is changed when no string can take power.
func (c *Controller) applyPower(snap *Snapshot) bool {
	weights := weighting.Compute(snap.Strings, c.activeSetpoint)
	snap.Weights = weights
	if weights.Empty() {
		c.logger.Debug().Msg("no battery string ready, power not applied")
		return false
	}

	pcs := c.cfg.Pcs
	pcs.SetStringWeights(weights.A, weights.B, weights.C, weights.ControlMode)
	if err := pcs.SetPower(c.activeSetpoint, c.reactiveSetpoint); err != nil {
		c.logger.Error().Err(err).Msg("failed to set power")
		return false
	}
	return true
}

func (c *Controller) fillState(snap *Snapshot, in statemachine.Inputs, out statemachine.Outputs) {
	m := c.cfg.Machine
	h := m.ErrorHandler()

	snap.State = m.State()
	snap.GridTieState = snap.State.String()
	snap.OnGrid = m.OnGridState()
	snap.OnGridState = snap.OnGrid.String()
	snap.ErrorHandling = h.State()
	snap.ErrorState = snap.ErrorHandling.String()
	snap.GridMode = in.GridMode.String()
	snap.Na1, snap.Na2 = in.Na1, in.Na2
	snap.Command = out.Command.String()
	snap.Unrecoverable = out.Unrecoverable
	snap.AckAttempts = h.AckAttempts()
	snap.ResetAttempts = h.ResetAttempts()
	snap.HardResetCoil = out.HardResetContactor
	snap.CcuState = in.CcuState
	snap.CcuStateName = in.CcuState.String()
	snap.DcLinkVoltage = in.DcLinkVoltage
	snap.MaxApparent = c.cfg.Pcs.MaxApparentPower()
	snap.ActivePower = c.activeSetpoint
	snap.ReactivePower = c.reactiveSetpoint

	for _, code := range h.ActiveErrors() {
		e := ActiveError{Code: errcatalog.Entry{Code: code}.Hex()}
		if entry, err := c.cfg.Catalog.Lookup(code); err == nil {
			e.Text = entry.Text
			e.HardReset = entry.HardReset
		}
		snap.ActiveErrors = append(snap.ActiveErrors, e)
	}
}

func countJoined(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

// Stop closes every connection.
func (c *Controller) Stop() {
	c.cfg.Device.Close()
	for _, conn := range c.cfg.Peripherals {
		conn.Close()
	}
}
