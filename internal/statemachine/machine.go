// Package statemachine decides each cycle which operating mode the Gridcon
// unit is commanded into and hands faults to the error handler.
package statemachine

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gridcon-pcs/internal/gridcon"
)

type Machine struct {
	cfg    Config
	clock  Clock
	logger zerolog.Logger

	state        GridTieState
	onGrid       OnGridState
	offGridAt    time.Time
	runSince     time.Time
	lastCcuState gridcon.CcuState
	errors       *ErrorHandler
}

func New(cfg Config, catalog Catalog, clock Clock) *Machine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Machine{
		cfg:    cfg,
		clock:  clock,
		logger: log.With().Str("component", "statemachine").Logger(),
		errors: NewErrorHandler(cfg, catalog),
	}
}

func (m *Machine) State() GridTieState         { return m.state }
func (m *Machine) OnGridState() OnGridState    { return m.onGrid }
func (m *Machine) ErrorHandler() *ErrorHandler { return m.errors }

// Reset returns the machine to Undefined and clears the unrecoverable flag.
func (m *Machine) Reset() {
	m.logger.Info().Str("from", m.state.String()).Msg("state machine reset")
	m.state = StateUndefined
	m.onGrid = OnGridUndefined
	m.offGridAt = time.Time{}
	m.runSince = time.Time{}
	m.lastCcuState = gridcon.CcuStateUndefined
	m.errors.Reset()
}

func (m *Machine) transition(to GridTieState, reason string) {
	if m.state == to {
		return
	}
	m.logger.Info().Str("from", m.state.String()).Str("to", to.String()).Str("reason", reason).Msg("grid tie state changed")
	m.state = to
	if to == StateOnGrid {
		m.onGrid = OnGridUndefined
	}
}

// Step evaluates one cycle.
func (m *Machine) Step(in Inputs) Outputs {
	now := m.clock.Now()
	if in.StatusMissing {
		return m.stepWithoutStatus(in, now)
	}

	if in.CcuState == gridcon.CcuStateRun {
		if m.runSince.IsZero() {
			m.runSince = now
		}
	} else {
		m.runSince = time.Time{}
	}
	runningStable := !m.runSince.IsZero() && now.Sub(m.runSince) > m.cfg.RunGracePeriod
	if runningStable {
		m.errors.ResetCounters()
	}

	errorEdge := in.CcuState == gridcon.CcuStateError && m.lastCcuState != gridcon.CcuStateError
	m.lastCcuState = in.CcuState

	if m.state != StateError {
		reason := ""
		switch {
		case errorEdge:
			reason = "ccu error"
		case runningStable && !in.DcLinkVoltageMissing && math.Abs(in.DcLinkVoltage-m.cfg.DcLinkVoltageSetpoint) > m.cfg.DcLinkVoltageTolerance:
			reason = "dc link voltage out of tolerance"
		case in.CommunicationFailed:
			reason = "communication failure"
		}
		if reason != "" {
			m.enterError(now, reason)
		}
	}

	var out Outputs
	switch m.state {
	case StateUndefined:
		m.undefined(in)
	case StateGoingOnGrid:
		m.transition(StateOnGrid, "synchronized")
	case StateOnGrid:
		out = m.onGridStep(in, now)
	case StateGoingOffGrid:
		if !now.Before(m.offGridAt) {
			m.transition(StateOffGrid, "wait elapsed")
		}
	case StateOffGrid:
		out = m.offGridStep(in)
	case StateError:
		out = m.errorStep(now, in.ErrorCode)
	}

	out.Unrecoverable = m.errors.Unrecoverable()
	return out
}

// stepWithoutStatus runs a cycle without a CCU reading. Only the
// communication failure check and an ongoing error handling pass make
// progress; every other state is held until the next good read.
func (m *Machine) stepWithoutStatus(in Inputs, now time.Time) Outputs {
	if m.state != StateError && in.CommunicationFailed {
		m.enterError(now, "communication failure")
	}

	var out Outputs
	if m.state == StateError {
		out = m.errorStep(now, 0)
	}
	out.Unrecoverable = m.errors.Unrecoverable()
	return out
}

func (m *Machine) errorStep(now time.Time, rawErrorCode uint32) Outputs {
	res := m.errors.Step(now, rawErrorCode)
	if res.Done {
		m.transition(StateUndefined, "error handling finished")
	}
	return Outputs{
		Command:            res.Command,
		ErrorCodeFeedback:  res.ErrorCodeFeedback,
		HardResetContactor: res.HardResetContactor,
	}
}

func (m *Machine) enterError(now time.Time, reason string) {
	m.transition(StateError, reason)
	m.errors.Begin(now)
}

func (m *Machine) undefined(in Inputs) {
	switch {
	case in.CcuState == gridcon.CcuStateError:
		m.enterError(m.clock.Now(), "ccu error")
	case in.GridMode == GridModeOnGrid:
		m.transition(StateOnGrid, "grid present")
	case in.GridMode == GridModeOffGrid:
		m.transition(StateOffGrid, "grid absent")
	}
}

func (m *Machine) onGridStep(in Inputs, now time.Time) Outputs {
	if in.GridMode == GridModeOffGrid {
		m.offGridAt = now.Add(m.cfg.GoingOffGridWait)
		m.transition(StateGoingOffGrid, "grid lost")
		return Outputs{}
	}

	var out Outputs
	prev := m.onGrid
	switch m.onGrid {
	case OnGridUndefined:
		switch in.CcuState {
		case gridcon.CcuStateRun:
			m.onGrid = OnGridRun
		case gridcon.CcuStateIdle, gridcon.CcuStateReady, gridcon.CcuStatePause, gridcon.CcuStatePrecharge:
			m.onGrid = OnGridIdle
		}
	case OnGridIdle:
		if in.CcuState == gridcon.CcuStateRun {
			m.onGrid = OnGridRun
		} else if in.AnyStringReady {
			out.Command = CommandStart
		}
	case OnGridRun:
		switch in.CcuState {
		case gridcon.CcuStateRun:
			out.Command = CommandRun
			out.ApplyPower = true
		case gridcon.CcuStateIdle:
			m.onGrid = OnGridIdle
		default:
			m.onGrid = OnGridUndefined
		}
	}
	if prev != m.onGrid {
		m.logger.Info().Str("from", prev.String()).Str("to", m.onGrid.String()).Msg("on grid state changed")
	}
	return out
}

func (m *Machine) offGridStep(in Inputs) Outputs {
	switch {
	case in.Na1 && in.Na2:
		m.transition(StateOnGrid, "both NA protection inputs closed")
		return Outputs{}
	case in.Na1:
		m.transition(StateGoingOnGrid, "NA protection 1 closed")
		return Outputs{}
	}

	if !in.MeterValid {
		return Outputs{}
	}
	if in.MeterFrequency < m.cfg.MinFrequency || in.MeterFrequency > m.cfg.MaxFrequency ||
		in.MeterVoltage < m.cfg.MinVoltage || in.MeterVoltage > m.cfg.MaxVoltage {
		m.logger.Debug().
			Int64("frequency", in.MeterFrequency).
			Int64("voltage", in.MeterVoltage).
			Msg("no grid at meter, blackstart")
		return Outputs{Command: CommandBlackstart}
	}
	return Outputs{}
}
