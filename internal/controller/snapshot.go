package controller

import (
	"time"

	"gridcon-pcs/internal/battery"
	"gridcon-pcs/internal/gridcon"
	"gridcon-pcs/internal/meter"
	"gridcon-pcs/internal/statemachine"
	"gridcon-pcs/internal/weighting"
)

// ActiveError is a device error the error handler is working on.
type ActiveError struct {
	Code      string `json:"code"`
	Text      string `json:"text,omitempty"`
	HardReset bool   `json:"hard_reset"`
}

// Snapshot is the state published after every cycle. A stored snapshot is
// never modified.
type Snapshot struct {
	Timestamp           time.Time `json:"timestamp"`
	CycleOK             bool      `json:"cycle_ok"`
	ConsecutiveFailures int       `json:"consecutive_failures"`

	State         statemachine.GridTieState `json:"-"`
	OnGrid        statemachine.OnGridState  `json:"-"`
	ErrorHandling statemachine.ErrorState   `json:"-"`
	GridTieState  string                    `json:"grid_tie_state"`
	OnGridState   string                    `json:"on_grid_state"`
	ErrorState    string                    `json:"error_state"`
	GridMode      string                    `json:"grid_mode"`
	Na1           bool                      `json:"na1"`
	Na2           bool                      `json:"na2"`
	Command       string                    `json:"command"`
	Unrecoverable bool                      `json:"unrecoverable"`
	AckAttempts   int                       `json:"ack_attempts"`
	ResetAttempts int                       `json:"hard_reset_attempts"`
	HardResetCoil bool                      `json:"hard_reset_contactor"`
	ActiveErrors  []ActiveError             `json:"active_errors"`
	CcuState      gridcon.CcuState          `json:"-"`
	CcuStateName  string                    `json:"ccu_state"`
	DcLinkVoltage float64                   `json:"dc_link_voltage_v"`
	Device        *gridcon.Status           `json:"device,omitempty"`
	Batteries     []*battery.RackData       `json:"batteries"`
	Strings       [3]weighting.StringView   `json:"strings"`
	Weights       weighting.Weights         `json:"weights"`
	Totals        weighting.Totals          `json:"totals"`
	Meter         *meter.Reading            `json:"meter,omitempty"`
	MaxApparent   float64                   `json:"max_apparent_power_va"`
	ActivePower   float64                   `json:"active_power_setpoint_w"`
	ReactivePower float64                   `json:"reactive_power_setpoint_var"`
	PowerApplied  bool                      `json:"power_applied"`
	WriteFailures int                       `json:"write_failures"`
}
