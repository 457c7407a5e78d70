package statemachine

import (
	"time"

	"gridcon-pcs/internal/gridcon"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Catalog tells whether a device error can be cleared by acknowledging it.
type Catalog interface {
	Acknowledgeable(code uint32) bool
}

// Inputs are the values captured at the read point of one cycle.
type Inputs struct {
	// StatusMissing is set when the CCU status block could not be read;
	// CcuState and ErrorCode are then meaningless.
	StatusMissing        bool
	CcuState             gridcon.CcuState
	GridMode             GridMode
	Na1                  bool
	Na2                  bool
	DcLinkVoltage        float64
	DcLinkVoltageMissing bool
	CommunicationFailed  bool
	ErrorCode            uint32 // raw error code register
	AnyStringReady       bool
	MeterValid           bool
	MeterFrequency       int64 // mHz
	MeterVoltage         int64 // mV
}

// Outputs tell the controller what to write at the end of the cycle.
type Outputs struct {
	Command            Command
	ErrorCodeFeedback  uint32
	HardResetContactor bool // true closes the contactor
	Unrecoverable      bool
	ApplyPower         bool
}

type Config struct {
	DcLinkVoltageSetpoint  float64
	DcLinkVoltageTolerance float64
	RunGracePeriod         time.Duration
	GoingOffGridWait       time.Duration

	SettlingWindow         time.Duration
	MaxAcknowledgeAttempts int
	MaxHardResetAttempts   int
	HardResetSwitchOff     time.Duration
	HardResetDuration      time.Duration

	// Grid meter limits for blackstart, scaled by 1000.
	MinFrequency int64
	MaxFrequency int64
	MinVoltage   int64
	MaxVoltage   int64
}

func DefaultConfig() Config {
	return Config{
		DcLinkVoltageSetpoint:  gridcon.DcLinkVoltageSetpoint,
		DcLinkVoltageTolerance: gridcon.DcLinkVoltageToleranceV,
		RunGracePeriod:         15 * time.Second,
		GoingOffGridWait:       5 * time.Second,
		SettlingWindow:         30 * time.Second,
		MaxAcknowledgeAttempts: 5,
		MaxHardResetAttempts:   5,
		HardResetSwitchOff:     10 * time.Second,
		HardResetDuration:      55 * time.Second,
		MinFrequency:           49700,
		MaxFrequency:           50300,
		MinVoltage:             215000,
		MaxVoltage:             245000,
	}
}
