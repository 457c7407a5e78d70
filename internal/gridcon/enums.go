package gridcon

import (
	"fmt"
	"strings"
)

// Mode is the CCU control mode selected by command word bit 7.
type Mode bool

const (
	CurrentControl Mode = false
	VoltageControl Mode = true
)

func (m Mode) String() string {
	if m == VoltageControl {
		return "voltage_control"
	}
	return "current_control"
}

// PControlMode selects how the CCU interprets the active power reference.
type PControlMode uint32

const (
	PControlDisabled           PControlMode = 1
	PControlActivePowerControl PControlMode = 2
	PControlPowerLimiter       PControlMode = 3
)

func (m PControlMode) String() string {
	switch m {
	case PControlDisabled:
		return "disabled"
	case PControlActivePowerControl:
		return "active_power_control"
	case PControlPowerLimiter:
		return "power_limiter"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(m))
	}
}

// BalancingMode is a two bit field in command word 0.
type BalancingMode uint16

const (
	BalancingDisabled BalancingMode = iota
	BalancingNegativeSequenceCompensation
	BalancingZeroSequenceCompensation
	BalancingNegativeAndZeroSequenceCompensation
)

// FundamentalFrequencyMode is a two bit field in command word 0.
type FundamentalFrequencyMode uint16

const (
	FundamentalFrequencyPureGridFormer FundamentalFrequencyMode = iota
	FundamentalFrequencyOptimizedGridFormer
	FundamentalFrequencyGridFollower
	FundamentalFrequencyReserved
)

// HarmonicCompensationMode is a two bit field in command word 0.
type HarmonicCompensationMode uint16

const (
	HarmonicCompensationDisabled HarmonicCompensationMode = iota
	HarmonicCompensationActive
	HarmonicCompensationAdaptive
	HarmonicCompensationReserved
)

// ParameterSet selects one of the four parameter sets stored on the CCU SD card.
type ParameterSet uint8

const (
	ParameterSet1 ParameterSet = 1
	ParameterSet2 ParameterSet = 2
	ParameterSet3 ParameterSet = 3
	ParameterSet4 ParameterSet = 4
)

// InverterCount is the number of IPUs installed in the cabinet.
type InverterCount int

const (
	InverterCountOne   InverterCount = 1
	InverterCountTwo   InverterCount = 2
	InverterCountThree InverterCount = 3
)

// MaxApparentPower returns the rated apparent power of all installed inverters in VA.
func (c InverterCount) MaxApparentPower() float64 {
	return float64(c) * MaxPowerPerInverter
}

// DcDcControlAddress returns the DC/DC control block base for this installation.
func (c InverterCount) DcDcControlAddress() uint16 {
	switch c {
	case InverterCountOne:
		return RegDcDcControlOneIpu
	case InverterCountTwo:
		return RegDcDcControlTwoIpus
	default:
		return RegDcDcControlThreeIpus
	}
}

// DcDcStatusAddress returns the DC/DC status block base for this installation.
func (c InverterCount) DcDcStatusAddress() uint16 {
	switch c {
	case InverterCountOne:
		return RegDcDcStatusOneIpu
	case InverterCountTwo:
		return RegDcDcStatusTwoIpus
	default:
		return RegDcDcStatusThreeIpus
	}
}

// ParseBalancingMode converts a config value into a BalancingMode.
func ParseBalancingMode(s string) (BalancingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled":
		return BalancingDisabled, nil
	case "negative_sequence_compensation":
		return BalancingNegativeSequenceCompensation, nil
	case "zero_sequence_compensation":
		return BalancingZeroSequenceCompensation, nil
	case "negative_and_zero_sequence_compensation":
		return BalancingNegativeAndZeroSequenceCompensation, nil
	}
	return 0, fmt.Errorf("unknown balancing mode %q", s)
}

// ParseFundamentalFrequencyMode converts a config value into a FundamentalFrequencyMode.
func ParseFundamentalFrequencyMode(s string) (FundamentalFrequencyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pure_grid_former":
		return FundamentalFrequencyPureGridFormer, nil
	case "optimized_grid_former":
		return FundamentalFrequencyOptimizedGridFormer, nil
	case "grid_follower":
		return FundamentalFrequencyGridFollower, nil
	}
	return 0, fmt.Errorf("unknown fundamental frequency mode %q", s)
}

// ParseHarmonicCompensationMode converts a config value into a HarmonicCompensationMode.
func ParseHarmonicCompensationMode(s string) (HarmonicCompensationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled":
		return HarmonicCompensationDisabled, nil
	case "active":
		return HarmonicCompensationActive, nil
	case "adaptive":
		return HarmonicCompensationAdaptive, nil
	}
	return 0, fmt.Errorf("unknown harmonic compensation mode %q", s)
}
