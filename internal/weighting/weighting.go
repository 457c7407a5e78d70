// Package weighting splits the DC/DC current between battery strings A, B and C.
package weighting

import "math"

// Control mode bits of the DC/DC string control mode register.
const (
	ModeStringA = 1
	ModeStringB = 8
	ModeStringC = 64
)

// IdleBalanceFactor scales the voltage difference used while no power is requested.
const IdleBalanceFactor = 100

var modeBits = [3]int{ModeStringA, ModeStringB, ModeStringC}

// StringView is the state of one battery string for a single cycle.
type StringView struct {
	Present               bool    `json:"present"`
	Ready                 bool    `json:"ready"`
	Voltage               float64 `json:"voltage_v"`
	ChargeCurrentLimit    float64 `json:"charge_current_limit_a"`
	DischargeCurrentLimit float64 `json:"discharge_current_limit_a"`
	Soc                   float64 `json:"soc"`
	SocValid              bool    `json:"soc_valid"`
	Capacity              float64 `json:"capacity_wh"`
}

func (s StringView) usable() bool {
	return s.Present && s.Ready
}

type Weights struct {
	A           float64 `json:"a"`
	B           float64 `json:"b"`
	C           float64 `json:"c"`
	ControlMode int     `json:"control_mode"`
}

// Empty reports whether no string can take power.
func (w Weights) Empty() bool {
	return w.ControlMode == 0 || (w.A == 0 && w.B == 0 && w.C == 0)
}

// Compute derives the string weights for the requested active power.
// Positive power discharges, negative power charges. At zero power the
// highest voltage strings are weighted to bring the strings into balance.
func Compute(strings [3]StringView, activePower float64) Weights {
	var weights [3]float64
	mode := 0

	minV := math.Inf(1)
	for i, s := range strings {
		if !s.usable() {
			continue
		}
		mode |= modeBits[i]
		minV = math.Min(minV, s.Voltage)
	}

	for i, s := range strings {
		if !s.usable() {
			continue
		}
		switch {
		case activePower > 0:
			weights[i] = s.DischargeCurrentLimit * s.Voltage
		case activePower < 0:
			weights[i] = s.ChargeCurrentLimit * s.Voltage
		default:
			weights[i] = (s.Voltage - minV) * IdleBalanceFactor
		}
	}

	return Weights{A: weights[0], B: weights[1], C: weights[2], ControlMode: mode}
}

// Totals summarises all present strings.
type Totals struct {
	AllowedCharge    float64 `json:"allowed_charge_w"`
	AllowedDischarge float64 `json:"allowed_discharge_w"`
	Capacity         float64 `json:"capacity_wh"`
	Soc              float64 `json:"soc"`
	SocValid         bool    `json:"soc_valid"`
	AnyReady         bool    `json:"any_ready"`
}

// Aggregate sums the limits of all present strings. Allowed charge is
// reported negative. The state of charge is weighted by capacity and is
// invalid when any present string lacks SoC or capacity.
func Aggregate(strings []StringView) Totals {
	var t Totals
	socValid := true
	var stored float64
	present := 0

	for _, s := range strings {
		if !s.Present {
			continue
		}
		present++
		t.AllowedCharge -= s.Voltage * s.ChargeCurrentLimit
		t.AllowedDischarge += s.Voltage * s.DischargeCurrentLimit
		t.Capacity += s.Capacity
		if s.Ready {
			t.AnyReady = true
		}
		if !s.SocValid || s.Capacity <= 0 {
			socValid = false
			continue
		}
		stored += s.Capacity * s.Soc / 100
	}

	if present > 0 && socValid && t.Capacity > 0 {
		t.Soc = math.Round(stored * 100 / t.Capacity)
		t.SocValid = true
	}
	return t
}

// ApplyEfficiencyLoss reduces the allowed powers by the conversion losses.
func (t Totals) ApplyEfficiencyLoss(chargeLoss, dischargeLoss float64) Totals {
	t.AllowedCharge *= 1 - chargeLoss
	t.AllowedDischarge *= 1 - dischargeLoss
	return t
}
