package weighting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ready(voltage, limit float64) StringView {
	return StringView{
		Present:               true,
		Ready:                 true,
		Voltage:               voltage,
		ChargeCurrentLimit:    limit,
		DischargeCurrentLimit: limit,
	}
}

func TestComputeSymmetricStrings(t *testing.T) {
	strings := [3]StringView{ready(800, 50), ready(800, 50), ready(800, 50)}

	discharge := Compute(strings, 10000)
	assert.Equal(t, Weights{A: 40000, B: 40000, C: 40000, ControlMode: 73}, discharge)

	charge := Compute(strings, -10000)
	assert.Equal(t, Weights{A: 40000, B: 40000, C: 40000, ControlMode: 73}, charge)
}

func TestComputeIdleBalance(t *testing.T) {
	strings := [3]StringView{ready(800, 50), ready(805, 50), ready(802, 50)}

	w := Compute(strings, 0)
	assert.InDelta(t, 0, w.A, 1e-9)
	assert.InDelta(t, 500, w.B, 1e-9)
	assert.InDelta(t, 200, w.C, 1e-9)
	assert.Equal(t, 73, w.ControlMode)
}

func TestComputeUsesChargeOrDischargeLimit(t *testing.T) {
	a := ready(800, 0)
	a.ChargeCurrentLimit = 20
	a.DischargeCurrentLimit = 60
	strings := [3]StringView{a, {}, {}}

	assert.Equal(t, 48000.0, Compute(strings, 1).A)
	assert.Equal(t, 16000.0, Compute(strings, -1).A)
}

func TestComputeSkipsStringsNotReady(t *testing.T) {
	notReady := ready(820, 50)
	notReady.Ready = false
	absent := ready(790, 50)
	absent.Present = false

	strings := [3]StringView{ready(800, 50), notReady, absent}

	w := Compute(strings, 5000)
	assert.Equal(t, ModeStringA, w.ControlMode)
	assert.Equal(t, 40000.0, w.A)
	assert.Zero(t, w.B)
	assert.Zero(t, w.C)

	// the idle minimum only considers ready strings
	w = Compute(strings, 0)
	assert.Zero(t, w.A)
	assert.Zero(t, w.B)
	assert.Zero(t, w.C)
}

func TestComputeNoReadyString(t *testing.T) {
	w := Compute([3]StringView{}, 1000)
	assert.Equal(t, Weights{}, w)
	assert.True(t, w.Empty())
}

func TestComputeSingleString(t *testing.T) {
	w := Compute([3]StringView{{}, {}, ready(700, 10)}, -1)
	assert.Equal(t, ModeStringC, w.ControlMode)
	assert.Equal(t, 7000.0, w.C)
	assert.False(t, w.Empty())
}

func TestAggregate(t *testing.T) {
	a := ready(800, 50)
	a.Soc, a.SocValid, a.Capacity = 50, true, 40000
	b := ready(700, 40)
	b.Soc, b.SocValid, b.Capacity = 100, true, 80000
	b.Ready = false

	totals := Aggregate([]StringView{a, b, {}})
	assert.Equal(t, -68000.0, totals.AllowedCharge)
	assert.Equal(t, 68000.0, totals.AllowedDischarge)
	assert.Equal(t, 120000.0, totals.Capacity)
	assert.True(t, totals.SocValid)
	assert.Equal(t, 83.0, totals.Soc)
	assert.True(t, totals.AnyReady)
}

func TestAggregateSocInvalidWhenValueMissing(t *testing.T) {
	a := ready(800, 50)
	a.Soc, a.SocValid, a.Capacity = 50, true, 40000
	b := ready(800, 50)
	b.Capacity = 40000

	totals := Aggregate([]StringView{a, b})
	assert.False(t, totals.SocValid)

	totals = Aggregate(nil)
	assert.False(t, totals.SocValid)
	assert.False(t, totals.AnyReady)
}

func TestApplyEfficiencyLoss(t *testing.T) {
	totals := Totals{AllowedCharge: -10000, AllowedDischarge: 10000}
	derated := totals.ApplyEfficiencyLoss(0.07, 0.07)
	assert.InDelta(t, -9300, derated.AllowedCharge, 1e-9)
	assert.InDelta(t, 9300, derated.AllowedDischarge, 1e-9)
}
