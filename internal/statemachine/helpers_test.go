package statemachine

import (
	"time"

	"gridcon-pcs/internal/gridcon"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeCatalog treats every code in hardReset as needing a hard reset.
type fakeCatalog struct {
	hardReset map[uint32]bool
}

func (c fakeCatalog) Acknowledgeable(code uint32) bool {
	return !c.hardReset[code]
}

func onGridInputs(state gridcon.CcuState) Inputs {
	return Inputs{
		CcuState:       state,
		GridMode:       GridModeOnGrid,
		Na1:            true,
		Na2:            true,
		DcLinkVoltage:  800,
		AnyStringReady: true,
	}
}
