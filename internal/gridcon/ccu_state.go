package gridcon

// CcuState is the single operating state of the central control unit,
// resolved from the status flag word.
type CcuState int

const (
	CcuStateUndefined CcuState = iota
	CcuStateIdle
	CcuStatePrecharge
	CcuStateStopPrecharge
	CcuStateReady
	CcuStatePause
	CcuStateRun
	CcuStateError
	CcuStateVoltageRampingUp
	CcuStateOverload
	CcuStateShortCircuitDetected
	CcuStateDeratingPower
	CcuStateDeratingHarmonics
	CcuStateSiaActive
)

var ccuStateNames = map[CcuState]string{
	CcuStateUndefined:            "undefined",
	CcuStateIdle:                 "idle",
	CcuStatePrecharge:            "precharge",
	CcuStateStopPrecharge:        "stop_precharge",
	CcuStateReady:                "ready",
	CcuStatePause:                "pause",
	CcuStateRun:                  "run",
	CcuStateError:                "error",
	CcuStateVoltageRampingUp:     "voltage_ramping_up",
	CcuStateOverload:             "overload",
	CcuStateShortCircuitDetected: "short_circuit_detected",
	CcuStateDeratingPower:        "derating_power",
	CcuStateDeratingHarmonics:    "derating_harmonics",
	CcuStateSiaActive:            "sia_active",
}

func (s CcuState) String() string {
	if name, ok := ccuStateNames[s]; ok {
		return name
	}
	return "undefined"
}

// StatusFlags are the CCU status bits. The device sets at most one of them in
// normal operation.
type StatusFlags struct {
	Idle                 bool `json:"idle"`
	Precharge            bool `json:"precharge"`
	StopPrecharge        bool `json:"stop_precharge"`
	Ready                bool `json:"ready"`
	Pause                bool `json:"pause"`
	Run                  bool `json:"run"`
	Error                bool `json:"error"`
	VoltageRampingUp     bool `json:"voltage_ramping_up"`
	Overload             bool `json:"overload"`
	ShortCircuitDetected bool `json:"short_circuit_detected"`
	DeratingPower        bool `json:"derating_power"`
	DeratingHarmonics    bool `json:"derating_harmonics"`
	SiaActive            bool `json:"sia_active"`
}

func DecodeStatusFlags(word uint16) StatusFlags {
	return StatusFlags{
		Idle:                 testBit(word, flagIdle),
		Precharge:            testBit(word, flagPrecharge),
		StopPrecharge:        testBit(word, flagStopPrecharge),
		Ready:                testBit(word, flagReady),
		Pause:                testBit(word, flagPause),
		Run:                  testBit(word, flagRun),
		Error:                testBit(word, flagError),
		VoltageRampingUp:     testBit(word, flagVoltageRampingUp),
		Overload:             testBit(word, flagOverload),
		ShortCircuitDetected: testBit(word, flagShortCircuitDetected),
		DeratingPower:        testBit(word, flagDeratingPower),
		DeratingHarmonics:    testBit(word, flagDeratingHarmonics),
		SiaActive:            testBit(word, flagSiaActive),
	}
}

// Encode packs the flags back into a status word.
func (f StatusFlags) Encode() uint16 {
	var w uint16
	w = setBit(w, flagIdle, f.Idle)
	w = setBit(w, flagPrecharge, f.Precharge)
	w = setBit(w, flagStopPrecharge, f.StopPrecharge)
	w = setBit(w, flagReady, f.Ready)
	w = setBit(w, flagPause, f.Pause)
	w = setBit(w, flagRun, f.Run)
	w = setBit(w, flagError, f.Error)
	w = setBit(w, flagVoltageRampingUp, f.VoltageRampingUp)
	w = setBit(w, flagOverload, f.Overload)
	w = setBit(w, flagShortCircuitDetected, f.ShortCircuitDetected)
	w = setBit(w, flagDeratingPower, f.DeratingPower)
	w = setBit(w, flagDeratingHarmonics, f.DeratingHarmonics)
	w = setBit(w, flagSiaActive, f.SiaActive)
	return w
}

// State resolves the flags by fixed priority, Error first.
func (f StatusFlags) State() CcuState {
	switch {
	case f.Error:
		return CcuStateError
	case f.Idle:
		return CcuStateIdle
	case f.Precharge:
		return CcuStatePrecharge
	case f.StopPrecharge:
		return CcuStateStopPrecharge
	case f.Ready:
		return CcuStateReady
	case f.Pause:
		return CcuStatePause
	case f.Run:
		return CcuStateRun
	case f.VoltageRampingUp:
		return CcuStateVoltageRampingUp
	case f.Overload:
		return CcuStateOverload
	case f.ShortCircuitDetected:
		return CcuStateShortCircuitDetected
	case f.DeratingPower:
		return CcuStateDeratingPower
	case f.DeratingHarmonics:
		return CcuStateDeratingHarmonics
	case f.SiaActive:
		return CcuStateSiaActive
	}
	return CcuStateUndefined
}

// StateWord returns the status word a CCU in state s reports.
func StateWord(s CcuState) uint16 {
	var f StatusFlags
	switch s {
	case CcuStateIdle:
		f.Idle = true
	case CcuStatePrecharge:
		f.Precharge = true
	case CcuStateStopPrecharge:
		f.StopPrecharge = true
	case CcuStateReady:
		f.Ready = true
	case CcuStatePause:
		f.Pause = true
	case CcuStateRun:
		f.Run = true
	case CcuStateError:
		f.Error = true
	case CcuStateVoltageRampingUp:
		f.VoltageRampingUp = true
	case CcuStateOverload:
		f.Overload = true
	case CcuStateShortCircuitDetected:
		f.ShortCircuitDetected = true
	case CcuStateDeratingPower:
		f.DeratingPower = true
	case CcuStateDeratingHarmonics:
		f.DeratingHarmonics = true
	case CcuStateSiaActive:
		f.SiaActive = true
	}
	return f.Encode()
}
