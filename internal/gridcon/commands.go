package gridcon

import "time"

// Block is a pending register image that is written to the device as one unit.
type Block interface {
	Name() string
	Address() uint16
	Encode() []uint16
}

// Commands is the command control block at RegCommands.
//
// Play, stop and acknowledge are mutually exclusive: raising one clears the
// others. Stop is signalled on two bits (stop and ready).
type Commands struct {
	play        bool
	stop        bool
	ready       bool
	acknowledge bool

	BlackstartApproval       bool
	SyncApproval             bool
	ShortCircuitHandling     bool
	Mode                     Mode
	TriggerSia               bool
	FundamentalFrequencyMode FundamentalFrequencyMode
	BalancingMode            BalancingMode
	HarmonicCompensationMode HarmonicCompensationMode
	ParameterSet             ParameterSet

	EnableIpu1 bool
	EnableIpu2 bool
	EnableIpu3 bool
	EnableIpu4 bool

	ErrorCodeFeedback uint32
	U0                float32
	F0                float32
	Qref              float32
	Pref              float32
	SyncDate          uint32
	SyncTime          uint32
}

func NewCommands() *Commands {
	return &Commands{ParameterSet: ParameterSet1}
}

func (c *Commands) Name() string    { return "commands" }
func (c *Commands) Address() uint16 { return RegCommands }

func (c *Commands) Play() bool        { return c.play }
func (c *Commands) Stop() bool        { return c.stop }
func (c *Commands) Ready() bool       { return c.ready }
func (c *Commands) Acknowledge() bool { return c.acknowledge }

func (c *Commands) SetPlay(on bool) {
	c.play = on
	if on {
		c.stop = false
		c.ready = false
		c.acknowledge = false
	}
}

func (c *Commands) SetStop(on bool) {
	c.stop = on
	c.ready = on
	if on {
		c.play = false
		c.acknowledge = false
	}
}

func (c *Commands) SetAcknowledge(on bool) {
	c.acknowledge = on
	if on {
		c.play = false
		c.stop = false
		c.ready = false
	}
}

// SetSyncClock fills the time synchronisation fields as YYYYMMDD and HHMMSS.
func (c *Commands) SetSyncClock(t time.Time) {
	c.SyncDate = uint32(t.Year()*10000 + int(t.Month())*100 + t.Day())
	c.SyncTime = uint32(t.Hour()*10000 + t.Minute()*100 + t.Second())
}

func (c *Commands) controlWord() uint16 {
	var w uint16
	w = setBit(w, cmdBitStop, c.stop)
	w = setBit(w, cmdBitPlay, c.play)
	w = setBit(w, cmdBitReady, c.ready)
	w = setBit(w, cmdBitAcknowledge, c.acknowledge)
	w = setBit(w, cmdBitBlackstartApproval, c.BlackstartApproval)
	w = setBit(w, cmdBitSyncApproval, c.SyncApproval)
	w = setBit(w, cmdBitShortCircuitHandling, c.ShortCircuitHandling)
	w = setBit(w, cmdBitModeSelection, bool(c.Mode))
	w = setBit(w, cmdBitTriggerSia, c.TriggerSia)
	w = putBits(w, cmdBitFundamentalFrequencyMode, 2, uint16(c.FundamentalFrequencyMode))
	w = putBits(w, cmdBitBalancingMode, 2, uint16(c.BalancingMode))
	w = putBits(w, cmdBitHarmonicCompensationMode, 2, uint16(c.HarmonicCompensationMode))
	return w
}

func (c *Commands) ipuWord() uint16 {
	var w uint16
	if c.ParameterSet >= ParameterSet1 && c.ParameterSet <= ParameterSet4 {
		w = setBit(w, cmdBitParameterSet+uint(c.ParameterSet-1), true)
	}
	w = setBit(w, cmdBitEnableIpu4, c.EnableIpu4)
	w = setBit(w, cmdBitEnableIpu3, c.EnableIpu3)
	w = setBit(w, cmdBitEnableIpu2, c.EnableIpu2)
	w = setBit(w, cmdBitEnableIpu1, c.EnableIpu1)
	return w
}

func (c *Commands) Encode() []uint16 {
	regs := make([]uint16, commandsLength)
	regs[0] = c.controlWord()
	regs[1] = c.ipuWord()
	PutUint32(regs, 2, c.ErrorCodeFeedback)
	PutFloat32(regs, 4, c.U0)
	PutFloat32(regs, 6, c.F0)
	PutFloat32(regs, 8, c.Qref)
	PutFloat32(regs, 10, c.Pref)
	PutUint32(regs, 12, c.SyncDate)
	PutUint32(regs, 14, c.SyncTime)
	return regs
}

// DecodeCommands parses a command block image. The mirror block carries the
// two bit words in swapped order.
func DecodeCommands(regs []uint16, mirror bool) (*Commands, error) {
	if len(regs) < commandsLength {
		return nil, shortBlockError("commands", commandsLength, len(regs))
	}
	control, ipu := regs[0], regs[1]
	if mirror {
		control, ipu = ipu, control
	}

	c := &Commands{
		stop:                     testBit(control, cmdBitStop),
		play:                     testBit(control, cmdBitPlay),
		ready:                    testBit(control, cmdBitReady),
		acknowledge:              testBit(control, cmdBitAcknowledge),
		BlackstartApproval:       testBit(control, cmdBitBlackstartApproval),
		SyncApproval:             testBit(control, cmdBitSyncApproval),
		ShortCircuitHandling:     testBit(control, cmdBitShortCircuitHandling),
		Mode:                     Mode(testBit(control, cmdBitModeSelection)),
		TriggerSia:               testBit(control, cmdBitTriggerSia),
		FundamentalFrequencyMode: FundamentalFrequencyMode(getBits(control, cmdBitFundamentalFrequencyMode, 2)),
		BalancingMode:            BalancingMode(getBits(control, cmdBitBalancingMode, 2)),
		HarmonicCompensationMode: HarmonicCompensationMode(getBits(control, cmdBitHarmonicCompensationMode, 2)),
		EnableIpu1:               testBit(ipu, cmdBitEnableIpu1),
		EnableIpu2:               testBit(ipu, cmdBitEnableIpu2),
		EnableIpu3:               testBit(ipu, cmdBitEnableIpu3),
		EnableIpu4:               testBit(ipu, cmdBitEnableIpu4),
		ErrorCodeFeedback:        Uint32(regs, 2),
		U0:                       Float32(regs, 4),
		F0:                       Float32(regs, 6),
		Qref:                     Float32(regs, 8),
		Pref:                     Float32(regs, 10),
		SyncDate:                 Uint32(regs, 12),
		SyncTime:                 Uint32(regs, 14),
	}
	for set := ParameterSet1; set <= ParameterSet4; set++ {
		if testBit(ipu, cmdBitParameterSet+uint(set-1)) {
			c.ParameterSet = set
			break
		}
	}
	return c, nil
}
