package gridcon

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport is the register access the PCS needs. *modbus.Client satisfies it.
type Transport interface {
	ReadHoldingRegisters(address uint16, quantity uint16) ([]uint16, error)
	WriteRegisters(address uint16, values []uint16) error
}

// Settings are the static installation parameters of a Gridcon cabinet.
type Settings struct {
	InverterCount            InverterCount
	EnableIpu1               bool
	EnableIpu2               bool
	EnableIpu3               bool
	ParameterSet             ParameterSet
	BalancingMode            BalancingMode
	FundamentalFrequencyMode FundamentalFrequencyMode
	HarmonicCompensationMode HarmonicCompensationMode
	CosPhiSetpoint1          float32
	CosPhiSetpoint2          float32
	DcLinkVoltageSetpoint    float32
}

// Status is everything read from the device in one cycle.
type Status struct {
	Timestamp    time.Time         `json:"timestamp"`
	Ccu          *CcuStatus        `json:"ccu"`
	Ipus         []*UnitStatus     `json:"ipus"`
	DcDc         *UnitStatus       `json:"dcdc"`
	Measurements *DcDcMeasurements `json:"dcdc_measurements"`
}

// ErrorIdentifier returns the active error identifier, 0 if none.
func (s *Status) ErrorIdentifier() uint32 {
	if s == nil || s.Ccu == nil {
		return 0
	}
	return s.Ccu.ErrorCode >> 8
}

// Pcs owns the pending register images of one Gridcon unit. All setters
// change only the images; Flush writes every block.
type Pcs struct {
	transport Transport
	settings  Settings
	logger    zerolog.Logger

	commands *Commands
	ccu1     *CcuParameters1
	ccu2     *CcuParameters2
	cosPhi   *CosPhiParameters
	ipus     []*IpuParameter
	dcdc     *DcDcParameter

	activePowerPreset float64
}

func NewPcs(transport Transport, settings Settings) *Pcs {
	if settings.InverterCount < InverterCountOne || settings.InverterCount > InverterCountThree {
		settings.InverterCount = InverterCountOne
	}
	if settings.ParameterSet == 0 {
		settings.ParameterSet = ParameterSet1
	}
	if settings.DcLinkVoltageSetpoint == 0 {
		settings.DcLinkVoltageSetpoint = DcLinkVoltageSetpoint
	}

	p := &Pcs{
		transport: transport,
		settings:  settings,
		logger:    log.With().Str("component", "pcs").Logger(),
		commands:  NewCommands(),
		ccu1:      NewCcuParameters1(),
		ccu2:      NewCcuParameters2(),
		cosPhi:    &CosPhiParameters{Setpoint1: settings.CosPhiSetpoint1, Setpoint2: settings.CosPhiSetpoint2},
		dcdc:      NewDcDcParameter(settings.InverterCount),
	}
	for i := 1; i <= int(settings.InverterCount); i++ {
		p.ipus = append(p.ipus, NewIpuParameter(i))
	}

	p.commands.ParameterSet = settings.ParameterSet
	p.commands.BalancingMode = settings.BalancingMode
	p.commands.FundamentalFrequencyMode = settings.FundamentalFrequencyMode
	p.commands.HarmonicCompensationMode = settings.HarmonicCompensationMode
	return p
}

func (p *Pcs) Settings() Settings                 { return p.settings }
func (p *Pcs) Commands() *Commands                { return p.commands }
func (p *Pcs) CcuParameters1() *CcuParameters1    { return p.ccu1 }
func (p *Pcs) CcuParameters2() *CcuParameters2    { return p.ccu2 }
func (p *Pcs) CosPhiParameters() *CosPhiParameters { return p.cosPhi }
func (p *Pcs) DcDcParameter() *DcDcParameter      { return p.dcdc }
func (p *Pcs) ActivePowerPreset() float64         { return p.activePowerPreset }

// IpuParameter returns the control block of IPU index (1..3), nil when the
// cabinet has fewer inverters.
func (p *Pcs) IpuParameter(index int) *IpuParameter {
	if index < 1 || index > len(p.ipus) {
		return nil
	}
	return p.ipus[index-1]
}

func (p *Pcs) ipuEnabled(index int) bool {
	if index > int(p.settings.InverterCount) {
		return false
	}
	switch index {
	case 1:
		return p.settings.EnableIpu1
	case 2:
		return p.settings.EnableIpu2
	case 3:
		return p.settings.EnableIpu3
	}
	return false
}

// EnabledIpus counts the configured IPUs the cabinet actually has.
func (p *Pcs) EnabledIpus() int {
	n := 0
	for i := 1; i <= 3; i++ {
		if p.ipuEnabled(i) {
			n++
		}
	}
	return n
}

// MaxApparentPower is the rated apparent power of all enabled IPUs in VA.
func (p *Pcs) MaxApparentPower() float64 {
	return float64(p.EnabledIpus()) * MaxPowerPerInverter
}

// SetPower converts active and reactive power requests into the Pref and Qref
// fractions. Positive device values mean charge, so the caller's signs are
// inverted. Fractions are clamped to [-1, 1].
func (p *Pcs) SetPower(activePower, reactivePower float64) error {
	maxApparent := p.MaxApparentPower()
	if maxApparent <= 0 {
		return fmt.Errorf("no inverter enabled: %w", ErrValueOutOfRange)
	}
	if math.IsNaN(activePower) || math.IsNaN(reactivePower) ||
		math.IsInf(activePower, 0) || math.IsInf(reactivePower, 0) {
		return fmt.Errorf("power %v/%v: %w", activePower, reactivePower, ErrValueOutOfRange)
	}

	p.activePowerPreset = activePower
	pref := clampUnit(-activePower / maxApparent)
	qref := clampUnit(-reactivePower / maxApparent)
	if pref != -activePower/maxApparent || qref != -reactivePower/maxApparent {
		p.logger.Debug().
			Float64("active_power", activePower).
			Float64("reactive_power", reactivePower).
			Msg("power request clamped to rated apparent power")
	}
	p.commands.Pref = float32(pref)
	p.commands.Qref = float32(qref)
	return nil
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// SetStringWeights writes the weighting result into the DC/DC block.
func (p *Pcs) SetStringWeights(a, b, c float64, mode int) {
	p.dcdc.WeightStringA = float32(a)
	p.dcdc.WeightStringB = float32(b)
	p.dcdc.WeightStringC = float32(c)
	p.dcdc.StringControlMode = uint32(mode)
}

func (p *Pcs) SetStringCurrentReferences(a, b, c float64) {
	p.dcdc.IRefStringA = float32(a)
	p.dcdc.IRefStringB = float32(b)
	p.dcdc.IRefStringC = float32(c)
}

// EnableDcDc switches the IPU slot that hosts the DC/DC converter, which is
// the one after the last installed inverter.
func (p *Pcs) EnableDcDc(on bool) {
	switch p.settings.InverterCount {
	case InverterCountOne:
		p.commands.EnableIpu2 = on
	case InverterCountTwo:
		p.commands.EnableIpu3 = on
	case InverterCountThree:
		p.commands.EnableIpu4 = on
	}
}

func (p *Pcs) setInverterBits() {
	p.commands.EnableIpu1 = p.ipuEnabled(1)
	if p.settings.InverterCount >= InverterCountTwo {
		p.commands.EnableIpu2 = p.ipuEnabled(2)
	}
	if p.settings.InverterCount >= InverterCountThree {
		p.commands.EnableIpu3 = p.ipuEnabled(3)
	}
}

func (p *Pcs) applyOnGrid(play bool) {
	p.setInverterBits()
	if play {
		p.commands.SetPlay(true)
	} else {
		p.commands.SetPlay(false)
		p.commands.SetStop(false)
		p.commands.SetAcknowledge(false)
	}
	p.commands.SyncApproval = true
	p.commands.BlackstartApproval = false
	p.commands.ShortCircuitHandling = true
	p.commands.Mode = CurrentControl
	p.commands.ParameterSet = p.settings.ParameterSet
	p.commands.U0 = OnGridVoltageFactor
	p.commands.F0 = OnGridFrequencyFactor
	p.commands.ErrorCodeFeedback = 0

	p.ccu2.PControlMode = PControlActivePowerControl
	p.ccu1.QLimit = 1

	for i, ipu := range p.ipus {
		if p.ipuEnabled(i + 1) {
			ipu.PMaxCharge = MaxPowerPerInverter
			ipu.PMaxDischarge = -MaxPowerPerInverter
		}
	}

	p.EnableDcDc(true)
	p.dcdc.DcVoltageSetpoint = p.settings.DcLinkVoltageSetpoint
}

// ApplyStart prepares the command set that starts the unit on grid.
func (p *Pcs) ApplyStart() {
	p.applyOnGrid(true)
}

// ApplyRun re-asserts the on-grid parameters of a running unit.
func (p *Pcs) ApplyRun() {
	p.applyOnGrid(false)
}

// ApplyBlackstart prepares the command set that lets the unit form the grid.
func (p *Pcs) ApplyBlackstart() {
	p.setInverterBits()
	p.commands.SetPlay(true)
	p.commands.BlackstartApproval = true
	p.commands.SyncApproval = false
	p.commands.ShortCircuitHandling = true
	p.commands.Mode = VoltageControl
	p.commands.ParameterSet = p.settings.ParameterSet
	p.commands.U0 = OffGridVoltageFactor
	p.commands.F0 = OffGridFrequencyFactor
	p.commands.ErrorCodeFeedback = 0

	p.ccu2.PControlMode = PControlDisabled
	p.ccu1.QLimit = 1
}

// ApplyAcknowledge acknowledges one device error code. The enabled inverter
// bits are left untouched.
func (p *Pcs) ApplyAcknowledge(code uint32) {
	p.commands.SetAcknowledge(true)
	p.commands.SyncApproval = true
	p.commands.BlackstartApproval = false
	p.commands.ShortCircuitHandling = true
	p.commands.Mode = CurrentControl
	p.commands.ParameterSet = ParameterSet1
	p.commands.U0 = OnGridVoltageFactor
	p.commands.F0 = OnGridFrequencyFactor
	p.commands.ErrorCodeFeedback = code
}

// ClearAcknowledge withdraws an acknowledge written in an earlier cycle so
// every error code is acknowledged once.
func (p *Pcs) ClearAcknowledge() {
	p.commands.SetAcknowledge(false)
	p.commands.ErrorCodeFeedback = 0
}

// ApplyIdle clears play, stop and acknowledge so the unit keeps its state.
func (p *Pcs) ApplyIdle() {
	p.commands.SetPlay(false)
	p.commands.SetStop(false)
	p.commands.SetAcknowledge(false)
	p.commands.ErrorCodeFeedback = 0
}

// Blocks returns every write block in flush order.
func (p *Pcs) Blocks() []Block {
	blocks := []Block{p.commands, p.ccu1, p.ccu2, p.cosPhi}
	for _, ipu := range p.ipus {
		blocks = append(blocks, ipu)
	}
	return append(blocks, p.dcdc)
}

// Flush writes all blocks, stamping the command block with now. A failing
// block does not stop the others; the joined error reports every failure.
func (p *Pcs) Flush(now time.Time) error {
	p.commands.SetSyncClock(now)

	var errs []error
	for _, b := range p.Blocks() {
		if err := p.transport.WriteRegisters(b.Address(), b.Encode()); err != nil {
			p.logger.Warn().Err(err).Str("block", b.Name()).Uint16("address", b.Address()).Msg("block write failed")
			errs = append(errs, fmt.Errorf("write %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ReadStatus reads the CCU, IPU and DC/DC status blocks. A nil status means
// the CCU block itself could not be read. When only later blocks fail the
// status is returned with what was read and an ErrIncompleteStatus error.
func (p *Pcs) ReadStatus() (*Status, error) {
	status := &Status{Timestamp: time.Now()}

	regs, err := p.transport.ReadHoldingRegisters(RegCcuState, CcuStatusLength)
	if err != nil {
		return nil, fmt.Errorf("failed to read CCU status: %w", err)
	}
	if status.Ccu, err = DecodeCcuStatus(regs); err != nil {
		return nil, err
	}

	var errs []error

	ipuAddresses := []uint16{RegIpu1Status, RegIpu2Status, RegIpu3Status}
	for i := 0; i < int(p.settings.InverterCount); i++ {
		ipu, err := p.readUnitStatus(ipuAddresses[i])
		if err != nil {
			errs = append(errs, fmt.Errorf("IPU %d status: %w", i+1, err))
			continue
		}
		status.Ipus = append(status.Ipus, ipu)
	}

	if status.DcDc, err = p.readUnitStatus(p.settings.InverterCount.DcDcStatusAddress()); err != nil {
		errs = append(errs, fmt.Errorf("DC/DC status: %w", err))
	}

	regs, err = p.transport.ReadHoldingRegisters(RegDcDcMeasurements, DcDcMeasurementsLength)
	if err == nil {
		status.Measurements, err = DecodeDcDcMeasurements(regs)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("DC/DC measurements: %w", err))
	}

	if len(errs) > 0 {
		return status, fmt.Errorf("%w: %w", ErrIncompleteStatus, errors.Join(errs...))
	}
	return status, nil
}

func (p *Pcs) readUnitStatus(address uint16) (*UnitStatus, error) {
	regs, err := p.transport.ReadHoldingRegisters(address, StatusBlockLength)
	if err != nil {
		return nil, err
	}
	return DecodeUnitStatus(regs)
}

// ReadMirror reads back the device's echo of a write block.
func (p *Pcs) ReadMirror(b Block) ([]uint16, error) {
	size := uint16(len(b.Encode()))
	regs, err := p.transport.ReadHoldingRegisters(b.Address()+MirrorOffset, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s mirror: %w", b.Name(), err)
	}
	return regs, nil
}

// TestConnection reads the CCU status block once.
func (p *Pcs) TestConnection() error {
	if _, err := p.transport.ReadHoldingRegisters(RegCcuState, CcuStatusLength); err != nil {
		return fmt.Errorf("failed to read from PCS: %w", err)
	}
	return nil
}
