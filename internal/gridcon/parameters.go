package gridcon

import "fmt"

// CcuParameters1 holds the voltage/reactive and frequency/active droop settings.
type CcuParameters1 struct {
	UByQDroopMainLower float32
	UByQDroopMainUpper float32
	UByQDroopT1Main    float32
	FByPDroopMainLower float32
	FByPDroopMainUpper float32
	FByPDroopT1Main    float32
	QByUDroopMainLower float32
	QByUDroopMainUpper float32
	QByUDeadBandLower  float32
	QByUDeadBandUpper  float32
	QLimit             float32
}

func NewCcuParameters1() *CcuParameters1 {
	return &CcuParameters1{QLimit: 1}
}

func (p *CcuParameters1) Name() string    { return "ccu_parameters_1" }
func (p *CcuParameters1) Address() uint16 { return RegCcuParameters1 }

func (p *CcuParameters1) fields() []*float32 {
	return []*float32{
		&p.UByQDroopMainLower, &p.UByQDroopMainUpper, &p.UByQDroopT1Main,
		&p.FByPDroopMainLower, &p.FByPDroopMainUpper, &p.FByPDroopT1Main,
		&p.QByUDroopMainLower, &p.QByUDroopMainUpper,
		&p.QByUDeadBandLower, &p.QByUDeadBandUpper,
		&p.QLimit,
	}
}

func (p *CcuParameters1) Encode() []uint16 {
	regs := make([]uint16, ccuParameters1Length)
	for i, f := range p.fields() {
		PutFloat32(regs, i*2, *f)
	}
	return regs
}

func DecodeCcuParameters1(regs []uint16) (*CcuParameters1, error) {
	if len(regs) < ccuParameters1Length {
		return nil, shortBlockError("ccu_parameters_1", ccuParameters1Length, len(regs))
	}
	p := &CcuParameters1{}
	for i, f := range p.fields() {
		*f = Float32(regs, i*2)
	}
	return p, nil
}

// CcuParameters2 holds the active power droop settings and the P control mode.
type CcuParameters2 struct {
	PByFDroopMainLower float32
	PByFDroopMainUpper float32
	PByFDeadBandLower  float32
	PByFDeadBandUpper  float32
	PByUDroopLower     float32
	PByUDroopUpper     float32
	PByUDeadBandLower  float32
	PByUDeadBandUpper  float32
	PByUMaxCharge      float32
	PByUMaxDischarge   float32
	PControlMode       PControlMode
	PControlLimTwo     float32
	PControlLimOne     float32
}

func NewCcuParameters2() *CcuParameters2 {
	return &CcuParameters2{PControlMode: PControlDisabled}
}

func (p *CcuParameters2) Name() string    { return "ccu_parameters_2" }
func (p *CcuParameters2) Address() uint16 { return RegCcuParameters2 }

func (p *CcuParameters2) droops() []*float32 {
	return []*float32{
		&p.PByFDroopMainLower, &p.PByFDroopMainUpper,
		&p.PByFDeadBandLower, &p.PByFDeadBandUpper,
		&p.PByUDroopLower, &p.PByUDroopUpper,
		&p.PByUDeadBandLower, &p.PByUDeadBandUpper,
		&p.PByUMaxCharge, &p.PByUMaxDischarge,
	}
}

func (p *CcuParameters2) Encode() []uint16 {
	regs := make([]uint16, ccuParameters2Length)
	for i, f := range p.droops() {
		PutFloat32(regs, i*2, *f)
	}
	PutUint32(regs, 20, uint32(p.PControlMode))
	PutFloat32(regs, 22, p.PControlLimTwo)
	PutFloat32(regs, 24, p.PControlLimOne)
	return regs
}

func DecodeCcuParameters2(regs []uint16) (*CcuParameters2, error) {
	if len(regs) < ccuParameters2Length {
		return nil, shortBlockError("ccu_parameters_2", ccuParameters2Length, len(regs))
	}
	p := &CcuParameters2{}
	for i, f := range p.droops() {
		*f = Float32(regs, i*2)
	}
	p.PControlMode = PControlMode(Uint32(regs, 20))
	p.PControlLimTwo = Float32(regs, 22)
	p.PControlLimOne = Float32(regs, 24)
	return p, nil
}

type CosPhiParameters struct {
	Setpoint1 float32
	Setpoint2 float32
}

func (p *CosPhiParameters) Name() string    { return "cos_phi" }
func (p *CosPhiParameters) Address() uint16 { return RegCosPhi }

func (p *CosPhiParameters) Encode() []uint16 {
	regs := make([]uint16, cosPhiLength)
	PutFloat32(regs, 0, p.Setpoint1)
	PutFloat32(regs, 2, p.Setpoint2)
	return regs
}

func DecodeCosPhiParameters(regs []uint16) (*CosPhiParameters, error) {
	if len(regs) < cosPhiLength {
		return nil, shortBlockError("cos_phi", cosPhiLength, len(regs))
	}
	return &CosPhiParameters{Setpoint1: Float32(regs, 0), Setpoint2: Float32(regs, 2)}, nil
}

// IpuParameter is the control block of a single inverter unit.
type IpuParameter struct {
	index   int
	address uint16

	DcVoltageSetpoint float32
	DcCurrentSetpoint float32
	U0OffsetToCcu     float32
	F0OffsetToCcu     float32
	QrefOffsetToCcu   float32
	PrefOffsetToCcu   float32
	PMaxDischarge     float32
	PMaxCharge        float32
}

// NewIpuParameter returns the control block for IPU index (1..3).
func NewIpuParameter(index int) *IpuParameter {
	addr := uint16(RegIpu1Control)
	switch index {
	case 2:
		addr = RegIpu2Control
	case 3:
		addr = RegIpu3Control
	}
	return &IpuParameter{index: index, address: addr}
}

func (p *IpuParameter) Index() int      { return p.index }
func (p *IpuParameter) Name() string    { return fmt.Sprintf("ipu_%d_parameter", p.index) }
func (p *IpuParameter) Address() uint16 { return p.address }

func (p *IpuParameter) fields() []*float32 {
	return []*float32{
		&p.DcVoltageSetpoint, &p.DcCurrentSetpoint,
		&p.U0OffsetToCcu, &p.F0OffsetToCcu,
		&p.QrefOffsetToCcu, &p.PrefOffsetToCcu,
		&p.PMaxDischarge, &p.PMaxCharge,
	}
}

func (p *IpuParameter) Encode() []uint16 {
	regs := make([]uint16, ipuParameterLength)
	for i, f := range p.fields() {
		PutFloat32(regs, i*2, *f)
	}
	return regs
}

func DecodeIpuParameter(index int, regs []uint16) (*IpuParameter, error) {
	if len(regs) < ipuParameterLength {
		return nil, shortBlockError("ipu_parameter", ipuParameterLength, len(regs))
	}
	p := NewIpuParameter(index)
	for i, f := range p.fields() {
		*f = Float32(regs, i*2)
	}
	return p, nil
}

// DcDcParameter apportions the DC current across battery strings A, B and C.
type DcDcParameter struct {
	address uint16

	DcVoltageSetpoint float32
	WeightStringA     float32
	WeightStringB     float32
	WeightStringC     float32
	IRefStringA       float32
	IRefStringB       float32
	IRefStringC       float32
	StringControlMode uint32
}

func NewDcDcParameter(count InverterCount) *DcDcParameter {
	return &DcDcParameter{address: count.DcDcControlAddress()}
}

func (p *DcDcParameter) Name() string    { return "dcdc_parameter" }
func (p *DcDcParameter) Address() uint16 { return p.address }

func (p *DcDcParameter) Encode() []uint16 {
	regs := make([]uint16, dcDcParameterLength)
	PutFloat32(regs, 0, p.DcVoltageSetpoint)
	PutFloat32(regs, 2, p.WeightStringA)
	PutFloat32(regs, 4, p.WeightStringB)
	PutFloat32(regs, 6, p.WeightStringC)
	PutFloat32(regs, 8, p.IRefStringA)
	PutFloat32(regs, 10, p.IRefStringB)
	PutFloat32(regs, 12, p.IRefStringC)
	PutUint32(regs, 14, p.StringControlMode)
	return regs
}

func DecodeDcDcParameter(regs []uint16) (*DcDcParameter, error) {
	if len(regs) < dcDcParameterLength {
		return nil, shortBlockError("dcdc_parameter", dcDcParameterLength, len(regs))
	}
	return &DcDcParameter{
		DcVoltageSetpoint: Float32(regs, 0),
		WeightStringA:     Float32(regs, 2),
		WeightStringB:     Float32(regs, 4),
		WeightStringC:     Float32(regs, 6),
		IRefStringA:       Float32(regs, 8),
		IRefStringB:       Float32(regs, 10),
		IRefStringC:       Float32(regs, 12),
		StringControlMode: Uint32(regs, 14),
	}, nil
}
