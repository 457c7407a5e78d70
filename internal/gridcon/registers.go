package gridcon

// Gridcon holding register map. Addresses are protocol addresses (zero based).

const (
	// CCU status block (read)
	RegCcuState      = 32528 // U16, status flags
	RegCcuErrorCount = 32529 // U16
	RegCcuErrorCode  = 32530 // U32, LSW first
	RegCcuVoltageU12 = 32532 // F32
	RegCcuVoltageU23 = 32534 // F32
	RegCcuVoltageU31 = 32536 // F32
	RegCcuCurrentIL1 = 32538 // F32
	RegCcuCurrentIL2 = 32540 // F32
	RegCcuCurrentIL3 = 32542 // F32
	RegCcuPowerP     = 32544 // F32, fraction of max apparent power
	RegCcuPowerQ     = 32546 // F32, fraction of max apparent power
	RegCcuFrequency  = 32548 // F32, Hz

	CcuStatusLength = 22

	// Write blocks
	RegCommands       = 32560
	RegCcuParameters1 = 32592
	RegIpu1Control    = 32624
	RegIpu2Control    = 32656
	RegIpu3Control    = 32688
	RegCcuParameters2 = 32752
	RegCosPhi         = 32784

	// DC/DC control follows the last IPU in use.
	RegDcDcControlOneIpu    = 32656
	RegDcDcControlTwoIpus   = 32688
	RegDcDcControlThreeIpus = 32720

	// Every write block is echoed at base + MirrorOffset.
	MirrorOffset = 320

	// IPU status blocks (read)
	RegIpu1Status = 33168
	RegIpu2Status = 33200
	RegIpu3Status = 33232

	// DC/DC status follows the last IPU status in use.
	RegDcDcStatusOneIpu    = 33200
	RegDcDcStatusTwoIpus   = 33232
	RegDcDcStatusThreeIpus = 33264

	RegDcDcMeasurements = 33488

	StatusBlockLength      = 32
	DcDcMeasurementsLength = 28
	commandsLength         = 16
	ccuParameters1Length   = 22
	ccuParameters2Length   = 26
	cosPhiLength           = 4
	ipuParameterLength     = 16
	dcDcParameterLength    = 16
)

// CCU status flag bit positions in RegCcuState.
const (
	flagIdle = iota
	flagPrecharge
	flagStopPrecharge
	flagReady
	flagPause
	flagRun
	flagError
	flagVoltageRampingUp
	flagOverload
	flagShortCircuitDetected
	flagDeratingPower
	flagDeratingHarmonics
	flagSiaActive
)

// Command word 0 bit positions.
const (
	cmdBitStop = iota
	cmdBitPlay
	cmdBitReady
	cmdBitAcknowledge
	cmdBitBlackstartApproval
	cmdBitSyncApproval
	cmdBitShortCircuitHandling
	cmdBitModeSelection
	cmdBitTriggerSia
	cmdBitFundamentalFrequencyMode // 2 bits
	_
	cmdBitBalancingMode // 2 bits
	_
	cmdBitHarmonicCompensationMode // 2 bits
)

// Command word 1 bit positions.
const (
	cmdBitParameterSet = 0 // 4 bits, one-hot
	cmdBitEnableIpu4   = 12
	cmdBitEnableIpu3   = 13
	cmdBitEnableIpu2   = 14
	cmdBitEnableIpu1   = 15
)

// Physical constants of the unit.
const (
	DcLinkVoltageSetpoint     = 800
	DcLinkVoltageToleranceV   = 20
	MaxPowerPerInverter       = 42000
	OnGridFrequencyFactor     = 1.035
	OnGridVoltageFactor       = 0.97
	OffGridFrequencyFactor    = 1.0
	OffGridVoltageFactor      = 1.0
	DefaultEfficiencyLossRate = 0.07
)
