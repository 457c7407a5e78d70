package battery

// Soltaro rack holding registers.
const (
	RegContactorControl    = 0x2010
	RegChargeMaxVoltage    = 0x2042 // 0.1 V
	RegDischargeMinVoltage = 0x2048 // 0.1 V

	RegVoltage            = 0x2100 // 0.1 V
	RegCurrent            = 0x2101 // signed, 0.1 A
	RegChargeIndication   = 0x2102
	RegSoc                = 0x2103 // %
	RegSoh                = 0x2104 // %
	RegMaxCellVoltageID   = 0x2105
	RegMaxCellVoltage     = 0x2106 // mV
	RegMinCellVoltageID   = 0x2107
	RegMinCellVoltage     = 0x2108 // mV
	RegMaxCellTemperature = 0x210A // signed, 0.1 °C
	RegMinCellTemperature = 0x210C // signed, 0.1 °C

	RegAlarmLevel2 = 0x2140
	RegAlarmLevel1 = 0x2141

	RegChargeMaxCurrent    = 0x2160 // 0.1 A
	RegDischargeMaxCurrent = 0x2161 // 0.1 A

	summaryLength = RegMinCellTemperature - RegVoltage + 1
)

// ContactorState is the value of the contactor control register.
type ContactorState uint16

const (
	ContactorCutOff               ContactorState = 0
	ContactorConnectionInitiating ContactorState = 1
	ContactorOnGrid               ContactorState = 3
)

func (s ContactorState) String() string {
	switch s {
	case ContactorCutOff:
		return "cut_off"
	case ContactorConnectionInitiating:
		return "connection_initiating"
	case ContactorOnGrid:
		return "on_grid"
	default:
		return "unknown"
	}
}

// Values written to the contactor control register.
const (
	systemOff = 0
	systemOn  = 1
)
