package gridcon

// CcuStatus is the decoded CCU status block.
type CcuStatus struct {
	Flags      StatusFlags `json:"flags"`
	State      CcuState    `json:"-"`
	StateName  string      `json:"state"`
	ErrorCount uint16      `json:"error_count"`
	ErrorCode  uint32      `json:"error_code"`

	VoltageU12 float32 `json:"voltage_u12_v"`
	VoltageU23 float32 `json:"voltage_u23_v"`
	VoltageU31 float32 `json:"voltage_u31_v"`
	CurrentIL1 float32 `json:"current_il1_a"`
	CurrentIL2 float32 `json:"current_il2_a"`
	CurrentIL3 float32 `json:"current_il3_a"`
	PowerP     float32 `json:"power_p"`
	PowerQ     float32 `json:"power_q"`
	Frequency  float32 `json:"frequency_hz"`
}

func DecodeCcuStatus(regs []uint16) (*CcuStatus, error) {
	if len(regs) < CcuStatusLength {
		return nil, shortBlockError("ccu_status", CcuStatusLength, len(regs))
	}
	flags := DecodeStatusFlags(regs[0])
	state := flags.State()
	return &CcuStatus{
		Flags:      flags,
		State:      state,
		StateName:  state.String(),
		ErrorCount: regs[RegCcuErrorCount-RegCcuState],
		ErrorCode:  Uint32(regs, RegCcuErrorCode-RegCcuState),
		VoltageU12: Float32(regs, RegCcuVoltageU12-RegCcuState),
		VoltageU23: Float32(regs, RegCcuVoltageU23-RegCcuState),
		VoltageU31: Float32(regs, RegCcuVoltageU31-RegCcuState),
		CurrentIL1: Float32(regs, RegCcuCurrentIL1-RegCcuState),
		CurrentIL2: Float32(regs, RegCcuCurrentIL2-RegCcuState),
		CurrentIL3: Float32(regs, RegCcuCurrentIL3-RegCcuState),
		PowerP:     Float32(regs, RegCcuPowerP-RegCcuState),
		PowerQ:     Float32(regs, RegCcuPowerQ-RegCcuState),
		Frequency:  Float32(regs, RegCcuFrequency-RegCcuState),
	}, nil
}

// UnitStatus is the status block shared by the IPUs and the DC/DC converter.
type UnitStatus struct {
	StateMachine             uint16  `json:"state_machine"`
	Mcu                      uint16  `json:"mcu"`
	FilterCurrent            float32 `json:"filter_current_a"`
	DcLinkPositiveVoltage    float32 `json:"dc_link_positive_voltage_v"`
	DcLinkNegativeVoltage    float32 `json:"dc_link_negative_voltage_v"`
	DcLinkCurrent            float32 `json:"dc_link_current_a"`
	DcLinkActivePower        float32 `json:"dc_link_active_power_w"`
	DcLinkUtilization        float32 `json:"dc_link_utilization"`
	FanSpeedMax              uint32  `json:"fan_speed_max"`
	FanSpeedMin              uint32  `json:"fan_speed_min"`
	TemperatureIgbtMax       float32 `json:"temperature_igbt_max_c"`
	TemperatureMcuBoard      float32 `json:"temperature_mcu_board_c"`
	TemperatureGridChoke     float32 `json:"temperature_grid_choke_c"`
	TemperatureInverterChoke float32 `json:"temperature_inverter_choke_c"`
}

// DecodeUnitStatus parses an IPU or DC/DC status block. The device reports
// active power with inverted sign.
func DecodeUnitStatus(regs []uint16) (*UnitStatus, error) {
	if len(regs) < StatusBlockLength {
		return nil, shortBlockError("unit_status", StatusBlockLength, len(regs))
	}
	return &UnitStatus{
		StateMachine:             regs[0],
		Mcu:                      regs[1],
		FilterCurrent:            Float32(regs, 2),
		DcLinkPositiveVoltage:    Float32(regs, 4),
		DcLinkNegativeVoltage:    Float32(regs, 6),
		DcLinkCurrent:            Float32(regs, 8),
		DcLinkActivePower:        -Float32(regs, 10),
		DcLinkUtilization:        Float32(regs, 12),
		FanSpeedMax:              Uint32(regs, 14),
		FanSpeedMin:              Uint32(regs, 16),
		TemperatureIgbtMax:       Float32(regs, 18),
		TemperatureMcuBoard:      Float32(regs, 20),
		TemperatureGridChoke:     Float32(regs, 22),
		TemperatureInverterChoke: Float32(regs, 24),
	}, nil
}

// DcDcMeasurements are the per-string values measured by the DC/DC converter.
type DcDcMeasurements struct {
	VoltageStringA      float32 `json:"voltage_string_a_v"`
	VoltageStringB      float32 `json:"voltage_string_b_v"`
	VoltageStringC      float32 `json:"voltage_string_c_v"`
	CurrentStringA      float32 `json:"current_string_a_a"`
	CurrentStringB      float32 `json:"current_string_b_a"`
	CurrentStringC      float32 `json:"current_string_c_a"`
	PowerStringA        float32 `json:"power_string_a_w"`
	PowerStringB        float32 `json:"power_string_b_w"`
	PowerStringC        float32 `json:"power_string_c_w"`
	UtilizationStringA  float32 `json:"utilization_string_a"`
	UtilizationStringB  float32 `json:"utilization_string_b"`
	UtilizationStringC  float32 `json:"utilization_string_c"`
	AccumulatedCurrent  float32 `json:"accumulated_current_a"`
	AccumulatedUtilized float32 `json:"accumulated_utilization"`
}

func DecodeDcDcMeasurements(regs []uint16) (*DcDcMeasurements, error) {
	if len(regs) < DcDcMeasurementsLength {
		return nil, shortBlockError("dcdc_measurements", DcDcMeasurementsLength, len(regs))
	}
	return &DcDcMeasurements{
		VoltageStringA:      Float32(regs, 0),
		VoltageStringB:      Float32(regs, 2),
		VoltageStringC:      Float32(regs, 4),
		CurrentStringA:      Float32(regs, 6),
		CurrentStringB:      Float32(regs, 8),
		CurrentStringC:      Float32(regs, 10),
		PowerStringA:        Float32(regs, 12),
		PowerStringB:        Float32(regs, 14),
		PowerStringC:        Float32(regs, 16),
		UtilizationStringA:  Float32(regs, 18),
		UtilizationStringB:  Float32(regs, 20),
		UtilizationStringC:  Float32(regs, 22),
		AccumulatedCurrent:  Float32(regs, 24),
		AccumulatedUtilized: Float32(regs, 26),
	}, nil
}
