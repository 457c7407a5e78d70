// Package metrics exposes the controller state as Prometheus gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"gridcon-pcs/internal/controller"
)

// Source returns the latest controller snapshot, nil before the first cycle.
type Source interface {
	Snapshot() *controller.Snapshot
}

var stringLabels = [3]string{"a", "b", "c"}

// Collector implements prometheus.Collector over the controller snapshot.
// Values are read at scrape time; nothing is cached between scrapes.
type Collector struct {
	source Source

	gridTieState  *prometheus.Desc
	ccuState      *prometheus.Desc
	errorState    *prometheus.Desc
	unrecoverable *prometheus.Desc
	dcLinkVoltage *prometheus.Desc
	activePower   *prometheus.Desc
	reactivePower *prometheus.Desc
	stringWeight  *prometheus.Desc
	batterySoc    *prometheus.Desc
	rackSoc       *prometheus.Desc
	rackVoltage   *prometheus.Desc
	allowedPower  *prometheus.Desc
	cycleSuccess  *prometheus.Desc
	ackAttempts   *prometheus.Desc
	resetAttempts *prometheus.Desc
	gridFrequency *prometheus.Desc
}

func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		gridTieState: prometheus.NewDesc(
			"gridcon_grid_tie_state",
			"Grid tie state (0=undefined, 1=going_on_grid, 2=on_grid, 3=going_off_grid, 4=off_grid, 5=error)",
			[]string{"state"},
			nil,
		),
		ccuState: prometheus.NewDesc(
			"gridcon_ccu_state",
			"State reported by the central control unit",
			[]string{"state"},
			nil,
		),
		errorState: prometheus.NewDesc(
			"gridcon_error_handling_state",
			"Error handling sub state",
			[]string{"state"},
			nil,
		),
		unrecoverable: prometheus.NewDesc(
			"gridcon_unrecoverable",
			"Automatic error recovery is exhausted (1=yes, 0=no)",
			nil,
			nil,
		),
		dcLinkVoltage: prometheus.NewDesc(
			"gridcon_dc_link_voltage_volts",
			"DC link voltage reported by the DC/DC converter",
			nil,
			nil,
		),
		activePower: prometheus.NewDesc(
			"gridcon_active_power_watts",
			"Active power setpoint (positive=discharge)",
			nil,
			nil,
		),
		reactivePower: prometheus.NewDesc(
			"gridcon_reactive_power_var",
			"Reactive power setpoint",
			nil,
			nil,
		),
		stringWeight: prometheus.NewDesc(
			"gridcon_string_weight",
			"DC/DC weighting factor of a battery string",
			[]string{"string"},
			nil,
		),
		batterySoc: prometheus.NewDesc(
			"gridcon_battery_soc_percent",
			"Capacity weighted state of charge of all battery strings",
			nil,
			nil,
		),
		rackSoc: prometheus.NewDesc(
			"gridcon_rack_soc_percent",
			"State of charge of one battery rack",
			[]string{"rack", "contactor"},
			nil,
		),
		rackVoltage: prometheus.NewDesc(
			"gridcon_rack_voltage_volts",
			"Voltage of one battery rack",
			[]string{"rack", "contactor"},
			nil,
		),
		allowedPower: prometheus.NewDesc(
			"gridcon_allowed_power_watts",
			"Power the battery strings allow after efficiency losses (charge is negative)",
			[]string{"direction"},
			nil,
		),
		cycleSuccess: prometheus.NewDesc(
			"gridcon_cycle_success",
			"Whether the last control cycle read and wrote the unit without error (1=yes, 0=no)",
			nil,
			nil,
		),
		ackAttempts: prometheus.NewDesc(
			"gridcon_ack_attempts",
			"Acknowledge attempts since the unit last ran stable",
			nil,
			nil,
		),
		resetAttempts: prometheus.NewDesc(
			"gridcon_hard_reset_attempts",
			"Hard reset attempts since the unit last ran stable",
			nil,
			nil,
		),
		gridFrequency: prometheus.NewDesc(
			"gridcon_grid_frequency_hertz",
			"Grid frequency measured by the grid meter",
			nil,
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.gridTieState
	ch <- c.ccuState
	ch <- c.errorState
	ch <- c.unrecoverable
	ch <- c.dcLinkVoltage
	ch <- c.activePower
	ch <- c.reactivePower
	ch <- c.stringWeight
	ch <- c.batterySoc
	ch <- c.rackSoc
	ch <- c.rackVoltage
	ch <- c.allowedPower
	ch <- c.cycleSuccess
	ch <- c.ackAttempts
	ch <- c.resetAttempts
	ch <- c.gridFrequency
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()
	if snap == nil {
		ch <- prometheus.MustNewConstMetric(c.cycleSuccess, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.cycleSuccess, prometheus.GaugeValue, boolValue(snap.CycleOK))
	ch <- prometheus.MustNewConstMetric(c.gridTieState, prometheus.GaugeValue, float64(snap.State), snap.GridTieState)
	ch <- prometheus.MustNewConstMetric(c.ccuState, prometheus.GaugeValue, float64(snap.CcuState), snap.CcuStateName)
	ch <- prometheus.MustNewConstMetric(c.errorState, prometheus.GaugeValue, float64(snap.ErrorHandling), snap.ErrorState)
	ch <- prometheus.MustNewConstMetric(c.unrecoverable, prometheus.GaugeValue, boolValue(snap.Unrecoverable))
	ch <- prometheus.MustNewConstMetric(c.dcLinkVoltage, prometheus.GaugeValue, snap.DcLinkVoltage)
	ch <- prometheus.MustNewConstMetric(c.activePower, prometheus.GaugeValue, snap.ActivePower)
	ch <- prometheus.MustNewConstMetric(c.reactivePower, prometheus.GaugeValue, snap.ReactivePower)
	ch <- prometheus.MustNewConstMetric(c.ackAttempts, prometheus.GaugeValue, float64(snap.AckAttempts))
	ch <- prometheus.MustNewConstMetric(c.resetAttempts, prometheus.GaugeValue, float64(snap.ResetAttempts))

	weights := [3]float64{snap.Weights.A, snap.Weights.B, snap.Weights.C}
	for i, w := range weights {
		ch <- prometheus.MustNewConstMetric(c.stringWeight, prometheus.GaugeValue, w, stringLabels[i])
	}

	if snap.Totals.SocValid {
		ch <- prometheus.MustNewConstMetric(c.batterySoc, prometheus.GaugeValue, snap.Totals.Soc)
	}
	ch <- prometheus.MustNewConstMetric(c.allowedPower, prometheus.GaugeValue, snap.Totals.AllowedCharge, "charge")
	ch <- prometheus.MustNewConstMetric(c.allowedPower, prometheus.GaugeValue, snap.Totals.AllowedDischarge, "discharge")

	for _, rack := range snap.Batteries {
		ch <- prometheus.MustNewConstMetric(c.rackSoc, prometheus.GaugeValue, float64(rack.Soc), rack.Name, rack.ContactorString)
		ch <- prometheus.MustNewConstMetric(c.rackVoltage, prometheus.GaugeValue, rack.Voltage, rack.Name, rack.ContactorString)
	}

	if snap.Meter != nil {
		ch <- prometheus.MustNewConstMetric(c.gridFrequency, prometheus.GaugeValue, snap.Meter.FrequencyHz())
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
