package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gridcon-pcs/internal/battery"
	"gridcon-pcs/internal/sim"
)

type options struct {
	listen        string
	logLevel      string
	dioUnit       uint8
	meterUnit     uint8
	racks         []uint
	hardResetCoil uint16
	rackVoltage   float64
	rackSoc       uint16
	rackCurrent   float64
	frequency     float64
	voltage       float64
	errorCode     uint32
}

func main() {
	opts := options{}

	rootCmd := &cobra.Command{
		Use:   "gridcon-sim",
		Short: "Simulated Gridcon cabinet",
		Long:  "Serve a simulated Gridcon CCU with battery racks, a grid meter and digital I/O over Modbus TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogger(opts.logLevel)
			return run(opts)
		},
	}

	f := rootCmd.Flags()
	f.StringVarP(&opts.listen, "listen", "l", "127.0.0.1:5020", "listen address")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	f.Uint8Var(&opts.dioUnit, "dio-unit", 3, "unit id of the digital I/O module")
	f.Uint8Var(&opts.meterUnit, "meter-unit", 4, "unit id of the grid meter")
	f.UintSliceVar(&opts.racks, "rack-unit", []uint{2}, "unit ids of the battery racks")
	f.Uint16Var(&opts.hardResetCoil, "hard-reset-coil", 0, "coil address of the hard reset relay")
	f.Float64Var(&opts.rackVoltage, "rack-voltage", 700, "rack voltage in V")
	f.Uint16Var(&opts.rackSoc, "rack-soc", 60, "rack state of charge in %")
	f.Float64Var(&opts.rackCurrent, "rack-current", 50, "rack charge and discharge current limit in A")
	f.Float64Var(&opts.frequency, "frequency", 50, "grid frequency in Hz")
	f.Float64Var(&opts.voltage, "voltage", 230, "grid voltage in V")
	f.Uint32Var(&opts.errorCode, "error-code", 0, "raw CCU error code to start with")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogger(level string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func uint32Words(v uint32) (lsw, msw uint16) {
	return uint16(v), uint16(v >> 16)
}

func seed(device *sim.Device, opts options) {
	for _, id := range opts.racks {
		unit := uint8(id)
		current := uint16(opts.rackCurrent * 10)
		device.SetHolding(unit, battery.RegContactorControl, uint16(battery.ContactorOnGrid))
		device.SetHolding(unit, battery.RegVoltage, uint16(opts.rackVoltage*10))
		device.SetHolding(unit, battery.RegSoc, opts.rackSoc)
		device.SetHolding(unit, battery.RegSoh, 100)
		device.SetHolding(unit, battery.RegChargeMaxCurrent, current, current)
	}

	fLsw, fMsw := uint32Words(uint32(opts.frequency * 1000))
	vLsw, vMsw := uint32Words(uint32(opts.voltage * 1000))
	device.SetHolding(opts.meterUnit, 0, fLsw, fMsw)
	device.SetHolding(opts.meterUnit, 2, vLsw, vMsw)

	device.SetDiscreteInput(opts.dioUnit, 0, true)
	device.SetDiscreteInput(opts.dioUnit, 1, true)

	if opts.errorCode != 0 {
		device.SetErrorCode(opts.errorCode)
	}
}

func run(opts options) error {
	device := sim.NewDevice(sim.Config{
		DioUnit:       opts.dioUnit,
		HardResetCoil: opts.hardResetCoil,
		Autonomous:    true,
	})
	seed(device, opts)

	server, err := sim.Listen(opts.listen, device)
	if err != nil {
		return err
	}
	defer server.Close()

	log.Info().
		Str("addr", server.Addr()).
		Uints("racks", opts.racks).
		Uint8("meter_unit", opts.meterUnit).
		Uint8("dio_unit", opts.dioUnit).
		Msg("gridcon-sim started, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	return nil
}
