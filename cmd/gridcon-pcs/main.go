package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gridcon-pcs/config"
	"gridcon-pcs/internal/api"
	"gridcon-pcs/internal/controller"
	"gridcon-pcs/internal/gridcon/errcatalog"
	"gridcon-pcs/internal/metrics"
	"gridcon-pcs/internal/mqtt"
	"gridcon-pcs/internal/statemachine"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gridcon-pcs",
		Short: "Gridcon PCS controller",
		Long:  "Drives a Gridcon power conversion system and its battery strings via Modbus TCP",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(errorsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	if verbose {
		level = "debug"
	}
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

func loadConfig() (*config.Config, error) {
	initLogger("info")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	initLogger(cfg.LogLevel)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the controller",
		Long:  "Start the control loop, API server, metrics and MQTT publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Print()

			sys, err := newSystem(cfg)
			if err != nil {
				return err
			}

			catalog := errcatalog.Default()
			machine := statemachine.New(machineConfig(cfg), catalog, statemachine.SystemClock{})
			ctrl := controller.New(sys.controllerConfig(machine, catalog))

			if cfg.MQTT.Enabled {
				publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
					Broker:          cfg.MQTT.Broker,
					ClientID:        cfg.MQTT.ClientID,
					Username:        cfg.MQTT.Username,
					Password:        cfg.MQTT.Password,
					TopicPrefix:     cfg.MQTT.TopicPrefix,
					Discovery:       cfg.MQTT.Discovery,
					DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
					Enabled:         true,
				}, ctrl)
				if err != nil {
					log.Warn().Err(err).Msg("MQTT connection failed, continuing without MQTT")
				} else {
					log.Info().Str("broker", cfg.MQTT.Broker).Msg("MQTT publisher started")
					ctrl.SetPublisher(publisher)
					defer publisher.Close()
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				if err := ctrl.Start(ctx); err != nil {
					log.Error().Err(err).Msg("controller error")
				}
			}()

			var server *api.Server
			if cfg.API.Enabled {
				serverCfg := api.ServerConfig{
					Host:         cfg.API.Host,
					Port:         cfg.API.Port,
					Controller:   ctrl,
					Catalog:      catalog,
					Config:       cfg,
					DeviceTester: api.ModbusDeviceTester,
				}
				if cfg.Metrics.Enabled {
					prometheus.MustRegister(metrics.NewCollector(ctrl))
					serverCfg.Metrics = promhttp.Handler()
					serverCfg.MetricsPath = cfg.Metrics.Path
				}
				server = api.NewServer(serverCfg)

				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("API server error")
					}
				}()
			} else if cfg.Metrics.Enabled {
				log.Warn().Msg("metrics are served by the API server, which is disabled")
			}

			log.Info().Msg("gridcon-pcs started, press Ctrl+C to stop")

			sig := <-sigChan
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()

			if server != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := server.Stop(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("error stopping API server")
				}
			}
			ctrl.Stop()

			return nil
		},
	}
}

func readCmd() *cobra.Command {
	var mirror bool

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read the unit once",
		Long:  "Connect to the Gridcon unit and its peripherals and print one reading as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sys, err := newSystem(cfg)
			if err != nil {
				return err
			}
			if err := sys.connect(); err != nil {
				return err
			}
			defer sys.close()

			status, err := sys.pcs.ReadStatus()
			if status == nil {
				return fmt.Errorf("failed to read data: %w", err)
			}
			if err != nil {
				log.Warn().Err(err).Msg("status incomplete")
			}

			out := map[string]interface{}{"device": status}

			var racks []interface{}
			for _, rack := range sys.racks {
				if rack == nil {
					continue
				}
				data, err := rack.ReadAllData()
				if err != nil {
					log.Warn().Err(err).Str("rack", rack.Name()).Msg("battery read failed")
					continue
				}
				racks = append(racks, data)
			}
			out["batteries"] = racks

			if sys.meter != nil {
				if reading, err := sys.meter.Read(); err != nil {
					log.Warn().Err(err).Msg("grid meter read failed")
				} else {
					out["meter"] = reading
				}
			}

			if sys.dio != nil {
				if na1, na2, err := sys.dio.ReadNaProtection(); err != nil {
					log.Warn().Err(err).Msg("NA protection read failed")
				} else {
					out["na_protection"] = map[string]bool{"na1": na1, "na2": na2}
				}
			}

			if mirror {
				mirrors := map[string][]uint16{}
				for _, b := range sys.pcs.Blocks() {
					regs, err := sys.pcs.ReadMirror(b)
					if err != nil {
						return err
					}
					mirrors[b.Name()] = regs
				}
				out["mirror"] = mirrors
			}

			output, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode reading: %w", err)
			}
			fmt.Println(string(output))

			return nil
		},
	}

	cmd.Flags().BoolVar(&mirror, "mirror", false, "also read back the device echo of every write block")
	return cmd
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test connection to the unit",
		Long:  "Test the Modbus TCP connection to the Gridcon unit and every configured peripheral",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Testing connection to %s:%d...\n", cfg.Device.Host, cfg.Device.Port)

			sys, err := newSystem(cfg)
			if err != nil {
				return err
			}
			if err := sys.connect(); err != nil {
				fmt.Printf("Connection FAILED: %v\n", err)
				return err
			}
			defer sys.close()

			if err := sys.pcs.TestConnection(); err != nil {
				fmt.Printf("Connection FAILED: %v\n", err)
				return err
			}
			fmt.Println("Connection SUCCESS!")

			status, err := sys.pcs.ReadStatus()
			if status == nil {
				fmt.Printf("Warning: Could not read status: %v\n", err)
			} else {
				if err != nil {
					fmt.Printf("Warning: %v\n", err)
				}
				fmt.Printf("\nUnit:\n")
				fmt.Printf("  CCU State:     %s\n", status.Ccu.State)
				fmt.Printf("  Error Code:    0x%08X\n", status.Ccu.ErrorCode)
				if status.DcDc != nil {
					fmt.Printf("  DC Link:       %.1f V\n", status.DcDc.DcLinkPositiveVoltage)
				}
				fmt.Printf("  Max Apparent:  %.0f VA\n", sys.pcs.MaxApparentPower())
			}

			failed := false
			for _, rack := range sys.racks {
				if rack == nil {
					continue
				}
				if err := rack.TestConnection(); err != nil {
					fmt.Printf("  Battery %s:     FAILED: %v\n", rack.Name(), err)
					failed = true
					continue
				}
				fmt.Printf("  Battery %s:     OK\n", rack.Name())
			}
			if sys.meter != nil {
				if reading, err := sys.meter.Read(); err != nil {
					fmt.Printf("  Grid Meter:    FAILED: %v\n", err)
					failed = true
				} else {
					fmt.Printf("  Grid Meter:    %.3f Hz, %.1f V\n", reading.FrequencyHz(), reading.VoltageV())
				}
			}
			if sys.dio != nil {
				if na1, na2, err := sys.dio.ReadNaProtection(); err != nil {
					fmt.Printf("  Digital I/O:   FAILED: %v\n", err)
					failed = true
				} else {
					fmt.Printf("  Digital I/O:   NA1=%v NA2=%v\n", na1, na2)
				}
			}

			if failed {
				return errors.New("one or more peripherals failed")
			}
			return nil
		},
	}
}

func errorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors [code]",
		Short: "Look up a CCU error code",
		Long:  "Print the catalog entry of an error code, or every code that needs a hard reset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := errcatalog.Default()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				codes := catalog.HardResetCodes()
				fmt.Fprintf(out, "%d codes need a hard reset:\n", len(codes))
				for _, code := range codes {
					entry, _ := catalog.Lookup(code)
					fmt.Fprintf(out, "  %s  %s\n", entry.Hex(), entry.Text)
				}
				return nil
			}

			code, err := errcatalog.ParseCode(args[0])
			if err != nil {
				return err
			}
			entry, err := catalog.Lookup(code)
			if err != nil {
				fmt.Fprintf(out, "%s: unknown, treated as acknowledgeable\n", errcatalog.Entry{Code: code}.Hex())
				return nil
			}

			fmt.Fprintf(out, "Code:        %s\n", entry.Hex())
			fmt.Fprintf(out, "Name:        %s\n", entry.Name)
			fmt.Fprintf(out, "Text:        %s\n", entry.Text)
			fmt.Fprintf(out, "Level:       %s\n", entry.Level)
			fmt.Fprintf(out, "Acknowledge: %s\n", entry.Acknowledge)
			fmt.Fprintf(out, "Reaction:    %s\n", entry.Reaction)
			fmt.Fprintf(out, "Hard reset:  %v\n", entry.HardReset)
			return nil
		},
	}
}
