package sim

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
)

// Server serves a Device over Modbus TCP.
type Server struct {
	device *Device
	server *modbus.ModbusServer
	addr   string
}

// Listen starts serving device on addr (host:port).
func Listen(addr string, device *Device) (*Server, error) {
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + addr,
		Timeout:    30 * time.Second,
		MaxClients: 10,
	}, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create modbus server: %w", err)
	}
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start modbus server on %s: %w", addr, err)
	}

	device.logger.Info().Str("addr", addr).Msg("simulated device listening")
	return &Server{device: device, server: server, addr: addr}, nil
}

func (s *Server) Addr() string    { return s.addr }
func (s *Server) Device() *Device { return s.device }

func (s *Server) Close() error {
	return s.server.Stop()
}
