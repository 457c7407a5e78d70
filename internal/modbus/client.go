package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/simonvetter/modbus"
)

var ErrNotConnected = errors.New("client not connected")

// Client is a Modbus TCP connection shared by every device behind one gateway.
// Calls are serialized; each call addresses the unit it was made through.
type Client struct {
	client  *modbus.ModbusClient
	mu      sync.Mutex
	host    string
	port    int
	unitID  uint8
	timeout time.Duration
	logger  zerolog.Logger
}

func NewClient(host string, port int, unitID uint8, timeout time.Duration) *Client {
	return &Client{
		host:    host,
		port:    port,
		unitID:  unitID,
		timeout: timeout,
		logger:  log.With().Str("component", "modbus").Str("host", host).Int("port", port).Logger(),
	}
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", c.host, c.port),
		Timeout: c.timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create modbus client: %w", err)
	}

	if err := client.Open(); err != nil {
		return fmt.Errorf("failed to connect to %s:%d: %w", c.host, c.port, err)
	}

	c.client = client
	c.logger.Debug().Msg("connected")

	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

func (c *Client) Reconnect() error {
	c.logger.Info().Msg("reconnecting")
	c.Close()
	return c.Connect()
}

// Unit returns a view of the connection that addresses another unit id.
func (c *Client) Unit(id uint8) *Unit {
	return &Unit{client: c, id: id}
}

func (c *Client) do(unit uint8, fn func(mc *modbus.ModbusClient) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return ErrNotConnected
	}
	if err := c.client.SetUnitId(unit); err != nil {
		return fmt.Errorf("failed to select unit %d: %w", unit, err)
	}
	return fn(c.client)
}

func (c *Client) ReadHoldingRegisters(address uint16, quantity uint16) ([]uint16, error) {
	return c.Unit(c.unitID).ReadHoldingRegisters(address, quantity)
}

func (c *Client) ReadInputRegisters(address uint16, quantity uint16) ([]uint16, error) {
	return c.Unit(c.unitID).ReadInputRegisters(address, quantity)
}

func (c *Client) WriteRegisters(address uint16, values []uint16) error {
	return c.Unit(c.unitID).WriteRegisters(address, values)
}

func (c *Client) ReadCoils(address uint16, quantity uint16) ([]bool, error) {
	return c.Unit(c.unitID).ReadCoils(address, quantity)
}

func (c *Client) WriteCoil(address uint16, value bool) error {
	return c.Unit(c.unitID).WriteCoil(address, value)
}

func (c *Client) ReadDiscreteInputs(address uint16, quantity uint16) ([]bool, error) {
	return c.Unit(c.unitID).ReadDiscreteInputs(address, quantity)
}

// Unit issues requests to a single unit id over a shared Client.
type Unit struct {
	client *Client
	id     uint8
}

func (u *Unit) ID() uint8 { return u.id }

func (u *Unit) ReadHoldingRegisters(address uint16, quantity uint16) ([]uint16, error) {
	var regs []uint16
	err := u.client.do(u.id, func(mc *modbus.ModbusClient) error {
		var err error
		regs, err = mc.ReadRegisters(address, quantity, modbus.HOLDING_REGISTER)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read holding registers at %d: %w", address, err)
	}
	return regs, nil
}

func (u *Unit) ReadInputRegisters(address uint16, quantity uint16) ([]uint16, error) {
	var regs []uint16
	err := u.client.do(u.id, func(mc *modbus.ModbusClient) error {
		var err error
		regs, err = mc.ReadRegisters(address, quantity, modbus.INPUT_REGISTER)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read input registers at %d: %w", address, err)
	}
	return regs, nil
}

func (u *Unit) WriteRegisters(address uint16, values []uint16) error {
	err := u.client.do(u.id, func(mc *modbus.ModbusClient) error {
		return mc.WriteRegisters(address, values)
	})
	if err != nil {
		return fmt.Errorf("failed to write %d registers at %d: %w", len(values), address, err)
	}
	return nil
}

func (u *Unit) WriteRegister(address uint16, value uint16) error {
	err := u.client.do(u.id, func(mc *modbus.ModbusClient) error {
		return mc.WriteRegister(address, value)
	})
	if err != nil {
		return fmt.Errorf("failed to write register at %d: %w", address, err)
	}
	return nil
}

func (u *Unit) ReadCoils(address uint16, quantity uint16) ([]bool, error) {
	var bits []bool
	err := u.client.do(u.id, func(mc *modbus.ModbusClient) error {
		var err error
		bits, err = mc.ReadCoils(address, quantity)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read coils at %d: %w", address, err)
	}
	return bits, nil
}

func (u *Unit) WriteCoil(address uint16, value bool) error {
	err := u.client.do(u.id, func(mc *modbus.ModbusClient) error {
		return mc.WriteCoil(address, value)
	})
	if err != nil {
		return fmt.Errorf("failed to write coil at %d: %w", address, err)
	}
	return nil
}

func (u *Unit) ReadDiscreteInputs(address uint16, quantity uint16) ([]bool, error) {
	var bits []bool
	err := u.client.do(u.id, func(mc *modbus.ModbusClient) error {
		var err error
		bits, err = mc.ReadDiscreteInputs(address, quantity)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read discrete inputs at %d: %w", address, err)
	}
	return bits, nil
}

func (u *Unit) ReadUint16(address uint16) (uint16, error) {
	regs, err := u.ReadHoldingRegisters(address, 1)
	if err != nil {
		return 0, err
	}
	return regs[0], nil
}

func (u *Unit) ReadInt16(address uint16) (int16, error) {
	val, err := u.ReadUint16(address)
	if err != nil {
		return 0, err
	}
	return int16(val), nil
}

func (u *Unit) ReadUint32(address uint16) (uint32, error) {
	regs, err := u.ReadHoldingRegisters(address, 2)
	if err != nil {
		return 0, err
	}
	// low word first, high word second
	return uint32(regs[0]) | uint32(regs[1])<<16, nil
}
