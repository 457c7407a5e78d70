package api

import (
	"context"
	"fmt"
	"time"

	"gridcon-pcs/internal/gridcon"
	"gridcon-pcs/internal/modbus"
)

// ModbusDeviceTester opens a separate connection to the requested address
// and reads the CCU status block once.
func ModbusDeviceTester(ctx context.Context, req DeviceConfigRequest) error {
	client := modbus.NewClient(req.Host, req.Port, req.UnitID, time.Duration(req.TimeoutSeconds)*time.Second)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer client.Close()

	if err := ctx.Err(); err != nil {
		return err
	}

	count := gridcon.InverterCount(req.InverterCount)
	if count == 0 {
		count = gridcon.InverterCountOne
	}
	pcs := gridcon.NewPcs(client, gridcon.Settings{InverterCount: count, EnableIpu1: true})
	return pcs.TestConnection()
}
