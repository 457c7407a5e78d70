package gridcon

import (
	"errors"
	"fmt"
)

var (
	// ErrValueOutOfRange is returned when a set-point cannot be represented by the device.
	ErrValueOutOfRange = errors.New("value out of range")

	ErrShortBlock = errors.New("short register block")

	// ErrIncompleteStatus is returned with a status whose CCU block was read
	// but some of the IPU or DC/DC blocks were not.
	ErrIncompleteStatus = errors.New("incomplete status")
)

func shortBlockError(block string, want, got int) error {
	return fmt.Errorf("%s: want %d registers, got %d: %w", block, want, got, ErrShortBlock)
}
