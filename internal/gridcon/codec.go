package gridcon

import "math"

// Multi-register values on the Gridcon are transferred least significant word first.

// PutUint32 stores v into regs[off] (low word) and regs[off+1] (high word).
func PutUint32(regs []uint16, off int, v uint32) {
	regs[off] = uint16(v & 0xFFFF)
	regs[off+1] = uint16(v >> 16)
}

// Uint32 reads a low-word-first value from regs[off:off+2].
func Uint32(regs []uint16, off int) uint32 {
	return uint32(regs[off]) | uint32(regs[off+1])<<16
}

// PutFloat32 stores the IEEE-754 bits of v, low word first.
func PutFloat32(regs []uint16, off int, v float32) {
	PutUint32(regs, off, math.Float32bits(v))
}

// Float32 reads an IEEE-754 value stored low word first.
func Float32(regs []uint16, off int) float32 {
	return math.Float32frombits(Uint32(regs, off))
}

func setBit(word uint16, bit uint, on bool) uint16 {
	if on {
		return word | 1<<bit
	}
	return word &^ (1 << bit)
}

func testBit(word uint16, bit uint) bool {
	return word&(1<<bit) != 0
}

// putBits writes a small field of width bits starting at bit.
func putBits(word uint16, bit, width uint, v uint16) uint16 {
	mask := uint16(1<<width-1) << bit
	return word&^mask | (v<<bit)&mask
}

func getBits(word uint16, bit, width uint) uint16 {
	return word >> bit & (1<<width - 1)
}
