// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"math/bits"

	"github.com/sarchlab/alphasim/insts"
)

// ALU implements the integer basic and arithmetic opcodes. Results are
// truncated to the data type width and sign-extended to 64 bits.
type ALU struct{}

// NewALU creates an ALU.
func NewALU() *ALU {
	return &ALU{}
}

// SignExtend truncates v to the width of dt and sign-extends it.
func SignExtend(v uint64, dt insts.DataType) uint64 {
	switch dt {
	case insts.DataTypeI8:
		return uint64(int64(int8(v)))
	case insts.DataTypeI16:
		return uint64(int64(int16(v)))
	case insts.DataTypeI32:
		return uint64(int64(int32(v)))
	}
	return v
}

func zeroExtend(v uint64, dt insts.DataType) uint64 {
	w := uint(dt.Bytes() * 8)
	if w >= 64 {
		return v
	}
	return v & (1<<w - 1)
}

// Binary computes a two-operand integer opcode. ok is false when the
// destination must stay unchanged (division by zero).
func (a *ALU) Binary(op insts.Op, dt insts.DataType, x, y uint64) (result uint64, ok bool) {
	w := uint(dt.Bytes() * 8)
	x, y = SignExtend(x, dt), SignExtend(y, dt)
	sh := uint(y) % w

	switch op {
	case insts.OpADD:
		result = x + y
	case insts.OpSUB:
		result = x - y
	case insts.OpMUL:
		result = x * y
	case insts.OpDIV:
		if y == 0 {
			return 0, false
		}
		result = uint64(int64(x) / int64(y))
	case insts.OpMOD:
		if y == 0 {
			return 0, false
		}
		result = uint64(int64(x) % int64(y))
	case insts.OpAND:
		result = x & y
	case insts.OpOR:
		result = x | y
	case insts.OpXOR:
		result = x ^ y
	case insts.OpSHL:
		result = x << sh
	case insts.OpSHR:
		result = zeroExtend(x, dt) >> sh
	case insts.OpSAR:
		result = uint64(int64(x) >> sh)
	case insts.OpROL:
		result = rotate(zeroExtend(x, dt), int(sh), w)
	case insts.OpROR:
		result = rotate(zeroExtend(x, dt), -int(sh), w)
	default:
		return 0, false
	}
	return SignExtend(result, dt), true
}

// Unary computes not and mov.
func (a *ALU) Unary(op insts.Op, dt insts.DataType, x uint64) uint64 {
	switch op {
	case insts.OpNOT:
		return SignExtend(^x, dt)
	default:
		return SignExtend(x, dt)
	}
}

func rotate(v uint64, k int, w uint) uint64 {
	if w == 64 {
		return bits.RotateLeft64(v, k)
	}
	k %= int(w)
	if k < 0 {
		k += int(w)
	}
	mask := uint64(1)<<w - 1
	return (v<<uint(k) | v>>(w-uint(k))) & mask
}
