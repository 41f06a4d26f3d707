// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"math"

	"github.com/sarchlab/alphasim/insts"
)

// FPU implements the float opcodes. FPRs store binary64; the data type
// decides the precision results are rounded to.
type FPU struct{}

// NewFPU creates an FPU.
func NewFPU() *FPU {
	return &FPU{}
}

// Round rounds x to the precision of dt.
func Round(x float64, dt insts.DataType) float64 {
	switch dt {
	case insts.DataTypeF16:
		return float64(Float16ToFloat32(Float32ToFloat16(float32(x))))
	case insts.DataTypeF32:
		return float64(float32(x))
	}
	return x
}

// Binary computes a two-operand float opcode.
func (f *FPU) Binary(op insts.Op, dt insts.DataType, a, b float64) float64 {
	var r float64
	switch op {
	case insts.OpFADD:
		r = a + b
	case insts.OpFSUB:
		r = a - b
	case insts.OpFMUL:
		r = a * b
	case insts.OpFDIV:
		r = a / b
	case insts.OpFMIN:
		r = math.Min(a, b)
	case insts.OpFMAX:
		r = math.Max(a, b)
	case insts.OpPOW:
		r = math.Pow(a, b)
	}
	return Round(r, dt)
}

// Unary computes a one-operand float or scalar scientific opcode.
func (f *FPU) Unary(op insts.Op, dt insts.DataType, a float64) float64 {
	var r float64
	switch op {
	case insts.OpFSQRT:
		r = math.Sqrt(a)
	case insts.OpFABS:
		r = math.Abs(a)
	case insts.OpFNEG:
		r = -a
	case insts.OpFROUND:
		r = math.RoundToEven(a)
	case insts.OpFCEIL:
		r = math.Ceil(a)
	case insts.OpFFLOOR:
		r = math.Floor(a)
	case insts.OpFTRUNC:
		r = math.Trunc(a)
	case insts.OpSIN:
		r = math.Sin(a)
	case insts.OpCOS:
		r = math.Cos(a)
	case insts.OpTAN:
		r = math.Tan(a)
	case insts.OpEXP:
		r = math.Exp(a)
	case insts.OpLOG:
		r = math.Log(a)
	default:
		r = a
	}
	return Round(r, dt)
}

// FMA computes a*b + c with a single rounding.
func (f *FPU) FMA(dt insts.DataType, a, b, c float64) float64 {
	return Round(math.FMA(a, b, c), dt)
}

// Compare returns -1, 0 or 1, or 2 when either operand is NaN.
func (f *FPU) Compare(a, b float64) int64 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return 2
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ToInt truncates toward zero, saturating at the int64 range.
func (f *FPU) ToInt(a float64) int64 {
	switch {
	case math.IsNaN(a):
		return 0
	case a >= math.MaxInt64:
		return math.MaxInt64
	case a <= math.MinInt64:
		return math.MinInt64
	}
	return int64(a)
}

// EncodeFloat stores x in the memory representation of dt.
func EncodeFloat(x float64, dt insts.DataType) uint64 {
	switch dt {
	case insts.DataTypeF16:
		return uint64(Float32ToFloat16(float32(x)))
	case insts.DataTypeF32:
		return uint64(math.Float32bits(float32(x)))
	}
	return math.Float64bits(x)
}

// DecodeFloat reads a value in the memory representation of dt.
func DecodeFloat(raw uint64, dt insts.DataType) float64 {
	switch dt {
	case insts.DataTypeF16:
		return float64(Float16ToFloat32(uint16(raw)))
	case insts.DataTypeF32:
		return float64(math.Float32frombits(uint32(raw)))
	}
	return math.Float64frombits(raw)
}

// Float16ToFloat32 widens an IEEE binary16 value.
func Float16ToFloat32(value uint16) float32 {
	sign := uint32(value>>15) & 0x1
	exponent := uint32(value>>10) & 0x1F
	mantissa := uint32(value & 0x3FF)

	var bits uint32
	switch {
	case exponent == 0 && mantissa == 0:
		bits = sign << 31
	case exponent == 0:
		e := uint32(127 - 14)
		for mantissa&0x400 == 0 {
			mantissa <<= 1
			e--
		}
		mantissa &= 0x3FF
		bits = sign<<31 | e<<23 | mantissa<<13
	case exponent == 0x1F:
		bits = sign<<31 | 0x7F800000 | mantissa<<13
	default:
		bits = sign<<31 | (exponent+127-15)<<23 | mantissa<<13
	}
	return math.Float32frombits(bits)
}

// Float32ToFloat16 narrows to IEEE binary16, rounding to nearest even.
func Float32ToFloat16(value float32) uint16 {
	bits := math.Float32bits(value)
	sign := uint16(bits>>31) << 15
	exponent := int(bits>>23) & 0xFF
	mantissa := bits & 0x7FFFFF

	switch {
	case exponent == 0xFF:
		if mantissa == 0 {
			return sign | 0x7C00
		}
		return sign | 0x7E00
	case exponent > 142:
		return sign | 0x7C00
	case exponent < 103:
		return sign
	case exponent < 113:
		mantissa |= 0x800000
		shift := uint(126 - exponent)
		half := mantissa >> shift
		rem := mantissa & (1<<shift - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && half&1 == 1) {
			half++
		}
		return sign | uint16(half)
	}

	half := uint32(exponent-112)<<10 | mantissa>>13
	rem := mantissa & 0x1FFF
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++
	}
	return sign | uint16(half)
}
