// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"encoding/binary"

	"github.com/sarchlab/alphasim/insts"
)

// LaneBytes returns the lane size used to view a vector register with the
// given data type. Vector512 is viewed as 64-bit integer lanes.
func LaneBytes(dt insts.DataType) int {
	switch dt {
	case insts.DataTypeI8:
		return 1
	case insts.DataTypeI16, insts.DataTypeF16:
		return 2
	case insts.DataTypeI32, insts.DataTypeF32:
		return 4
	}
	return 8
}

// NumLanes returns the lane count for the data type.
func NumLanes(dt insts.DataType) int {
	return VectorBytes / LaneBytes(dt)
}

// Lane reads lane i as raw little-endian bits.
func (v *Vector) Lane(i, size int) uint64 {
	b := v[i*size:]
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// SetLane writes the low size bytes of x into lane i.
func (v *Vector) SetLane(i, size int, x uint64) {
	b := v[i*size:]
	switch size {
	case 1:
		b[0] = byte(x)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(x))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(x))
	default:
		binary.LittleEndian.PutUint64(b, x)
	}
}

// Floats returns the lanes of v as float64 values, using dt as the lane
// format. Integer and Vector512 views fall back to F32 lanes.
func (v *Vector) Floats(dt insts.DataType) []float64 {
	dt = floatView(dt)
	size := LaneBytes(dt)
	out := make([]float64, VectorBytes/size)
	for i := range out {
		out[i] = DecodeFloat(v.Lane(i, size), dt)
	}
	return out
}

// VectorFromFloats packs xs into a vector with lane format dt. Missing
// lanes are zero.
func VectorFromFloats(xs []float64, dt insts.DataType) Vector {
	dt = floatView(dt)
	size := LaneBytes(dt)
	var v Vector
	for i := 0; i < len(xs) && i < VectorBytes/size; i++ {
		v.SetLane(i, size, EncodeFloat(xs[i], dt))
	}
	return v
}

func floatView(dt insts.DataType) insts.DataType {
	switch dt {
	case insts.DataTypeF16, insts.DataTypeF32, insts.DataTypeF64:
		return dt
	}
	return insts.DataTypeF32
}

// VectorUnit implements the lane-wise vector opcodes.
type VectorUnit struct {
	alu *ALU
	fpu *FPU
}

// NewVectorUnit creates a vector unit.
func NewVectorUnit() *VectorUnit {
	return &VectorUnit{alu: NewALU(), fpu: NewFPU()}
}

var vectorToScalar = map[insts.Op]insts.Op{
	insts.OpVADD: insts.OpADD,
	insts.OpVSUB: insts.OpSUB,
	insts.OpVMUL: insts.OpMUL,
	insts.OpVDIV: insts.OpDIV,
	insts.OpVSHL: insts.OpSHL,
	insts.OpVSHR: insts.OpSHR,
	insts.OpVROL: insts.OpROL,
	insts.OpVROR: insts.OpROR,
}

var vectorToFloat = map[insts.Op]insts.Op{
	insts.OpVADD: insts.OpFADD,
	insts.OpVSUB: insts.OpFSUB,
	insts.OpVMUL: insts.OpFMUL,
	insts.OpVDIV: insts.OpFDIV,
}

// laneInt maps a vector data type to the integer type of its lanes.
func laneInt(dt insts.DataType) insts.DataType {
	switch LaneBytes(dt) {
	case 1:
		return insts.DataTypeI8
	case 2:
		return insts.DataTypeI16
	case 4:
		return insts.DataTypeI32
	}
	return insts.DataTypeI64
}

// Binary computes a lane-wise two-operand opcode.
func (u *VectorUnit) Binary(op insts.Op, dt insts.DataType, a, b Vector) Vector {
	switch op {
	case insts.OpVAND, insts.OpVOR, insts.OpVXOR:
		return bitwise(op, a, b)
	case insts.OpVPERMUTE:
		return u.permute(dt, a, b)
	case insts.OpVSHUFFLE:
		return u.shuffle(dt, a, b)
	}

	size := LaneBytes(dt)
	n := VectorBytes / size
	var out Vector

	if fop, ok := vectorToFloat[op]; ok && dt.IsFloat() {
		for i := 0; i < n; i++ {
			x := DecodeFloat(a.Lane(i, size), dt)
			y := DecodeFloat(b.Lane(i, size), dt)
			out.SetLane(i, size, EncodeFloat(u.fpu.Binary(fop, dt, x, y), dt))
		}
		return out
	}

	sop := vectorToScalar[op]
	it := laneInt(dt)
	for i := 0; i < n; i++ {
		r, _ := u.alu.Binary(sop, it, a.Lane(i, size), b.Lane(i, size))
		out.SetLane(i, size, r)
	}
	return out
}

func bitwise(op insts.Op, a, b Vector) Vector {
	var out Vector
	for i := range out {
		switch op {
		case insts.OpVAND:
			out[i] = a[i] & b[i]
		case insts.OpVOR:
			out[i] = a[i] | b[i]
		case insts.OpVXOR:
			out[i] = a[i] ^ b[i]
		}
	}
	return out
}

// Not inverts every bit.
func (u *VectorUnit) Not(a Vector) Vector {
	for i := range a {
		a[i] = ^a[i]
	}
	return a
}

// permute sets lane i to a[b[i] mod n].
func (u *VectorUnit) permute(dt insts.DataType, a, b Vector) Vector {
	size := LaneBytes(dt)
	n := VectorBytes / size
	var out Vector
	for i := 0; i < n; i++ {
		j := int(b.Lane(i, size) % uint64(n))
		out.SetLane(i, size, a.Lane(j, size))
	}
	return out
}

// shuffle interleaves the low halves of a and b.
func (u *VectorUnit) shuffle(dt insts.DataType, a, b Vector) Vector {
	size := LaneBytes(dt)
	n := VectorBytes / size
	var out Vector
	for i := 0; i < n/2; i++ {
		out.SetLane(2*i, size, a.Lane(i, size))
		out.SetLane(2*i+1, size, b.Lane(i, size))
	}
	return out
}

// Blend takes lane i from b where lane i of mask is non-zero, else from a.
func (u *VectorUnit) Blend(dt insts.DataType, a, b, mask Vector) Vector {
	size := LaneBytes(dt)
	out := a
	for i := 0; i < VectorBytes/size; i++ {
		if mask.Lane(i, size) != 0 {
			out.SetLane(i, size, b.Lane(i, size))
		}
	}
	return out
}

// Select takes lane i from b where bit i of mask is set, else from a.
func (u *VectorUnit) Select(dt insts.DataType, a, b Vector, mask uint64) Vector {
	size := LaneBytes(dt)
	out := a
	for i := 0; i < VectorBytes/size; i++ {
		if mask&(1<<uint(i)) != 0 {
			out.SetLane(i, size, b.Lane(i, size))
		}
	}
	return out
}

// Reduce sums every lane into lane 0 and clears the rest.
func (u *VectorUnit) Reduce(dt insts.DataType, a Vector) Vector {
	return u.scan(dt, a, false)
}

// Scan computes the inclusive prefix sum of the lanes.
func (u *VectorUnit) Scan(dt insts.DataType, a Vector) Vector {
	return u.scan(dt, a, true)
}

func (u *VectorUnit) scan(dt insts.DataType, a Vector, keep bool) Vector {
	size := LaneBytes(dt)
	n := VectorBytes / size
	var out Vector

	if dt.IsFloat() {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum = Round(sum+DecodeFloat(a.Lane(i, size), dt), dt)
			if keep {
				out.SetLane(i, size, EncodeFloat(sum, dt))
			}
		}
		if !keep {
			out.SetLane(0, size, EncodeFloat(sum, dt))
		}
		return out
	}

	var sum uint64
	for i := 0; i < n; i++ {
		sum += a.Lane(i, size)
		if keep {
			out.SetLane(i, size, sum)
		}
	}
	if !keep {
		out.SetLane(0, size, sum)
	}
	return out
}
