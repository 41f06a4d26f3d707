package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
)

var _ = Describe("ALU", func() {
	var alu *emu.ALU

	BeforeEach(func() {
		alu = emu.NewALU()
	})

	It("should add 64-bit values", func() {
		v, ok := alu.Binary(insts.OpADD, insts.DataTypeI64, 5, 7)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(uint64(12)))
	})

	It("should truncate and sign-extend 8-bit results", func() {
		// 0x7F + 1 wraps to -128
		v, _ := alu.Binary(insts.OpADD, insts.DataTypeI8, 0x7F, 1)
		Expect(int64(v)).To(Equal(int64(-128)))
	})

	It("should treat 32-bit operands as signed", func() {
		v, _ := alu.Binary(insts.OpDIV, insts.DataTypeI32, 0xFFFFFFF6, 2) // -10 / 2
		Expect(int64(v)).To(Equal(int64(-5)))
	})

	It("should leave the destination unchanged on division by zero", func() {
		_, ok := alu.Binary(insts.OpDIV, insts.DataTypeI64, 10, 0)
		Expect(ok).To(BeFalse())
		_, ok = alu.Binary(insts.OpMOD, insts.DataTypeI64, 10, 0)
		Expect(ok).To(BeFalse())
	})

	It("should compute signed modulo", func() {
		v, _ := alu.Binary(insts.OpMOD, insts.DataTypeI64, ^uint64(7)+1, 3)
		Expect(int64(v)).To(Equal(int64(-1)))
	})

	It("should take shift amounts modulo the width", func() {
		v, _ := alu.Binary(insts.OpSHL, insts.DataTypeI64, 1, 65)
		Expect(v).To(Equal(uint64(2)))
		v, _ = alu.Binary(insts.OpSHL, insts.DataTypeI16, 1, 17)
		Expect(v).To(Equal(uint64(2)))
	})

	It("should distinguish logical and arithmetic right shifts", func() {
		v, _ := alu.Binary(insts.OpSHR, insts.DataTypeI8, 0x80, 1)
		Expect(v).To(Equal(uint64(0x40)))
		v, _ = alu.Binary(insts.OpSAR, insts.DataTypeI8, 0x80, 1)
		Expect(int64(v)).To(Equal(int64(-64)))
	})

	It("should rotate within the data type width", func() {
		v, _ := alu.Binary(insts.OpROL, insts.DataTypeI8, 0x81, 1)
		Expect(v).To(Equal(uint64(0x03)))
		v, _ = alu.Binary(insts.OpROR, insts.DataTypeI8, 0x03, 1)
		Expect(int64(v)).To(Equal(int64(int8(-127)))) // 0x81
		v, _ = alu.Binary(insts.OpROR, insts.DataTypeI64, 1, 1)
		Expect(v).To(Equal(uint64(1) << 63))
	})

	It("should compute not and mov", func() {
		Expect(alu.Unary(insts.OpNOT, insts.DataTypeI64, 0)).To(Equal(^uint64(0)))
		Expect(alu.Unary(insts.OpMOV, insts.DataTypeI16, 0x12345678)).To(Equal(uint64(0x5678)))
	})
})

var _ = Describe("FPU", func() {
	var fpu *emu.FPU

	BeforeEach(func() {
		fpu = emu.NewFPU()
	})

	It("should round results to the data type", func() {
		x := fpu.Binary(insts.OpFDIV, insts.DataTypeF32, 1, 3)
		Expect(x).To(Equal(float64(float32(1.0 / 3))))
		Expect(fpu.Binary(insts.OpFDIV, insts.DataTypeF64, 1, 3)).To(Equal(1.0 / 3))
	})

	It("should compare with a NaN result of 2", func() {
		Expect(fpu.Compare(1, 2)).To(Equal(int64(-1)))
		Expect(fpu.Compare(2, 2)).To(Equal(int64(0)))
		Expect(fpu.Compare(3, 2)).To(Equal(int64(1)))
		Expect(fpu.Compare(emu.DecodeFloat(0x7FF8000000000001, insts.DataTypeF64), 2)).To(Equal(int64(2)))
	})

	It("should fuse multiply-add", func() {
		Expect(fpu.FMA(insts.DataTypeF64, 2, 3, 1)).To(Equal(7.0))
	})

	It("should saturate float to int conversion", func() {
		Expect(fpu.ToInt(-2.9)).To(Equal(int64(-2)))
		Expect(fpu.ToInt(1e30)).To(Equal(int64(9223372036854775807)))
	})

	Describe("half precision", func() {
		It("should convert normal values exactly", func() {
			Expect(emu.Float32ToFloat16(1.0)).To(Equal(uint16(0x3C00)))
			Expect(emu.Float32ToFloat16(-2.0)).To(Equal(uint16(0xC000)))
			Expect(emu.Float16ToFloat32(0x3555)).To(BeNumerically("~", 0.333, 1e-3))
		})

		It("should handle subnormals", func() {
			smallest := emu.Float16ToFloat32(0x0001)
			Expect(smallest).To(Equal(float32(5.9604645e-08)))
			Expect(emu.Float32ToFloat16(smallest)).To(Equal(uint16(0x0001)))
			Expect(emu.Float32ToFloat16(emu.Float16ToFloat32(0x03FF))).To(Equal(uint16(0x03FF)))
		})

		It("should overflow to infinity and keep NaN", func() {
			Expect(emu.Float32ToFloat16(1e6)).To(Equal(uint16(0x7C00)))
			Expect(emu.Float16ToFloat32(0x7E00)).To(BeNaN())
		})

		It("should round to nearest even", func() {
			// 2049 lies halfway between 2048 and 2050 in binary16.
			Expect(emu.Float16ToFloat32(emu.Float32ToFloat16(2049))).To(Equal(float32(2048)))
			Expect(emu.Float16ToFloat32(emu.Float32ToFloat16(2051))).To(Equal(float32(2052)))
		})
	})
})
