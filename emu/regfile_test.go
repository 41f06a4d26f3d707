package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
)

var _ = Describe("RegFile", func() {
	It("should read back written scalars and vectors", func() {
		rf := emu.NewRegFile(emu.CoreNPC)

		Expect(rf.Write(insts.BankGPR, 3, emu.Scalar(42))).To(Succeed())
		v, err := rf.Read(insts.BankGPR, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Bits).To(Equal(uint64(42)))

		var vec emu.Vector
		vec[63] = 0xAB
		Expect(rf.Write(insts.BankVPR, 31, emu.Wide(vec))).To(Succeed())
		v, err = rf.Read(insts.BankVPR, 31)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Wide).To(BeTrue())
		Expect(v.Vec[63]).To(Equal(byte(0xAB)))
	})

	It("should reject out-of-range indexes", func() {
		rf := emu.NewRegFile(emu.CoreGPC)
		_, err := rf.Read(insts.BankRTR, 8)
		Expect(err).To(MatchError(emu.ErrRegisterOutOfRange))
		Expect(rf.Write(insts.BankMIMD, 16, emu.Scalar(1))).To(MatchError(emu.ErrRegisterOutOfRange))
	})

	It("should reject banks the core type does not own", func() {
		rf := emu.NewRegFile(emu.CoreHMC)
		_, err := rf.Read(insts.BankFPR, 0)
		Expect(err).To(MatchError(emu.ErrRegisterOutOfRange))
	})

	It("should reject width mismatches", func() {
		rf := emu.NewRegFile(emu.CoreVPC)
		Expect(rf.Write(insts.BankGPR, 0, emu.Wide(emu.Vector{}))).To(MatchError(emu.ErrWidthMismatch))
		Expect(rf.Write(insts.BankVPR, 0, emu.Scalar(1))).To(MatchError(emu.ErrWidthMismatch))
	})

	It("should keep banks private to each register file", func() {
		a := emu.NewRegFile(emu.CoreGPC)
		b := emu.NewRegFile(emu.CoreGPC)
		a.SetGPR(1, 99)
		Expect(b.GPR(1)).To(BeZero())

		m := a.Bank(insts.BankMIMD)
		m[0] = 7
		Expect(a.Bank(insts.BankMIMD)[0]).To(BeZero())
	})

	It("should zero everything on reset", func() {
		rf := emu.NewRegFile(emu.CoreGPC)
		rf.PC = 0x100
		rf.SetGPR(5, 5)
		rf.SetBank(insts.BankMIMD, []uint64{1, 2, 3})
		rf.Reset()
		Expect(rf.PC).To(BeZero())
		Expect(rf.GPR(5)).To(BeZero())
		Expect(rf.Bank(insts.BankMIMD)[2]).To(BeZero())
	})
})

var _ = Describe("Capability", func() {
	It("should accept every category on some core type", func() {
		for c := insts.CategoryBasic; c <= insts.CategorySystem; c++ {
			found := false
			for _, t := range emu.AlphaMLayout(emu.MaxCores) {
				if emu.CapabilityOf(t).Accepts(c) {
					found = true
				}
			}
			Expect(found).To(BeTrue(), c.String())
		}
	})

	It("should reject vector work on a GPC", func() {
		err := emu.CheckCategory(emu.CoreGPC, insts.CategoryVector)
		Expect(err).To(MatchError(emu.ErrInvalidOpcodeForCore))
		Expect(emu.CheckCategory(emu.CoreVPC, insts.CategoryVector)).To(Succeed())
	})

	It("should lay out the AlphaM chip in type order", func() {
		layout := emu.AlphaMLayout(emu.MaxCores)
		Expect(layout).To(HaveLen(64))
		Expect(layout[0]).To(Equal(emu.CoreGPC))
		Expect(layout[16]).To(Equal(emu.CoreVPC))
		Expect(layout[32]).To(Equal(emu.CoreNPC))
		Expect(layout[40]).To(Equal(emu.CoreAPC))
		Expect(layout[63]).To(Equal(emu.CoreHMC))
		Expect(emu.AlphaMLayout(3)).To(Equal([]emu.CoreType{emu.CoreGPC, emu.CoreGPC, emu.CoreGPC}))
	})

	It("should parse core type names", func() {
		t, err := emu.ParseCoreType("npc")
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(emu.CoreNPC))
		_, err = emu.ParseCoreType("tpu")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Memory", func() {
	It("should read unwritten memory as zero", func() {
		m := emu.NewMemory()
		Expect(m.Read64(0xdead0000)).To(BeZero())
	})

	It("should handle accesses across page boundaries", func() {
		m := emu.NewMemory()
		m.Write64(0xFFC, 0x1122334455667788)
		Expect(m.Read64(0xFFC)).To(Equal(uint64(0x1122334455667788)))
		Expect(m.Read32(0x1000)).To(Equal(uint32(0x11223344)))
	})
})
