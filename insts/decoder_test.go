package insts_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/alphasim/insts"
)

// sampleOperands builds a legal operand list for a signature, varying the
// register numbers with seed so different instructions exercise different
// fields.
func sampleOperands(info *insts.OpInfo, seed int) []insts.Operand {
	ops := make([]insts.Operand, len(info.Signature))
	for i, spec := range info.Signature {
		switch spec.Kind {
		case insts.OperandReg:
			bank := spec.Bank
			if bank == insts.BankAny {
				bank = insts.Bank((seed + i) % int(insts.NumBanks))
			}
			reg := uint8((seed*7 + i*3) % bank.Size())
			ops[i] = insts.BankReg(bank, reg)
		case insts.OperandMem:
			ops[i] = insts.Mem(uint8((seed+i)%32), int32(seed*8-64))
		case insts.OperandImm:
			ops[i] = insts.Imm(int32(-seed*1000 + 17))
		}
	}
	return ops
}

var _ = Describe("Codec", func() {
	var (
		enc *insts.Encoder
		dec *insts.Decoder
	)

	BeforeEach(func() {
		enc = insts.NewEncoder(insts.TargetAlphaM)
		dec = insts.NewDecoder(insts.TargetAlphaM)
	})

	Describe("round trip", func() {
		It("should decode every encodable instruction back to itself", func() {
			for seed, info := range insts.All() {
				inst, err := insts.New(info.Op, insts.DataTypeInvalid, sampleOperands(info, seed)...)
				Expect(err).NotTo(HaveOccurred(), info.Name)

				word, err := enc.Encode(inst)
				Expect(err).NotTo(HaveOccurred(), info.Name)

				got, err := dec.Decode(word)
				Expect(err).NotTo(HaveOccurred(), info.Name)
				Expect(*got).To(Equal(*inst), info.Name)
			}
		})

		It("should round trip every allowed data type", func() {
			for seed, info := range insts.All() {
				for dt := insts.DataTypeI8; dt <= insts.DataTypeVector512; dt++ {
					if !info.AllowsType(dt) {
						continue
					}
					inst := insts.MustNew(info.Op, dt, sampleOperands(info, seed)...)
					buf, err := enc.EncodeBytes(nil, inst)
					Expect(err).NotTo(HaveOccurred())
					Expect(buf).To(HaveLen(inst.Size()))

					got, size, err := dec.DecodeBytes(buf)
					Expect(err).NotTo(HaveOccurred())
					Expect(size).To(Equal(inst.Size()))
					Expect(*got).To(Equal(*inst))
				}
			}
		})
	})

	Describe("layout", func() {
		// add.i64 r1, r2, r3
		// opcode=0x00 dtype=4 ext=0 A=1 B=2 C=3
		It("should place fields in the documented bits", func() {
			inst := insts.MustNew(insts.OpADD, insts.DataTypeI64,
				insts.Reg(1), insts.Reg(2), insts.Reg(3))
			word, err := enc.Encode(inst)
			Expect(err).NotTo(HaveOccurred())
			Expect(word).To(Equal(uint64(0x01882400)))
			Expect(inst.Size()).To(Equal(4))
		})

		// ld.i32 r4, [r2+8] -> ext word holds the offset
		It("should carry memory offsets in the extension word", func() {
			inst := insts.MustNew(insts.OpLD, insts.DataTypeI32,
				insts.Reg(4), insts.Mem(2, 8))
			word, err := enc.Encode(inst)
			Expect(err).NotTo(HaveOccurred())
			Expect(word >> 32).To(Equal(uint64(8)))
			Expect(word & 0x1000).NotTo(BeZero())
			Expect(inst.Size()).To(Equal(8))
			Expect(inst.String()).To(Equal("ld.i32 r4, [r2+8]"))
		})

		It("should carry xmov banks in the extension word", func() {
			inst := insts.MustNew(insts.OpXMOV, insts.DataTypeInvalid,
				insts.BankReg(insts.BankMIMD, 2), insts.BankReg(insts.BankGPR, 9))
			word, err := enc.Encode(inst)
			Expect(err).NotTo(HaveOccurred())
			Expect(word >> 32).To(Equal(uint64(insts.BankMIMD)))
			Expect(inst.String()).To(Equal("xmov m2, r9"))
		})

		It("should render negative offsets", func() {
			inst := insts.MustNew(insts.OpST, insts.DataTypeInvalid,
				insts.Reg(1), insts.Mem(30, -16))
			Expect(inst.String()).To(Equal("st r1, [r30-16]"))
		})
	})

	Describe("malformed words", func() {
		expectMalformed := func(word uint64) {
			_, err := dec.Decode(word)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, insts.ErrMalformedEncoding)).To(BeTrue(), err.Error())

			var decErr *insts.DecodeError
			Expect(errors.As(err, &decErr)).To(BeTrue())
		}

		It("should reject the all-zero word", func() {
			expectMalformed(0)
		})

		It("should reject reserved bits", func() {
			expectMalformed(0x01882400 | 1<<30)
		})

		It("should reject unknown opcodes", func() {
			expectMalformed(0x0000040F)
		})

		It("should reject a missing extension flag", func() {
			// ld.i64 r1, [r2] without ext flag
			expectMalformed(0x00080410 | 1<<13)
		})

		It("should reject a spurious extension flag", func() {
			expectMalformed(0x01882400 | 0x1000)
		})

		It("should reject float data types on integer opcodes", func() {
			expectMalformed(0x01882000 | uint64(insts.DataTypeF32)<<8)
		})

		It("should reject register indexes beyond the bank", func() {
			// rt_set_priority t12, r1: RTR bank has 8 registers
			expectMalformed(uint64(insts.OpRTSETPRIORITY) | 4<<8 | 12<<13 | 1<<18)
		})

		It("should reject unused operand fields", func() {
			// halt with field A set
			expectMalformed(uint64(insts.OpHALT) | 4<<8 | 1<<13)
		})

		It("should reject truncated byte streams", func() {
			_, _, err := dec.DecodeBytes([]byte{0x10, 0x14, 0x00})
			Expect(errors.Is(err, insts.ErrMalformedEncoding)).To(BeTrue())

			_, _, err = dec.DecodeBytes([]byte{0x10, 0x14, 0x00, 0x00})
			Expect(errors.Is(err, insts.ErrMalformedEncoding)).To(BeTrue())
		})
	})

	Describe("targets", func() {
		It("should report alpham-only opcodes as unsupported on alpha", func() {
			word, err := enc.Encode(insts.MustNew(insts.OpVADD, insts.DataTypeI32,
				insts.Reg(1), insts.Reg(2), insts.Reg(3)))
			Expect(err).NotTo(HaveOccurred())

			_, err = insts.NewDecoder(insts.TargetAlpha).Decode(word)
			Expect(errors.Is(err, insts.ErrUnsupportedInstruction)).To(BeTrue())
			Expect(errors.Is(err, insts.ErrMalformedEncoding)).To(BeFalse())
		})

		It("should refuse to encode alpham-only opcodes for alpha", func() {
			_, err := insts.NewEncoder(insts.TargetAlpha).Encode(
				insts.MustNew(insts.OpBARRIER, insts.DataTypeInvalid, insts.Reg(1)))
			Expect(errors.Is(err, insts.ErrUnsupportedInstruction)).To(BeTrue())
		})

		It("should accept legacy opcodes on alpha", func() {
			alpha := insts.NewDecoder(insts.TargetAlpha)
			inst, err := alpha.Decode(0x01882400)
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Op).To(Equal(insts.OpADD))
		})
	})

	Describe("New", func() {
		It("should fill default data types and cycle costs", func() {
			inst := insts.MustNew(insts.OpFDIV, insts.DataTypeInvalid,
				insts.Reg(1), insts.Reg(2), insts.Reg(3))
			Expect(inst.DataType).To(Equal(insts.DataTypeF64))
			Expect(inst.CycleCost).To(Equal(uint64(12)))
			Expect(inst.Category).To(Equal(insts.CategoryFloat))
			Expect(inst.Operands[0].Bank).To(Equal(insts.BankFPR))
		})

		It("should reject wrong operand counts and kinds", func() {
			_, err := insts.New(insts.OpADD, insts.DataTypeInvalid, insts.Reg(1))
			Expect(errors.Is(err, insts.ErrInvalidOperands)).To(BeTrue())

			_, err = insts.New(insts.OpLDI, insts.DataTypeInvalid, insts.Reg(1), insts.Reg(2))
			Expect(errors.Is(err, insts.ErrInvalidOperands)).To(BeTrue())
		})

		It("should reject out-of-range registers", func() {
			_, err := insts.New(insts.OpPROFILESTART, insts.DataTypeInvalid, insts.Reg(20))
			Expect(errors.Is(err, insts.ErrInvalidOperands)).To(BeTrue())
		})
	})

	Describe("Predecode", func() {
		It("should report opcode and size from the first word", func() {
			info, size := insts.Predecode(uint32(insts.OpBEQ) | 4<<8 | 0x1000)
			Expect(info.Op).To(Equal(insts.OpBEQ))
			Expect(info.Control).To(Equal(insts.ControlConditional))
			Expect(size).To(Equal(8))
		})
	})
})
