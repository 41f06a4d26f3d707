package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/timing/latency"
)

var _ = Describe("Latency", func() {
	var table *latency.Table

	BeforeEach(func() {
		table = latency.NewTable()
	})

	Describe("Default Timing Values", func() {
		It("should take costs from the opcode table", func() {
			Expect(table.GetLatency(insts.MustNew(insts.OpADD, 0, insts.Reg(1), insts.Reg(2), insts.Reg(3)))).
				To(Equal(uint64(1)))
			Expect(table.GetLatency(insts.MustNew(insts.OpMUL, 0, insts.Reg(1), insts.Reg(2), insts.Reg(3)))).
				To(Equal(uint64(3)))
			Expect(table.GetLatency(insts.MustNew(insts.OpDIV, 0, insts.Reg(1), insts.Reg(2), insts.Reg(3)))).
				To(Equal(uint64(10)))
			Expect(table.GetLatency(insts.MustNew(insts.OpLD, 0, insts.Reg(1), insts.Mem(2, 0)))).
				To(Equal(uint64(2)))
			Expect(table.GetLatency(insts.MustNew(insts.OpFDIV, 0, insts.Reg(1), insts.Reg(2), insts.Reg(3)))).
				To(Equal(uint64(12)))
			Expect(table.GetLatency(insts.MustNew(insts.OpSYSCALL, 0))).To(Equal(uint64(10)))
		})

		It("should have the default misprediction penalty", func() {
			Expect(table.MispredictPenalty()).To(Equal(uint64(4)))
		})

		It("should scale energy by the config", func() {
			config := latency.DefaultTimingConfig()
			config.EnergyScale = 2
			scaled := latency.NewTableWithConfig(config)

			Expect(scaled.Energy(insts.OpMUL)).To(BeNumerically("~", 2*table.Energy(insts.OpMUL), 1e-12))
			Expect(table.Energy(insts.OpDIV)).To(BeNumerically(">", table.Energy(insts.OpADD)))
		})
	})

	Describe("Classification", func() {
		It("should classify memory operations", func() {
			Expect(table.IsMemoryOp(insts.MustNew(insts.OpST, 0, insts.Reg(1), insts.Mem(2, 8)))).To(BeTrue())
			Expect(table.IsMemoryOp(insts.MustNew(insts.OpVLD, 0, insts.Reg(1), insts.Mem(2, 0)))).To(BeTrue())
			Expect(table.IsMemoryOp(insts.MustNew(insts.OpADD, 0, insts.Reg(1), insts.Reg(2), insts.Reg(3)))).To(BeFalse())
		})

		It("should classify branches", func() {
			Expect(table.IsBranchOp(insts.MustNew(insts.OpBEQ, 0, insts.Reg(1), insts.Reg(2), insts.Imm(8)))).To(BeTrue())
			Expect(table.IsBranchOp(insts.MustNew(insts.OpRET, 0))).To(BeTrue())
			Expect(table.IsBranchOp(insts.MustNew(insts.OpHALT, 0))).To(BeFalse())
		})
	})

	Describe("Nil Instruction Handling", func() {
		It("should return 1 for nil instruction", func() {
			Expect(table.GetLatency(nil)).To(Equal(uint64(1)))
		})

		It("should return false for nil instruction checks", func() {
			Expect(table.IsMemoryOp(nil)).To(BeFalse())
			Expect(table.IsBranchOp(nil)).To(BeFalse())
		})
	})

	Describe("Custom Configuration", func() {
		It("should use cycle cost overrides", func() {
			config := latency.DefaultTimingConfig()
			config.CycleCosts = map[string]uint64{"add": 2, "ld": 8}
			customTable := latency.NewTableWithConfig(config)

			add := insts.MustNew(insts.OpADD, 0, insts.Reg(1), insts.Reg(2), insts.Reg(3))
			ld := insts.MustNew(insts.OpLD, 0, insts.Reg(1), insts.Mem(2, 0))
			sub := insts.MustNew(insts.OpSUB, 0, insts.Reg(1), insts.Reg(2), insts.Reg(3))

			Expect(customTable.GetLatency(add)).To(Equal(uint64(2)))
			Expect(customTable.GetLatency(ld)).To(Equal(uint64(8)))
			Expect(customTable.GetLatency(sub)).To(Equal(uint64(1)))
		})
	})
})

var _ = Describe("TimingConfig", func() {
	Describe("Default Config", func() {
		It("should create valid default config", func() {
			config := latency.DefaultTimingConfig()
			Expect(config.Validate()).To(Succeed())
			Expect(config.ClockGHz).To(Equal(2.0))
		})
	})

	Describe("Validation", func() {
		It("should reject a zero clock", func() {
			config := latency.DefaultTimingConfig()
			config.ClockGHz = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject negative energy values", func() {
			config := latency.DefaultTimingConfig()
			config.StaticEnergy = -1
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject unknown opcodes in overrides", func() {
			config := latency.DefaultTimingConfig()
			config.CycleCosts = map[string]uint64{"frobnicate": 3}
			Expect(config.Validate()).To(MatchError(ContainSubstring("frobnicate")))
		})

		It("should reject zero-cost overrides", func() {
			config := latency.DefaultTimingConfig()
			config.CycleCosts = map[string]uint64{"add": 0}
			Expect(config.Validate()).To(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("should create independent copy", func() {
			original := latency.DefaultTimingConfig()
			original.CycleCosts = map[string]uint64{"mul": 5}
			clone := original.Clone()

			clone.MispredictPenalty = 100
			clone.CycleCosts["mul"] = 7

			Expect(original.MispredictPenalty).To(Equal(uint64(4)))
			Expect(original.CycleCosts["mul"]).To(Equal(uint64(5)))
			Expect(clone.MispredictPenalty).To(Equal(uint64(100)))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "latency-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load JSON config", func() {
			original := latency.DefaultTimingConfig()
			original.MispredictPenalty = 9
			original.CycleCosts = map[string]uint64{"vadd": 3}

			path := filepath.Join(tempDir, "timing.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(original))
		})

		It("should save and load YAML config", func() {
			original := latency.DefaultTimingConfig()
			original.ClockGHz = 3.5

			path := filepath.Join(tempDir, "timing.yaml")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.ClockGHz).To(Equal(3.5))
		})

		It("should keep defaults for missing YAML fields", func() {
			path := filepath.Join(tempDir, "partial.yml")
			Expect(os.WriteFile(path, []byte("mispredict_penalty: 2\n"), 0644)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.MispredictPenalty).To(Equal(uint64(2)))
			Expect(loaded.ClockGHz).To(Equal(2.0))
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig("/nonexistent/path/timing.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			err := os.WriteFile(path, []byte("not valid json"), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
