package pipeline_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/mimd"
	"github.com/sarchlab/alphasim/simctx"
	"github.com/sarchlab/alphasim/timing/cache"
	"github.com/sarchlab/alphasim/timing/latency"
	"github.com/sarchlab/alphasim/timing/pipeline"
)

// flatMemory answers every access with a fixed latency.
type flatMemory struct {
	mem         *emu.Memory
	loadLatency uint64
}

func (m *flatMemory) Fetch(_ *simctx.Context, addr uint64, width int) ([]byte, uint64) {
	return m.mem.ReadBytes(addr, width), 1
}

func (m *flatMemory) Load(_ *simctx.Context, addr uint64, width int) ([]byte, uint64) {
	return m.mem.ReadBytes(addr, width), m.loadLatency
}

func (m *flatMemory) Store(_ *simctx.Context, addr uint64, data []byte) uint64 {
	m.mem.Write(addr, data)
	return 1
}

type retireHook struct {
	retired []pipeline.RetireEvent
	flushes int
}

func (h *retireHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case pipeline.HookPosRetire:
		h.retired = append(h.retired, ctx.Item.(pipeline.RetireEvent))
	case pipeline.HookPosFlush:
		h.flushes++
	}
}

type fakeCoordinator struct {
	spawnErr error
	arrivals []mimd.Request
}

func (c *fakeCoordinator) Spawn(*simctx.Context, int, uint64) (int, error) {
	return 3, c.spawnErr
}

func (c *fakeCoordinator) Join(*simctx.Context, int, int) (bool, error) {
	return true, nil
}

func (c *fakeCoordinator) Arrive(_ *simctx.Context, req mimd.Request) error {
	c.arrivals = append(c.arrivals, req)
	return nil
}

var _ = Describe("Pipeline", func() {
	var (
		ctx    *simctx.Context
		memory *emu.Memory
		regs   *emu.RegFile
		h      *cache.Hierarchy
		pipe   *pipeline.Pipeline
		hook   *retireHook
	)

	build := func(opts ...pipeline.PipelineOption) {
		pipe = pipeline.NewPipeline(regs, h, opts...)
		hook = &retireHook{}
		pipe.AcceptHook(hook)
	}

	load := func(program ...*insts.Instruction) {
		memory.Write(0x1000, encode(program...))
		pipe.SetPC(0x1000)
	}

	conserved := func() {
		s := pipe.Stats()
		Expect(s.Fetched).To(Equal(s.Retired+pipe.InFlight()+s.Squashed),
			"conservation broken at cycle %d", ctx.Cycle)
	}

	run := func(limit uint64) error {
		for ctx.Cycle = 0; ctx.Cycle < limit && !pipe.Halted(); ctx.Cycle++ {
			if err := pipe.Tick(ctx); err != nil {
				return err
			}
			conserved()
		}
		return nil
	}

	BeforeEach(func() {
		ctx = simctx.New()
		memory = emu.NewMemory()
		regs = emu.NewRegFile(emu.CoreGPC)
		var err error
		h, err = cache.NewHierarchy(fastConfig(), cache.NewMemoryBacking(memory))
		Expect(err).NotTo(HaveOccurred())
		build()
	})

	Describe("a single add", func() {
		BeforeEach(func() {
			regs.SetGPR(2, 5)
			regs.SetGPR(3, 7)
		})

		It("should retire within ten cycles on an 8-stage pipeline", func() {
			load(
				insts.MustNew(insts.OpADD, 0, r(1), r(2), r(3)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())

			Expect(regs.GPR(1)).To(Equal(uint64(12)))
			Expect(pipe.Stats().Retired).To(Equal(uint64(1)))
			Expect(hook.retired).To(HaveLen(1))
			Expect(hook.retired[0].Cycle).To(Equal(uint64(9)))
			Expect(hook.retired[0].Inst.Op).To(Equal(insts.OpADD))
		})

		It("should retire earlier on a 6-stage pipeline", func() {
			build(pipeline.WithConfig(pipeline.Config{Depth: 6}))
			load(
				insts.MustNew(insts.OpADD, 0, r(1), r(2), r(3)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())
			Expect(hook.retired[0].Cycle).To(Equal(uint64(7)))
		})
	})

	Describe("control flow", func() {
		It("should run a counted loop and keep instructions conserved", func() {
			load(
				insts.MustNew(insts.OpLDI, 0, r(2), insts.Imm(10)),
				insts.MustNew(insts.OpLDI, 0, r(3), insts.Imm(2)),
				insts.MustNew(insts.OpLDI, 0, r(4), insts.Imm(1)),
				insts.MustNew(insts.OpADD, 0, r(1), r(1), r(3)),
				insts.MustNew(insts.OpSUB, 0, r(2), r(2), r(4)),
				insts.MustNew(insts.OpBNE, 0, r(2), r(0), insts.Imm(-8)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(2000)).To(Succeed())

			Expect(pipe.Halted()).To(BeTrue())
			Expect(regs.GPR(1)).To(Equal(uint64(20)))

			s := pipe.Stats()
			Expect(s.Retired).To(Equal(uint64(3 + 3*10)))
			Expect(s.BranchPredictions).To(Equal(uint64(10)))
			Expect(s.BranchCorrect + s.BranchMispredictions).To(Equal(uint64(10)))
			Expect(s.BranchMispredictions).To(BeNumerically(">=", 1))
			Expect(s.Flushes).To(Equal(s.BranchMispredictions))
			Expect(hook.flushes).To(Equal(int(s.Flushes)))
			Expect(pipe.InFlight()).To(BeZero())
		})

		It("should call and return through the link register", func() {
			load(
				insts.MustNew(insts.OpBL, 0, insts.Imm(16)),
				insts.MustNew(insts.OpHALT, 0),
				insts.MustNew(insts.OpNOP, 0),
				insts.MustNew(insts.OpLDI, 0, r(5), insts.Imm(9)),
				insts.MustNew(insts.OpRET, 0),
			)
			Expect(run(1000)).To(Succeed())
			Expect(regs.GPR(5)).To(Equal(uint64(9)))
			Expect(pipe.Stats().Retired).To(Equal(uint64(3)))
		})

		It("should predict the return from the return stack", func() {
			load(
				insts.MustNew(insts.OpBL, 0, insts.Imm(16)),
				insts.MustNew(insts.OpHALT, 0),
				insts.MustNew(insts.OpNOP, 0),
				insts.MustNew(insts.OpLDI, 0, r(5), insts.Imm(9)),
				insts.MustNew(insts.OpRET, 0),
			)
			Expect(run(1000)).To(Succeed())

			s := pipe.Stats()
			Expect(s.BranchPredictions).To(Equal(uint64(2)))
			Expect(s.BranchMispredictions).To(Equal(uint64(1)))
			Expect(pipe.Predictor().Stats().RASPops).To(BeNumerically(">=", 1))
		})
	})

	Describe("halt", func() {
		It("should not retire the halt or anything after it", func() {
			load(
				insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(1)),
				insts.MustNew(insts.OpHALT, 0),
				insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(2)),
			)
			Expect(run(100)).To(Succeed())

			Expect(pipe.Halted()).To(BeTrue())
			Expect(regs.GPR(1)).To(Equal(uint64(1)))
			Expect(pipe.Stats().Retired).To(Equal(uint64(1)))
			Expect(pipe.Stats().Squashed).To(BeNumerically(">=", 1))
		})

		It("should halt with the exit code of the exit syscall", func() {
			load(
				insts.MustNew(insts.OpLDI, 0, r(0), insts.Imm(0)),
				insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(3)),
				insts.MustNew(insts.OpSYSCALL, 0),
			)
			Expect(run(100)).To(Succeed())
			Expect(pipe.ExitCode()).To(Equal(int64(3)))
		})
	})

	Describe("memory", func() {
		It("should store and load through the hierarchy", func() {
			load(
				insts.MustNew(insts.OpLDI, 0, r(2), insts.Imm(0x4000)),
				insts.MustNew(insts.OpLDI, 0, r(3), insts.Imm(-2)),
				insts.MustNew(insts.OpST, insts.DataTypeI16, r(3), insts.Mem(2, 8)),
				insts.MustNew(insts.OpLD, insts.DataTypeI16, r(4), insts.Mem(2, 8)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(1000)).To(Succeed())
			Expect(int64(regs.GPR(4))).To(Equal(int64(-2)))
			Expect(h.Peek(0x4008, 2)).To(Equal([]byte{0xFE, 0xFF}))
			Expect(h.Level("l1d").Stats().Misses).To(BeNumerically(">=", 1))
		})
	})

	Describe("errors", func() {
		It("should drop instructions the core cannot execute and report them", func() {
			load(
				insts.MustNew(insts.OpVADD, 0, r(1), r(2), r(3)),
				insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(1)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())

			Expect(regs.GPR(1)).To(Equal(uint64(1)))
			Expect(pipe.Stats().Dropped).To(Equal(uint64(1)))
			Expect(ctx.Errors()).To(HaveLen(1))
			Expect(ctx.Errors()[0].PC).To(Equal(uint64(0x1000)))
			Expect(ctx.Errors()[0]).To(MatchError(emu.ErrInvalidOpcodeForCore))
		})

		It("should fail the run on an undecodable word", func() {
			memory.Write(0x1000, []byte{0xFF, 0x01, 0, 0})
			pipe.SetPC(0x1000)

			err := run(100)
			var simErr *simctx.SimError
			Expect(errors.As(err, &simErr)).To(BeTrue())
			Expect(simErr.PC).To(Equal(uint64(0x1000)))
			Expect(err).To(MatchError(insts.ErrMalformedEncoding))
		})

		It("should skip undecodable words when configured", func() {
			build(pipeline.WithSkipInvalid(true))
			memory.Write(0x1000, append([]byte{0xFF, 0x01, 0, 0}, encode(insts.MustNew(insts.OpHALT, 0))...))
			pipe.SetPC(0x1000)

			Expect(run(100)).To(Succeed())
			Expect(pipe.Halted()).To(BeTrue())
			Expect(ctx.Errors()).To(HaveLen(1))
		})

		It("should need a coordinator for collectives", func() {
			load(insts.MustNew(insts.OpBARRIER, 0, r(1)))
			Expect(run(100)).To(MatchError(emu.ErrMultiCore))
		})
	})

	Describe("MIMD operations", func() {
		var coord *fakeCoordinator

		BeforeEach(func() {
			coord = &fakeCoordinator{}
			build(pipeline.WithCoordinator(coord), pipeline.WithCoreID(1))
		})

		It("should write the spawned core id", func() {
			load(
				insts.MustNew(insts.OpSPAWN, 0, r(1), insts.Imm(64)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())
			Expect(regs.GPR(1)).To(Equal(uint64(3)))
		})

		It("should write all ones and report when no core is idle", func() {
			coord.spawnErr = mimd.ErrNoIdleCore
			load(
				insts.MustNew(insts.OpSPAWN, 0, r(1), insts.Imm(64)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())
			Expect(regs.GPR(1)).To(Equal(^uint64(0)))
			Expect(ctx.Errors()).To(HaveLen(1))
			Expect(ctx.Errors()[0].CoreID).To(Equal(1))
		})

		It("should hand collectives to the coordinator", func() {
			regs.SetGPR(4, 0b11)
			load(
				insts.MustNew(insts.OpBARRIER, 0, r(4)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())
			Expect(coord.arrivals).To(HaveLen(1))
			Expect(coord.arrivals[0].Core).To(Equal(1))
			Expect(coord.arrivals[0].Mask).To(Equal(uint64(0b11)))
		})
	})

	// With one-cycle fetches an instruction fetched at cycle c enters
	// Execute at c+5 on the 8-stage pipeline and retires at
	// execute + occupancy + 2.
	Describe("stalls", func() {
		var flat *flatMemory

		retireCycles := func() []uint64 {
			var out []uint64
			for _, e := range hook.retired {
				out = append(out, e.Cycle)
			}
			return out
		}

		buildFlat := func(opts ...pipeline.PipelineOption) {
			pipe = pipeline.NewPipeline(regs, flat, opts...)
			hook = &retireHook{}
			pipe.AcceptHook(hook)
		}

		BeforeEach(func() {
			flat = &flatMemory{mem: memory, loadLatency: 1}
			buildFlat()
		})

		It("should retire a lone add at cycle 8", func() {
			load(
				insts.MustNew(insts.OpADD, 0, r(1), r(2), r(3)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())
			Expect(retireCycles()).To(Equal([]uint64{8}))
		})

		It("should hold Execute for the cycle cost of fdiv", func() {
			Expect(regs.Write(insts.BankFPR, 2, emu.Scalar(math.Float64bits(6)))).To(Succeed())
			Expect(regs.Write(insts.BankFPR, 3, emu.Scalar(math.Float64bits(3)))).To(Succeed())
			load(
				insts.MustNew(insts.OpFDIV, 0, r(1), r(2), r(3)),
				insts.MustNew(insts.OpADD, 0, r(4), r(5), r(6)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())

			// fdiv enters Execute at 5 and leaves at 17; the add behind
			// it enters Execute at 17.
			Expect(retireCycles()).To(Equal([]uint64{19, 20}))
			f1, err := regs.Read(insts.BankFPR, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(math.Float64frombits(f1.Bits)).To(Equal(2.0))
		})

		It("should block Execute on the latency a load returns", func() {
			flat.loadLatency = 20
			memory.Write64(0x4000, 21)
			regs.SetGPR(2, 0x4000)
			load(
				insts.MustNew(insts.OpLD, 0, r(1), insts.Mem(2, 0)),
				insts.MustNew(insts.OpADD, 0, r(3), r(1), r(1)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())

			Expect(retireCycles()).To(Equal([]uint64{27, 28}))
			Expect(regs.GPR(3)).To(Equal(uint64(42)))
		})

		It("should use the cycle cost when it exceeds the load latency", func() {
			flat.loadLatency = 1
			table := latency.NewTableWithConfig(&latency.TimingConfig{
				MispredictPenalty: 4,
				CycleCosts:        map[string]uint64{"ld": 6},
			})
			buildFlat(pipeline.WithLatencyTable(table))
			regs.SetGPR(2, 0x4000)
			load(
				insts.MustNew(insts.OpLD, 0, r(1), insts.Mem(2, 0)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())
			Expect(retireCycles()).To(Equal([]uint64{13}))
		})

		DescribeTable("should freeze Fetch for the mispredict penalty",
			func(penalty, targetRetire uint64) {
				config := latency.DefaultTimingConfig()
				config.MispredictPenalty = penalty
				buildFlat(pipeline.WithLatencyTable(latency.NewTableWithConfig(config)))

				brSize := int32(len(encode(insts.MustNew(insts.OpBR, 0, insts.Imm(0)))))
				ldiSize := int32(len(encode(insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(1)))))
				load(
					insts.MustNew(insts.OpBR, 0, insts.Imm(brSize+ldiSize)),
					insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(1)),
					insts.MustNew(insts.OpLDI, 0, r(2), insts.Imm(2)),
					insts.MustNew(insts.OpHALT, 0),
				)
				Expect(run(100)).To(Succeed())

				// The cold predictor falls through; br resolves in Execute
				// at cycle 5 and the target is fetched at 5+penalty.
				Expect(retireCycles()).To(Equal([]uint64{8, targetRetire}))
				Expect(regs.GPR(1)).To(BeZero())
				Expect(regs.GPR(2)).To(Equal(uint64(2)))

				s := pipe.Stats()
				Expect(s.BranchMispredictions).To(Equal(uint64(1)))
				Expect(s.Flushes).To(Equal(uint64(1)))
			},
			Entry("with no penalty", uint64(0), uint64(13)),
			Entry("with the default penalty", uint64(4), uint64(17)),
			Entry("with a long penalty", uint64(10), uint64(23)),
		)

		DescribeTable("should drop bad register accesses without stopping",
			func(src insts.Operand, sentinel error) {
				regs = emu.NewRegFile(emu.CoreVPC)
				buildFlat()
				load(
					insts.MustNew(insts.OpXMOV, 0, insts.BankReg(insts.BankGPR, 1), src),
					insts.MustNew(insts.OpLDI, 0, r(2), insts.Imm(7)),
					insts.MustNew(insts.OpHALT, 0),
				)
				Expect(run(100)).To(Succeed())

				// The dropped xmov frees Execute at once, so ldi enters
				// it at cycle 6 as if xmov had taken a single cycle.
				Expect(retireCycles()).To(Equal([]uint64{9}))
				Expect(hook.retired[0].Inst.Op).To(Equal(insts.OpLDI))
				Expect(regs.GPR(1)).To(BeZero())
				Expect(regs.GPR(2)).To(Equal(uint64(7)))
				Expect(pipe.Halted()).To(BeTrue())
				Expect(pipe.ExitCode()).To(BeZero())

				s := pipe.Stats()
				Expect(s.Dropped).To(Equal(uint64(1)))
				Expect(s.Flushes).To(BeZero())
				Expect(ctx.Errors()).To(HaveLen(1))
				Expect(ctx.Errors()[0].PC).To(Equal(uint64(0x1000)))
				Expect(ctx.Errors()[0]).To(MatchError(sentinel))
			},
			Entry("a vector value into a scalar register",
				insts.BankReg(insts.BankVPR, 0), emu.ErrWidthMismatch),
			Entry("a bank the core does not have",
				insts.BankReg(insts.BankAIR, 0), emu.ErrRegisterOutOfRange),
		)
	})

	Describe("Restart", func() {
		It("should empty the pipeline but keep statistics", func() {
			load(
				insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(1)),
				insts.MustNew(insts.OpHALT, 0),
			)
			Expect(run(100)).To(Succeed())
			before := pipe.Stats()

			pipe.Restart()
			Expect(pipe.Halted()).To(BeFalse())
			Expect(pipe.InFlight()).To(BeZero())
			Expect(pipe.Stats()).To(Equal(before))

			pipe.SetPC(0x1000)
			Expect(run(100)).To(Succeed())
			Expect(pipe.Stats().Retired).To(Equal(before.Retired + 1))
		})
	})

	Describe("Reset", func() {
		It("should empty the pipeline and clear statistics", func() {
			load(insts.MustNew(insts.OpHALT, 0))
			Expect(run(100)).To(Succeed())

			pipe.Reset()
			Expect(pipe.Halted()).To(BeFalse())
			Expect(pipe.Stats()).To(Equal(pipeline.Statistics{}))
			Expect(pipe.InFlight()).To(BeZero())
		})
	})
})

var _ = Describe("Stages", func() {
	It("should build the default 8-stage list", func() {
		Expect(pipeline.Stages(8)).To(Equal([]pipeline.Stage{
			pipeline.StageFetch, pipeline.StageDecode, pipeline.StageRename,
			pipeline.StageDispatch, pipeline.StageIssue, pipeline.StageExecute,
			pipeline.StageWriteback, pipeline.StageCommit,
		}))
	})

	It("should drop rename and dispatch at depth 6", func() {
		Expect(pipeline.Stages(6)).To(HaveLen(6))
		Expect(pipeline.Stages(6)).NotTo(ContainElement(pipeline.StageRename))
	})

	It("should insert issue-queue stages before execute", func() {
		stages := pipeline.Stages(10)
		Expect(stages).To(HaveLen(10))
		Expect(stages[5]).To(Equal(pipeline.StageQueue))
		Expect(stages[6]).To(Equal(pipeline.StageQueue))
		Expect(stages[7]).To(Equal(pipeline.StageExecute))
	})

	It("should validate the depth", func() {
		Expect(pipeline.DefaultConfig().Validate()).To(Succeed())
		Expect(pipeline.Config{Depth: 5}.Validate()).To(MatchError(pipeline.ErrInvalidConfig))
		Expect(pipeline.Config{Depth: 8, BranchPredictor: pipeline.BranchPredictorConfig{BHTSize: 3}}.Validate()).
			To(MatchError(pipeline.ErrInvalidConfig))
	})
})
