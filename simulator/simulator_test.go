package simulator_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/loader"
	"github.com/sarchlab/alphasim/mimd"
	"github.com/sarchlab/alphasim/simctx"
	"github.com/sarchlab/alphasim/simulator"
)

var _ = Describe("Simulator", func() {
	build := func(config simulator.Config) *simulator.Simulator {
		s, err := simulator.MakeBuilder().
			WithConfig(config).
			WithStdout(&bytes.Buffer{}).
			WithStderr(&bytes.Buffer{}).
			Build("Sim")
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	It("should refuse an invalid configuration", func() {
		config := simulator.DefaultConfig()
		config.Cores = 65
		_, err := simulator.MakeBuilder().WithConfig(config).Build("Sim")
		Expect(err).To(MatchError(ContainSubstring("cores")))
	})

	It("should build every core idle", func() {
		s := build(fastConfig(4))
		Expect(s.Cores()).To(HaveLen(4))
		for _, c := range s.Cores() {
			Expect(c.Status()).To(Equal(mimd.StatusIdle))
		}
	})

	Describe("a single add on one core", func() {
		var s *simulator.Simulator

		BeforeEach(func() {
			s = build(fastConfig(1))
			Expect(s.Load(program(
				insts.MustNew(insts.OpADD, 0, r(1), r(2), r(3)),
				insts.MustNew(insts.OpHALT, 0),
			))).To(Succeed())
			s.Core(0).RegFile().SetGPR(2, 5)
			s.Core(0).RegFile().SetGPR(3, 7)
		})

		It("should produce 12 within ten cycles", func() {
			for i := 0; i < 10; i++ {
				Expect(s.Step()).To(Succeed())
			}
			Expect(s.Core(0).RegFile().GPR(1)).To(Equal(uint64(12)))
			Expect(s.Monitor().Snapshot().Retired).To(Equal(uint64(1)))
		})

		It("should halt and report one executed instruction", func() {
			report, err := s.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Done()).To(BeTrue())
			Expect(report.SimulationInfo.Halted).To(BeTrue())
			Expect(report.SimulationInfo.InstructionsExecuted).To(Equal(uint64(1)))
			Expect(report.SimulationInfo.TotalCycles).To(Equal(s.Cycle()))
			Expect(report.Cores[0].Status).To(Equal("halted"))
			Expect(report.Cores[0].CoreType).To(Equal("gpc"))
			Expect(report.Errors).To(BeEmpty())
			Expect(report.Cache["l1i"].Misses).To(BeNumerically(">", 0))
		})

		It("should refuse to step after the run ends", func() {
			_, err := s.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Step()).To(MatchError(simulator.ErrFinished))
		})
	})

	Describe("four cores counting through a barrier", func() {
		const counter = 0x8000

		var s *simulator.Simulator

		BeforeEach(func() {
			s = build(fastConfig(4))
			Expect(s.Load(barrierProgram(counter))).To(Succeed())
		})

		It("should release every core together with the counter at four", func() {
			sawBlocked := false
			released := false

			for !s.Done() && !released {
				Expect(s.Step()).To(Succeed())

				blocked := 0
				for _, c := range s.Cores() {
					if c.Status() == mimd.StatusBlockedOnBarrier {
						blocked++
					}
				}
				if blocked > 0 {
					sawBlocked = true
					continue
				}
				if !sawBlocked {
					continue
				}

				released = true
				for _, c := range s.Cores() {
					Expect(c.Status()).To(Equal(mimd.StatusRunning), "core %d", c.ID())
				}
				value := binary.LittleEndian.Uint64(s.Hierarchy().Peek(counter, 8))
				Expect(value).To(Equal(uint64(4)))
			}
			Expect(released).To(BeTrue())

			report, err := s.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.SimulationInfo.Halted).To(BeTrue())
			for _, c := range report.Cores {
				Expect(c.Status).To(Equal("halted"))
			}
			Expect(s.Monitor().Snapshot().Releases).To(BeNumerically(">=", 1))
		})

		It("should give byte-identical reports for identical runs", func() {
			first, err := s.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			again := build(fastConfig(4))
			Expect(again.Load(barrierProgram(counter))).To(Succeed())
			second, err := again.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(cmp.Diff(first, second)).To(BeEmpty())

			var a, b bytes.Buffer
			Expect(first.WriteJSON(&a)).To(Succeed())
			Expect(second.WriteJSON(&b)).To(Succeed())
			Expect(a.Bytes()).To(Equal(b.Bytes()))
		})
	})

	It("should keep a reused core's retired count across spawns", func() {
		s := build(fastConfig(2))
		Expect(s.Load(respawnProgram())).To(Succeed())

		report, err := s.Run(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.SimulationInfo.Halted).To(BeTrue())

		Expect(report.Cores[1].InstructionsRetired).To(Equal(uint64(4)))
		Expect(report.Cores[1].InstructionsRetired).
			To(Equal(s.Monitor().Snapshot().PerCore[1]))

		var sum uint64
		for _, c := range report.Cores {
			sum += c.InstructionsRetired
		}
		Expect(sum).To(Equal(report.SimulationInfo.InstructionsExecuted))
	})

	Describe("failures", func() {
		It("should fail with a deadlock when a barrier names an idle core", func() {
			s := build(fastConfig(2))
			Expect(s.Load(program(
				insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(3)),
				insts.MustNew(insts.OpBARRIER, 0, r(1)),
				insts.MustNew(insts.OpHALT, 0),
			))).To(Succeed())

			report, err := s.Run(context.Background())
			Expect(err).To(MatchError(mimd.ErrDeadlock))

			var simErr *simctx.SimError
			Expect(errors.As(err, &simErr)).To(BeTrue())
			Expect(simErr.CoreID).To(Equal(-1))

			var dl *mimd.DeadlockError
			Expect(errors.As(err, &dl)).To(BeTrue())
			Expect(dl.Dump).To(ContainSubstring("pending barrier mask=0x3"))

			Expect(report.Errors).To(HaveLen(1))
			Expect(report.SimulationInfo.Halted).To(BeFalse())
		})

		It("should stop at the cycle limit", func() {
			config := fastConfig(1)
			config.MaxCycles = 50
			s := build(config)
			Expect(s.Load(program(insts.MustNew(insts.OpBR, 0, insts.Imm(0))))).To(Succeed())

			report, err := s.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(report.SimulationInfo.TotalCycles).To(Equal(uint64(50)))
			Expect(report.SimulationInfo.Halted).To(BeFalse())
		})

		It("should stop when the context is cancelled", func() {
			s := build(fastConfig(1))
			Expect(s.Load(program(insts.MustNew(insts.OpBR, 0, insts.Imm(0))))).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := s.Run(ctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(s.Cycle()).To(BeZero())
		})

		It("should report a fatal decode error with its core and pc", func() {
			s := build(fastConfig(1))
			Expect(s.Load(loader.NewProgram(base, []byte{0xFF, 0x01, 0, 0}))).To(Succeed())

			report, err := s.Run(context.Background())
			Expect(err).To(MatchError(insts.ErrMalformedEncoding))

			var simErr *simctx.SimError
			Expect(errors.As(err, &simErr)).To(BeTrue())
			Expect(simErr.CoreID).To(Equal(0))
			Expect(simErr.PC).To(Equal(uint64(base)))
			Expect(report.Errors).To(HaveLen(1))
		})
	})
})

// barrierProgram has core 0 spawn three workers and then join them as a
// fourth. Every worker adds one to the counter and waits at a barrier over
// cores 0 to 3.
func barrierProgram(counter int32) *loader.Program {
	worker := []*insts.Instruction{
		insts.MustNew(insts.OpLDI, 0, r(2), insts.Imm(counter)),
		insts.MustNew(insts.OpLDI, 0, r(3), insts.Imm(1)),
		insts.MustNew(insts.OpAMOADD, insts.DataTypeI64, r(4), insts.Mem(2, 0), r(3)),
		insts.MustNew(insts.OpLDI, 0, r(6), insts.Imm(0xF)),
		insts.MustNew(insts.OpBARRIER, 0, r(6)),
		insts.MustNew(insts.OpHALT, 0),
	}

	spawnSize := len(encode(insts.MustNew(insts.OpSPAWN, 0, r(5), insts.Imm(0))))

	var code []*insts.Instruction
	for i := 0; i < 3; i++ {
		offset := int32((3 - i) * spawnSize)
		code = append(code, insts.MustNew(insts.OpSPAWN, 0, r(5), insts.Imm(offset)))
	}
	code = append(code, worker...)

	return program(code...)
}

// respawnProgram has core 0 spawn a child that runs four ldi, join it, then
// spawn a child that halts at once on the same core and join it again.
func respawnProgram() *loader.Program {
	spawnSize := int32(len(encode(insts.MustNew(insts.OpSPAWN, 0, r(5), insts.Imm(0)))))
	joinSize := int32(len(encode(insts.MustNew(insts.OpJOIN, 0, r(5)))))
	haltSize := int32(len(encode(insts.MustNew(insts.OpHALT, 0))))
	ldiSize := int32(len(encode(insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(1)))))

	busy := 2*spawnSize + 2*joinSize + haltSize
	quick := busy + 4*ldiSize + haltSize
	second := spawnSize + joinSize

	code := []*insts.Instruction{
		insts.MustNew(insts.OpSPAWN, 0, r(5), insts.Imm(busy)),
		insts.MustNew(insts.OpJOIN, 0, r(5)),
		insts.MustNew(insts.OpSPAWN, 0, r(5), insts.Imm(quick-second)),
		insts.MustNew(insts.OpJOIN, 0, r(5)),
		insts.MustNew(insts.OpHALT, 0),
	}
	for i := int32(1); i <= 4; i++ {
		code = append(code, insts.MustNew(insts.OpLDI, 0, r(1), insts.Imm(i)))
	}
	code = append(code, insts.MustNew(insts.OpHALT, 0))

	return program(code...)
}
