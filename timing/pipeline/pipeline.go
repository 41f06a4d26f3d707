package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/mimd"
	"github.com/sarchlab/alphasim/simctx"
	"github.com/sarchlab/alphasim/timing/latency"
)

// Memory is the memory system seen by a pipeline. Every call returns the
// access latency in cycles. *cache.Hierarchy implements it.
type Memory interface {
	Fetch(ctx *simctx.Context, addr uint64, width int) ([]byte, uint64)
	Load(ctx *simctx.Context, addr uint64, width int) ([]byte, uint64)
	Store(ctx *simctx.Context, addr uint64, data []byte) uint64
}

// Coordinator handles the MIMD operations of a core. *mimd.Coordinator
// implements it.
type Coordinator interface {
	Spawn(ctx *simctx.Context, parent int, entry uint64) (int, error)
	Join(ctx *simctx.Context, caller, target int) (bool, error)
	Arrive(ctx *simctx.Context, req mimd.Request) error
}

// Statistics holds pipeline performance statistics.
type Statistics struct {
	// Cycles is the number of cycles the pipeline was ticked.
	Cycles uint64
	// Fetched is the number of instructions that entered Fetch.
	Fetched uint64
	// Retired is the number of instructions committed. Halts are not
	// counted.
	Retired uint64
	// Squashed counts flushed and dropped instructions and committed halts.
	Squashed uint64
	// Flushes is the number of front-end flushes.
	Flushes uint64
	// Dropped is the number of instructions removed at Execute with a
	// reported error.
	Dropped uint64
	// Stalls is the number of cycles in which no instruction moved.
	Stalls uint64

	BranchPredictions    uint64
	BranchCorrect        uint64
	BranchMispredictions uint64
}

// CPI returns the cycles per instruction.
func (s Statistics) CPI() float64 {
	if s.Retired == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Retired)
}

// IPC returns the instructions per cycle.
func (s Statistics) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Retired) / float64(s.Cycles)
}

// PipelineOption is a functional option for configuring the Pipeline.
type PipelineOption func(*Pipeline)

// WithConfig sets the pipeline depth and predictor sizes.
func WithConfig(config Config) PipelineOption {
	return func(p *Pipeline) {
		p.config = config
	}
}

// WithCoreID sets the id reported with events and errors.
func WithCoreID(id int) PipelineOption {
	return func(p *Pipeline) {
		p.coreID = id
	}
}

// WithTarget selects the instruction set the pipeline decodes.
func WithTarget(target insts.Target) PipelineOption {
	return func(p *Pipeline) {
		p.target = target
	}
}

// WithLatencyTable sets the cycle cost table and the mispredict penalty.
func WithLatencyTable(table *latency.Table) PipelineOption {
	return func(p *Pipeline) {
		p.latencyTable = table
	}
}

// WithCoordinator connects the pipeline to the MIMD coordinator.
func WithCoordinator(c Coordinator) PipelineOption {
	return func(p *Pipeline) {
		p.coordinator = c
	}
}

// WithSyscallHandler sets a custom syscall handler.
func WithSyscallHandler(handler emu.SyscallHandler) PipelineOption {
	return func(p *Pipeline) {
		p.syscalls = handler
	}
}

// WithLogger sets the logger of the execution units.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithSkipInvalid drops undecodable instructions with a warning instead of
// failing the run.
func WithSkipInvalid(skip bool) PipelineOption {
	return func(p *Pipeline) {
		p.skipInvalid = skip
	}
}

// Pipeline is an in-order pipeline of configurable depth. An instruction
// moves to the next stage when that stage is empty and its own stage time
// has elapsed. Stages are evaluated from Commit back to Fetch, so a stage
// freed in a cycle can be refilled in the same cycle.
type Pipeline struct {
	*sim.HookableBase

	config      Config
	coreID      int
	target      insts.Target
	skipInvalid bool
	logger      *slog.Logger

	regs         *emu.RegFile
	memory       Memory
	executor     *emu.Executor
	fetcher      *fetchUnit
	predictor    *BranchPredictor
	latencyTable *latency.Table
	coordinator  Coordinator
	syscalls     emu.SyscallHandler

	stages  []Stage
	slots   []Slot
	execute int

	pc                uint64
	seq               uint64
	fetchStopped      bool
	fetchBlockedUntil uint64

	halted     bool
	exitCode   int64
	progressed bool

	stats Statistics

	// ctx is the context of the tick in progress, used by the data port.
	ctx *simctx.Context
}

// NewPipeline creates a pipeline over a register file and a memory system.
// It panics if the configuration is invalid.
func NewPipeline(regs *emu.RegFile, memory Memory, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		HookableBase: sim.NewHookableBase(),
		config:       DefaultConfig(),
		target:       insts.TargetAlphaM,
		logger:       slog.New(slog.DiscardHandler),
		regs:         regs,
		memory:       memory,
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := p.config.Validate(); err != nil {
		panic(err)
	}
	if p.latencyTable == nil {
		p.latencyTable = latency.NewTable()
	}

	p.stages = Stages(p.config.Depth)
	p.slots = make([]Slot, len(p.stages))
	for i, s := range p.stages {
		if s == StageExecute {
			p.execute = i
		}
	}

	p.predictor = NewBranchPredictor(p.config.BranchPredictor)
	p.fetcher = newFetchUnit(memory, p.target, p.predictor)

	execOpts := []emu.ExecutorOption{
		emu.WithCoreID(p.coreID),
		emu.WithCounters(p.counter),
		emu.WithExecutorLogger(p.logger),
	}
	if p.syscalls != nil {
		execOpts = append(execOpts, emu.WithExecutorSyscallHandler(p.syscalls))
	}
	p.executor = emu.NewExecutor(regs, dataPort{p: p}, execOpts...)

	return p
}

// dataPort routes the executor's data accesses to the memory system with
// the context of the current tick.
type dataPort struct {
	p *Pipeline
}

func (d dataPort) Load(addr uint64, size int) ([]byte, uint64) {
	return d.p.memory.Load(d.p.ctx, addr, size)
}

func (d dataPort) Store(addr uint64, data []byte) uint64 {
	return d.p.memory.Store(d.p.ctx, addr, data)
}

func (p *Pipeline) counter(id int64) uint64 {
	switch id {
	case emu.CounterRetired:
		return p.stats.Retired
	case emu.CounterCycles:
		return p.stats.Cycles
	case emu.CounterMispredicts:
		return p.stats.BranchMispredictions
	case emu.CounterFlushes:
		return p.stats.Flushes
	}
	return 0
}

// PC returns the next fetch address.
func (p *Pipeline) PC() uint64 {
	return p.pc
}

// SetPC sets the fetch address.
func (p *Pipeline) SetPC(pc uint64) {
	p.pc = pc
	p.regs.PC = pc
}

// Stages returns the pipeline's stage list.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Slot returns the pipeline register in front of stage i.
func (p *Pipeline) Slot(i int) Slot {
	return p.slots[i]
}

// Current returns the instruction in Execute, or nil.
func (p *Pipeline) Current() *insts.Instruction {
	return p.slots[p.execute].Inst
}

// CurrentPC returns the PC of the instruction in Execute, or the PC of the
// next instruction to commit when Execute is empty.
func (p *Pipeline) CurrentPC() uint64 {
	if s := p.slots[p.execute]; s.Valid {
		return s.PC
	}
	return p.regs.PC
}

// InFlight returns the number of instructions in the pipeline.
func (p *Pipeline) InFlight() uint64 {
	n := uint64(0)
	for _, s := range p.slots {
		if s.Valid {
			n++
		}
	}
	return n
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Statistics {
	return p.stats
}

// Predictor returns the branch predictor.
func (p *Pipeline) Predictor() *BranchPredictor {
	return p.predictor
}

// Halted returns true if the pipeline has halted.
func (p *Pipeline) Halted() bool {
	return p.halted
}

// ExitCode returns the exit code if the pipeline has halted.
func (p *Pipeline) ExitCode() int64 {
	return p.exitCode
}

// Progressed reports whether any instruction moved in the last tick.
func (p *Pipeline) Progressed() bool {
	return p.progressed
}

// Restart empties the pipeline for a new instruction stream. Statistics
// and predictor state survive, so counters keep accumulating across spawns.
func (p *Pipeline) Restart() {
	for i := range p.slots {
		p.slots[i].Clear()
	}
	p.pc = 0
	p.seq = 0
	p.fetchStopped = false
	p.fetchBlockedUntil = 0
	p.halted = false
	p.exitCode = 0
	p.progressed = false
}

// Reset empties the pipeline and clears predictor state and statistics.
func (p *Pipeline) Reset() {
	p.Restart()
	p.predictor.Reset()
	p.stats = Statistics{}
}

// Tick advances the pipeline by one cycle. A non-nil error is fatal to the
// run and is a *simctx.SimError.
func (p *Pipeline) Tick(ctx *simctx.Context) error {
	if p.halted {
		return nil
	}

	p.ctx = ctx
	defer func() { p.ctx = nil }()

	p.stats.Cycles++
	p.progressed = false

	last := len(p.slots) - 1
	for i := last; i >= 0; i-- {
		s := &p.slots[i]
		if !s.Valid || ctx.Cycle < s.ReadyAt {
			continue
		}

		if i == last {
			p.commit(ctx, s)
			continue
		}

		if p.slots[i+1].Valid {
			continue
		}
		if err := p.advance(ctx, i); err != nil {
			return err
		}
	}

	p.fetch(ctx)

	if !p.progressed {
		p.stats.Stalls++
	}

	return nil
}

func (p *Pipeline) fetch(ctx *simctx.Context) {
	if p.fetchStopped || p.slots[0].Valid || ctx.Cycle < p.fetchBlockedUntil {
		return
	}

	s := p.fetcher.fetch(ctx, p.pc)
	p.seq++
	s.Seq = p.seq
	p.pc = s.PredictedNext

	p.slots[0] = s
	p.stats.Fetched++
	p.progressed = true
	p.enter(0, &s)
}

func (p *Pipeline) advance(ctx *simctx.Context, i int) error {
	s := p.slots[i]
	p.slots[i].Clear()
	p.progressed = true

	next := i + 1
	s.ReadyAt = ctx.Cycle + 1

	switch p.stages[next] {
	case StageExecute:
		keep, err := p.exec(ctx, &s)
		if err != nil || !keep {
			return err
		}
	case StageWriteback:
		if err := s.Outcome.Apply(p.regs); err != nil {
			return ctx.Wrap(p.coreID, s.PC, err)
		}
	}

	p.slots[next] = s
	p.enter(next, &s)

	return nil
}

func (p *Pipeline) enter(stage int, s *Slot) {
	p.invoke(HookPosStage, StageEvent{
		CoreID: p.coreID,
		Stage:  p.stages[stage],
		Seq:    s.Seq,
		PC:     s.PC,
	})
}

func (p *Pipeline) commit(ctx *simctx.Context, s *Slot) {
	p.progressed = true
	p.regs.PC = s.Outcome.NextPC

	if s.Halt {
		p.halted = true
		p.exitCode = s.Outcome.ExitCode
		p.stats.Squashed++
		ctx.Log().Debug("halt", "core", p.coreID, "pc", s.PC, "exit_code", s.Outcome.ExitCode)
		s.Clear()
		return
	}

	p.stats.Retired++
	p.invoke(HookPosRetire, RetireEvent{
		CoreID: p.coreID,
		Cycle:  ctx.Cycle,
		PC:     s.PC,
		Inst:   s.Inst,
	})
	s.Clear()
}

// exec runs an instruction on Execute entry. It returns false when the
// instruction is dropped.
func (p *Pipeline) exec(ctx *simctx.Context, s *Slot) (bool, error) {
	fallThrough := s.PC + uint64(s.Size)

	if s.Err != nil {
		if !p.skipInvalid {
			return false, ctx.Wrap(p.coreID, s.PC, s.Err)
		}
		p.drop(ctx, s, fallThrough, s.Err)
		return false, nil
	}

	out, err := p.executor.Execute(s.Inst, s.PC, ctx.Cycle)
	if errors.Is(err, emu.ErrCoordinated) {
		out, err = p.coordinate(ctx, s)
	}

	switch {
	case err == nil:
	case errors.Is(err, emu.ErrInvalidOpcodeForCore),
		errors.Is(err, emu.ErrRegisterOutOfRange),
		errors.Is(err, emu.ErrWidthMismatch):
		p.drop(ctx, s, fallThrough, fmt.Errorf("%s: %w", s.Inst, err))
		return false, nil
	default:
		return false, ctx.Wrap(p.coreID, s.PC, err)
	}

	s.Outcome = out
	occupancy := max(p.latencyTable.GetLatency(s.Inst), out.Latency) + out.ExtraCycles
	s.ReadyAt = ctx.Cycle + max(occupancy, 1)

	p.resolve(ctx, s)

	if out.Halt {
		s.Halt = true
		p.fetchStopped = true
		p.squashFrontEnd()
	}

	return true, nil
}

func (p *Pipeline) drop(ctx *simctx.Context, s *Slot, next uint64, err error) {
	ctx.Report(p.coreID, s.PC, err)
	p.stats.Squashed++
	p.stats.Dropped++
	if next != s.PredictedNext {
		p.predictor.Restore(s.RAS)
		p.flush(ctx, next)
	}
}

// resolve checks the fetch-time prediction against the executed path.
func (p *Pipeline) resolve(ctx *simctx.Context, s *Slot) {
	next := s.Outcome.NextPC
	correct := next == s.PredictedNext

	if s.Inst.Info().Control != insts.ControlNone {
		p.stats.BranchPredictions++
		if correct {
			p.stats.BranchCorrect++
		} else {
			p.stats.BranchMispredictions++
		}
		p.predictor.Update(s.PC, s.Outcome.Taken, next)
		p.invoke(HookPosBranch, BranchEvent{
			CoreID:  p.coreID,
			PC:      s.PC,
			Taken:   s.Outcome.Taken,
			Correct: correct,
		})
	}

	if !correct {
		p.predictor.Restore(s.RAS)
		p.flush(ctx, next)
	}
}

// flush squashes the stages in front of Execute, redirects fetch and
// freezes it for the mispredict penalty.
func (p *Pipeline) flush(ctx *simctx.Context, target uint64) {
	n := p.squashFrontEnd()
	p.pc = target
	p.fetchBlockedUntil = ctx.Cycle + p.latencyTable.MispredictPenalty()
	p.stats.Flushes++

	ctx.Log().Debug("flush", "core", p.coreID, "target", target, "squashed", n)
	p.invoke(HookPosFlush, FlushEvent{
		CoreID:   p.coreID,
		Target:   target,
		Squashed: n,
	})
}

func (p *Pipeline) squashFrontEnd() int {
	n := 0
	for i := 0; i < p.execute; i++ {
		if p.slots[i].Valid {
			p.slots[i].Clear()
			n++
		}
	}
	p.stats.Squashed += uint64(n)
	return n
}

// coordinate executes spawn, join and the collectives through the
// coordinator. A blocking operation changes the core's status; the
// instruction stays in Execute until the core is released.
func (p *Pipeline) coordinate(ctx *simctx.Context, s *Slot) (emu.Outcome, error) {
	inst := s.Inst
	out := emu.Outcome{NextPC: s.PC + uint64(s.Size)}
	if p.coordinator == nil {
		return out, fmt.Errorf("%w: %s", emu.ErrMultiCore, inst.Name())
	}

	ops := inst.Args()
	switch inst.Op {
	case insts.OpSPAWN:
		entry := s.PC + uint64(int64(ops[1].Imm))
		child, err := p.coordinator.Spawn(ctx, p.coreID, entry)
		if errors.Is(err, mimd.ErrNoIdleCore) {
			ctx.Report(p.coreID, s.PC, err)
			child = -1
		} else if err != nil {
			return out, err
		}
		out.Writes = append(out.Writes, emu.RegWrite{
			Bank:  insts.BankGPR,
			Index: ops[0].Reg,
			Value: emu.Scalar(uint64(int64(child))),
		})
		return out, nil

	case insts.OpJOIN:
		target, err := p.regs.Read(insts.BankGPR, ops[0].Reg)
		if err != nil {
			return out, err
		}
		_, err = p.coordinator.Join(ctx, p.coreID, int(int64(target.Bits)))
		return out, err
	}

	req, err := mimd.NewRequest(p.coreID, s.PC, inst, p.regs)
	if err != nil {
		return out, err
	}
	return out, p.coordinator.Arrive(ctx, req)
}
