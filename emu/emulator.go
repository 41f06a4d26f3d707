// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sarchlab/alphasim/insts"
)

// ErrMultiCore is returned when a program run on the single-core emulator
// needs other cores (a join target, or a collective mask naming another
// core).
var ErrMultiCore = errors.New("operation needs more than one core")

// ErrMaxInstructions is returned when the instruction limit is reached.
var ErrMaxInstructions = errors.New("max instructions reached")

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the core halted (halt or the exit syscall).
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set if an error ended execution.
	Err error
}

// Emulator executes AlphaAHB/AlphaM programs functionally on one core,
// without timing. It is the reference model for the timing simulator.
type Emulator struct {
	regFile  *RegFile
	memory   *Memory
	decoder  *insts.Decoder
	executor *Executor

	coreType CoreType
	target   insts.Target
	syscalls SyscallHandler
	logger   *slog.Logger
	stdout   io.Writer
	stderr   io.Writer

	skipInvalid bool
	dropped     []error

	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallHandler sets a custom syscall handler.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscalls = handler
	}
}

// WithCoreType selects the type of the emulated core. The default is GPC.
func WithCoreType(t CoreType) EmulatorOption {
	return func(e *Emulator) {
		e.coreType = t
	}
}

// WithTarget selects the instruction set accepted by the decoder.
func WithTarget(t insts.Target) EmulatorOption {
	return func(e *Emulator) {
		e.target = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = l
	}
}

// WithSkipInvalid makes undecodable words a warning instead of an error.
func WithSkipInvalid(skip bool) EmulatorOption {
	return func(e *Emulator) {
		e.skipInvalid = skip
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// NewEmulator creates a new emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		memory:   NewMemory(),
		coreType: CoreGPC,
		target:   insts.TargetAlphaM,
		logger:   slog.New(slog.DiscardHandler),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.syscalls == nil {
		e.syscalls = NewDefaultSyscallHandler(e.stdout, e.stderr)
	}
	e.decoder = insts.NewDecoder(e.target)
	e.init()
	return e
}

func (e *Emulator) init() {
	e.regFile = NewRegFile(e.coreType)
	e.executor = NewExecutor(e.regFile, FlatPort{Memory: e.memory},
		WithExecutorLogger(e.logger),
		WithExecutorSyscallHandler(e.syscalls),
		WithCounters(e.counter))
}

func (e *Emulator) counter(id int64) uint64 {
	switch id {
	case CounterRetired, CounterCycles:
		return e.instructionCount
	}
	return 0
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Dropped returns the non-fatal errors of instructions that were dropped.
func (e *Emulator) Dropped() []error {
	return e.dropped
}

// LoadProgram copies a program image to entry and starts execution there.
func (e *Emulator) LoadProgram(entry uint64, program []byte) {
	e.memory.LoadProgram(entry, program)
	e.regFile.PC = entry
}

// Reset resets the emulator to its initial state.
func (e *Emulator) Reset() {
	e.memory = NewMemory()
	e.instructionCount = 0
	e.dropped = nil
	e.init()
}

// Step executes a single instruction.
func (e *Emulator) Step() StepResult {
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: ErrMaxInstructions}
	}

	pc := e.regFile.PC
	raw := e.memory.ReadBytes(pc, 8)
	inst, size, err := e.decoder.DecodeBytes(raw)
	if err != nil {
		if !e.skipInvalid {
			return StepResult{Err: fmt.Errorf("pc 0x%x: %w", pc, err)}
		}
		e.logger.Warn("skipping invalid instruction", "pc", pc, "err", err)
		e.dropped = append(e.dropped, err)
		e.regFile.PC = pc + uint64(size)
		return StepResult{}
	}

	e.instructionCount++

	out, err := e.executor.Execute(inst, pc, e.instructionCount)
	if errors.Is(err, ErrCoordinated) {
		out, err = e.coordinate(inst, pc)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidOpcodeForCore),
		errors.Is(err, ErrRegisterOutOfRange),
		errors.Is(err, ErrWidthMismatch):
		e.logger.Warn("dropping instruction", "pc", pc, "inst", inst.String(), "err", err)
		e.dropped = append(e.dropped, fmt.Errorf("pc 0x%x: %w", pc, err))
		e.regFile.PC = pc + uint64(size)
		return StepResult{}
	default:
		return StepResult{Err: fmt.Errorf("pc 0x%x: %w", pc, err)}
	}

	if err := out.Apply(e.regFile); err != nil {
		return StepResult{Err: err}
	}
	e.regFile.PC = out.NextPC
	if out.Halt {
		return StepResult{Exited: true, ExitCode: out.ExitCode}
	}
	return StepResult{}
}

// Run executes instructions until the program halts or an error occurs.
// Returns the exit code (-1 if error).
func (e *Emulator) Run() int64 {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode
		}
		if result.Err != nil {
			_, _ = fmt.Fprintf(e.stderr, "Emulation error: %v\n", result.Err)
			return -1
		}
	}
}

// coordinate executes MIMD operations for a lone core 0. Spawn always
// fails, and collectives are only valid when the mask names core 0 alone.
func (e *Emulator) coordinate(inst *insts.Instruction, pc uint64) (Outcome, error) {
	ops := inst.Args()
	out := Outcome{NextPC: pc + uint64(inst.Size())}
	r := &operandReader{regs: e.regFile}
	lsu := e.executor.LoadStoreUnit()
	dt := inst.DataType

	if inst.Op == insts.OpSPAWN {
		out.setScalar(ops[0], ^uint64(0))
		return out, nil
	}
	if inst.Op == insts.OpJOIN {
		return Outcome{}, fmt.Errorf("%w: join core %d", ErrMultiCore, r.scalar(ops[0]))
	}

	var mask uint64
	if inst.Op == insts.OpBARRIER {
		mask = r.scalar(ops[0])
	} else {
		mask = r.bank(insts.BankMIMD, 0)
	}
	if r.err != nil {
		return Outcome{}, r.err
	}
	if mask != 1 {
		return Outcome{}, fmt.Errorf("%w: mask 0x%x", ErrMultiCore, mask)
	}

	switch inst.Op {
	case insts.OpREDUCE, insts.OpALLREDUCE:
		out.setScalar(ops[0], r.scalar(ops[1]))
	case insts.OpSCATTER:
		out.setScalar(ops[0], lsu.Load(r.addr(ops[1]), dt))
	case insts.OpGATHER, insts.OpALLGATHER:
		lsu.Store(r.addr(ops[1]), dt, r.scalar(ops[0]))
	case insts.OpALLTOALL:
		src, dst := r.scalar(ops[0]), r.scalar(ops[1])
		lsu.Store(dst, dt, lsu.Load(src, dt))
	}
	lsu.TakeLatency()
	return out, r.err
}
