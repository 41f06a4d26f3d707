// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/sarchlab/alphasim/insts"
)

// ErrCoordinated is returned by Execute for MIMD operations that need the
// coordinator (spawn, join, barrier and the collectives).
var ErrCoordinated = errors.New("operation requires the MIMD coordinator")

// Coordinated reports whether op is handled by the MIMD coordinator rather
// than by the Executor.
func Coordinated(op insts.Op) bool {
	return op >= insts.OpSPAWN && op <= insts.OpALLTOALL
}

// Performance counter ids read by perf_counter.
const (
	CounterRetired     int64 = 0
	CounterCycles      int64 = 1
	CounterMispredicts int64 = 2
	CounterFlushes     int64 = 3
)

// Real-time register roles.
const (
	RTPriority uint8 = 0
	RTDeadline uint8 = 1
	RTTimer    uint8 = 2
	RTSignal   uint8 = 3
)

// MaxWaitCycles caps rt_wait.
const MaxWaitCycles = 1024

// CounterFunc reads a core performance counter by id.
type CounterFunc func(id int64) uint64

// RegWrite is a pending register write.
type RegWrite struct {
	Bank  insts.Bank
	Index uint8
	Value Value
}

// Outcome is the architectural effect of executing one instruction.
// Memory stores have already happened; register writes are pending.
type Outcome struct {
	Writes []RegWrite

	// NextPC is the address of the next instruction on the resolved path.
	NextPC uint64
	// Taken is true when control left the fall-through path.
	Taken bool

	// Latency is the memory latency of the instruction's data accesses.
	Latency uint64
	// ExtraCycles are added to the Execute occupancy (rt_wait).
	ExtraCycles uint64

	Halt     bool
	ExitCode int64
}

func (o *Outcome) set(op insts.Operand, v Value) {
	o.Writes = append(o.Writes, RegWrite{Bank: op.Bank, Index: op.Reg, Value: v})
}

func (o *Outcome) setScalar(op insts.Operand, bits uint64) {
	o.set(op, Scalar(bits))
}

func (o *Outcome) setFloat(op insts.Operand, x float64) {
	o.set(op, Scalar(math.Float64bits(x)))
}

func (o *Outcome) setBank(bank insts.Bank, idx int, bits uint64) {
	o.Writes = append(o.Writes, RegWrite{Bank: bank, Index: uint8(idx), Value: Scalar(bits)})
}

// Apply writes the pending register writes into regs.
func (o *Outcome) Apply(regs *RegFile) error {
	for _, w := range o.Writes {
		if err := regs.Write(w.Bank, w.Index, w.Value); err != nil {
			return err
		}
	}
	return nil
}

// operandReader reads source operands and keeps the first error.
type operandReader struct {
	regs *RegFile
	err  error
}

func (r *operandReader) read(bank insts.Bank, idx int) Value {
	if r.err != nil {
		return Value{}
	}
	if idx > math.MaxUint8 {
		r.err = fmt.Errorf("%w: %s%d", ErrRegisterOutOfRange, bank.Prefix(), idx)
		return Value{}
	}
	v, err := r.regs.Read(bank, uint8(idx))
	if err != nil {
		r.err = err
	}
	return v
}

func (r *operandReader) value(o insts.Operand) Value {
	return r.read(o.Bank, int(o.Reg))
}

func (r *operandReader) bank(bank insts.Bank, idx int) uint64 {
	v := r.read(bank, idx)
	if v.Wide && r.err == nil {
		r.err = fmt.Errorf("%w: %s%d is a vector", ErrWidthMismatch, bank.Prefix(), idx)
	}
	return v.Bits
}

func (r *operandReader) scalar(o insts.Operand) uint64 {
	return r.bank(o.Bank, int(o.Reg))
}

func (r *operandReader) float(o insts.Operand) float64 {
	return math.Float64frombits(r.scalar(o))
}

func (r *operandReader) vector(o insts.Operand) Vector {
	v := r.value(o)
	if !v.Wide && r.err == nil {
		r.err = fmt.Errorf("%w: %s%d is a scalar", ErrWidthMismatch, o.Bank.Prefix(), o.Reg)
	}
	return v.Vec
}

func (r *operandReader) addr(o insts.Operand) uint64 {
	return r.bank(insts.BankGPR, int(o.Reg)) + uint64(int64(o.Imm))
}

func (r *operandReader) key(bank insts.Bank, first, n int) []byte {
	regs := make([]uint64, n)
	for i := range regs {
		regs[i] = r.bank(bank, first+i)
	}
	return KeyBytes(regs...)
}

// Executor applies the semantics of every non-coordinated opcode for one
// core.
type Executor struct {
	regs     *RegFile
	lsu      *LoadStoreUnit
	alu      *ALU
	fpu      *FPU
	vec      *VectorUnit
	ai       *AIUnit
	sec      *SecurityUnit
	sci      *ScientificUnit
	branch   *BranchUnit
	syscalls SyscallHandler

	coreID   int
	counters CounterFunc
	logger   *slog.Logger

	tracing    bool
	traced     uint64
	traceStart uint64
}

// ExecutorOption is a functional option for configuring the Executor.
type ExecutorOption func(*Executor)

// WithCoreID sets the id returned by coreid and used as the secure_rand
// nonce.
func WithCoreID(id int) ExecutorOption {
	return func(e *Executor) {
		e.coreID = id
	}
}

// WithCounters sets the source of perf_counter values.
func WithCounters(f CounterFunc) ExecutorOption {
	return func(e *Executor) {
		e.counters = f
	}
}

// WithExecutorLogger sets the logger used for debug and system events.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithExecutorSyscallHandler replaces the default syscall handler.
func WithExecutorSyscallHandler(h SyscallHandler) ExecutorOption {
	return func(e *Executor) {
		e.syscalls = h
	}
}

// NewExecutor creates an Executor over a register file and a data port.
func NewExecutor(regs *RegFile, port DataPort, opts ...ExecutorOption) *Executor {
	e := &Executor{
		regs:   regs,
		lsu:    NewLoadStoreUnit(port),
		alu:    NewALU(),
		fpu:    NewFPU(),
		vec:    NewVectorUnit(),
		ai:     NewAIUnit(),
		sci:    NewScientificUnit(),
		branch: NewBranchUnit(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sec = NewSecurityUnit(e.coreID)
	if e.syscalls == nil {
		e.syscalls = NewDefaultSyscallHandler(nil, nil)
	}
	return e
}

// RegFile returns the register file the executor reads and validates
// writes against.
func (e *Executor) RegFile() *RegFile {
	return e.regs
}

// LoadStoreUnit returns the executor's memory unit.
func (e *Executor) LoadStoreUnit() *LoadStoreUnit {
	return e.lsu
}

// Execute computes the effect of inst at pc in the given cycle. Stores are
// performed immediately; register writes are returned in the Outcome and
// have been validated against the register file.
func (e *Executor) Execute(inst *insts.Instruction, pc, cycle uint64) (Outcome, error) {
	e.lsu.TakeLatency()

	if err := CheckCategory(e.regs.CoreType(), inst.Category); err != nil {
		return Outcome{}, err
	}
	if Coordinated(inst.Op) {
		return Outcome{}, ErrCoordinated
	}
	if e.tracing {
		e.traced++
		e.logger.Debug("trace", "core", e.coreID, "pc", pc, "cycle", cycle, "inst", inst.String())
	}

	r := &operandReader{regs: e.regs}
	out := Outcome{NextPC: pc + uint64(inst.Size())}

	switch inst.Category {
	case insts.CategoryBasic, insts.CategoryArithmetic:
		e.execInteger(inst, r, &out, pc)
	case insts.CategoryFloat:
		e.execFloat(inst, r, &out)
	case insts.CategoryVector:
		e.execVector(inst, r, &out)
	case insts.CategoryAI:
		e.execAI(inst, r, &out)
	case insts.CategorySecurity:
		e.execSecurity(inst, r, &out)
	case insts.CategoryScientific:
		e.execScientific(inst, r, &out)
	case insts.CategoryRealTime:
		e.execRealTime(inst, r, &out, cycle)
	case insts.CategoryDebug:
		e.execDebug(inst, r, &out, pc, cycle)
	case insts.CategoryMIMD:
		e.execAtomic(inst, r, &out)
	case insts.CategorySystem:
		e.execSystem(inst, r, &out, pc)
	}

	out.Latency = e.lsu.TakeLatency()
	if r.err != nil {
		return Outcome{}, r.err
	}
	for _, w := range out.Writes {
		if err := e.regs.CheckWrite(w.Bank, w.Index, w.Value); err != nil {
			return Outcome{}, err
		}
	}
	return out, nil
}

func (e *Executor) execInteger(inst *insts.Instruction, r *operandReader, out *Outcome, pc uint64) {
	ops := inst.Args()
	dt := inst.DataType

	switch inst.Op {
	case insts.OpNOT, insts.OpMOV:
		out.setScalar(ops[0], e.alu.Unary(inst.Op, dt, r.scalar(ops[1])))
	case insts.OpLD:
		addr := r.addr(ops[1])
		if r.err == nil {
			out.setScalar(ops[0], e.lsu.Load(addr, dt))
		}
	case insts.OpST:
		v, addr := r.scalar(ops[0]), r.addr(ops[1])
		if r.err == nil {
			e.lsu.Store(addr, dt, v)
		}
	case insts.OpLDI:
		out.setScalar(ops[0], SignExtend(uint64(int64(ops[1].Imm)), dt))
	case insts.OpSTI:
		addr := r.scalar(ops[0])
		if r.err == nil {
			e.lsu.Store(addr, dt, uint64(int64(ops[1].Imm)))
		}
	case insts.OpBEQ, insts.OpBNE, insts.OpBLT, insts.OpBGT, insts.OpBLE, insts.OpBGE:
		if e.branch.Condition(inst.Op, dt, r.scalar(ops[0]), r.scalar(ops[1])) {
			out.NextPC, out.Taken = e.branch.Target(pc, ops[2].Imm), true
		}
	case insts.OpJMP:
		out.NextPC, out.Taken = r.scalar(ops[0]), true
	case insts.OpCALL:
		target := r.scalar(ops[0])
		out.setBank(insts.BankGPR, LinkRegister, out.NextPC)
		out.NextPC, out.Taken = target, true
	case insts.OpRET:
		out.NextPC, out.Taken = r.bank(insts.BankGPR, LinkRegister), true
	case insts.OpBR:
		out.NextPC, out.Taken = e.branch.Target(pc, ops[0].Imm), true
	case insts.OpBL:
		out.setBank(insts.BankGPR, LinkRegister, out.NextPC)
		out.NextPC, out.Taken = e.branch.Target(pc, ops[0].Imm), true
	default:
		if v, ok := e.alu.Binary(inst.Op, dt, r.scalar(ops[1]), r.scalar(ops[2])); ok {
			out.setScalar(ops[0], v)
		}
	}
}

func (e *Executor) execFloat(inst *insts.Instruction, r *operandReader, out *Outcome) {
	ops := inst.Args()
	dt := inst.DataType

	switch inst.Op {
	case insts.OpFADD, insts.OpFSUB, insts.OpFMUL, insts.OpFDIV, insts.OpFMIN, insts.OpFMAX:
		out.setFloat(ops[0], e.fpu.Binary(inst.Op, dt, r.float(ops[1]), r.float(ops[2])))
	case insts.OpFCMP:
		out.setScalar(ops[0], uint64(e.fpu.Compare(r.float(ops[1]), r.float(ops[2]))))
	case insts.OpFCONVERT:
		out.setFloat(ops[0], Round(r.float(ops[1]), dt))
	case insts.OpFMA:
		out.setFloat(ops[0], e.fpu.FMA(dt, r.float(ops[1]), r.float(ops[2]), r.float(ops[3])))
	case insts.OpLDF:
		addr := r.addr(ops[1])
		if r.err == nil {
			out.setFloat(ops[0], e.lsu.LoadFloat(addr, dt))
		}
	case insts.OpSTF:
		x, addr := r.float(ops[0]), r.addr(ops[1])
		if r.err == nil {
			e.lsu.StoreFloat(addr, dt, x)
		}
	case insts.OpITOF:
		v := r.scalar(ops[1])
		if dt.IsInteger() {
			out.setFloat(ops[0], float64(int64(SignExtend(v, dt))))
		} else {
			out.setFloat(ops[0], Round(float64(int64(v)), dt))
		}
	case insts.OpFTOI:
		v := uint64(e.fpu.ToInt(r.float(ops[1])))
		if dt.IsInteger() {
			v = SignExtend(v, dt)
		}
		out.setScalar(ops[0], v)
	default:
		out.setFloat(ops[0], e.fpu.Unary(inst.Op, dt, r.float(ops[1])))
	}
}

func (e *Executor) execVector(inst *insts.Instruction, r *operandReader, out *Outcome) {
	ops := inst.Args()
	dt := inst.DataType

	switch inst.Op {
	case insts.OpVNOT:
		out.set(ops[0], Wide(e.vec.Not(r.vector(ops[1]))))
	case insts.OpVLD:
		addr := r.addr(ops[1])
		if r.err == nil {
			out.set(ops[0], Wide(e.lsu.LoadVector(addr)))
		}
	case insts.OpVST:
		v, addr := r.vector(ops[0]), r.addr(ops[1])
		if r.err == nil {
			e.lsu.StoreVector(addr, v)
		}
	case insts.OpVBLEND:
		out.set(ops[0], Wide(e.vec.Blend(dt, r.vector(ops[1]), r.vector(ops[2]), r.vector(ops[3]))))
	case insts.OpVSELECT:
		out.set(ops[0], Wide(e.vec.Select(dt, r.vector(ops[1]), r.vector(ops[2]), r.scalar(ops[3]))))
	case insts.OpVREDUCE:
		out.set(ops[0], Wide(e.vec.Reduce(dt, r.vector(ops[1]))))
	case insts.OpVSCAN:
		out.set(ops[0], Wide(e.vec.Scan(dt, r.vector(ops[1]))))
	default:
		out.set(ops[0], Wide(e.vec.Binary(inst.Op, dt, r.vector(ops[1]), r.vector(ops[2]))))
	}
}

func (e *Executor) execAI(inst *insts.Instruction, r *operandReader, out *Outcome) {
	ops := inst.Args()
	dt := inst.DataType
	var v Vector

	switch inst.Op {
	case insts.OpRELU, insts.OpSIGMOID, insts.OpTANH, insts.OpSOFTMAX:
		v = e.ai.Activation(inst.Op, dt, r.vector(ops[1]))
	case insts.OpMAXPOOL, insts.OpAVGPOOL:
		v = e.ai.Pool(inst.Op, dt, r.vector(ops[1]), r.scalar(ops[2]))
	case insts.OpBATCHNORM, insts.OpLAYERNORM:
		gamma := math.Float64frombits(r.scalar(ops[2]))
		beta := math.Float64frombits(r.bank(insts.BankAIR, int(ops[2].Reg)+1))
		v = e.ai.Norm(inst.Op, dt, r.vector(ops[1]), gamma, beta)
	case insts.OpCONV2D:
		v = e.ai.Conv2D(dt, r.vector(ops[1]), r.vector(ops[2]), r.vector(ops[3]))
	case insts.OpCONV3D:
		v = e.ai.Conv3D(dt, r.vector(ops[1]), r.vector(ops[2]), r.vector(ops[3]))
	case insts.OpMATMUL:
		v = e.ai.MatMul(dt, r.vector(ops[1]), r.vector(ops[2]))
	case insts.OpGEMM:
		v = e.ai.GEMM(dt, r.vector(ops[1]), r.vector(ops[2]), r.vector(ops[3]))
	case insts.OpATTENTION:
		v = e.ai.Attention(dt, r.vector(ops[1]), r.vector(ops[2]), r.vector(ops[3]))
	case insts.OpTRANSFORMER:
		v = e.ai.Transformer(dt, r.vector(ops[1]), r.vector(ops[2]), r.vector(ops[3]))
	case insts.OpLSTM:
		v = e.ai.LSTM(dt, r.vector(ops[1]), r.vector(ops[2]), r.vector(ops[3]))
	case insts.OpGRU:
		v = e.ai.GRU(dt, r.vector(ops[1]), r.vector(ops[2]), r.vector(ops[3]))
	}
	out.set(ops[0], Wide(v))
}

func (e *Executor) execSecurity(inst *insts.Instruction, r *operandReader, out *Outcome) {
	ops := inst.Args()

	switch inst.Op {
	case insts.OpAESENC, insts.OpAESDEC:
		src, key := r.vector(ops[1]), r.key(insts.BankSEC, int(ops[2].Reg), 2)
		if r.err == nil {
			out.set(ops[0], Wide(e.sec.AES(inst.Op == insts.OpAESDEC, src, key)))
		}
	case insts.OpAESKEYGEN:
		lo, hi := e.sec.KeyGen(r.scalar(ops[1]))
		out.setBank(insts.BankSEC, int(ops[0].Reg), lo)
		out.setBank(insts.BankSEC, int(ops[0].Reg)+1, hi)
	case insts.OpSHA256, insts.OpSHA512, insts.OpSHA3, insts.OpSECUREHASH:
		out.set(ops[0], Wide(e.sec.Hash(inst.Op, r.vector(ops[1]))))
	case insts.OpRSAENC, insts.OpRSADEC:
		k := int(ops[2].Reg)
		x, exp, mod := r.scalar(ops[1]), r.bank(insts.BankSEC, k), r.bank(insts.BankSEC, k+1)
		out.setScalar(ops[0], e.sec.ModExp(x, exp, mod))
	case insts.OpECCSIGN:
		msg, seed := r.vector(ops[1]), r.key(insts.BankSEC, int(ops[2].Reg), 4)
		if r.err == nil {
			out.set(ops[0], Wide(e.sec.Sign(msg, seed)))
		}
	case insts.OpECCVERIFY:
		sig, msg, seed := r.vector(ops[1]), r.vector(ops[2]), r.key(insts.BankSEC, 0, 4)
		if r.err == nil {
			var ok uint64
			if e.sec.Verify(sig, msg, seed) {
				ok = 1
			}
			out.setScalar(ops[0], ok)
		}
	case insts.OpSECURERAND:
		key := r.key(insts.BankSEC, 0, 4)
		if r.err == nil {
			out.setScalar(ops[0], e.sec.Rand(key))
		}
	}
}

func (e *Executor) execScientific(inst *insts.Instruction, r *operandReader, out *Outcome) {
	ops := inst.Args()
	dt := inst.DataType

	switch inst.Op {
	case insts.OpSIN, insts.OpCOS, insts.OpTAN, insts.OpEXP, insts.OpLOG:
		out.setFloat(ops[0], e.fpu.Unary(inst.Op, dt, r.float(ops[1])))
	case insts.OpPOW:
		out.setFloat(ops[0], e.fpu.Binary(inst.Op, dt, r.float(ops[1]), r.float(ops[2])))
	case insts.OpFFT, insts.OpIFFT, insts.OpDFT, insts.OpIDFT:
		out.set(ops[0], Wide(e.sci.Transform(inst.Op, r.vector(ops[1]))))
	case insts.OpMATRIXMUL:
		out.set(ops[0], Wide(e.sci.MatrixMul(r.vector(ops[1]), r.vector(ops[2]))))
	case insts.OpMATRIXDET:
		out.setFloat(ops[0], e.sci.Determinant(r.vector(ops[1])))
	case insts.OpMATRIXINV:
		out.set(ops[0], Wide(e.sci.Inverse(r.vector(ops[1]))))
	case insts.OpEIGEN:
		out.set(ops[0], Wide(e.sci.Eigen(r.vector(ops[1]))))
	case insts.OpSVD:
		out.set(ops[0], Wide(e.sci.SVD(r.vector(ops[1]))))
	case insts.OpQR:
		out.set(ops[0], Wide(e.sci.QR(r.vector(ops[1]))))
	case insts.OpLU:
		out.set(ops[0], Wide(e.sci.LU(r.vector(ops[1]))))
	case insts.OpCHOLESKY:
		out.set(ops[0], Wide(e.sci.Cholesky(r.vector(ops[1]))))
	}
}

func (e *Executor) execRealTime(inst *insts.Instruction, r *operandReader, out *Outcome, cycle uint64) {
	ops := inst.Args()

	switch inst.Op {
	case insts.OpRTSETPRIORITY, insts.OpRTSETDEADLINE:
		out.setScalar(ops[0], r.scalar(ops[1]))
	case insts.OpRTTIMER:
		out.setScalar(ops[0], cycle+r.scalar(ops[1]))
	case insts.OpRTWAIT:
		out.ExtraCycles = min(r.scalar(ops[0]), MaxWaitCycles)
	case insts.OpRTSIGNAL:
		flags := r.bank(insts.BankRTR, int(RTSignal))
		out.setBank(insts.BankRTR, int(RTSignal), flags|1<<(r.scalar(ops[0])%64))
	case insts.OpRTSCHEDULE:
		deadline := r.bank(insts.BankRTR, int(RTDeadline))
		var missed uint64
		if deadline != 0 && cycle > deadline {
			missed = 1
		}
		out.setScalar(ops[0], missed)
	}
}

func (e *Executor) execDebug(inst *insts.Instruction, r *operandReader, out *Outcome, pc, cycle uint64) {
	ops := inst.Args()

	switch inst.Op {
	case insts.OpPROFILESTART:
		out.setScalar(ops[0], cycle)
	case insts.OpPROFILESTOP:
		out.setScalar(ops[0], cycle-r.scalar(ops[0]))
	case insts.OpPROFILEREAD:
		out.setScalar(ops[0], r.scalar(ops[1]))
	case insts.OpBREAKPOINT:
		e.logger.Debug("breakpoint", "core", e.coreID, "pc", pc, "cycle", cycle, "id", ops[0].Imm)
	case insts.OpTRACESTART:
		e.tracing, e.traced, e.traceStart = true, 0, cycle
	case insts.OpTRACESTOP:
		e.tracing = false
	case insts.OpTRACEREAD:
		out.setScalar(ops[0], e.traced)
		out.setScalar(ops[1], e.traceStart)
	case insts.OpPERFCOUNTER:
		out.setScalar(ops[0], e.counter(int64(ops[1].Imm), cycle))
	}
}

func (e *Executor) counter(id int64, cycle uint64) uint64 {
	if e.counters != nil {
		return e.counters(id)
	}
	if id == CounterCycles {
		return cycle
	}
	return 0
}

func (e *Executor) execAtomic(inst *insts.Instruction, r *operandReader, out *Outcome) {
	ops := inst.Args()

	switch inst.Op {
	case insts.OpAMOADD:
		addr, delta := r.addr(ops[1]), r.scalar(ops[2])
		if r.err == nil {
			out.setScalar(ops[0], e.lsu.FetchAdd(addr, inst.DataType, delta))
		}
	case insts.OpCOREID:
		out.setScalar(ops[0], uint64(e.coreID))
	}
}

func (e *Executor) execSystem(inst *insts.Instruction, r *operandReader, out *Outcome, pc uint64) {
	ops := inst.Args()

	switch inst.Op {
	case insts.OpHALT:
		out.Halt = true
	case insts.OpSYSCALL:
		var args [4]uint64
		for i := range args {
			args[i] = r.bank(insts.BankGPR, i)
		}
		if r.err != nil {
			return
		}
		res := e.syscalls.Handle(e.lsu, args)
		if res.Exited {
			out.Halt, out.ExitCode = true, res.ExitCode
			return
		}
		out.setBank(insts.BankGPR, 0, res.Return)
	case insts.OpINT, insts.OpTRAP:
		e.logger.Debug(inst.Name(), "core", e.coreID, "pc", pc, "vector", ops[0].Imm)
	case insts.OpIRET:
		e.logger.Debug(inst.Name(), "core", e.coreID, "pc", pc)
	case insts.OpXMOV:
		out.set(ops[0], r.value(ops[1]))
	}
}
