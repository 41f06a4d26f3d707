package mimd

import (
	"errors"
	"fmt"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
)

// Kind is a collective operation kind.
type Kind int

// Collective kinds.
const (
	KindBarrier Kind = iota
	KindReduce
	KindAllReduce
	KindBroadcast
	KindScatter
	KindGather
	KindAllGather
	KindAllToAll
)

var kindNames = [...]string{
	"barrier", "reduce", "allreduce", "broadcast",
	"scatter", "gather", "allgather", "alltoall",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) hasRoot() bool {
	switch k {
	case KindReduce, KindBroadcast, KindScatter, KindGather:
		return true
	}
	return false
}

func (k Kind) hasOperator() bool {
	return k == KindReduce || k == KindAllReduce
}

// ReduceOp is the reduction operator held in M2.
type ReduceOp uint64

// Reduction operators.
const (
	ReduceSum ReduceOp = iota
	ReduceProd
	ReduceMin
	ReduceMax
	ReduceAnd
	ReduceOr
	ReduceXor
)

// Registers of the MIMD bank with a fixed role.
const (
	MaskRegister     uint8 = 0
	OperatorRegister uint8 = 2
)

// ErrUnknownOperator is returned for a reduction operator above xor.
var ErrUnknownOperator = errors.New("unknown reduction operator")

// Request is one core's arrival at a collective operation.
type Request struct {
	Kind     Kind
	Core     int
	PC       uint64
	Mask     uint64
	Root     int
	Op       ReduceOp
	DataType insts.DataType

	// Dst is the GPR receiving the result, where there is one.
	Dst uint8
	// Value is the core's contribution.
	Value uint64
	// Addr is the buffer address (the source buffer for all-to-all).
	Addr uint64
	// DstAddr is the destination buffer of all-to-all.
	DstAddr uint64
}

var kindOf = map[insts.Op]Kind{
	insts.OpBARRIER:   KindBarrier,
	insts.OpREDUCE:    KindReduce,
	insts.OpALLREDUCE: KindAllReduce,
	insts.OpBROADCAST: KindBroadcast,
	insts.OpSCATTER:   KindScatter,
	insts.OpGATHER:    KindGather,
	insts.OpALLGATHER: KindAllGather,
	insts.OpALLTOALL:  KindAllToAll,
}

// IsCollective reports whether op arrives at a collective operation.
func IsCollective(op insts.Op) bool {
	_, ok := kindOf[op]
	return ok
}

type regReader struct {
	regs *emu.RegFile
	err  error
}

func (r *regReader) read(bank insts.Bank, idx uint8) uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.regs.Read(bank, idx)
	if err != nil {
		r.err = err
	}
	return v.Bits
}

func (r *regReader) gpr(o insts.Operand) uint64 {
	return r.read(insts.BankGPR, o.Reg)
}

func (r *regReader) addr(o insts.Operand) uint64 {
	return r.gpr(o) + uint64(int64(o.Imm))
}

// NewRequest reads the operands of a collective instruction executed by
// core at pc.
func NewRequest(core int, pc uint64, inst *insts.Instruction, regs *emu.RegFile) (Request, error) {
	kind, ok := kindOf[inst.Op]
	if !ok {
		return Request{}, fmt.Errorf("%s is not a collective", inst.Name())
	}

	r := &regReader{regs: regs}
	ops := inst.Args()
	req := Request{
		Kind:     kind,
		Core:     core,
		PC:       pc,
		DataType: inst.DataType,
	}

	if kind == KindBarrier {
		req.Mask = r.gpr(ops[0])
	} else {
		req.Mask = r.read(insts.BankMIMD, MaskRegister)
	}
	if kind.hasOperator() {
		req.Op = ReduceOp(r.read(insts.BankMIMD, OperatorRegister))
	}

	switch kind {
	case KindReduce:
		req.Dst, req.Value, req.Root = ops[0].Reg, r.gpr(ops[1]), int(r.gpr(ops[2]))
	case KindAllReduce:
		req.Dst, req.Value = ops[0].Reg, r.gpr(ops[1])
	case KindBroadcast:
		req.Dst, req.Value, req.Root = ops[0].Reg, r.gpr(ops[0]), int(r.gpr(ops[1]))
	case KindScatter:
		req.Dst, req.Addr, req.Root = ops[0].Reg, r.addr(ops[1]), int(r.gpr(ops[2]))
	case KindGather:
		req.Value, req.Addr, req.Root = r.gpr(ops[0]), r.addr(ops[1]), int(r.gpr(ops[2]))
	case KindAllGather:
		req.Value, req.Addr = r.gpr(ops[0]), r.addr(ops[1])
	case KindAllToAll:
		req.Addr, req.DstAddr = r.gpr(ops[0]), r.gpr(ops[1])
	}

	if r.err != nil {
		return Request{}, r.err
	}
	if req.Op > ReduceXor {
		return Request{}, fmt.Errorf("%w: %d", ErrUnknownOperator, req.Op)
	}
	return req, nil
}
