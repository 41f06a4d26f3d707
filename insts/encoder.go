package insts

import (
	"encoding/binary"
	"fmt"
)

// Encoder encodes instructions into binary words for one target.
type Encoder struct {
	target Target
}

// NewEncoder creates an encoder for the given target.
func NewEncoder(target Target) *Encoder {
	return &Encoder{target: target}
}

// New builds a validated instruction. A DataTypeInvalid data type selects
// the opcode's default. Register operand banks are taken from the opcode
// signature unless the slot is bank-polymorphic.
func New(o Op, dt DataType, operands ...Operand) (*Instruction, error) {
	info := Lookup(o)
	if info == nil {
		return nil, &EncodeError{Op: o, Err: ErrInvalidOperands, Reason: "unknown opcode"}
	}
	if dt == DataTypeInvalid {
		dt = info.DefaultType
	}
	if len(operands) != len(info.Signature) {
		return nil, &EncodeError{Op: o, Err: ErrInvalidOperands,
			Reason: fmt.Sprintf("want %d operands, got %d", len(info.Signature), len(operands))}
	}

	inst := &Instruction{
		Op:          o,
		Category:    info.Category,
		DataType:    dt,
		NumOperands: len(operands),
		CycleCost:   info.CycleCost,
	}
	for i, opnd := range operands {
		spec := info.Signature[i]
		if opnd.Kind == OperandReg && spec.Bank != BankAny {
			opnd.Bank = spec.Bank
		}
		if opnd.Kind == OperandMem {
			opnd.Bank = BankGPR
		}
		if opnd.Kind == OperandImm {
			opnd.Bank = 0
			opnd.Reg = 0
		}
		inst.Operands[i] = opnd
	}

	if err := validate(TargetAlphaM, info, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// MustNew is New for statically known instructions. It panics on error.
func MustNew(o Op, dt DataType, operands ...Operand) *Instruction {
	inst, err := New(o, dt, operands...)
	if err != nil {
		panic(err)
	}
	return inst
}

func validate(target Target, info *OpInfo, inst *Instruction) error {
	fail := func(kind error, format string, args ...any) error {
		return &EncodeError{Op: inst.Op, Err: kind, Reason: fmt.Sprintf(format, args...)}
	}

	if !target.Supports(info) {
		return fail(ErrUnsupportedInstruction, "not available on %s", target)
	}
	if inst.DataType == DataTypeInvalid || inst.DataType >= numDataTypes || !info.AllowsType(inst.DataType) {
		return fail(ErrInvalidOperands, "data type %s not allowed", inst.DataType)
	}
	if inst.NumOperands != len(info.Signature) {
		return fail(ErrInvalidOperands, "want %d operands, got %d", len(info.Signature), inst.NumOperands)
	}

	for i, spec := range info.Signature {
		opnd := inst.Operands[i]
		if opnd.Kind != spec.Kind {
			return fail(ErrInvalidOperands, "operand %d: kind mismatch", i)
		}
		if opnd.Kind != OperandReg && opnd.Kind != OperandMem {
			continue
		}
		bank := opnd.Bank
		if spec.Bank != BankAny && bank != spec.Bank {
			return fail(ErrInvalidOperands, "operand %d: want bank %s", i, spec.Bank)
		}
		if bank >= NumBanks {
			return fail(ErrInvalidOperands, "operand %d: invalid bank", i)
		}
		if int(opnd.Reg) >= bank.Size() {
			return fail(ErrInvalidOperands, "operand %d: %s%d out of range", i, bank.Prefix(), opnd.Reg)
		}
		if !target.SupportsBank(bank) {
			return fail(ErrUnsupportedInstruction, "bank %s not available on %s", bank, target)
		}
	}
	for i := inst.NumOperands; i < MaxOperands; i++ {
		if inst.Operands[i] != (Operand{}) {
			return fail(ErrInvalidOperands, "operand %d beyond signature", i)
		}
	}
	return nil
}

// Encode returns the instruction word. Only the low 32 bits are used when
// Size() is 4.
func (e *Encoder) Encode(inst *Instruction) (uint64, error) {
	info := Lookup(inst.Op)
	if info == nil {
		return 0, &EncodeError{Op: inst.Op, Err: ErrInvalidOperands, Reason: "unknown opcode"}
	}
	if err := validate(e.target, info, inst); err != nil {
		return 0, err
	}

	w0 := uint32(inst.Op) | uint32(inst.DataType)<<8
	var ext uint32
	if info.NeedsExtension() {
		w0 |= extFlag
	}

	field := 0
	anyIdx := 0
	for i, spec := range info.Signature {
		opnd := inst.Operands[i]
		switch spec.Kind {
		case OperandReg, OperandMem:
			if field < 3 {
				w0 |= uint32(opnd.Reg) << (fieldAShift + fieldBits*field)
			} else {
				ext |= uint32(opnd.Reg)
			}
			field++
			if spec.Bank == BankAny {
				ext |= uint32(opnd.Bank) << (4 * anyIdx)
				anyIdx++
			}
			if spec.Kind == OperandMem {
				ext = uint32(opnd.Imm)
			}
		case OperandImm:
			ext = uint32(opnd.Imm)
		}
	}

	return uint64(w0) | uint64(ext)<<32, nil
}

// EncodeBytes appends the little-endian encoding of inst to buf.
func (e *Encoder) EncodeBytes(buf []byte, inst *Instruction) ([]byte, error) {
	word, err := e.Encode(inst)
	if err != nil {
		return buf, err
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(word))
	if inst.Size() == 8 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(word>>32))
	}
	return buf, nil
}
