package insts

import (
	"errors"
	"fmt"
)

// Error kinds wrapped by DecodeError and EncodeError.
var (
	// ErrMalformedEncoding is a binary word that no legal instruction
	// encodes to.
	ErrMalformedEncoding = errors.New("malformed encoding")
	// ErrUnsupportedInstruction is a well-formed opcode outside the
	// selected target's instruction set.
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
	// ErrInvalidOperands is an instruction whose operands do not match the
	// opcode signature.
	ErrInvalidOperands = errors.New("invalid operands")
)

// DecodeError describes why a word failed to decode.
type DecodeError struct {
	Word   uint64
	Err    error
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode 0x%08x: %v: %s", e.Word, e.Err, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError describes why an instruction cannot be encoded.
type EncodeError struct {
	Op     Op
	Err    error
	Reason string
}

func (e *EncodeError) Error() string {
	name := fmt.Sprintf("op_%02x", uint8(e.Op))
	if info := Lookup(e.Op); info != nil {
		name = info.Name
	}
	return fmt.Sprintf("encode %s: %v: %s", name, e.Err, e.Reason)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

const (
	fieldBits     = 5
	fieldMask     = 1<<fieldBits - 1
	fieldAShift   = 13
	extFlag       = 1 << 12
	reservedShift = 28
)

// Decoder decodes binary words into instructions for one target.
type Decoder struct {
	target Target
}

// NewDecoder creates a decoder for the given target.
func NewDecoder(target Target) *Decoder {
	return &Decoder{target: target}
}

// Target returns the decoder's target.
func (d *Decoder) Target() Target {
	return d.target
}

// Predecode extracts the opcode table entry and encoded size from the first
// word without validating operands. It returns nil for unknown opcodes.
func Predecode(word0 uint32) (*OpInfo, int) {
	size := 4
	if word0&extFlag != 0 {
		size = 8
	}
	return Lookup(Op(word0 & 0xFF)), size
}

// DecodeBytes decodes the instruction at the start of b (little endian) and
// returns it with its size in bytes. When the word does not decode, the
// returned size is still the size declared by the extension flag.
func (d *Decoder) DecodeBytes(b []byte) (*Instruction, int, error) {
	if len(b) < 4 {
		return nil, 0, &DecodeError{Err: ErrMalformedEncoding, Reason: "truncated word"}
	}
	word := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
	size := 4
	if word&extFlag != 0 {
		if len(b) < 8 {
			return nil, 4, &DecodeError{Word: word, Err: ErrMalformedEncoding, Reason: "truncated extension word"}
		}
		word |= uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
		size = 8
	}
	inst, err := d.Decode(word)
	if err != nil {
		return nil, size, err
	}
	return inst, inst.Size(), nil
}

// Decode decodes a 32- or 64-bit instruction word. The upper half of word
// is read only when the extension flag is set.
func (d *Decoder) Decode(word uint64) (*Instruction, error) {
	w0 := uint32(word)
	hasExt := w0&extFlag != 0
	if !hasExt {
		word = uint64(w0)
	}

	fail := func(kind error, format string, args ...any) (*Instruction, error) {
		return nil, &DecodeError{Word: word, Err: kind, Reason: fmt.Sprintf(format, args...)}
	}

	if w0>>reservedShift != 0 {
		return fail(ErrMalformedEncoding, "reserved bits set")
	}

	info := Lookup(Op(w0 & 0xFF))
	if info == nil {
		return fail(ErrMalformedEncoding, "unknown opcode 0x%02x", w0&0xFF)
	}
	if !d.target.Supports(info) {
		return fail(ErrUnsupportedInstruction, "%s not available on %s", info.Name, d.target)
	}

	dt := DataType(w0 >> 8 & 0xF)
	if dt == DataTypeInvalid || dt >= numDataTypes {
		return fail(ErrMalformedEncoding, "invalid data type %d", uint8(dt))
	}
	if !info.AllowsType(dt) {
		return fail(ErrMalformedEncoding, "data type %s not allowed for %s", dt, info.Name)
	}

	if hasExt != info.NeedsExtension() {
		return fail(ErrMalformedEncoding, "extension flag does not match %s", info.Name)
	}

	var fields [MaxOperands]uint8
	for i := 0; i < 3; i++ {
		fields[i] = uint8(w0 >> (fieldAShift + fieldBits*i) & fieldMask)
	}

	ext := uint32(word >> 32)
	var anyBanks [2]Bank
	if hasExt && !info.hasImmediate() {
		var used uint32
		if info.hasAnyBank() {
			anyBanks[0] = Bank(ext & 0xF)
			anyBanks[1] = Bank(ext >> 4 & 0xF)
			used |= 0xFF
		}
		if info.regFields() > 3 {
			fields[3] = uint8(ext & fieldMask)
			used |= fieldMask
		}
		if ext&^used != 0 {
			return fail(ErrMalformedEncoding, "unused extension bits set")
		}
	}

	inst := &Instruction{
		Op:          info.Op,
		Category:    info.Category,
		DataType:    dt,
		NumOperands: len(info.Signature),
		CycleCost:   info.CycleCost,
	}

	field := 0
	anyIdx := 0
	for i, spec := range info.Signature {
		switch spec.Kind {
		case OperandReg:
			bank := spec.Bank
			if bank == BankAny {
				bank = anyBanks[anyIdx]
				anyIdx++
				if bank >= NumBanks {
					return fail(ErrMalformedEncoding, "invalid bank %d", uint8(bank))
				}
			}
			reg := fields[field]
			field++
			if int(reg) >= bank.Size() {
				return fail(ErrMalformedEncoding, "%s%d out of range", bank.Prefix(), reg)
			}
			if !d.target.SupportsBank(bank) {
				return fail(ErrUnsupportedInstruction, "bank %s not available on %s", bank, d.target)
			}
			inst.Operands[i] = Operand{Kind: OperandReg, Bank: bank, Reg: reg}
		case OperandMem:
			inst.Operands[i] = Operand{Kind: OperandMem, Bank: BankGPR, Reg: fields[field], Imm: int32(ext)}
			field++
		case OperandImm:
			inst.Operands[i] = Operand{Kind: OperandImm, Imm: int32(ext)}
		}
	}

	for i := field; i < 3; i++ {
		if fields[i] != 0 {
			return fail(ErrMalformedEncoding, "unused operand field set")
		}
	}

	return inst, nil
}
