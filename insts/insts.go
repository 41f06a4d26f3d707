// Package insts provides AlphaAHB/AlphaM instruction definitions, decoding
// and encoding.
//
// Every instruction starts with a 32-bit word:
//
//	[7:0]   opcode
//	[11:8]  data type (1..11, zero is invalid)
//	[12]    extension flag
//	[17:13] operand field A
//	[22:18] operand field B
//	[27:23] operand field C
//	[31:28] reserved, must be zero
//
// An optional 32-bit extension word follows when the opcode signature needs
// an immediate, a memory offset, a fourth register or explicit register
// banks. The opcode table in opcodes.go is the single source of truth for
// signatures, categories and cycle costs.
//
// Usage:
//
//	dec := insts.NewDecoder(insts.TargetAlphaM)
//	inst, err := dec.Decode(0x00886400) // add.i64 r3, r2, r1
//	fmt.Println(inst)
package insts

import "fmt"

// Op is an instruction opcode. It is the value of the opcode byte.
type Op uint8

// Category groups opcodes by execution unit. Core types accept a subset of
// categories.
type Category uint8

// Instruction categories.
const (
	CategoryBasic Category = iota
	CategoryArithmetic
	CategoryFloat
	CategoryVector
	CategoryAI
	CategoryMIMD
	CategorySecurity
	CategoryScientific
	CategoryRealTime
	CategoryDebug
	CategorySystem
	numCategories
)

var categoryNames = [numCategories]string{
	"basic", "arithmetic", "float", "vector", "ai", "mimd",
	"security", "scientific", "realtime", "debug", "system",
}

func (c Category) String() string {
	if c < numCategories {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// DataType is the element type an instruction operates on.
type DataType uint8

// Data types. The zero value is not a valid encoding.
const (
	DataTypeInvalid DataType = iota
	DataTypeI8
	DataTypeI16
	DataTypeI32
	DataTypeI64
	DataTypeF16
	DataTypeF32
	DataTypeF64
	DataTypeF128
	DataTypeF256
	DataTypeF512
	DataTypeVector512
	numDataTypes
)

var dataTypeNames = [numDataTypes]string{
	"invalid", "i8", "i16", "i32", "i64", "f16", "f32", "f64",
	"f128", "f256", "f512", "v512",
}

func (d DataType) String() string {
	if d < numDataTypes {
		return dataTypeNames[d]
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// ParseDataType maps an assembler suffix such as "i32" to a DataType.
func ParseDataType(s string) (DataType, bool) {
	for i := DataTypeI8; i < numDataTypes; i++ {
		if dataTypeNames[i] == s {
			return i, true
		}
	}
	return DataTypeInvalid, false
}

// IsInteger reports whether d is one of I8..I64.
func (d DataType) IsInteger() bool {
	return d >= DataTypeI8 && d <= DataTypeI64
}

// IsFloat reports whether d is one of F16..F512.
func (d DataType) IsFloat() bool {
	return d >= DataTypeF16 && d <= DataTypeF512
}

// Bytes returns the element size in bytes for scalar memory accesses and
// vector lanes. F128 and wider are stored as binary64.
func (d DataType) Bytes() int {
	switch d {
	case DataTypeI8:
		return 1
	case DataTypeI16, DataTypeF16:
		return 2
	case DataTypeI32, DataTypeF32:
		return 4
	default:
		return 8
	}
}

// Bank identifies a register bank.
type Bank uint8

// Register banks.
const (
	BankGPR Bank = iota
	BankFPR
	BankVPR
	BankAIR
	BankMIMD
	BankSEC
	BankSCR
	BankRTR
	BankDPR
	NumBanks

	// BankAny marks a signature slot whose bank is carried in the
	// extension word.
	BankAny Bank = 0xF
)

var bankInfo = [NumBanks]struct {
	prefix string
	size   int
	width  int
}{
	BankGPR:  {"r", 32, 64},
	BankFPR:  {"f", 32, 64},
	BankVPR:  {"v", 32, 512},
	BankAIR:  {"a", 32, 64},
	BankMIMD: {"m", 16, 64},
	BankSEC:  {"s", 16, 64},
	BankSCR:  {"c", 16, 64},
	BankRTR:  {"t", 8, 64},
	BankDPR:  {"d", 16, 64},
}

// Size returns the number of registers in the bank.
func (b Bank) Size() int {
	if b < NumBanks {
		return bankInfo[b].size
	}
	return 0
}

// Width returns the register width in bits.
func (b Bank) Width() int {
	if b < NumBanks {
		return bankInfo[b].width
	}
	return 0
}

// Prefix returns the assembler register prefix, e.g. "r" for GPRs.
func (b Bank) Prefix() string {
	if b < NumBanks {
		return bankInfo[b].prefix
	}
	return "?"
}

func (b Bank) String() string {
	switch b {
	case BankGPR:
		return "gpr"
	case BankFPR:
		return "fpr"
	case BankVPR:
		return "vpr"
	case BankAIR:
		return "air"
	case BankMIMD:
		return "mimd"
	case BankSEC:
		return "sec"
	case BankSCR:
		return "scr"
	case BankRTR:
		return "rtr"
	case BankDPR:
		return "dpr"
	case BankAny:
		return "any"
	}
	return fmt.Sprintf("bank(%d)", uint8(b))
}

// BankByPrefix returns the bank with the given assembler prefix.
func BankByPrefix(p string) (Bank, bool) {
	for b := BankGPR; b < NumBanks; b++ {
		if bankInfo[b].prefix == p {
			return b, true
		}
	}
	return 0, false
}

// OperandKind distinguishes registers, immediates and memory operands.
type OperandKind uint8

// Operand kinds.
const (
	OperandNone OperandKind = iota
	OperandReg
	OperandImm
	OperandMem
)

// Operand is one instruction operand. For memory operands Reg is the GPR
// base and Imm the byte offset.
type Operand struct {
	Kind OperandKind
	Bank Bank
	Reg  uint8
	Imm  int32
}

// Reg returns a register operand. The bank is filled in from the opcode
// signature by New.
func Reg(index uint8) Operand {
	return Operand{Kind: OperandReg, Reg: index}
}

// BankReg returns a register operand with an explicit bank, used by
// bank-polymorphic opcodes such as xmov.
func BankReg(bank Bank, index uint8) Operand {
	return Operand{Kind: OperandReg, Bank: bank, Reg: index}
}

// Imm returns an immediate operand.
func Imm(v int32) Operand {
	return Operand{Kind: OperandImm, Imm: v}
}

// Mem returns a memory operand addressing [base+offset].
func Mem(base uint8, offset int32) Operand {
	return Operand{Kind: OperandMem, Bank: BankGPR, Reg: base, Imm: offset}
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandReg:
		return fmt.Sprintf("%s%d", o.Bank.Prefix(), o.Reg)
	case OperandImm:
		return fmt.Sprintf("%d", o.Imm)
	case OperandMem:
		if o.Imm == 0 {
			return fmt.Sprintf("[r%d]", o.Reg)
		}
		if o.Imm < 0 {
			return fmt.Sprintf("[r%d-%d]", o.Reg, -int64(o.Imm))
		}
		return fmt.Sprintf("[r%d+%d]", o.Reg, o.Imm)
	}
	return "_"
}

// MaxOperands is the largest operand count of any opcode.
const MaxOperands = 4

// Instruction is a decoded instruction. Values are comparable with ==.
type Instruction struct {
	Op          Op
	Category    Category
	DataType    DataType
	Operands    [MaxOperands]Operand
	NumOperands int
	CycleCost   uint64
}

// Args returns the used operands.
func (i *Instruction) Args() []Operand {
	return i.Operands[:i.NumOperands]
}

// Info returns the opcode table entry of the instruction.
func (i *Instruction) Info() *OpInfo {
	return Lookup(i.Op)
}

// Size returns the encoded size in bytes (4 or 8).
func (i *Instruction) Size() int {
	return Lookup(i.Op).Size()
}

// Name returns the mnemonic.
func (i *Instruction) Name() string {
	if info := Lookup(i.Op); info != nil {
		return info.Name
	}
	return fmt.Sprintf("op_%02x", uint8(i.Op))
}

// Target selects the supported instruction set.
type Target uint8

// Targets.
const (
	// TargetAlpha is the legacy single-core instruction set: basic,
	// arithmetic, float and system categories over GPR and FPR.
	TargetAlpha Target = iota
	// TargetAlphaM is the full heterogeneous MIMD instruction set.
	TargetAlphaM
)

func (t Target) String() string {
	if t == TargetAlpha {
		return "alpha"
	}
	return "alpham"
}

// ParseTarget parses "alpha" or "alpham".
func ParseTarget(s string) (Target, error) {
	switch s {
	case "alpha":
		return TargetAlpha, nil
	case "alpham", "":
		return TargetAlphaM, nil
	}
	return TargetAlphaM, fmt.Errorf("unknown target %q", s)
}

// Supports reports whether the target includes the given opcode.
func (t Target) Supports(info *OpInfo) bool {
	if t == TargetAlphaM {
		return true
	}
	switch info.Category {
	case CategoryBasic, CategoryArithmetic, CategoryFloat, CategorySystem:
		return true
	}
	return false
}

// SupportsBank reports whether the target has the given register bank.
func (t Target) SupportsBank(b Bank) bool {
	return t == TargetAlphaM || b == BankGPR || b == BankFPR
}
