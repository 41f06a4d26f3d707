package insts

// Opcodes. Values are the encoded opcode byte.
const (
	OpADD Op = 0x00
	OpSUB Op = 0x01
	OpMUL Op = 0x02
	OpDIV Op = 0x03
	OpAND Op = 0x04
	OpOR  Op = 0x05
	OpXOR Op = 0x06
	OpNOT Op = 0x07
	OpSHL Op = 0x08
	OpSHR Op = 0x09
	OpROL Op = 0x0A
	OpROR Op = 0x0B
	OpMOD Op = 0x0C
	OpMOV Op = 0x0D
	OpSAR Op = 0x0E

	OpLD   Op = 0x10
	OpST   Op = 0x11
	OpLDI  Op = 0x12
	OpSTI  Op = 0x13
	OpLDF  Op = 0x14
	OpSTF  Op = 0x15
	OpITOF Op = 0x16
	OpFTOI Op = 0x17

	OpBEQ  Op = 0x20
	OpBNE  Op = 0x21
	OpBLT  Op = 0x22
	OpBGT  Op = 0x23
	OpBLE  Op = 0x24
	OpBGE  Op = 0x25
	OpJMP  Op = 0x26
	OpCALL Op = 0x27
	OpRET  Op = 0x28
	OpBR   Op = 0x29
	OpBL   Op = 0x2A

	OpFADD     Op = 0x30
	OpFSUB     Op = 0x31
	OpFMUL     Op = 0x32
	OpFDIV     Op = 0x33
	OpFSQRT    Op = 0x34
	OpFABS     Op = 0x35
	OpFNEG     Op = 0x36
	OpFROUND   Op = 0x37
	OpFCEIL    Op = 0x38
	OpFFLOOR   Op = 0x39
	OpFTRUNC   Op = 0x3A
	OpFMIN     Op = 0x3B
	OpFMAX     Op = 0x3C
	OpFCMP     Op = 0x3D
	OpFCONVERT Op = 0x3E
	OpFMA      Op = 0x3F

	OpVADD     Op = 0x40
	OpVSUB     Op = 0x41
	OpVMUL     Op = 0x42
	OpVDIV     Op = 0x43
	OpVAND     Op = 0x44
	OpVOR      Op = 0x45
	OpVXOR     Op = 0x46
	OpVNOT     Op = 0x47
	OpVSHL     Op = 0x48
	OpVSHR     Op = 0x49
	OpVROL     Op = 0x4A
	OpVROR     Op = 0x4B
	OpVLD      Op = 0x4C
	OpVST      Op = 0x4D
	OpVPERMUTE Op = 0x4E
	OpVSHUFFLE Op = 0x4F
	OpVBLEND   Op = 0x50
	OpVSELECT  Op = 0x51
	OpVREDUCE  Op = 0x52
	OpVSCAN    Op = 0x53

	OpCONV2D      Op = 0x60
	OpCONV3D      Op = 0x61
	OpMAXPOOL     Op = 0x62
	OpAVGPOOL     Op = 0x63
	OpRELU        Op = 0x64
	OpSIGMOID     Op = 0x65
	OpTANH        Op = 0x66
	OpSOFTMAX     Op = 0x67
	OpLSTM        Op = 0x68
	OpGRU         Op = 0x69
	OpTRANSFORMER Op = 0x6A
	OpATTENTION   Op = 0x6B
	OpMATMUL      Op = 0x6C
	OpGEMM        Op = 0x6D
	OpBATCHNORM   Op = 0x6E
	OpLAYERNORM   Op = 0x6F

	OpSPAWN     Op = 0x70
	OpJOIN      Op = 0x71
	OpBARRIER   Op = 0x72
	OpREDUCE    Op = 0x73
	OpBROADCAST Op = 0x74
	OpSCATTER   Op = 0x75
	OpGATHER    Op = 0x76
	OpALLREDUCE Op = 0x77
	OpALLGATHER Op = 0x78
	OpALLTOALL  Op = 0x79
	OpAMOADD    Op = 0x7A
	OpCOREID    Op = 0x7B

	OpAESENC     Op = 0x80
	OpAESDEC     Op = 0x81
	OpAESKEYGEN  Op = 0x82
	OpSHA256     Op = 0x83
	OpSHA512     Op = 0x84
	OpSHA3       Op = 0x85
	OpRSAENC     Op = 0x86
	OpRSADEC     Op = 0x87
	OpECCSIGN    Op = 0x88
	OpECCVERIFY  Op = 0x89
	OpSECUREHASH Op = 0x8A
	OpSECURERAND Op = 0x8B

	OpFFT       Op = 0x90
	OpIFFT      Op = 0x91
	OpDFT       Op = 0x92
	OpIDFT      Op = 0x93
	OpMATRIXMUL Op = 0x94
	OpMATRIXINV Op = 0x95
	OpMATRIXDET Op = 0x96
	OpEIGEN     Op = 0x97
	OpSVD       Op = 0x98
	OpQR        Op = 0x99
	OpLU        Op = 0x9A
	OpCHOLESKY  Op = 0x9B
	OpSIN       Op = 0x9C
	OpCOS       Op = 0x9D
	OpTAN       Op = 0x9E
	OpEXP       Op = 0x9F
	OpLOG       Op = 0xA0
	OpPOW       Op = 0xA1

	OpRTSETPRIORITY Op = 0xB0
	OpRTSETDEADLINE Op = 0xB1
	OpRTWAIT        Op = 0xB2
	OpRTSIGNAL      Op = 0xB3
	OpRTTIMER       Op = 0xB4
	OpRTSCHEDULE    Op = 0xB5

	OpPROFILESTART Op = 0xC0
	OpPROFILESTOP  Op = 0xC1
	OpPROFILEREAD  Op = 0xC2
	OpBREAKPOINT   Op = 0xC3
	OpTRACESTART   Op = 0xC4
	OpTRACESTOP    Op = 0xC5
	OpTRACEREAD    Op = 0xC6
	OpPERFCOUNTER  Op = 0xC7

	OpSYSCALL Op = 0xF0
	OpHALT    Op = 0xF1
	OpNOP     Op = 0xF2
	OpINT     Op = 0xF3
	OpIRET    Op = 0xF4
	OpTRAP    Op = 0xF5
	OpXMOV    Op = 0xF6
)

// ControlKind classifies control-flow opcodes for fetch-time prediction.
type ControlKind uint8

// Control kinds.
const (
	ControlNone ControlKind = iota
	// ControlConditional is a PC-relative conditional branch.
	ControlConditional
	// ControlDirect is an unconditional PC-relative jump or call.
	ControlDirect
	// ControlIndirect jumps to a register value.
	ControlIndirect
)

// OperandSpec is one slot of an opcode signature.
type OperandSpec struct {
	Kind OperandKind
	Bank Bank
}

// OpInfo is an opcode table entry.
type OpInfo struct {
	Op        Op
	Name      string
	Category  Category
	Signature []OperandSpec
	CycleCost uint64
	// Power is the estimated dynamic energy per execution, in arbitrary
	// units.
	Power       float64
	DefaultType DataType
	Control     ControlKind
}

// regFields counts operand fields used by registers and memory bases.
func (o *OpInfo) regFields() int {
	n := 0
	for _, s := range o.Signature {
		if s.Kind == OperandReg || s.Kind == OperandMem {
			n++
		}
	}
	return n
}

func (o *OpInfo) hasImmediate() bool {
	for _, s := range o.Signature {
		if s.Kind == OperandImm || s.Kind == OperandMem {
			return true
		}
	}
	return false
}

func (o *OpInfo) hasAnyBank() bool {
	for _, s := range o.Signature {
		if s.Bank == BankAny {
			return true
		}
	}
	return false
}

// NeedsExtension reports whether instructions with this opcode carry the
// 32-bit extension word.
func (o *OpInfo) NeedsExtension() bool {
	return o.hasImmediate() || o.regFields() > 3 || o.hasAnyBank()
}

// Size returns the encoded size in bytes.
func (o *OpInfo) Size() int {
	if o.NeedsExtension() {
		return 8
	}
	return 4
}

// AccessesMemory reports whether the opcode has a memory operand or
// addresses memory through a register.
func (o *OpInfo) AccessesMemory() bool {
	for _, s := range o.Signature {
		if s.Kind == OperandMem {
			return true
		}
	}
	switch o.Op {
	case OpSTI, OpALLTOALL, OpSYSCALL:
		return true
	}
	return false
}

// AllowsType reports whether the data type is legal for the opcode.
func (o *OpInfo) AllowsType(d DataType) bool {
	switch o.Category {
	case CategoryBasic, CategoryArithmetic:
		return d.IsInteger()
	case CategoryFloat:
		switch o.Op {
		case OpITOF, OpFTOI:
			return d.IsFloat() || d.IsInteger()
		}
		return d.IsFloat()
	case CategoryVector:
		return d.IsInteger() || d == DataTypeF16 || d == DataTypeF32 ||
			d == DataTypeF64 || d == DataTypeVector512
	case CategoryAI:
		return d == DataTypeF16 || d == DataTypeF32 || d == DataTypeVector512
	case CategorySecurity:
		return d == DataTypeI64 || d == DataTypeVector512
	case CategoryScientific:
		return d == DataTypeF32 || d == DataTypeF64
	default:
		return d == DataTypeI32 || d == DataTypeI64
	}
}

var (
	sigR     = OperandSpec{Kind: OperandReg, Bank: BankGPR}
	sigF     = OperandSpec{Kind: OperandReg, Bank: BankFPR}
	sigV     = OperandSpec{Kind: OperandReg, Bank: BankVPR}
	sigA     = OperandSpec{Kind: OperandReg, Bank: BankAIR}
	sigS     = OperandSpec{Kind: OperandReg, Bank: BankSEC}
	sigC     = OperandSpec{Kind: OperandReg, Bank: BankSCR}
	sigT     = OperandSpec{Kind: OperandReg, Bank: BankRTR}
	sigD     = OperandSpec{Kind: OperandReg, Bank: BankDPR}
	sigAny   = OperandSpec{Kind: OperandReg, Bank: BankAny}
	sigImm   = OperandSpec{Kind: OperandImm}
	sigMem   = OperandSpec{Kind: OperandMem, Bank: BankGPR}
	sigNone  = []OperandSpec{}
	sigRRR   = []OperandSpec{sigR, sigR, sigR}
	sigRR    = []OperandSpec{sigR, sigR}
	sigFFF   = []OperandSpec{sigF, sigF, sigF}
	sigFF    = []OperandSpec{sigF, sigF}
	sigVVV   = []OperandSpec{sigV, sigV, sigV}
	sigVV    = []OperandSpec{sigV, sigV}
	sigVVVV  = []OperandSpec{sigV, sigV, sigV, sigV}
	sigRRImm = []OperandSpec{sigR, sigR, sigImm}
)

func op(o Op, name string, c Category, cost uint64, sig []OperandSpec) OpInfo {
	return OpInfo{
		Op:        o,
		Name:      name,
		Category:  c,
		Signature: sig,
		CycleCost: cost,
		Power:     0.1 * float64(cost),
	}
}

func (o OpInfo) power(p float64) OpInfo {
	o.Power = p
	return o
}

func (o OpInfo) control(k ControlKind) OpInfo {
	o.Control = k
	return o
}

var opInfos = []OpInfo{
	op(OpADD, "add", CategoryBasic, 1, sigRRR),
	op(OpSUB, "sub", CategoryBasic, 1, sigRRR),
	op(OpMUL, "mul", CategoryArithmetic, 3, sigRRR).power(0.2),
	op(OpDIV, "div", CategoryArithmetic, 10, sigRRR).power(0.8),
	op(OpAND, "and", CategoryBasic, 1, sigRRR).power(0.05),
	op(OpOR, "or", CategoryBasic, 1, sigRRR).power(0.05),
	op(OpXOR, "xor", CategoryBasic, 1, sigRRR).power(0.05),
	op(OpNOT, "not", CategoryBasic, 1, sigRR).power(0.05),
	op(OpSHL, "shl", CategoryBasic, 1, sigRRR).power(0.05),
	op(OpSHR, "shr", CategoryBasic, 1, sigRRR).power(0.05),
	op(OpROL, "rol", CategoryArithmetic, 1, sigRRR).power(0.05),
	op(OpROR, "ror", CategoryArithmetic, 1, sigRRR).power(0.05),
	op(OpMOD, "mod", CategoryArithmetic, 10, sigRRR).power(0.8),
	op(OpMOV, "mov", CategoryBasic, 1, sigRR).power(0.05),
	op(OpSAR, "sar", CategoryArithmetic, 1, sigRRR).power(0.05),

	op(OpLD, "ld", CategoryBasic, 2, []OperandSpec{sigR, sigMem}).power(0.1),
	op(OpST, "st", CategoryBasic, 2, []OperandSpec{sigR, sigMem}).power(0.1),
	op(OpLDI, "ldi", CategoryBasic, 1, []OperandSpec{sigR, sigImm}),
	op(OpSTI, "sti", CategoryBasic, 1, []OperandSpec{sigR, sigImm}),
	op(OpLDF, "ldf", CategoryFloat, 2, []OperandSpec{sigF, sigMem}).power(0.1),
	op(OpSTF, "stf", CategoryFloat, 2, []OperandSpec{sigF, sigMem}).power(0.1),
	op(OpITOF, "itof", CategoryFloat, 2, []OperandSpec{sigF, sigR}),
	op(OpFTOI, "ftoi", CategoryFloat, 2, []OperandSpec{sigR, sigF}),

	op(OpBEQ, "beq", CategoryBasic, 1, sigRRImm).control(ControlConditional),
	op(OpBNE, "bne", CategoryBasic, 1, sigRRImm).control(ControlConditional),
	op(OpBLT, "blt", CategoryBasic, 1, sigRRImm).control(ControlConditional),
	op(OpBGT, "bgt", CategoryBasic, 1, sigRRImm).control(ControlConditional),
	op(OpBLE, "ble", CategoryBasic, 1, sigRRImm).control(ControlConditional),
	op(OpBGE, "bge", CategoryBasic, 1, sigRRImm).control(ControlConditional),
	op(OpJMP, "jmp", CategoryBasic, 1, []OperandSpec{sigR}).power(0.05).control(ControlIndirect),
	op(OpCALL, "call", CategoryBasic, 2, []OperandSpec{sigR}).control(ControlIndirect),
	op(OpRET, "ret", CategoryBasic, 1, sigNone).power(0.05).control(ControlIndirect),
	op(OpBR, "br", CategoryBasic, 1, []OperandSpec{sigImm}).power(0.05).control(ControlDirect),
	op(OpBL, "bl", CategoryBasic, 2, []OperandSpec{sigImm}).control(ControlDirect),

	op(OpFADD, "fadd", CategoryFloat, 3, sigFFF),
	op(OpFSUB, "fsub", CategoryFloat, 3, sigFFF),
	op(OpFMUL, "fmul", CategoryFloat, 4, sigFFF),
	op(OpFDIV, "fdiv", CategoryFloat, 12, sigFFF),
	op(OpFSQRT, "fsqrt", CategoryFloat, 8, sigFF),
	op(OpFABS, "fabs", CategoryFloat, 1, sigFF),
	op(OpFNEG, "fneg", CategoryFloat, 1, sigFF),
	op(OpFROUND, "fround", CategoryFloat, 2, sigFF),
	op(OpFCEIL, "fceil", CategoryFloat, 2, sigFF),
	op(OpFFLOOR, "ffloor", CategoryFloat, 2, sigFF),
	op(OpFTRUNC, "ftrunc", CategoryFloat, 2, sigFF),
	op(OpFMIN, "fmin", CategoryFloat, 2, sigFFF),
	op(OpFMAX, "fmax", CategoryFloat, 2, sigFFF),
	op(OpFCMP, "fcmp", CategoryFloat, 2, []OperandSpec{sigR, sigF, sigF}),
	op(OpFCONVERT, "fconvert", CategoryFloat, 2, sigFF),
	op(OpFMA, "fma", CategoryFloat, 4, []OperandSpec{sigF, sigF, sigF, sigF}),

	op(OpVADD, "vadd", CategoryVector, 2, sigVVV),
	op(OpVSUB, "vsub", CategoryVector, 2, sigVVV),
	op(OpVMUL, "vmul", CategoryVector, 4, sigVVV),
	op(OpVDIV, "vdiv", CategoryVector, 8, sigVVV),
	op(OpVAND, "vand", CategoryVector, 1, sigVVV),
	op(OpVOR, "vor", CategoryVector, 1, sigVVV),
	op(OpVXOR, "vxor", CategoryVector, 1, sigVVV),
	op(OpVNOT, "vnot", CategoryVector, 1, sigVV),
	op(OpVSHL, "vshl", CategoryVector, 1, sigVVV),
	op(OpVSHR, "vshr", CategoryVector, 1, sigVVV),
	op(OpVROL, "vrol", CategoryVector, 1, sigVVV),
	op(OpVROR, "vror", CategoryVector, 1, sigVVV),
	op(OpVLD, "vld", CategoryVector, 3, []OperandSpec{sigV, sigMem}),
	op(OpVST, "vst", CategoryVector, 3, []OperandSpec{sigV, sigMem}),
	op(OpVPERMUTE, "vpermute", CategoryVector, 2, sigVVV),
	op(OpVSHUFFLE, "vshuffle", CategoryVector, 2, sigVVV),
	op(OpVBLEND, "vblend", CategoryVector, 2, sigVVVV),
	op(OpVSELECT, "vselect", CategoryVector, 2, []OperandSpec{sigV, sigV, sigV, sigR}),
	op(OpVREDUCE, "vreduce", CategoryVector, 3, sigVV),
	op(OpVSCAN, "vscan", CategoryVector, 3, sigVV),

	op(OpCONV2D, "conv2d", CategoryAI, 16, sigVVVV),
	op(OpCONV3D, "conv3d", CategoryAI, 24, sigVVVV),
	op(OpMAXPOOL, "maxpool", CategoryAI, 8, []OperandSpec{sigV, sigV, sigA}),
	op(OpAVGPOOL, "avgpool", CategoryAI, 8, []OperandSpec{sigV, sigV, sigA}),
	op(OpRELU, "relu", CategoryAI, 2, sigVV),
	op(OpSIGMOID, "sigmoid", CategoryAI, 6, sigVV),
	op(OpTANH, "tanh", CategoryAI, 6, sigVV),
	op(OpSOFTMAX, "softmax", CategoryAI, 8, sigVV),
	op(OpLSTM, "lstm", CategoryAI, 20, sigVVVV),
	op(OpGRU, "gru", CategoryAI, 16, sigVVVV),
	op(OpTRANSFORMER, "transformer", CategoryAI, 32, sigVVVV),
	op(OpATTENTION, "attention", CategoryAI, 24, sigVVVV),
	op(OpMATMUL, "matmul", CategoryAI, 12, sigVVV),
	op(OpGEMM, "gemm", CategoryAI, 14, sigVVVV),
	op(OpBATCHNORM, "batchnorm", CategoryAI, 8, []OperandSpec{sigV, sigV, sigA}),
	op(OpLAYERNORM, "layernorm", CategoryAI, 8, []OperandSpec{sigV, sigV, sigA}),

	op(OpSPAWN, "spawn", CategoryMIMD, 5, []OperandSpec{sigR, sigImm}),
	op(OpJOIN, "join", CategoryMIMD, 3, []OperandSpec{sigR}),
	op(OpBARRIER, "barrier", CategoryMIMD, 2, []OperandSpec{sigR}),
	op(OpREDUCE, "reduce", CategoryMIMD, 8, sigRRR),
	op(OpBROADCAST, "broadcast", CategoryMIMD, 4, sigRR),
	op(OpSCATTER, "scatter", CategoryMIMD, 6, []OperandSpec{sigR, sigMem, sigR}),
	op(OpGATHER, "gather", CategoryMIMD, 6, []OperandSpec{sigR, sigMem, sigR}),
	op(OpALLREDUCE, "allreduce", CategoryMIMD, 10, sigRR),
	op(OpALLGATHER, "allgather", CategoryMIMD, 8, []OperandSpec{sigR, sigMem}),
	op(OpALLTOALL, "alltoall", CategoryMIMD, 10, sigRR),
	op(OpAMOADD, "amoadd", CategoryMIMD, 2, []OperandSpec{sigR, sigMem, sigR}),
	op(OpCOREID, "coreid", CategoryMIMD, 1, []OperandSpec{sigR}),

	op(OpAESENC, "aes_enc", CategorySecurity, 10, []OperandSpec{sigV, sigV, sigS}),
	op(OpAESDEC, "aes_dec", CategorySecurity, 10, []OperandSpec{sigV, sigV, sigS}),
	op(OpAESKEYGEN, "aes_keygen", CategorySecurity, 8, []OperandSpec{sigS, sigR}),
	op(OpSHA256, "sha256", CategorySecurity, 12, sigVV),
	op(OpSHA512, "sha512", CategorySecurity, 16, sigVV),
	op(OpSHA3, "sha3", CategorySecurity, 16, sigVV),
	op(OpRSAENC, "rsa_enc", CategorySecurity, 40, []OperandSpec{sigR, sigR, sigS}),
	op(OpRSADEC, "rsa_dec", CategorySecurity, 40, []OperandSpec{sigR, sigR, sigS}),
	op(OpECCSIGN, "ecc_sign", CategorySecurity, 30, []OperandSpec{sigV, sigV, sigS}),
	op(OpECCVERIFY, "ecc_verify", CategorySecurity, 30, []OperandSpec{sigR, sigV, sigV}),
	op(OpSECUREHASH, "secure_hash", CategorySecurity, 12, sigVV),
	op(OpSECURERAND, "secure_rand", CategorySecurity, 4, []OperandSpec{sigR}),

	op(OpFFT, "fft", CategoryScientific, 16, sigVV),
	op(OpIFFT, "ifft", CategoryScientific, 16, sigVV),
	op(OpDFT, "dft", CategoryScientific, 32, sigVV),
	op(OpIDFT, "idft", CategoryScientific, 32, sigVV),
	op(OpMATRIXMUL, "matrix_mul", CategoryScientific, 12, sigVVV),
	op(OpMATRIXINV, "matrix_inv", CategoryScientific, 24, sigVV),
	op(OpMATRIXDET, "matrix_det", CategoryScientific, 12, []OperandSpec{sigC, sigV}),
	op(OpEIGEN, "eigen", CategoryScientific, 40, sigVV),
	op(OpSVD, "svd", CategoryScientific, 48, sigVV),
	op(OpQR, "qr", CategoryScientific, 24, sigVV),
	op(OpLU, "lu", CategoryScientific, 20, sigVV),
	op(OpCHOLESKY, "cholesky", CategoryScientific, 20, sigVV),
	op(OpSIN, "sin", CategoryScientific, 8, sigFF),
	op(OpCOS, "cos", CategoryScientific, 8, sigFF),
	op(OpTAN, "tan", CategoryScientific, 8, sigFF),
	op(OpEXP, "exp", CategoryScientific, 8, sigFF),
	op(OpLOG, "log", CategoryScientific, 8, sigFF),
	op(OpPOW, "pow", CategoryScientific, 10, sigFFF),

	op(OpRTSETPRIORITY, "rt_set_priority", CategoryRealTime, 1, []OperandSpec{sigT, sigR}),
	op(OpRTSETDEADLINE, "rt_set_deadline", CategoryRealTime, 1, []OperandSpec{sigT, sigR}),
	op(OpRTWAIT, "rt_wait", CategoryRealTime, 1, []OperandSpec{sigR}),
	op(OpRTSIGNAL, "rt_signal", CategoryRealTime, 1, []OperandSpec{sigR}),
	op(OpRTTIMER, "rt_timer", CategoryRealTime, 1, []OperandSpec{sigT, sigR}),
	op(OpRTSCHEDULE, "rt_schedule", CategoryRealTime, 2, []OperandSpec{sigR}),

	op(OpPROFILESTART, "profile_start", CategoryDebug, 1, []OperandSpec{sigD}),
	op(OpPROFILESTOP, "profile_stop", CategoryDebug, 1, []OperandSpec{sigD}),
	op(OpPROFILEREAD, "profile_read", CategoryDebug, 1, []OperandSpec{sigR, sigD}),
	op(OpBREAKPOINT, "breakpoint", CategoryDebug, 1, []OperandSpec{sigImm}),
	op(OpTRACESTART, "trace_start", CategoryDebug, 1, sigNone),
	op(OpTRACESTOP, "trace_stop", CategoryDebug, 1, sigNone),
	op(OpTRACEREAD, "trace_read", CategoryDebug, 1, []OperandSpec{sigR, sigD}),
	op(OpPERFCOUNTER, "perf_counter", CategoryDebug, 1, []OperandSpec{sigR, sigImm}),

	op(OpSYSCALL, "syscall", CategorySystem, 10, sigNone),
	op(OpHALT, "halt", CategorySystem, 1, sigNone).power(0),
	op(OpNOP, "nop", CategorySystem, 1, sigNone).power(0.01),
	op(OpINT, "int", CategorySystem, 4, []OperandSpec{sigImm}),
	op(OpIRET, "iret", CategorySystem, 4, sigNone),
	op(OpTRAP, "trap", CategorySystem, 4, []OperandSpec{sigImm}),
	op(OpXMOV, "xmov", CategorySystem, 1, []OperandSpec{sigAny, sigAny}).power(0.05),
}

var (
	opTable  = buildOpTable(opInfos)
	opByName = buildNameIndex(opInfos)
)

func buildOpTable(infos []OpInfo) *[256]*OpInfo {
	var t [256]*OpInfo
	for i := range infos {
		info := &infos[i]
		info.DefaultType = defaultType(info)
		t[info.Op] = info
	}
	return &t
}

func buildNameIndex(infos []OpInfo) map[string]*OpInfo {
	m := make(map[string]*OpInfo, len(infos))
	for i := range infos {
		m[infos[i].Name] = &infos[i]
	}
	return m
}

func defaultType(info *OpInfo) DataType {
	switch info.Category {
	case CategoryFloat:
		return DataTypeF64
	case CategoryVector:
		return DataTypeI32
	case CategoryAI:
		return DataTypeF32
	case CategorySecurity:
		if info.Op == OpSECURERAND || info.Op == OpRSAENC ||
			info.Op == OpRSADEC || info.Op == OpAESKEYGEN ||
			info.Op == OpECCVERIFY {
			return DataTypeI64
		}
		return DataTypeVector512
	case CategoryScientific:
		return DataTypeF64
	}
	return DataTypeI64
}

// Lookup returns the table entry of an opcode, or nil for unknown opcodes.
func Lookup(o Op) *OpInfo {
	return opTable[o]
}

// LookupName returns the table entry of a mnemonic.
func LookupName(name string) (*OpInfo, bool) {
	info, ok := opByName[name]
	return info, ok
}

// All returns every opcode table entry in opcode order.
func All() []*OpInfo {
	out := make([]*OpInfo, 0, len(opInfos))
	for _, info := range opTable {
		if info != nil {
			out = append(out, info)
		}
	}
	return out
}
