// Package asm is a two-pass assembler for AlphaAHB source. The first pass
// lays out addresses and symbols; the second pass encodes instructions and
// data into loader segments.
package asm

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/loader"
)

// Errors reported by the assembler. Each is wrapped in an *Error carrying
// the source line.
var (
	ErrSyntax           = errors.New("syntax error")
	ErrUnknownMnemonic  = errors.New("unknown mnemonic")
	ErrUnknownDirective = errors.New("unknown directive")
	ErrOperand          = errors.New("invalid operand")
	ErrRange            = errors.New("value out of range")
	ErrUndefinedSymbol  = errors.New("undefined symbol")
	ErrDuplicateSymbol  = errors.New("duplicate symbol")
	ErrOverlap          = errors.New("overlapping output")
	ErrEmpty            = errors.New("no output")
)

// Error is an assembly error at a source line.
type Error struct {
	Line int
	Err  error
}

func (e *Error) Error() string {
	if e.Line <= 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// EntrySymbol is used as the entry point when no .entry directive is given.
const EntrySymbol = "_start"

// Object is the result of an assembly.
type Object struct {
	Program *loader.Program
	Symbols map[string]uint64
	// Instructions is the number of encoded instructions.
	Instructions int
	// Removed is the number of statements dropped by the optimiser.
	Removed int
}

// Assembler turns source text into a program.
type Assembler struct {
	target   insts.Target
	optimize int
	origin   uint64
	logger   *slog.Logger
	encoder  *insts.Encoder
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithTarget sets the instruction set. Instructions the target does not
// support are rejected.
func WithTarget(target insts.Target) Option {
	return func(a *Assembler) {
		a.target = target
	}
}

// WithOptimize sets the optimisation level.
func WithOptimize(level int) Option {
	return func(a *Assembler) {
		a.optimize = level
	}
}

// WithOrigin sets the address of the first statement.
func WithOrigin(addr uint64) Option {
	return func(a *Assembler) {
		a.origin = addr
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithConfig applies a configuration. Validate it first.
func WithConfig(config Config) Option {
	return func(a *Assembler) {
		if t, err := insts.ParseTarget(config.Target); err == nil {
			a.target = t
		}
		a.optimize = config.Optimize
		a.origin = config.Origin
	}
}

// New creates an assembler for the AlphaM target at origin 0.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		target: insts.TargetAlphaM,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.encoder = insts.NewEncoder(a.target)
	return a
}

// AssembleFile assembles the source file at path.
func (a *Assembler) AssembleFile(path string) (*Object, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	return a.Assemble(string(src))
}

// Assemble assembles src. All errors found are joined.
func (a *Assembler) Assemble(src string) (*Object, error) {
	stmts, errs := parseSource(src)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	stmts, removed := a.optimizeStatements(stmts)

	symbols, entry, errs := a.layout(stmts)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	obj := &Object{
		Program: &loader.Program{},
		Symbols: symbols,
		Removed: removed,
	}

	if errs := a.emit(stmts, obj); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if len(obj.Program.Segments) == 0 {
		return nil, &Error{Err: ErrEmpty}
	}

	obj.Program.Sort()
	segs := obj.Program.Segments
	for i := 1; i < len(segs); i++ {
		if segs[i].Addr < segs[i-1].End() {
			return nil, &Error{Err: fmt.Errorf("%w at 0x%x", ErrOverlap, segs[i].Addr)}
		}
	}

	if err := a.resolveEntry(obj, entry); err != nil {
		return nil, err
	}

	a.logger.Debug("assembled",
		"instructions", obj.Instructions, "bytes", obj.Program.Size(),
		"removed", removed, "entry", obj.Program.Entry)

	return obj, nil
}

func (a *Assembler) resolveEntry(obj *Object, entry *statement) error {
	switch {
	case entry != nil:
		ev := &evaluator{symbols: obj.Symbols, strict: true}
		v, _, err := ev.eval(entry.line, entry.args[0])
		if err != nil {
			return err
		}
		obj.Program.Entry = uint64(v)
	case hasSymbol(obj.Symbols, EntrySymbol):
		obj.Program.Entry = obj.Symbols[EntrySymbol]
	default:
		obj.Program.Entry = obj.Program.Segments[0].Addr
	}
	return nil
}

func hasSymbol(symbols map[string]uint64, name string) bool {
	_, ok := symbols[name]
	return ok
}

// size returns the number of bytes a statement occupies at pc.
func (a *Assembler) size(st *statement, ev *evaluator, pc uint64) (uint64, error) {
	if st.mnemonic != "" {
		info, _ := insts.LookupName(st.mnemonic)
		return uint64(info.Size()), nil
	}

	switch st.directive {
	case ".word":
		return 4 * uint64(len(st.args)), nil
	case ".dword":
		return 8 * uint64(len(st.args)), nil
	case ".byte":
		return uint64(len(st.args)), nil
	case ".space":
		if len(st.args) < 1 || len(st.args) > 2 {
			return 0, lineError(st.line, ErrSyntax, ".space takes a size and an optional fill")
		}
		n, _, err := ev.eval(st.line, st.args[0])
		if err != nil {
			return 0, err
		}
		if n < 0 || n > math.MaxInt32 {
			return 0, lineError(st.line, ErrRange, ".space %d", n)
		}
		return uint64(n), nil
	case ".align":
		if len(st.args) != 1 {
			return 0, lineError(st.line, ErrSyntax, ".align takes one argument")
		}
		n, _, err := ev.eval(st.line, st.args[0])
		if err != nil {
			return 0, err
		}
		if n <= 0 || n&(n-1) != 0 {
			return 0, lineError(st.line, ErrRange, ".align %d is not a power of two", n)
		}
		return (uint64(n) - pc%uint64(n)) % uint64(n), nil
	}

	return 0, nil
}

// layout is the first pass. It assigns every statement an address and
// defines the symbols.
func (a *Assembler) layout(stmts []statement) (map[string]uint64, *statement, []error) {
	var (
		errs  []error
		entry *statement
	)

	symbols := make(map[string]uint64)
	ev := &evaluator{symbols: symbols}
	pc := a.origin

	define := func(line int, name string, v uint64) {
		if _, ok := symbols[name]; ok {
			errs = append(errs, lineError(line, ErrDuplicateSymbol, "%q", name))
			return
		}
		symbols[name] = v
	}

	for i := range stmts {
		st := &stmts[i]

		if st.directive == ".org" {
			if len(st.args) != 1 {
				errs = append(errs, lineError(st.line, ErrSyntax, ".org takes one address"))
				continue
			}
			v, _, err := (&evaluator{symbols: symbols, strict: true}).eval(st.line, st.args[0])
			if err != nil {
				errs = append(errs, err)
				continue
			}
			pc = uint64(v)
		}

		for _, l := range st.labels {
			define(st.line, l, pc)
		}
		st.addr = pc

		switch st.directive {
		case "", ".org", ".word", ".dword", ".byte", ".space", ".align":
		case ".entry":
			if len(st.args) != 1 {
				errs = append(errs, lineError(st.line, ErrSyntax, ".entry takes one address"))
				continue
			}
			entry = st
		case ".equ", ".set":
			if len(st.args) != 2 || !isIdent(st.args[0]) {
				errs = append(errs, lineError(st.line, ErrSyntax, "%s takes a name and a value", st.directive))
				continue
			}
			v, _, err := (&evaluator{symbols: symbols, strict: true}).eval(st.line, st.args[1])
			if err != nil {
				errs = append(errs, err)
				continue
			}
			define(st.line, st.args[0], uint64(v))
		default:
			errs = append(errs, lineError(st.line, ErrUnknownDirective, "%q", st.directive))
			continue
		}

		n, err := a.size(st, ev, pc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pc += n
	}

	return symbols, entry, errs
}

type segmentWriter struct {
	prog *loader.Program
}

func (w *segmentWriter) write(addr uint64, data []byte) {
	segs := w.prog.Segments
	if n := len(segs); n > 0 && segs[n-1].End() == addr {
		segs[n-1].Data = append(segs[n-1].Data, data...)
		segs[n-1].MemSize = uint64(len(segs[n-1].Data))
		return
	}

	w.prog.Segments = append(segs, loader.Segment{
		Addr:    addr,
		Data:    append([]byte(nil), data...),
		MemSize: uint64(len(data)),
		Flags:   loader.SegmentFlagRead | loader.SegmentFlagWrite | loader.SegmentFlagExecute,
	})
}

// emit is the second pass. It encodes every statement at its address.
func (a *Assembler) emit(stmts []statement, obj *Object) []error {
	var errs []error

	ev := &evaluator{symbols: obj.Symbols, strict: true}
	out := &segmentWriter{prog: obj.Program}

	for i := range stmts {
		st := &stmts[i]

		if st.mnemonic != "" {
			inst, err := a.instruction(st, ev)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			buf, err := a.encoder.EncodeBytes(nil, inst)
			if err != nil {
				errs = append(errs, &Error{Line: st.line, Err: err})
				continue
			}
			out.write(st.addr, buf)
			obj.Instructions++
			continue
		}

		data, err := a.data(st, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(data) > 0 {
			out.write(st.addr, data)
		}
	}

	return errs
}

func (a *Assembler) data(st *statement, ev *evaluator) ([]byte, error) {
	switch st.directive {
	case ".word", ".dword", ".byte":
		width := map[string]int{".byte": 1, ".word": 4, ".dword": 8}[st.directive]
		buf := make([]byte, 0, width*len(st.args))
		for _, arg := range st.args {
			v, _, err := ev.eval(st.line, arg)
			if err != nil {
				return nil, err
			}
			if !fits(v, width) {
				return nil, lineError(st.line, ErrRange, "%d does not fit in %d bytes", v, width)
			}
			for b := 0; b < width; b++ {
				buf = append(buf, byte(uint64(v)>>(8*b)))
			}
		}
		return buf, nil

	case ".space":
		n, _, _ := ev.eval(st.line, st.args[0])
		var fill int64
		if len(st.args) == 2 {
			var err error
			if fill, _, err = ev.eval(st.line, st.args[1]); err != nil {
				return nil, err
			}
			if !fits(fill, 1) {
				return nil, lineError(st.line, ErrRange, "fill %d", fill)
			}
		}
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(fill)
		}
		return buf, nil

	case ".align":
		n, _, _ := ev.eval(st.line, st.args[0])
		return make([]byte, (uint64(n)-st.addr%uint64(n))%uint64(n)), nil
	}

	return nil, nil
}

func fits(v int64, width int) bool {
	if width >= 8 {
		return true
	}
	bits := uint(8 * width)
	return v >= -(1<<(bits-1)) && v < 1<<bits
}

// pcRelative reports whether a symbolic immediate of info is encoded as an
// offset from the instruction address.
func pcRelative(info *insts.OpInfo) bool {
	switch info.Control {
	case insts.ControlConditional, insts.ControlDirect:
		return true
	}
	return info.Op == insts.OpSPAWN
}

func (a *Assembler) instruction(st *statement, ev *evaluator) (*insts.Instruction, error) {
	info, _ := insts.LookupName(st.mnemonic)
	if len(st.args) != len(info.Signature) {
		return nil, lineError(st.line, ErrOperand, "%s takes %d operands, got %d",
			info.Name, len(info.Signature), len(st.args))
	}

	ops := make([]insts.Operand, len(st.args))
	for i, spec := range info.Signature {
		arg := st.args[i]

		switch spec.Kind {
		case insts.OperandReg:
			bank, reg, err := parseRegister(st.line, arg)
			if err != nil {
				return nil, err
			}
			if spec.Bank != insts.BankAny && bank != spec.Bank {
				return nil, lineError(st.line, ErrOperand, "operand %d of %s must be a %s register",
					i+1, info.Name, spec.Bank)
			}
			ops[i] = insts.BankReg(bank, reg)

		case insts.OperandMem:
			op, err := ev.parseMemory(st.line, arg)
			if err != nil {
				return nil, err
			}
			ops[i] = op

		case insts.OperandImm:
			v, symbolic, err := ev.eval(st.line, arg)
			if err != nil {
				return nil, err
			}
			if symbolic && pcRelative(info) {
				v -= int64(st.addr)
			}
			imm, err := imm32(st.line, v)
			if err != nil {
				return nil, err
			}
			ops[i] = insts.Imm(imm)
		}
	}

	if st.dataType != insts.DataTypeInvalid && !info.AllowsType(st.dataType) {
		return nil, lineError(st.line, ErrOperand, "%s does not take data type %s", info.Name, st.dataType)
	}

	inst, err := insts.New(info.Op, st.dataType, ops...)
	if err != nil {
		return nil, &Error{Line: st.line, Err: err}
	}
	return inst, nil
}
