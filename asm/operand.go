package asm

import (
	"math"
	"strconv"
	"strings"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
)

// parseRegister parses a register such as r5, f0 or v31. lr names the
// link register.
func parseRegister(line int, s string) (insts.Bank, uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "lr" {
		return insts.BankGPR, emu.LinkRegister, nil
	}

	i := 0
	for i < len(s) && s[i] >= 'a' && s[i] <= 'z' {
		i++
	}

	bank, ok := insts.BankByPrefix(s[:i])
	if !ok || i == len(s) {
		return 0, 0, lineError(line, ErrOperand, "%q is not a register", s)
	}

	idx, err := strconv.Atoi(s[i:])
	if err != nil || idx < 0 || idx >= bank.Size() {
		return 0, 0, lineError(line, ErrOperand, "%q is not a register", s)
	}

	return bank, uint8(idx), nil
}

// evaluator resolves expressions of numbers and symbols joined by + and -.
type evaluator struct {
	symbols map[string]uint64
	// strict fails on undefined symbols. Layout runs non-strict so forward
	// references size correctly.
	strict bool
}

// eval returns the value of expr and whether it referenced a symbol.
func (e *evaluator) eval(line int, expr string) (int64, bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, false, lineError(line, ErrSyntax, "missing expression")
	}

	var (
		total    int64
		symbolic bool
		sign     int64 = 1
		start    int
	)

	flush := func(term string) error {
		term = strings.TrimSpace(term)
		if term == "" {
			return lineError(line, ErrSyntax, "malformed expression %q", expr)
		}
		v, sym, err := e.term(line, term)
		if err != nil {
			return err
		}
		total += sign * v
		symbolic = symbolic || sym
		return nil
	}

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if c != '+' && c != '-' {
			continue
		}
		if strings.TrimSpace(expr[start:i]) == "" {
			// Unary sign.
			if c == '-' {
				sign = -sign
			}
			start = i + 1
			continue
		}
		if err := flush(expr[start:i]); err != nil {
			return 0, false, err
		}
		sign = 1
		if c == '-' {
			sign = -1
		}
		start = i + 1
	}
	if err := flush(expr[start:]); err != nil {
		return 0, false, err
	}

	return total, symbolic, nil
}

func (e *evaluator) term(line int, term string) (int64, bool, error) {
	if len(term) == 3 && term[0] == '\'' && term[2] == '\'' {
		return int64(term[1]), false, nil
	}

	if isIdent(term) {
		v, ok := e.symbols[term]
		if !ok && e.strict {
			return 0, true, lineError(line, ErrUndefinedSymbol, "%q", term)
		}
		return int64(v), true, nil
	}

	if v, err := strconv.ParseInt(term, 0, 64); err == nil {
		return v, false, nil
	}
	if v, err := strconv.ParseUint(term, 0, 64); err == nil {
		return int64(v), false, nil
	}

	return 0, false, lineError(line, ErrSyntax, "bad number %q", term)
}

// parseMemory parses [rB], [rB+off] or [rB-off].
func (e *evaluator) parseMemory(line int, s string) (insts.Operand, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 || s[0] != '[' || s[len(s)-1] != ']' {
		return insts.Operand{}, lineError(line, ErrOperand, "%q is not a memory operand", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])

	base, rest := inner, ""
	if i := strings.IndexAny(inner, "+-"); i >= 0 {
		base, rest = inner[:i], inner[i:]
	}

	bank, reg, err := parseRegister(line, base)
	if err != nil {
		return insts.Operand{}, err
	}
	if bank != insts.BankGPR {
		return insts.Operand{}, lineError(line, ErrOperand, "memory base %q must be a GPR", base)
	}

	var off int64
	if rest != "" {
		if off, _, err = e.eval(line, "0"+rest); err != nil {
			return insts.Operand{}, err
		}
	}
	if off < math.MinInt32 || off > math.MaxInt32 {
		return insts.Operand{}, lineError(line, ErrRange, "offset %d", off)
	}

	return insts.Mem(reg, int32(off)), nil
}

// imm32 accepts signed and unsigned 32-bit values.
func imm32(line int, v int64) (int32, error) {
	if v < math.MinInt32 || v > math.MaxUint32 {
		return 0, lineError(line, ErrRange, "%d does not fit in 32 bits", v)
	}
	return int32(uint32(v)), nil
}
