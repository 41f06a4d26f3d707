package asm

import "github.com/sarchlab/alphasim/insts"

// optimizeStatements drops statements according to the optimisation level.
// Labelled statements are never dropped.
func (a *Assembler) optimizeStatements(stmts []statement) ([]statement, int) {
	if a.optimize <= 0 {
		return stmts, 0
	}

	kept := stmts[:0]
	removed := 0
	for _, st := range stmts {
		if len(st.labels) == 0 && a.removable(&st) {
			a.logger.Debug("optimised away", "line", st.line, "mnemonic", st.mnemonic)
			removed++
			continue
		}
		kept = append(kept, st)
	}

	return kept, removed
}

func (a *Assembler) removable(st *statement) bool {
	switch st.mnemonic {
	case "nop":
		return true
	case "mov":
		return a.optimize >= 2 && fullWidth(st) && selfMove(st)
	case "xmov":
		return a.optimize >= 2 && selfMove(st)
	}
	return false
}

func selfMove(st *statement) bool {
	return len(st.args) == 2 && sameRegister(st.args[0], st.args[1])
}

// fullWidth reports whether a mov copies all 64 bits. Narrower integer
// moves sign-extend their source and are not no-ops.
func fullWidth(st *statement) bool {
	dt := st.dataType
	if dt == insts.DataTypeInvalid {
		if info, ok := insts.LookupName(st.mnemonic); ok {
			dt = info.DefaultType
		}
	}
	return !dt.IsInteger() || dt == insts.DataTypeI64
}

func sameRegister(x, y string) bool {
	bx, rx, errx := parseRegister(0, x)
	by, ry, erry := parseRegister(0, y)
	return errx == nil && erry == nil && bx == by && rx == ry
}
