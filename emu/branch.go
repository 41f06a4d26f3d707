// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import "github.com/sarchlab/alphasim/insts"

// LinkRegister is the GPR that bl and call write the return address to.
const LinkRegister = 31

// BranchUnit resolves control-flow opcodes.
type BranchUnit struct{}

// NewBranchUnit creates a BranchUnit.
func NewBranchUnit() *BranchUnit {
	return &BranchUnit{}
}

// Condition evaluates a conditional branch on two signed operands.
func (b *BranchUnit) Condition(op insts.Op, dt insts.DataType, x, y uint64) bool {
	sx, sy := int64(SignExtend(x, dt)), int64(SignExtend(y, dt))
	switch op {
	case insts.OpBEQ:
		return sx == sy
	case insts.OpBNE:
		return sx != sy
	case insts.OpBLT:
		return sx < sy
	case insts.OpBGT:
		return sx > sy
	case insts.OpBLE:
		return sx <= sy
	case insts.OpBGE:
		return sx >= sy
	}
	return false
}

// Target computes a PC-relative target. Offsets are relative to the
// address of the branch itself.
func (b *BranchUnit) Target(pc uint64, offset int32) uint64 {
	return uint64(int64(pc) + int64(offset))
}
