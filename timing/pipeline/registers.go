package pipeline

import (
	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
)

// Slot is the pipeline register in front of a stage. It carries one
// in-flight instruction.
type Slot struct {
	// Valid indicates if this pipeline register contains valid data.
	Valid bool

	// Seq is the fetch order of the instruction.
	Seq uint64
	PC  uint64

	// Inst is nil when the fetched word did not decode; Err then holds the
	// decode error, raised when the slot reaches Execute.
	Inst *insts.Instruction
	Size int
	Err  error

	// PredictedNext is the address fetch continued from.
	PredictedNext uint64
	// RAS is the return stack state right after this slot's prediction.
	RAS RASCheckpoint

	// ReadyAt is the first cycle the slot may leave its stage.
	ReadyAt uint64

	// Outcome is filled on Execute entry.
	Outcome emu.Outcome

	// Halt is set when the instruction stops the core at Commit.
	Halt bool
}

// Clear resets the slot to empty state.
func (s *Slot) Clear() {
	*s = Slot{}
}
