package pipeline

import (
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/insts"
)

// Hook positions invoked by the pipeline.
var (
	// HookPosRetire is invoked when Commit retires an instruction. The item
	// is a RetireEvent.
	HookPosRetire = &sim.HookPos{Name: "Pipeline Retire"}
	// HookPosStage is invoked when an instruction enters a stage. The item
	// is a StageEvent.
	HookPosStage = &sim.HookPos{Name: "Pipeline Stage"}
	// HookPosBranch is invoked when Execute resolves a control-flow
	// instruction. The item is a BranchEvent.
	HookPosBranch = &sim.HookPos{Name: "Pipeline Branch"}
	// HookPosFlush is invoked when the front end is flushed. The item is a
	// FlushEvent.
	HookPosFlush = &sim.HookPos{Name: "Pipeline Flush"}
)

// RetireEvent describes a retired instruction.
type RetireEvent struct {
	CoreID int
	Cycle  uint64
	PC     uint64
	Inst   *insts.Instruction
}

// StageEvent describes an instruction entering a stage.
type StageEvent struct {
	CoreID int
	Stage  Stage
	Seq    uint64
	PC     uint64
}

// BranchEvent describes a resolved control-flow instruction.
type BranchEvent struct {
	CoreID  int
	PC      uint64
	Taken   bool
	Correct bool
}

// FlushEvent describes a front-end flush.
type FlushEvent struct {
	CoreID   int
	Target   uint64
	Squashed int
}

func (p *Pipeline) invoke(pos *sim.HookPos, item any) {
	if p.NumHooks() == 0 {
		return
	}
	p.InvokeHook(sim.HookCtx{
		Domain: p,
		Pos:    pos,
		Item:   item,
	})
}
