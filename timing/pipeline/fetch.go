package pipeline

import (
	"encoding/binary"

	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/simctx"
)

// fetchUnit reads instructions through the instruction side of the memory
// hierarchy and predicts the next fetch address.
type fetchUnit struct {
	memory    Memory
	decoder   *insts.Decoder
	predictor *BranchPredictor
}

func newFetchUnit(memory Memory, target insts.Target, predictor *BranchPredictor) *fetchUnit {
	return &fetchUnit{
		memory:    memory,
		decoder:   insts.NewDecoder(target),
		predictor: predictor,
	}
}

// fetch reads the instruction at pc. The slot's ReadyAt is the cycle the
// memory returns the word.
func (f *fetchUnit) fetch(ctx *simctx.Context, pc uint64) Slot {
	first, latency := f.memory.Fetch(ctx, pc, 4)
	raw := make([]byte, 4, 8)
	copy(raw, first)

	info, size := insts.Predecode(binary.LittleEndian.Uint32(raw))
	if size == 8 {
		// Both words are requested together.
		ext, extLatency := f.memory.Fetch(ctx, pc+4, 4)
		raw = append(raw, ext...)
		latency = max(latency, extLatency)
	}

	inst, _, err := f.decoder.DecodeBytes(raw)
	next := f.predict(pc, size, info)

	return Slot{
		Valid:         true,
		PC:            pc,
		Inst:          inst,
		Size:          size,
		Err:           err,
		PredictedNext: next,
		RAS:           f.predictor.Checkpoint(),
		ReadyAt:       ctx.Cycle + max(latency, 1),
	}
}

// predict follows the BTB for jumps and the return stack for ret.
// Conditional branches are predicted taken only when the counter says taken
// and the BTB knows the target.
func (f *fetchUnit) predict(pc uint64, size int, info *insts.OpInfo) uint64 {
	fallThrough := pc + uint64(size)
	if info == nil || info.Control == insts.ControlNone {
		return fallThrough
	}

	switch info.Op {
	case insts.OpBL, insts.OpCALL:
		f.predictor.PushReturn(fallThrough)
	case insts.OpRET:
		if addr, ok := f.predictor.PopReturn(); ok {
			return addr
		}
	}

	pred := f.predictor.Predict(pc)
	switch info.Control {
	case insts.ControlConditional:
		if pred.Taken && pred.TargetKnown {
			return pred.Target
		}
	case insts.ControlDirect, insts.ControlIndirect:
		if pred.TargetKnown {
			return pred.Target
		}
	}
	return fallThrough
}
