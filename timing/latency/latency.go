// Package latency provides the instruction timing model: execute costs,
// the misprediction penalty and the energy table.
package latency

import (
	"github.com/sarchlab/alphasim/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
	costs  map[insts.Op]uint64
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return NewTableWithConfig(DefaultTimingConfig())
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
// Overrides naming unknown opcodes are ignored; call Validate first to reject
// them.
func NewTableWithConfig(config *TimingConfig) *Table {
	t := &Table{
		config: config,
		costs:  make(map[insts.Op]uint64, len(config.CycleCosts)),
	}
	for name, cost := range config.CycleCosts {
		if info, ok := insts.LookupName(name); ok {
			t.costs[info.Op] = cost
		}
	}
	return t
}

// GetLatency returns the execute cost in cycles for the given instruction.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}
	if cost, ok := t.costs[inst.Op]; ok {
		return cost
	}
	if inst.CycleCost == 0 {
		return 1
	}
	return inst.CycleCost
}

// Energy returns the estimated dynamic energy of one execution.
func (t *Table) Energy(op insts.Op) float64 {
	info := insts.Lookup(op)
	if info == nil {
		return 0
	}
	return info.Power * t.config.EnergyScale
}

// MispredictPenalty returns the fetch freeze after a misprediction.
func (t *Table) MispredictPenalty() uint64 {
	return t.config.MispredictPenalty
}

// IsMemoryOp returns true if the instruction accesses memory.
func (t *Table) IsMemoryOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.Info().AccessesMemory()
}

// IsBranchOp returns true if the instruction can redirect control flow.
func (t *Table) IsBranchOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.Info().Control != insts.ControlNone
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
