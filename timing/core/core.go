// Package core provides the cycle-accurate core model: identity, status,
// register file and pipeline.
package core

import (
	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/mimd"
	"github.com/sarchlab/alphasim/simctx"
	"github.com/sarchlab/alphasim/timing/pipeline"
)

// Stats holds performance statistics for the core.
type Stats struct {
	// Cycles is the number of cycles the core's pipeline was ticked.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// Stalls is the number of cycles in which nothing moved.
	Stalls uint64
	// Flushes is the number of pipeline flushes.
	Flushes uint64
}

// Core is one simulated core. Its status is changed by the coordinator and
// by its own pipeline.
type Core struct {
	// Pipeline is the underlying pipeline.
	Pipeline *pipeline.Pipeline

	id       int
	coreType emu.CoreType
	status   mimd.Status
	regFile  *emu.RegFile
}

// NewCore creates an idle core of the given type over a shared memory
// system.
func NewCore(
	id int,
	coreType emu.CoreType,
	memory pipeline.Memory,
	opts ...pipeline.PipelineOption,
) *Core {
	regFile := emu.NewRegFile(coreType)
	opts = append([]pipeline.PipelineOption{pipeline.WithCoreID(id)}, opts...)

	return &Core{
		Pipeline: pipeline.NewPipeline(regFile, memory, opts...),
		id:       id,
		coreType: coreType,
		regFile:  regFile,
	}
}

// ID returns the core id.
func (c *Core) ID() int {
	return c.id
}

// CoreType returns the core's heterogeneous type.
func (c *Core) CoreType() emu.CoreType {
	return c.coreType
}

// Status returns the execution status.
func (c *Core) Status() mimd.Status {
	return c.status
}

// SetStatus sets the execution status.
func (c *Core) SetStatus(s mimd.Status) {
	c.status = s
}

// RegFile returns the core's private register file.
func (c *Core) RegFile() *emu.RegFile {
	return c.regFile
}

// PC returns the PC of the instruction in Execute, or of the next
// instruction to commit.
func (c *Core) PC() uint64 {
	return c.Pipeline.CurrentPC()
}

// Current returns the instruction in Execute, or nil.
func (c *Core) Current() *insts.Instruction {
	return c.Pipeline.Current()
}

// Start zeroes the registers, empties the pipeline and points it at entry.
// Statistics are kept; only Reset clears them.
func (c *Core) Start(entry uint64) {
	c.regFile.Reset()
	c.Pipeline.Restart()
	c.Pipeline.SetPC(entry)
}

// Tick advances the pipeline by one cycle if the core is runnable.
func (c *Core) Tick(ctx *simctx.Context) error {
	if !c.status.Runnable() {
		return nil
	}

	if err := c.Pipeline.Tick(ctx); err != nil {
		return err
	}

	switch {
	case c.Pipeline.Halted():
		c.status = mimd.StatusHalted
	case !c.status.Runnable():
		// blocked by the coordinator during the tick
	case c.Pipeline.Progressed():
		c.status = mimd.StatusRunning
	default:
		c.status = mimd.StatusStalled
	}

	return nil
}

// Halted returns true if the core has halted.
func (c *Core) Halted() bool {
	return c.status == mimd.StatusHalted
}

// ExitCode returns the exit code if the core has halted.
func (c *Core) ExitCode() int64 {
	return c.Pipeline.ExitCode()
}

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats {
	pipeStats := c.Pipeline.Stats()
	return Stats{
		Cycles:       pipeStats.Cycles,
		Instructions: pipeStats.Retired,
		Stalls:       pipeStats.Stalls,
		Flushes:      pipeStats.Flushes,
	}
}

// Reset returns the core to idle with cleared state.
func (c *Core) Reset() {
	c.regFile.Reset()
	c.Pipeline.Reset()
	c.status = mimd.StatusIdle
}
