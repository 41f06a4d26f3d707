// Package simulator drives a multi-core AlphaAHB simulation. All cores
// advance in lockstep on one akita ticking component; each tick is one
// global cycle.
package simulator

import (
	"context"
	"errors"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/loader"
	"github.com/sarchlab/alphasim/mimd"
	"github.com/sarchlab/alphasim/simctx"
	"github.com/sarchlab/alphasim/telemetry"
	"github.com/sarchlab/alphasim/timing/cache"
	"github.com/sarchlab/alphasim/timing/core"
	"github.com/sarchlab/alphasim/timing/latency"
)

// ErrFinished is returned by Step after the run has stopped.
var ErrFinished = errors.New("simulation finished")

// Simulator owns the memory system, the cores, the coordinator and the
// monitor of one run.
type Simulator struct {
	*sim.TickingComponent

	config      Config
	engine      sim.Engine
	ctx         *simctx.Context
	memory      *emu.Memory
	hierarchy   *cache.Hierarchy
	table       *latency.Table
	cores       []*core.Core
	coordinator *mimd.Coordinator
	monitor     *telemetry.Monitor

	runCtx context.Context
	done   bool
	halted bool
	fatal  *simctx.SimError
}

// Config returns the configuration of the run.
func (s *Simulator) Config() Config {
	return s.config.Clone()
}

// Context returns the simulation context.
func (s *Simulator) Context() *simctx.Context {
	return s.ctx
}

// Cycle returns the number of completed global cycles.
func (s *Simulator) Cycle() uint64 {
	return s.ctx.Cycle
}

// Memory returns the backing memory.
func (s *Simulator) Memory() *emu.Memory {
	return s.memory
}

// Hierarchy returns the shared cache hierarchy.
func (s *Simulator) Hierarchy() *cache.Hierarchy {
	return s.hierarchy
}

// Cores returns the cores in id order.
func (s *Simulator) Cores() []*core.Core {
	return s.cores
}

// Core returns the core with the given id.
func (s *Simulator) Core(id int) *core.Core {
	return s.cores[id]
}

// Coordinator returns the MIMD coordinator.
func (s *Simulator) Coordinator() *mimd.Coordinator {
	return s.coordinator
}

// Monitor returns the telemetry monitor.
func (s *Simulator) Monitor() *telemetry.Monitor {
	return s.monitor
}

// Done returns true once the run has stopped.
func (s *Simulator) Done() bool {
	return s.done
}

// Err returns the fatal error that stopped the run, if any.
func (s *Simulator) Err() error {
	if s.fatal == nil {
		return nil
	}
	return s.fatal
}

// ExitCode returns core 0's exit code.
func (s *Simulator) ExitCode() int64 {
	return s.cores[0].ExitCode()
}

// Load places the program's segments in memory and starts core 0 at the
// entry point.
func (s *Simulator) Load(prog *loader.Program) error {
	if len(prog.Segments) == 0 {
		return loader.ErrEmptyProgram
	}

	for _, seg := range prog.Segments {
		s.hierarchy.Poke(seg.Addr, seg.Data)
	}

	c := s.cores[0]
	c.Start(prog.Entry)
	c.SetStatus(mimd.StatusRunning)

	s.ctx.Log().Info("program loaded",
		"entry", prog.Entry, "segments", len(prog.Segments), "bytes", prog.Size())

	return nil
}

// Step runs one global cycle: every runnable core ticks in id order, then
// the coordinator resolves pending operations, then the clock advances.
func (s *Simulator) Step() error {
	if s.done {
		return ErrFinished
	}

	for _, c := range s.cores {
		if err := c.Tick(s.ctx); err != nil {
			return s.fail(c.ID(), c.PC(), err)
		}
	}

	if err := s.coordinator.Resolve(s.ctx); err != nil {
		return s.fail(-1, 0, err)
	}

	live := s.liveCores()
	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Pos:    telemetry.HookPosCycle,
		Item:   telemetry.CycleEvent{Cycle: s.ctx.Cycle, LiveCores: live},
	})
	s.ctx.Cycle++

	if live == 0 {
		s.done = true
		s.halted = true
		s.ctx.Log().Info("all cores stopped", "cycle", s.ctx.Cycle)
		return nil
	}

	if s.ctx.Cycle >= s.config.MaxCycles {
		s.done = true
		s.ctx.Log().Warn("cycle limit reached", "cycle", s.ctx.Cycle)
		if err := s.coordinator.Stuck(s.ctx); err != nil {
			return s.fail(-1, 0, err)
		}
	}

	return nil
}

func (s *Simulator) fail(coreID int, pc uint64, err error) error {
	s.done = true
	s.fatal = s.ctx.Wrap(coreID, pc, err)
	s.ctx.Log().Error("simulation failed", "core", s.fatal.CoreID, "error", s.fatal.Err)
	return s.fatal
}

func (s *Simulator) liveCores() int {
	n := 0
	for _, c := range s.cores {
		if c.Status().Live() {
			n++
		}
	}
	return n
}

// Tick implements sim.Ticker. It stops when the run is done, fails or the
// run context is cancelled.
func (s *Simulator) Tick() bool {
	if s.done {
		return false
	}

	if s.runCtx != nil {
		if err := s.runCtx.Err(); err != nil {
			s.fail(-1, s.cores[0].PC(), err)
			return false
		}
	}

	if err := s.Step(); err != nil {
		return false
	}

	return !s.done
}

// Run drives the simulation on the engine until it stops and returns the
// report. A fatal error is returned together with the partial report.
func (s *Simulator) Run(ctx context.Context) (*telemetry.Report, error) {
	s.runCtx = ctx
	defer func() { s.runCtx = nil }()

	if !s.done {
		s.TickLater()
		if err := s.engine.Run(); err != nil {
			return nil, err
		}
	}

	return s.Report(), s.Err()
}

// Report builds the performance report for the current state.
func (s *Simulator) Report() *telemetry.Report {
	info := telemetry.SimulationInfo{
		Target:    s.config.Target,
		Cores:     len(s.cores),
		MaxCycles: s.config.MaxCycles,
		Halted:    s.halted,
	}

	cores := make([]telemetry.CoreReport, len(s.cores))
	for i, c := range s.cores {
		cores[i] = telemetry.CoreReport{
			CoreID:              c.ID(),
			CoreType:            c.CoreType().String(),
			Status:              c.Status().String(),
			InstructionsRetired: c.Stats().Instructions,
		}
	}

	errs := s.ctx.Errors()
	if s.fatal != nil {
		errs = append(errs, s.fatal)
	}

	return telemetry.NewReport(info, s.monitor.Snapshot(), cores, errs)
}
