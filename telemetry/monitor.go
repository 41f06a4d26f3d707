// Package telemetry observes a simulation through akita hooks and turns
// what it sees into snapshots and performance reports.
package telemetry

import (
	"maps"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/mimd"
	"github.com/sarchlab/alphasim/timing/cache"
	"github.com/sarchlab/alphasim/timing/latency"
	"github.com/sarchlab/alphasim/timing/pipeline"
)

// HookPosCycle is invoked by the simulator at the end of every global
// cycle. The hook item is a CycleEvent.
var HookPosCycle = &sim.HookPos{Name: "Simulator Cycle"}

// CycleEvent describes a completed global cycle.
type CycleEvent struct {
	Cycle uint64
	// LiveCores is the number of cores that were neither idle nor halted.
	LiveCores int
}

// LevelCounts holds the lookups resolved at one cache level.
type LevelCounts struct {
	Hits   uint64
	Misses uint64
}

// HitRate returns hits over lookups, or 0 without lookups.
func (c LevelCounts) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}

// Monitor is a passive hook. It counts what the components report and
// never changes simulation state.
type Monitor struct {
	table *latency.Table

	cycles           uint64
	retired          uint64
	perCore          map[int]uint64
	stageTransitions uint64
	levels           map[string]LevelCounts
	branchCorrect    uint64
	branchIncorrect  uint64
	flushes          uint64
	releases         uint64
	dynamicEnergy    float64
	staticEnergy     float64
}

// NewMonitor creates a monitor that prices instructions with table.
func NewMonitor(table *latency.Table) *Monitor {
	if table == nil {
		table = latency.NewTable()
	}
	return &Monitor{
		table:   table,
		perCore: make(map[int]uint64),
		levels:  make(map[string]LevelCounts),
	}
}

// Func implements sim.Hook.
func (m *Monitor) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case HookPosCycle:
		e := ctx.Item.(CycleEvent)
		m.cycles++
		m.staticEnergy += float64(e.LiveCores) * m.table.Config().StaticEnergy
	case pipeline.HookPosRetire:
		e := ctx.Item.(pipeline.RetireEvent)
		m.retired++
		m.perCore[e.CoreID]++
		if e.Inst != nil {
			m.dynamicEnergy += m.table.Energy(e.Inst.Op)
		}
	case pipeline.HookPosStage:
		m.stageTransitions++
	case pipeline.HookPosBranch:
		if ctx.Item.(pipeline.BranchEvent).Correct {
			m.branchCorrect++
		} else {
			m.branchIncorrect++
		}
	case pipeline.HookPosFlush:
		m.flushes++
	case cache.HookPosAccess:
		e := ctx.Item.(cache.AccessEvent)
		c := m.levels[e.Level]
		if e.Hit {
			c.Hits++
		} else {
			c.Misses++
		}
		m.levels[e.Level] = c
	case mimd.HookPosRelease:
		m.releases++
	}
}

// Reset clears every counter.
func (m *Monitor) Reset() {
	*m = *NewMonitor(m.table)
}

// Snapshot is an immutable copy of the monitor's counters with derived
// metrics.
type Snapshot struct {
	Cycles           uint64
	Retired          uint64
	PerCore          map[int]uint64
	StageTransitions uint64
	Levels           map[string]LevelCounts
	BranchCorrect    uint64
	BranchIncorrect  uint64
	Flushes          uint64
	Releases         uint64

	// Energy is the dynamic energy of retired instructions plus the static
	// energy of live cores, in the units of the power table.
	Energy float64
	IPC    float64
	// AveragePower is energy per nanosecond at the configured clock.
	AveragePower float64
}

// Snapshot copies the current counters.
func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{
		Cycles:           m.cycles,
		Retired:          m.retired,
		PerCore:          maps.Clone(m.perCore),
		StageTransitions: m.stageTransitions,
		Levels:           maps.Clone(m.levels),
		BranchCorrect:    m.branchCorrect,
		BranchIncorrect:  m.branchIncorrect,
		Flushes:          m.flushes,
		Releases:         m.releases,
		Energy:           m.dynamicEnergy + m.staticEnergy,
	}

	if s.Cycles > 0 {
		s.IPC = float64(s.Retired) / float64(s.Cycles)
		s.AveragePower = s.Energy / float64(s.Cycles) * m.table.Config().ClockGHz
	}

	return s
}
