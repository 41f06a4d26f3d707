// Package mimd coordinates multiple cores: spawn, join, barriers and
// collective operations.
package mimd

import (
	"fmt"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
)

// Status is the execution status of a core.
type Status int

// Core statuses.
const (
	// StatusIdle is a core that was never spawned or was reclaimed by join.
	StatusIdle Status = iota
	StatusRunning
	// StatusStalled is a running core whose pipeline made no progress.
	StatusStalled
	StatusBlocked
	StatusBlockedOnBarrier
	StatusHalted
)

var statusNames = [...]string{"idle", "running", "stalled", "blocked", "blocked_on_barrier", "halted"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText renders the status in reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether the core still takes part in the simulation.
func (s Status) Live() bool {
	return s != StatusIdle && s != StatusHalted
}

// Runnable reports whether the core advances its pipeline.
func (s Status) Runnable() bool {
	return s == StatusRunning || s == StatusStalled
}

// Blocked reports whether the core waits for the coordinator.
func (s Status) Blocked() bool {
	return s == StatusBlocked || s == StatusBlockedOnBarrier
}

// Core is the view the coordinator has of a simulated core.
type Core interface {
	ID() int
	CoreType() emu.CoreType
	Status() Status
	SetStatus(Status)
	RegFile() *emu.RegFile
	PC() uint64
	// Start zeroes the core's registers, empties its pipeline and points
	// it at entry. It does not change the status.
	Start(entry uint64)
	// Current returns the instruction in the Execute stage, or nil.
	Current() *insts.Instruction
}
