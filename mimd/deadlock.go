package mimd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sarchlab/alphasim/simctx"
)

// ErrDeadlock is wrapped by every DeadlockError.
var ErrDeadlock = errors.New("deadlock detected")

// DeadlockError reports a state no core can leave. Dump describes every
// core and every pending operation.
type DeadlockError struct {
	Cycle  uint64
	Reason string
	Dump   string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("%v at cycle %d: %s", ErrDeadlock, e.Cycle, e.Reason)
}

func (e *DeadlockError) Unwrap() error {
	return ErrDeadlock
}

func (c *Coordinator) deadlock(ctx *simctx.Context, format string, args ...any) error {
	return &DeadlockError{
		Cycle:  ctx.Cycle,
		Reason: fmt.Sprintf(format, args...),
		Dump:   c.Dump(),
	}
}

func (c *Coordinator) anyRunnable() bool {
	for _, core := range c.cores {
		if core.Status().Runnable() {
			return true
		}
	}
	return false
}

func (c *Coordinator) detectDeadlock(ctx *simctx.Context, released bool) error {
	runnable := c.anyRunnable()

	for _, op := range c.ops {
		for id := range c.cores {
			if op.mask&(1<<uint(id)) == 0 {
				continue
			}
			if _, ok := op.arrivals[id]; ok {
				continue
			}
			switch s := c.cores[id].Status(); {
			case s == StatusHalted:
				return c.deadlock(ctx, "core %d of %s mask 0x%x has halted", id, op.kind, op.mask)
			case s == StatusIdle && !runnable:
				return c.deadlock(ctx, "core %d of %s mask 0x%x is idle and nothing can spawn it",
					id, op.kind, op.mask)
			}
		}
	}

	for _, j := range c.joins {
		if c.cores[j.target].Status() == StatusIdle && !runnable {
			return c.deadlock(ctx, "core %d joins idle core %d", j.caller, j.target)
		}
	}

	if !runnable && !released {
		for _, core := range c.cores {
			if core.Status().Blocked() {
				return c.deadlock(ctx, "every live core is blocked")
			}
		}
	}

	return nil
}

// Stuck returns a DeadlockError if any core is still blocked. The simulator
// calls it when the cycle limit is reached.
func (c *Coordinator) Stuck(ctx *simctx.Context) error {
	for _, core := range c.cores {
		if core.Status().Blocked() {
			return c.deadlock(ctx, "core %d still %s at the cycle limit", core.ID(), core.Status())
		}
	}
	return nil
}

// Dump describes every core, pending collective and join.
func (c *Coordinator) Dump() string {
	var b strings.Builder

	for _, core := range c.cores {
		fmt.Fprintf(&b, "core %d %s %s pc=0x%x", core.ID(), core.CoreType(), core.Status(), core.PC())
		if inst := core.Current(); inst != nil {
			fmt.Fprintf(&b, " at %s", inst)
		}
		b.WriteByte('\n')
	}

	for _, op := range c.ops {
		arrived := make([]int, 0, len(op.arrivals))
		for _, r := range op.ranked() {
			arrived = append(arrived, r.Core)
		}
		fmt.Fprintf(&b, "pending %s mask=0x%x arrived=%v\n", op.kind, op.mask, arrived)
	}

	for _, j := range c.joins {
		fmt.Fprintf(&b, "core %d joins core %d\n", j.caller, j.target)
	}

	return b.String()
}
