package mimd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/simctx"
)

var (
	// ErrNoIdleCore is returned by Spawn when every core is in use.
	ErrNoIdleCore = errors.New("no idle core")
	// ErrCollectiveMismatch is returned when participants disagree on the
	// root, the operator or the data type.
	ErrCollectiveMismatch = errors.New("collective mismatch")
	// ErrInvalidParticipants is returned for a mask that excludes the caller
	// or names a core that does not exist.
	ErrInvalidParticipants = errors.New("invalid participants")
)

// HookPosRelease marks the completion of a collective or a join. The hook
// item is a ReleaseEvent.
var HookPosRelease = &sim.HookPos{Name: "MIMD Release"}

// ReleaseEvent lists the cores released together.
type ReleaseEvent struct {
	Op    string
	Cores []int
}

// Memory is the memory system collectives move data through.
type Memory interface {
	Load(ctx *simctx.Context, addr uint64, width int) ([]byte, uint64)
	Store(ctx *simctx.Context, addr uint64, data []byte) uint64
}

type operation struct {
	kind     Kind
	mask     uint64
	first    Request
	arrivals map[int]Request
}

func (o *operation) complete() bool {
	return len(o.arrivals) == bits.OnesCount64(o.mask)
}

func (o *operation) agree(req Request) error {
	switch {
	case o.kind.hasRoot() && req.Root != o.first.Root:
		return fmt.Errorf("%w: %s root %d, core %d expects %d",
			ErrCollectiveMismatch, o.kind, o.first.Root, req.Core, req.Root)
	case o.kind.hasOperator() && req.Op != o.first.Op:
		return fmt.Errorf("%w: %s operator %d, core %d expects %d",
			ErrCollectiveMismatch, o.kind, o.first.Op, req.Core, req.Op)
	case req.DataType != o.first.DataType:
		return fmt.Errorf("%w: %s data type %s, core %d expects %s",
			ErrCollectiveMismatch, o.kind, o.first.DataType, req.Core, req.DataType)
	}
	return nil
}

// ranked returns the arrivals in ascending core id order.
func (o *operation) ranked() []Request {
	out := make([]Request, 0, len(o.arrivals))
	for _, r := range o.arrivals {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Core < out[j].Core })
	return out
}

type joinWait struct {
	caller int
	target int
}

// Coordinator owns every pending spawn, join and collective operation. It
// changes core statuses; cores only observe them.
type Coordinator struct {
	*sim.HookableBase

	cores  []Core
	memory Memory
	alu    *emu.ALU

	ops      []*operation
	joins    []joinWait
	starting []int
}

// NewCoordinator creates a coordinator over cores, indexed by core id.
func NewCoordinator(cores []Core, memory Memory) *Coordinator {
	return &Coordinator{
		HookableBase: sim.NewHookableBase(),
		cores:        cores,
		memory:       memory,
		alu:          emu.NewALU(),
	}
}

// Cores returns the coordinated cores.
func (c *Coordinator) Cores() []Core {
	return c.cores
}

func (c *Coordinator) starts(id int) bool {
	for _, s := range c.starting {
		if s == id {
			return true
		}
	}
	return false
}

// Spawn starts the lowest-numbered idle core at entry with a copy of the
// parent's MIMD bank. The child runs from the next cycle on.
func (c *Coordinator) Spawn(ctx *simctx.Context, parent int, entry uint64) (int, error) {
	for _, child := range c.cores {
		if child.Status() != StatusIdle || c.starts(child.ID()) {
			continue
		}

		child.Start(entry)
		child.RegFile().SetBank(insts.BankMIMD, c.cores[parent].RegFile().Bank(insts.BankMIMD))
		c.starting = append(c.starting, child.ID())

		ctx.Log().Debug("spawn", "core", parent, "child", child.ID(), "entry", entry)
		return child.ID(), nil
	}

	return 0, ErrNoIdleCore
}

// Join reclaims target once it has halted. It returns true when the target
// had already halted; otherwise the caller blocks until it does.
func (c *Coordinator) Join(ctx *simctx.Context, caller, target int) (bool, error) {
	if target < 0 || target >= len(c.cores) || target == caller {
		return false, fmt.Errorf("%w: core %d cannot join core %d",
			ErrInvalidParticipants, caller, target)
	}

	if c.cores[target].Status() == StatusHalted {
		c.cores[target].SetStatus(StatusIdle)
		return true, nil
	}

	c.cores[caller].SetStatus(StatusBlocked)
	c.joins = append(c.joins, joinWait{caller: caller, target: target})
	ctx.Log().Debug("join wait", "core", caller, "target", target)

	return false, nil
}

func (c *Coordinator) checkParticipants(req Request) error {
	n := len(c.cores)
	switch {
	case req.Mask&(1<<uint(req.Core)) == 0:
		return fmt.Errorf("%w: mask 0x%x excludes core %d",
			ErrInvalidParticipants, req.Mask, req.Core)
	case n < 64 && req.Mask>>uint(n) != 0:
		return fmt.Errorf("%w: mask 0x%x names cores beyond %d",
			ErrInvalidParticipants, req.Mask, n-1)
	case req.Kind.hasRoot() && (req.Root < 0 || req.Root >= n || req.Mask&(1<<uint(req.Root)) == 0):
		return fmt.Errorf("%w: root %d is not in mask 0x%x",
			ErrInvalidParticipants, req.Root, req.Mask)
	}
	return nil
}

func (c *Coordinator) find(kind Kind, mask uint64) *operation {
	for _, op := range c.ops {
		if op.kind == kind && op.mask == mask {
			return op
		}
	}
	return nil
}

// Arrive records a core at a collective operation and blocks it until every
// participant has arrived.
func (c *Coordinator) Arrive(ctx *simctx.Context, req Request) error {
	if err := c.checkParticipants(req); err != nil {
		return err
	}

	op := c.find(req.Kind, req.Mask)
	if op == nil {
		op = &operation{
			kind:     req.Kind,
			mask:     req.Mask,
			first:    req,
			arrivals: make(map[int]Request),
		}
		c.ops = append(c.ops, op)
	} else if err := op.agree(req); err != nil {
		return err
	}
	op.arrivals[req.Core] = req

	status := StatusBlocked
	if req.Kind == KindBarrier {
		status = StatusBlockedOnBarrier
	}
	c.cores[req.Core].SetStatus(status)

	ctx.Log().Debug("arrive", "core", req.Core, "kind", req.Kind.String(), "mask", req.Mask)
	return nil
}

// Resolve runs once per cycle boundary. It activates spawned cores,
// completes satisfied collectives and joins, and detects deadlock.
func (c *Coordinator) Resolve(ctx *simctx.Context) error {
	for _, id := range c.starting {
		c.cores[id].SetStatus(StatusRunning)
	}
	c.starting = c.starting[:0]

	released := false

	pending := c.ops[:0]
	for _, op := range c.ops {
		if !op.complete() {
			pending = append(pending, op)
			continue
		}
		if err := c.complete(ctx, op); err != nil {
			return err
		}
		released = true
	}
	c.ops = pending

	waiting := c.joins[:0]
	for _, j := range c.joins {
		if c.cores[j.target].Status() != StatusHalted {
			waiting = append(waiting, j)
			continue
		}
		c.cores[j.target].SetStatus(StatusIdle)
		c.cores[j.caller].SetStatus(StatusRunning)
		c.invoke("join", []int{j.caller})
		released = true
	}
	c.joins = waiting

	return c.detectDeadlock(ctx, released)
}

func (c *Coordinator) complete(ctx *simctx.Context, op *operation) error {
	reqs := op.ranked()
	dt := op.first.DataType
	w := dt.Bytes()

	var root Request
	for _, r := range reqs {
		if r.Core == op.first.Root {
			root = r
		}
	}

	var err error
	write := func(core int, reg uint8, v uint64) {
		if err == nil {
			err = c.cores[core].RegFile().Write(insts.BankGPR, reg, emu.Scalar(v))
		}
	}
	load := func(addr uint64) uint64 {
		data, _ := c.memory.Load(ctx, addr, w)
		return emu.SignExtend(littleEndian(data), dt)
	}
	store := func(addr uint64, v uint64) {
		c.memory.Store(ctx, addr, toBytes(v, w))
	}

	switch op.kind {
	case KindReduce:
		write(root.Core, root.Dst, c.fold(op.first.Op, dt, reqs))
	case KindAllReduce:
		v := c.fold(op.first.Op, dt, reqs)
		for _, r := range reqs {
			write(r.Core, r.Dst, v)
		}
	case KindBroadcast:
		for _, r := range reqs {
			write(r.Core, r.Dst, root.Value)
		}
	case KindScatter:
		for rank, r := range reqs {
			write(r.Core, r.Dst, load(root.Addr+uint64(rank*w)))
		}
	case KindGather:
		for rank, r := range reqs {
			store(root.Addr+uint64(rank*w), r.Value)
		}
	case KindAllGather:
		for _, p := range reqs {
			for rank, r := range reqs {
				store(p.Addr+uint64(rank*w), r.Value)
			}
		}
	case KindAllToAll:
		words := make([][]uint64, len(reqs))
		for i, p := range reqs {
			words[i] = make([]uint64, len(reqs))
			for j := range reqs {
				words[i][j] = load(p.Addr + uint64(j*w))
			}
		}
		for i := range reqs {
			for j, q := range reqs {
				store(q.DstAddr+uint64(i*w), words[i][j])
			}
		}
	}
	if err != nil {
		return err
	}

	ids := make([]int, len(reqs))
	for i, r := range reqs {
		ids[i] = r.Core
		c.cores[r.Core].SetStatus(StatusRunning)
	}

	ctx.Log().Debug("release", "kind", op.kind.String(), "mask", op.mask)
	c.invoke(op.kind.String(), ids)

	return nil
}

// fold reduces the contributions in rank order.
func (c *Coordinator) fold(op ReduceOp, dt insts.DataType, reqs []Request) uint64 {
	acc := emu.SignExtend(reqs[0].Value, dt)
	for _, r := range reqs[1:] {
		v := emu.SignExtend(r.Value, dt)
		switch op {
		case ReduceSum:
			acc, _ = c.alu.Binary(insts.OpADD, dt, acc, v)
		case ReduceProd:
			acc, _ = c.alu.Binary(insts.OpMUL, dt, acc, v)
		case ReduceMin:
			if int64(v) < int64(acc) {
				acc = v
			}
		case ReduceMax:
			if int64(v) > int64(acc) {
				acc = v
			}
		case ReduceAnd:
			acc, _ = c.alu.Binary(insts.OpAND, dt, acc, v)
		case ReduceOr:
			acc, _ = c.alu.Binary(insts.OpOR, dt, acc, v)
		case ReduceXor:
			acc, _ = c.alu.Binary(insts.OpXOR, dt, acc, v)
		}
	}
	return acc
}

func (c *Coordinator) invoke(op string, cores []int) {
	if c.NumHooks() == 0 {
		return
	}
	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosRelease,
		Item:   ReleaseEvent{Op: op, Cores: cores},
	})
}

func littleEndian(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

func toBytes(v uint64, n int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:n]
}
