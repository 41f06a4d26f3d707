package cache

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/alphasim/simctx"
)

// HookPosAccess marks a lookup in one cache level. The hook item is an
// AccessEvent.
var HookPosAccess = &sim.HookPos{Name: "Cache Access"}

// AccessKind tells which port issued a request.
type AccessKind int

// Access kinds.
const (
	AccessFetch AccessKind = iota
	AccessLoad
	AccessStore
)

func (k AccessKind) String() string {
	switch k {
	case AccessFetch:
		return "fetch"
	case AccessLoad:
		return "load"
	case AccessStore:
		return "store"
	}
	return fmt.Sprintf("AccessKind(%d)", int(k))
}

// AccessEvent is the hook item for HookPosAccess.
type AccessEvent struct {
	Level string
	Kind  AccessKind
	Addr  uint64
	Hit   bool
}

// Hierarchy is the memory system shared by every core: L1I and L1D over a
// shared L2 and L3, then main memory. Fills are inclusive, replacement is
// LRU, and writes allocate and are written back.
type Hierarchy struct {
	*sim.HookableBase

	config Config
	l1i    *Level
	l1d    *Level
	shared []*Level

	memory      BackingStore
	memChannels channels
	blockSize   uint64
}

// NewHierarchy creates an empty hierarchy over the backing store.
func NewHierarchy(config Config, backing BackingStore) (*Hierarchy, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	h := &Hierarchy{
		HookableBase: sim.NewHookableBase(),
		config:       config,
		l1i:          NewLevel("l1i", config.L1I),
		l1d:          NewLevel("l1d", config.L1D),
		shared: []*Level{
			NewLevel("l2", config.L2),
			NewLevel("l3", config.L3),
		},
		memory:      backing,
		memChannels: newChannels(config.MemoryChannels, config.MemoryOccupancy),
		blockSize:   uint64(config.L1D.BlockSize),
	}

	return h, nil
}

// Config returns the hierarchy configuration.
func (h *Hierarchy) Config() Config {
	return h.config
}

// Levels returns the cache levels in the order l1i, l1d, l2, l3.
func (h *Hierarchy) Levels() []*Level {
	return append([]*Level{h.l1i, h.l1d}, h.shared...)
}

// Level returns the level with the given name, or nil.
func (h *Hierarchy) Level(name string) *Level {
	for _, l := range h.Levels() {
		if l.name == name {
			return l
		}
	}
	return nil
}

// Backing returns main memory.
func (h *Hierarchy) Backing() BackingStore {
	return h.memory
}

// Load reads width bytes through the data side. The returned latency covers
// every level visited, plus channel waits.
func (h *Hierarchy) Load(ctx *simctx.Context, addr uint64, width int) ([]byte, uint64) {
	return h.read(ctx, h.l1d, AccessLoad, addr, width)
}

// Fetch reads width bytes through the instruction side.
func (h *Hierarchy) Fetch(ctx *simctx.Context, addr uint64, width int) ([]byte, uint64) {
	return h.read(ctx, h.l1i, AccessFetch, addr, width)
}

// Store writes data through the data side and invalidates any copy of the
// written lines in L1I.
func (h *Hierarchy) Store(ctx *simctx.Context, addr uint64, data []byte) uint64 {
	var total uint64

	h.split(addr, len(data), func(a uint64, from, to int) {
		lat, block := h.access(ctx.Cycle+total, h.l1d, AccessStore, a)
		off := a - block.Tag
		copy(h.l1d.data(block)[off:], data[from:to])
		block.IsDirty = true

		if b := h.l1i.lookup(block.Tag); b != nil {
			h.l1i.invalidate(b)
		}

		total += lat
	})

	return total
}

func (h *Hierarchy) read(
	ctx *simctx.Context,
	top *Level,
	kind AccessKind,
	addr uint64,
	width int,
) ([]byte, uint64) {
	out := make([]byte, width)
	var total uint64

	h.split(addr, width, func(a uint64, from, to int) {
		lat, block := h.access(ctx.Cycle+total, top, kind, a)
		off := a - block.Tag
		copy(out[from:to], top.data(block)[off:])
		total += lat
	})

	return out, total
}

// split cuts [addr, addr+n) at line boundaries. The pieces are issued one
// after the other, so their latencies add up.
func (h *Hierarchy) split(addr uint64, n int, fn func(a uint64, from, to int)) {
	from := 0
	for from < n {
		a := addr + uint64(from)
		lineEnd := (a/h.blockSize + 1) * h.blockSize
		to := from + int(lineEnd-a)
		if to > n {
			to = n
		}
		fn(a, from, to)
		from = to
	}
}

// access brings the line holding addr into top for a request arriving at
// cycle t, and returns the latency and the block in top.
func (h *Hierarchy) access(
	t uint64,
	top *Level,
	kind AccessKind,
	addr uint64,
) (uint64, *akitacache.Block) {
	lineAddr := addr / h.blockSize * h.blockSize
	path := append([]*Level{top}, h.shared...)

	var lat uint64
	hit := len(path)
	var hitBlock *akitacache.Block

	for i, lvl := range path {
		switch {
		case i > 0:
			lvl.stats.Reads++
		case kind == AccessStore:
			lvl.stats.Writes++
		default:
			lvl.stats.Reads++
		}

		lat += lvl.channels.acquire(t+lat) + lvl.config.Latency

		block := lvl.lookup(lineAddr)
		h.invoke(lvl, kind, lineAddr, block != nil)

		if block != nil {
			lvl.stats.Hits++
			lvl.directory.Visit(block)
			hit = i
			hitBlock = block
			break
		}
		lvl.stats.Misses++
	}

	if hit == 0 {
		return lat, hitBlock
	}

	var line []byte
	if hit == len(path) {
		lat += h.memChannels.acquire(t+lat) + h.config.MemoryLatency
		line = h.memory.Read(lineAddr, int(h.blockSize))
	} else {
		line = clone(path[hit].data(hitBlock))
	}

	// The data side may hold a newer copy than the shared levels.
	if top == h.l1i {
		if b := h.l1d.lookup(lineAddr); b != nil {
			line = clone(h.l1d.data(b))
		}
	}

	for i := hit - 1; i >= 0; i-- {
		h.fill(path[i], lineAddr, line)
	}

	return lat, top.lookup(lineAddr)
}

func (h *Hierarchy) fill(lvl *Level, lineAddr uint64, line []byte) {
	victim := lvl.victim(lineAddr)
	if victim.IsValid {
		lvl.stats.Evictions++
		h.evict(lvl, victim)
	}
	lvl.install(victim, lineAddr, line)
}

// evict removes a valid block from lvl. Copies in shallower levels are
// invalidated first, and the newest dirty data among them is written back
// one level down.
func (h *Hierarchy) evict(lvl *Level, victim *akitacache.Block) {
	addr := victim.Tag
	data := clone(lvl.data(victim))
	dirty := victim.IsDirty

	for _, up := range h.above(lvl) {
		b := up.lookup(addr)
		if b == nil {
			continue
		}
		if b.IsDirty {
			copy(data, up.data(b))
			dirty = true
		}
		up.invalidate(b)
	}

	lvl.invalidate(victim)

	if dirty {
		lvl.stats.Writebacks++
		h.writeBack(lvl, addr, data)
	}
}

// above lists the levels shallower than lvl, deepest first.
func (h *Hierarchy) above(lvl *Level) []*Level {
	for k, s := range h.shared {
		if s != lvl {
			continue
		}
		out := make([]*Level, 0, k+2)
		for j := k - 1; j >= 0; j-- {
			out = append(out, h.shared[j])
		}
		return append(out, h.l1i, h.l1d)
	}
	return nil
}

// below lists the levels deeper than lvl, shallowest first.
func (h *Hierarchy) below(lvl *Level) []*Level {
	if lvl == h.l1i || lvl == h.l1d {
		return h.shared
	}
	for k, s := range h.shared {
		if s == lvl {
			return h.shared[k+1:]
		}
	}
	return nil
}

func (h *Hierarchy) writeBack(lvl *Level, addr uint64, data []byte) {
	for _, down := range h.below(lvl) {
		if b := down.lookup(addr); b != nil {
			down.stats.Writes++
			copy(down.data(b), data)
			b.IsDirty = true
			return
		}
	}
	h.memory.Write(addr, data)
}

func (h *Hierarchy) invoke(lvl *Level, kind AccessKind, lineAddr uint64, hit bool) {
	if h.NumHooks() == 0 {
		return
	}
	h.InvokeHook(sim.HookCtx{
		Domain: h,
		Pos:    HookPosAccess,
		Item: AccessEvent{
			Level: lvl.name,
			Kind:  kind,
			Addr:  lineAddr,
			Hit:   hit,
		},
	})
}

// Peek reads the newest copy of width bytes without touching statistics,
// LRU state or channels.
func (h *Hierarchy) Peek(addr uint64, width int) []byte {
	out := make([]byte, width)
	order := h.Levels()
	order[0], order[1] = order[1], order[0]

	h.split(addr, width, func(a uint64, from, to int) {
		lineAddr := a / h.blockSize * h.blockSize
		off := a - lineAddr
		for _, lvl := range order {
			if b := lvl.lookup(lineAddr); b != nil {
				copy(out[from:to], lvl.data(b)[off:])
				return
			}
		}
		copy(out[from:to], h.memory.Read(a, to-from))
	})

	return out
}

// Poke writes data into every cached copy and into main memory without
// touching statistics, LRU state or dirty bits.
func (h *Hierarchy) Poke(addr uint64, data []byte) {
	h.split(addr, len(data), func(a uint64, from, to int) {
		lineAddr := a / h.blockSize * h.blockSize
		off := a - lineAddr
		for _, lvl := range h.Levels() {
			if b := lvl.lookup(lineAddr); b != nil {
				copy(lvl.data(b)[off:], data[from:to])
			}
		}
	})
	h.memory.Write(addr, data)
}

// Flush writes every dirty line back to main memory and marks it clean.
// Lines stay valid.
func (h *Hierarchy) Flush() {
	for i := len(h.shared) - 1; i >= 0; i-- {
		h.flushLevel(h.shared[i])
	}
	h.flushLevel(h.l1d)
}

func (h *Hierarchy) flushLevel(lvl *Level) {
	for _, set := range lvl.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				h.memory.Write(block.Tag, lvl.data(block))
				lvl.stats.Writebacks++
				block.IsDirty = false
			}
		}
	}
}

// Reset invalidates every line without writeback, frees every channel and
// clears statistics.
func (h *Hierarchy) Reset() {
	for _, lvl := range h.Levels() {
		lvl.reset()
	}
	h.memChannels.reset()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
