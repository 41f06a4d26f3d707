package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Statistics holds per-level cache statistics.
type Statistics struct {
	Reads      uint64 `json:"reads"`
	Writes     uint64 `json:"writes"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Writebacks uint64 `json:"writebacks"`
}

// HitRate returns hits / (hits + misses), or 0 before any access.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// channels tracks when each of a set of identical channels frees up.
type channels struct {
	freeAt    []uint64
	occupancy uint64
}

func newChannels(n int, occupancy uint64) channels {
	return channels{freeAt: make([]uint64, n), occupancy: occupancy}
}

// acquire takes the channel that frees first for a request arriving at t
// and returns how long the request waits for it.
func (c *channels) acquire(t uint64) uint64 {
	best := 0
	for i := range c.freeAt {
		if c.freeAt[i] < c.freeAt[best] {
			best = i
		}
	}

	start := t
	if c.freeAt[best] > start {
		start = c.freeAt[best]
	}
	c.freeAt[best] = start + c.occupancy

	return start - t
}

func (c *channels) reset() {
	for i := range c.freeAt {
		c.freeAt[i] = 0
	}
}

// Level is one set-associative cache level. Tags and LRU state live in an
// akita cache directory; line data is kept alongside, indexed by set and way.
type Level struct {
	name   string
	config LevelConfig

	directory *akitacache.DirectoryImpl

	// indexed by (setID * associativity + wayID)
	dataStore [][]byte

	channels channels
	stats    Statistics
}

// NewLevel creates an empty cache level.
func NewLevel(name string, config LevelConfig) *Level {
	numSets := config.NumSets()
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &Level{
		name:   name,
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		channels:  newChannels(config.Channels, config.Occupancy),
	}
}

// Name returns the level name, such as "l2".
func (l *Level) Name() string {
	return l.name
}

// Config returns the level configuration.
func (l *Level) Config() LevelConfig {
	return l.config
}

// Stats returns the level statistics.
func (l *Level) Stats() Statistics {
	return l.stats
}

// Contains reports whether the line holding addr is valid in this level.
// It does not touch LRU state.
func (l *Level) Contains(addr uint64) bool {
	return l.lookup(l.lineAddr(addr)) != nil
}

func (l *Level) lineAddr(addr uint64) uint64 {
	bs := uint64(l.config.BlockSize)
	return addr / bs * bs
}

// lookup returns the valid block holding lineAddr, or nil.
func (l *Level) lookup(lineAddr uint64) *akitacache.Block {
	block := l.directory.Lookup(0, lineAddr)
	if block == nil || !block.IsValid {
		return nil
	}
	return block
}

func (l *Level) data(block *akitacache.Block) []byte {
	return l.dataStore[block.SetID*l.config.Associativity+block.WayID]
}

// victim picks the block to replace for lineAddr.
func (l *Level) victim(lineAddr uint64) *akitacache.Block {
	return l.directory.FindVictim(lineAddr)
}

// install places a line into block and marks it most recently used.
func (l *Level) install(block *akitacache.Block, lineAddr uint64, line []byte) {
	copy(l.data(block), line)
	block.Tag = lineAddr
	block.IsValid = true
	block.IsDirty = false
	l.directory.Visit(block)
}

func (l *Level) invalidate(block *akitacache.Block) {
	block.IsValid = false
	block.IsDirty = false
}

// reset invalidates every line without writeback and clears statistics.
func (l *Level) reset() {
	l.directory.Reset()
	l.channels.reset()
	l.stats = Statistics{}
}
