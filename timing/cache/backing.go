package cache

import (
	"github.com/sarchlab/alphasim/emu"
)

// BackingStore is main memory, below the last cache level.
type BackingStore interface {
	// Read fetches size bytes from the backing store.
	Read(addr uint64, size int) []byte
	// Write stores data to the backing store.
	Write(addr uint64, data []byte)
}

// MemoryBacking wraps emu.Memory as a BackingStore.
type MemoryBacking struct {
	memory *emu.Memory
}

// NewMemoryBacking creates a new MemoryBacking adapter.
func NewMemoryBacking(memory *emu.Memory) *MemoryBacking {
	return &MemoryBacking{memory: memory}
}

// Memory returns the wrapped memory.
func (m *MemoryBacking) Memory() *emu.Memory {
	return m.memory
}

func (m *MemoryBacking) Read(addr uint64, size int) []byte {
	return m.memory.ReadBytes(addr, size)
}

func (m *MemoryBacking) Write(addr uint64, data []byte) {
	m.memory.Write(addr, data)
}
