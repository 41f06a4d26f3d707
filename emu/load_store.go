// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"encoding/binary"

	"github.com/sarchlab/alphasim/insts"
)

// DataPort is the data side of the memory system as seen from Execute.
// Both calls return the access latency in cycles.
type DataPort interface {
	Load(addr uint64, size int) ([]byte, uint64)
	Store(addr uint64, data []byte) uint64
}

// FlatPort is a zero-latency DataPort over a Memory.
type FlatPort struct {
	Memory *Memory
}

// Load reads size bytes.
func (p FlatPort) Load(addr uint64, size int) ([]byte, uint64) {
	return p.Memory.ReadBytes(addr, size), 0
}

// Store writes data.
func (p FlatPort) Store(addr uint64, data []byte) uint64 {
	p.Memory.Write(addr, data)
	return 0
}

// LoadStoreUnit implements the scalar, float and vector memory opcodes on
// top of a DataPort and accumulates the latency of each access.
type LoadStoreUnit struct {
	port    DataPort
	latency uint64
}

// NewLoadStoreUnit creates a LoadStoreUnit connected to the given port.
func NewLoadStoreUnit(port DataPort) *LoadStoreUnit {
	return &LoadStoreUnit{port: port}
}

// TakeLatency returns the latency accumulated since the last call and
// resets it.
func (lsu *LoadStoreUnit) TakeLatency() uint64 {
	l := lsu.latency
	lsu.latency = 0
	return l
}

func (lsu *LoadStoreUnit) load(addr uint64, size int) []byte {
	data, l := lsu.port.Load(addr, size)
	lsu.latency += l
	return data
}

func (lsu *LoadStoreUnit) store(addr uint64, data []byte) {
	lsu.latency += lsu.port.Store(addr, data)
}

func readLE(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

func writeLE(v uint64, size int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:size]
}

// Load reads an integer of the data type width and sign-extends it.
func (lsu *LoadStoreUnit) Load(addr uint64, dt insts.DataType) uint64 {
	return SignExtend(readLE(lsu.load(addr, dt.Bytes())), dt)
}

// Store writes the low bytes of v by data type width.
func (lsu *LoadStoreUnit) Store(addr uint64, dt insts.DataType, v uint64) {
	lsu.store(addr, writeLE(v, dt.Bytes()))
}

// LoadFloat reads a float of the data type's memory width and widens it
// to binary64 register storage.
func (lsu *LoadStoreUnit) LoadFloat(addr uint64, dt insts.DataType) float64 {
	return DecodeFloat(readLE(lsu.load(addr, dt.Bytes())), dt)
}

// StoreFloat rounds x to the data type and stores it.
func (lsu *LoadStoreUnit) StoreFloat(addr uint64, dt insts.DataType, x float64) {
	lsu.store(addr, writeLE(EncodeFloat(x, dt), dt.Bytes()))
}

// LoadVector reads a full 64-byte vector.
func (lsu *LoadStoreUnit) LoadVector(addr uint64) Vector {
	var v Vector
	copy(v[:], lsu.load(addr, VectorBytes))
	return v
}

// StoreVector writes a full 64-byte vector.
func (lsu *LoadStoreUnit) StoreVector(addr uint64, v Vector) {
	lsu.store(addr, v[:])
}

// LoadBytes reads raw bytes.
func (lsu *LoadStoreUnit) LoadBytes(addr uint64, n int) []byte {
	return lsu.load(addr, n)
}

// FetchAdd atomically adds delta to the value at addr and returns the old
// value. Cores are ticked one at a time, so the load and the store are
// never interleaved with another core's access.
func (lsu *LoadStoreUnit) FetchAdd(addr uint64, dt insts.DataType, delta uint64) uint64 {
	old := lsu.Load(addr, dt)
	lsu.Store(addr, dt, old+delta)
	return old
}
