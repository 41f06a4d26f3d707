// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import "encoding/binary"

const (
	pageBits = 12
	pageSize = 1 << pageBits
	pageMask = pageSize - 1
)

// Memory is a sparse, byte-addressable, little-endian main memory.
// Unwritten locations read as zero.
type Memory struct {
	pages map[uint64]*[pageSize]byte
}

// NewMemory creates an empty memory.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint64]*[pageSize]byte)}
}

func (m *Memory) page(addr uint64, create bool) *[pageSize]byte {
	p, ok := m.pages[addr>>pageBits]
	if !ok && create {
		p = new([pageSize]byte)
		m.pages[addr>>pageBits] = p
	}
	return p
}

// Read copies len(buf) bytes starting at addr into buf.
func (m *Memory) Read(addr uint64, buf []byte) {
	for len(buf) > 0 {
		off := addr & pageMask
		n := min(len(buf), int(pageSize-off))
		if p := m.page(addr, false); p != nil {
			copy(buf[:n], p[off:])
		} else {
			clear(buf[:n])
		}
		buf = buf[n:]
		addr += uint64(n)
	}
}

// Write copies data into memory starting at addr.
func (m *Memory) Write(addr uint64, data []byte) {
	for len(data) > 0 {
		off := addr & pageMask
		n := min(len(data), int(pageSize-off))
		copy(m.page(addr, true)[off:], data[:n])
		data = data[n:]
		addr += uint64(n)
	}
}

// ReadBytes returns a fresh slice of size bytes starting at addr.
func (m *Memory) ReadBytes(addr uint64, size int) []byte {
	buf := make([]byte, size)
	m.Read(addr, buf)
	return buf
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint64) uint8 {
	if p := m.page(addr, false); p != nil {
		return p[addr&pageMask]
	}
	return 0
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint64, v uint8) {
	m.page(addr, true)[addr&pageMask] = v
}

// Read32 reads a little-endian 32-bit word.
func (m *Memory) Read32(addr uint64) uint32 {
	var b [4]byte
	m.Read(addr, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// Write32 writes a little-endian 32-bit word.
func (m *Memory) Write32(addr uint64, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	m.Write(addr, b[:])
}

// Read64 reads a little-endian 64-bit word.
func (m *Memory) Read64(addr uint64) uint64 {
	var b [8]byte
	m.Read(addr, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// Write64 writes a little-endian 64-bit word.
func (m *Memory) Write64(addr uint64, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	m.Write(addr, b[:])
}

// LoadProgram copies a program image to addr.
func (m *Memory) LoadProgram(addr uint64, program []byte) {
	m.Write(addr, program)
}
