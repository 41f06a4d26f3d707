// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/alphasim/insts"
)

// Register file errors.
var (
	ErrRegisterOutOfRange = errors.New("register out of range")
	ErrWidthMismatch      = errors.New("register width mismatch")
)

// VectorBytes is the size of a vector register.
const VectorBytes = 64

// Vector is the content of a 512-bit vector register, little-endian lanes.
type Vector [VectorBytes]byte

// Value is a register value tagged with its width.
type Value struct {
	Wide bool
	Bits uint64
	Vec  Vector
}

// Scalar returns a 64-bit value.
func Scalar(v uint64) Value {
	return Value{Bits: v}
}

// Wide returns a 512-bit value.
func Wide(v Vector) Value {
	return Value{Wide: true, Vec: v}
}

// Width returns the value width in bits.
func (v Value) Width() int {
	if v.Wide {
		return 512
	}
	return 64
}

// RegFile holds the register banks of one core. The set of banks depends
// on the core type. Banks are never shared between cores.
type RegFile struct {
	// PC is the program counter used by the functional emulator.
	PC uint64

	coreType CoreType
	scalar   [insts.NumBanks][]uint64
	vectors  []Vector
}

// NewRegFile creates a zeroed register file with the banks of coreType.
func NewRegFile(coreType CoreType) *RegFile {
	r := &RegFile{coreType: coreType}
	capa := CapabilityOf(coreType)
	for b := insts.Bank(0); b < insts.NumBanks; b++ {
		if !capa.HasBank(b) {
			continue
		}
		if b == insts.BankVPR {
			r.vectors = make([]Vector, b.Size())
			continue
		}
		r.scalar[b] = make([]uint64, b.Size())
	}
	return r
}

// CoreType returns the core type the register file was built for.
func (r *RegFile) CoreType() CoreType {
	return r.coreType
}

func (r *RegFile) check(bank insts.Bank, index uint8) error {
	if bank >= insts.NumBanks {
		return fmt.Errorf("%w: bank %d", ErrRegisterOutOfRange, bank)
	}
	if !CapabilityOf(r.coreType).HasBank(bank) {
		return fmt.Errorf("%w: %s has no %s bank", ErrRegisterOutOfRange, r.coreType, bank)
	}
	if int(index) >= bank.Size() {
		return fmt.Errorf("%w: %s%d", ErrRegisterOutOfRange, bank.Prefix(), index)
	}
	return nil
}

// Read returns the value of a register.
func (r *RegFile) Read(bank insts.Bank, index uint8) (Value, error) {
	if err := r.check(bank, index); err != nil {
		return Value{}, err
	}
	if bank == insts.BankVPR {
		return Wide(r.vectors[index]), nil
	}
	return Scalar(r.scalar[bank][index]), nil
}

// CheckWrite validates a write without performing it.
func (r *RegFile) CheckWrite(bank insts.Bank, index uint8, v Value) error {
	if err := r.check(bank, index); err != nil {
		return err
	}
	if v.Width() != bank.Width() {
		return fmt.Errorf("%w: %d-bit value into %s%d", ErrWidthMismatch, v.Width(), bank.Prefix(), index)
	}
	return nil
}

// Write sets a register.
func (r *RegFile) Write(bank insts.Bank, index uint8, v Value) error {
	if err := r.CheckWrite(bank, index, v); err != nil {
		return err
	}
	if bank == insts.BankVPR {
		r.vectors[index] = v.Vec
		return nil
	}
	r.scalar[bank][index] = v.Bits
	return nil
}

// GPR returns a general-purpose register. Out-of-range indexes read as 0.
func (r *RegFile) GPR(index uint8) uint64 {
	if int(index) >= len(r.scalar[insts.BankGPR]) {
		return 0
	}
	return r.scalar[insts.BankGPR][index]
}

// SetGPR sets a general-purpose register. Out-of-range writes are ignored.
func (r *RegFile) SetGPR(index uint8, v uint64) {
	if int(index) < len(r.scalar[insts.BankGPR]) {
		r.scalar[insts.BankGPR][index] = v
	}
}

// Bank returns a copy of a scalar bank, or nil if the core lacks it.
func (r *RegFile) Bank(bank insts.Bank) []uint64 {
	if bank >= insts.NumBanks || r.scalar[bank] == nil {
		return nil
	}
	return append([]uint64(nil), r.scalar[bank]...)
}

// SetBank overwrites a scalar bank from values. Extra values are ignored.
func (r *RegFile) SetBank(bank insts.Bank, values []uint64) {
	if bank < insts.NumBanks && r.scalar[bank] != nil {
		copy(r.scalar[bank], values)
	}
}

// Reset zeroes every register and the PC.
func (r *RegFile) Reset() {
	r.PC = 0
	for _, b := range r.scalar {
		clear(b)
	}
	clear(r.vectors)
}
