// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/alphasim/insts"
)

// ErrInvalidOpcodeForCore is returned when a core executes an instruction
// category its type does not support.
var ErrInvalidOpcodeForCore = errors.New("invalid opcode for core type")

// CoreType is a heterogeneous core category.
type CoreType uint8

// Core types.
const (
	CoreGPC CoreType = iota // general purpose
	CoreVPC                 // vector
	CoreNPC                 // neural
	CoreAPC                 // accelerator
	CoreMPC                 // memory processing
	CoreIOC                 // I/O
	CoreGRC                 // graphics
	CoreHMC                 // heterogeneous management
	numCoreTypes
)

var coreTypeNames = [numCoreTypes]string{"gpc", "vpc", "npc", "apc", "mpc", "ioc", "grc", "hmc"}

func (t CoreType) String() string {
	if t < numCoreTypes {
		return coreTypeNames[t]
	}
	return fmt.Sprintf("core(%d)", uint8(t))
}

// ParseCoreType parses a lower-case core type name.
func ParseCoreType(s string) (CoreType, error) {
	for i, n := range coreTypeNames {
		if n == s {
			return CoreType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown core type %q", s)
}

// Capability lists the banks and categories a core type supports.
type Capability struct {
	banks      uint16
	categories uint16
}

// HasBank reports whether the core type owns the bank.
func (c Capability) HasBank(b insts.Bank) bool {
	return b < insts.NumBanks && c.banks&(1<<b) != 0
}

// Accepts reports whether the core type executes the category.
func (c Capability) Accepts(cat insts.Category) bool {
	return c.categories&(1<<cat) != 0
}

func banks(bs ...insts.Bank) uint16 {
	var m uint16
	for _, b := range bs {
		m |= 1 << b
	}
	return m
}

func categories(cs ...insts.Category) uint16 {
	var m uint16
	for _, c := range cs {
		m |= 1 << c
	}
	return m
}

const (
	bR = insts.BankGPR
	bF = insts.BankFPR
	bV = insts.BankVPR
	bA = insts.BankAIR
	bM = insts.BankMIMD
	bS = insts.BankSEC
	bC = insts.BankSCR
	bT = insts.BankRTR
	bD = insts.BankDPR

	cBasic = insts.CategoryBasic
	cArith = insts.CategoryArithmetic
	cFloat = insts.CategoryFloat
	cVec   = insts.CategoryVector
	cAI    = insts.CategoryAI
	cMIMD  = insts.CategoryMIMD
	cSec   = insts.CategorySecurity
	cSci   = insts.CategoryScientific
	cRT    = insts.CategoryRealTime
	cDbg   = insts.CategoryDebug
	cSys   = insts.CategorySystem
)

var capabilities = [numCoreTypes]Capability{
	CoreGPC: {
		banks(bR, bF, bM, bT, bD),
		categories(cBasic, cArith, cFloat, cMIMD, cRT, cDbg, cSys),
	},
	CoreVPC: {
		banks(bR, bF, bV, bC, bM, bD),
		categories(cBasic, cArith, cFloat, cVec, cSci, cMIMD, cDbg, cSys),
	},
	CoreNPC: {
		banks(bR, bF, bV, bA, bS, bC, bM, bD),
		categories(cBasic, cArith, cFloat, cVec, cAI, cSec, cSci, cMIMD, cDbg, cSys),
	},
	CoreAPC: {
		banks(bR, bF, bV, bA, bS, bM, bD),
		categories(cBasic, cArith, cFloat, cVec, cAI, cSec, cMIMD, cDbg, cSys),
	},
	CoreMPC: {
		banks(bR, bF, bV, bM, bD),
		categories(cBasic, cArith, cVec, cMIMD, cDbg, cSys),
	},
	CoreIOC: {
		banks(bR, bM, bT, bD),
		categories(cBasic, cArith, cRT, cMIMD, cDbg, cSys),
	},
	CoreGRC: {
		banks(bR, bF, bV, bM, bD),
		categories(cBasic, cArith, cFloat, cVec, cMIMD, cDbg, cSys),
	},
	CoreHMC: {
		banks(bR, bM, bD),
		categories(cBasic, cMIMD, cDbg, cSys),
	},
}

// CapabilityOf returns the capability table entry of a core type.
func CapabilityOf(t CoreType) Capability {
	if t < numCoreTypes {
		return capabilities[t]
	}
	return Capability{}
}

// CheckCategory returns ErrInvalidOpcodeForCore when t cannot execute cat.
func CheckCategory(t CoreType, cat insts.Category) error {
	if !CapabilityOf(t).Accepts(cat) {
		return fmt.Errorf("%w: %s cannot execute %s", ErrInvalidOpcodeForCore, t, cat)
	}
	return nil
}

var alphaMComposition = []struct {
	t     CoreType
	count int
}{
	{CoreGPC, 16}, {CoreVPC, 16}, {CoreNPC, 8}, {CoreAPC, 8},
	{CoreMPC, 4}, {CoreIOC, 4}, {CoreGRC, 4}, {CoreHMC, 4},
}

// MaxCores is the number of cores of a full AlphaM chip.
const MaxCores = 64

// AlphaMLayout returns the core types of the first n cores of an AlphaM
// chip.
func AlphaMLayout(n int) []CoreType {
	out := make([]CoreType, 0, n)
	for _, g := range alphaMComposition {
		for i := 0; i < g.count && len(out) < n; i++ {
			out = append(out, g.t)
		}
	}
	return out
}
