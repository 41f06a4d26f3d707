// Package cache models the shared memory hierarchy on top of akita's cache
// directory.
package cache

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid cache config")

// LevelConfig describes one cache level.
type LevelConfig struct {
	// Size in bytes.
	Size int `json:"size" yaml:"size"`
	// Associativity (number of ways).
	Associativity int `json:"associativity" yaml:"associativity"`
	// BlockSize in bytes (cache line size).
	BlockSize int `json:"block_size" yaml:"block_size"`
	// Latency is the lookup cost of this level in cycles.
	Latency uint64 `json:"latency" yaml:"latency"`
	// Channels is the number of requests the level serves in parallel.
	Channels int `json:"channels" yaml:"channels"`
	// Occupancy is how long one request keeps a channel busy.
	Occupancy uint64 `json:"occupancy" yaml:"occupancy"`
}

// Config describes the whole hierarchy: private-looking L1I and L1D over a
// shared L2, L3 and main memory.
type Config struct {
	L1I LevelConfig `json:"l1i" yaml:"l1i"`
	L1D LevelConfig `json:"l1d" yaml:"l1d"`
	L2  LevelConfig `json:"l2" yaml:"l2"`
	L3  LevelConfig `json:"l3" yaml:"l3"`

	MemoryLatency   uint64 `json:"memory_latency" yaml:"memory_latency"`
	MemoryChannels  int    `json:"memory_channels" yaml:"memory_channels"`
	MemoryOccupancy uint64 `json:"memory_occupancy" yaml:"memory_occupancy"`
}

// DefaultL1Config returns the configuration used for both L1 caches:
// 32KB, 4-way, 64B lines.
func DefaultL1Config() LevelConfig {
	return LevelConfig{
		Size:          32 * 1024,
		Associativity: 4,
		BlockSize:     64,
		Latency:       1,
		Channels:      2,
		Occupancy:     1,
	}
}

// DefaultL2Config returns 256KB, 8-way.
func DefaultL2Config() LevelConfig {
	return LevelConfig{
		Size:          256 * 1024,
		Associativity: 8,
		BlockSize:     64,
		Latency:       10,
		Channels:      2,
		Occupancy:     2,
	}
}

// DefaultL3Config returns 2MB, 16-way.
func DefaultL3Config() LevelConfig {
	return LevelConfig{
		Size:          2 * 1024 * 1024,
		Associativity: 16,
		BlockSize:     64,
		Latency:       30,
		Channels:      4,
		Occupancy:     4,
	}
}

// DefaultConfig returns the default hierarchy.
func DefaultConfig() Config {
	return Config{
		L1I:             DefaultL1Config(),
		L1D:             DefaultL1Config(),
		L2:              DefaultL2Config(),
		L3:              DefaultL3Config(),
		MemoryLatency:   100,
		MemoryChannels:  4,
		MemoryOccupancy: 10,
	}
}

// Validate checks the geometry of every level. All levels must share one
// line size so that fills stay inclusive. Latencies may be zero.
func (c Config) Validate() error {
	levels := []struct {
		name string
		cfg  LevelConfig
	}{
		{"l1i", c.L1I}, {"l1d", c.L1D}, {"l2", c.L2}, {"l3", c.L3},
	}

	for _, l := range levels {
		if err := l.cfg.validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, l.name, err)
		}
		if l.cfg.BlockSize != c.L1D.BlockSize {
			return fmt.Errorf("%w: %s: block size %d differs from l1d %d",
				ErrInvalidConfig, l.name, l.cfg.BlockSize, c.L1D.BlockSize)
		}
	}

	if c.MemoryChannels <= 0 {
		return fmt.Errorf("%w: memory_channels must be positive", ErrInvalidConfig)
	}

	return nil
}

func (c LevelConfig) validate() error {
	switch {
	case c.BlockSize <= 0 || c.BlockSize&(c.BlockSize-1) != 0:
		return fmt.Errorf("block size %d is not a power of two", c.BlockSize)
	case c.Associativity <= 0:
		return fmt.Errorf("associativity must be positive")
	case c.Size <= 0 || c.Size%(c.Associativity*c.BlockSize) != 0:
		return fmt.Errorf("size %d is not a multiple of ways*block", c.Size)
	case c.Channels <= 0:
		return fmt.Errorf("channels must be positive")
	}
	return nil
}

// NumSets returns the number of sets of the level.
func (c LevelConfig) NumSets() int {
	return c.Size / (c.Associativity * c.BlockSize)
}
