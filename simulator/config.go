package simulator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/timing/cache"
	"github.com/sarchlab/alphasim/timing/latency"
	"github.com/sarchlab/alphasim/timing/pipeline"
)

// Config holds every parameter of a simulation run.
type Config struct {
	// Target is "alpha" or "alpham".
	Target string `json:"target" yaml:"target"`

	// Cores is the number of cores, 1 to 64.
	Cores int `json:"cores" yaml:"cores"`

	// MaxCycles bounds the run.
	MaxCycles uint64 `json:"max_cycles" yaml:"max_cycles"`

	// Output is the report path. Empty means no report file.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// CoreTypes lists the type of every core by name. When empty the
	// AlphaM chip layout is used, or all GPCs for the alpha target.
	CoreTypes []string `json:"core_types,omitempty" yaml:"core_types,omitempty"`

	// SkipInvalid drops undecodable words instead of stopping the run.
	SkipInvalid bool `json:"skip_invalid" yaml:"skip_invalid"`

	Pipeline pipeline.Config      `json:"pipeline" yaml:"pipeline"`
	Memory   cache.Config         `json:"memory" yaml:"memory"`
	Timing   latency.TimingConfig `json:"timing" yaml:"timing"`
}

// DefaultConfig returns a single-core AlphaM configuration.
func DefaultConfig() Config {
	return Config{
		Target:    "alpham",
		Cores:     1,
		MaxCycles: 1_000_000,
		Pipeline:  pipeline.DefaultConfig(),
		Memory:    cache.DefaultConfig(),
		Timing:    *latency.DefaultTimingConfig(),
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig reads a JSON or YAML configuration, chosen by file extension.
// Fields missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read simulator config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, &config)
	} else {
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return config, fmt.Errorf("failed to parse simulator config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the configuration as JSON or YAML, chosen by file
// extension.
func (c Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize simulator config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write simulator config file: %w", err)
	}

	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := insts.ParseTarget(c.Target); err != nil {
		return err
	}
	if c.Cores < 1 || c.Cores > emu.MaxCores {
		return fmt.Errorf("cores must be between 1 and %d, got %d", emu.MaxCores, c.Cores)
	}
	if c.MaxCycles == 0 {
		return fmt.Errorf("max_cycles must be > 0")
	}
	if _, err := c.CoreTypeList(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	return nil
}

// CoreTypeList resolves the type of every core.
func (c Config) CoreTypeList() ([]emu.CoreType, error) {
	target, err := insts.ParseTarget(c.Target)
	if err != nil {
		return nil, err
	}

	if len(c.CoreTypes) == 0 {
		if target == insts.TargetAlpha {
			types := make([]emu.CoreType, c.Cores)
			for i := range types {
				types[i] = emu.CoreGPC
			}
			return types, nil
		}
		return emu.AlphaMLayout(c.Cores), nil
	}

	if len(c.CoreTypes) != c.Cores {
		return nil, fmt.Errorf("core_types lists %d types for %d cores", len(c.CoreTypes), c.Cores)
	}

	types := make([]emu.CoreType, len(c.CoreTypes))
	for i, name := range c.CoreTypes {
		t, err := emu.ParseCoreType(name)
		if err != nil {
			return nil, fmt.Errorf("core_types[%d]: %w", i, err)
		}
		if target == insts.TargetAlpha && t != emu.CoreGPC {
			return nil, fmt.Errorf("core_types[%d]: target alpha only has gpc cores", i)
		}
		types[i] = t
	}

	return types, nil
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	clone := c
	clone.CoreTypes = append([]string(nil), c.CoreTypes...)
	clone.Timing = *c.Timing.Clone()
	return clone
}
