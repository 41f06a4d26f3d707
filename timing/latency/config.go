package latency

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/alphasim/insts"
)

// TimingConfig holds the tunable parts of the timing model. Per-opcode cycle
// costs come from the opcode table unless overridden here.
type TimingConfig struct {
	// MispredictPenalty is the number of cycles Fetch stays frozen after a
	// wrong prediction is resolved. Default: 4 cycles.
	MispredictPenalty uint64 `json:"mispredict_penalty" yaml:"mispredict_penalty"`

	// CycleCosts overrides the execute cost of opcodes, keyed by mnemonic.
	CycleCosts map[string]uint64 `json:"cycle_costs,omitempty" yaml:"cycle_costs,omitempty"`

	// EnergyScale multiplies the per-opcode energy table. Default: 1.
	EnergyScale float64 `json:"energy_scale" yaml:"energy_scale"`

	// StaticEnergy is charged per core per cycle while the core is not
	// idle. Default: 0.01.
	StaticEnergy float64 `json:"static_energy" yaml:"static_energy"`

	// ClockGHz is the core clock. Default: 2 GHz.
	ClockGHz float64 `json:"clock_ghz" yaml:"clock_ghz"`
}

// DefaultTimingConfig returns a TimingConfig with the default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		MispredictPenalty: 4,
		EnergyScale:       1,
		StaticEnergy:      0.01,
		ClockGHz:          2,
	}
}

// isYAML tells the file format from the extension.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig loads a TimingConfig from a JSON or YAML file, chosen by the
// file extension. Missing fields keep their defaults.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON or YAML file.
func (c *TimingConfig) SaveConfig(path string) error {
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
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that every value is in range and that every override
// names a known opcode.
func (c *TimingConfig) Validate() error {
	if c.ClockGHz <= 0 {
		return fmt.Errorf("clock_ghz must be > 0")
	}
	if c.EnergyScale < 0 {
		return fmt.Errorf("energy_scale must be >= 0")
	}
	if c.StaticEnergy < 0 {
		return fmt.Errorf("static_energy must be >= 0")
	}
	for name, cost := range c.CycleCosts {
		if _, ok := insts.LookupName(name); !ok {
			return fmt.Errorf("cycle_costs: unknown opcode %q", name)
		}
		if cost == 0 {
			return fmt.Errorf("cycle_costs: %s must be > 0", name)
		}
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	if c.CycleCosts != nil {
		clone.CycleCosts = make(map[string]uint64, len(c.CycleCosts))
		for k, v := range c.CycleCosts {
			clone.CycleCosts[k] = v
		}
	}
	return &clone
}
