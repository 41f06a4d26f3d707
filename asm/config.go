package asm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/loader"
)

// MaxOptimize is the highest optimisation level.
const MaxOptimize = 2

// Config is the assembler configuration.
type Config struct {
	// Target is "alpha" or "alpham".
	Target string `json:"target" yaml:"target"`

	// OutputFormat is "binary", "elf" or "hex".
	OutputFormat string `json:"output_format" yaml:"output_format"`

	// Optimize is 0, 1 (drop unlabelled nops) or 2 (also drop self moves).
	Optimize int `json:"optimize" yaml:"optimize"`

	// Origin is the address of the first statement before any .org.
	Origin uint64 `json:"origin" yaml:"origin"`
}

// DefaultConfig returns the default assembler configuration.
func DefaultConfig() Config {
	return Config{
		Target:       "alpham",
		OutputFormat: "binary",
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
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read assembler config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, &config)
	} else {
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return config, fmt.Errorf("failed to parse assembler config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the configuration as JSON or YAML.
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
		return fmt.Errorf("failed to serialize assembler config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write assembler config file: %w", err)
	}

	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := insts.ParseTarget(c.Target); err != nil {
		return err
	}
	if _, err := loader.ParseFormat(c.OutputFormat); err != nil {
		return err
	}
	if c.Optimize < 0 || c.Optimize > MaxOptimize {
		return fmt.Errorf("optimize must be between 0 and %d, got %d", MaxOptimize, c.Optimize)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c Config) Clone() Config {
	return c
}

// Format returns the parsed output format.
func (c Config) Format() loader.Format {
	f, _ := loader.ParseFormat(c.OutputFormat)
	return f
}
