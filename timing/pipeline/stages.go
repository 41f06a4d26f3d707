// Package pipeline provides the per-core in-order pipeline model for
// cycle-accurate timing simulation.
package pipeline

import (
	"errors"
	"fmt"
	"math/bits"
)

// Stage names a pipeline stage.
type Stage int

// Pipeline stages in program order.
const (
	StageFetch Stage = iota
	StageDecode
	StageRename
	StageDispatch
	StageIssue
	// StageQueue is a pass-through issue-queue stage added in front of
	// Execute by depths above 8.
	StageQueue
	StageExecute
	StageWriteback
	StageCommit
)

var stageNames = [...]string{
	"fetch", "decode", "rename", "dispatch", "issue",
	"issue-queue", "execute", "writeback", "commit",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Depth limits.
const (
	MinDepth     = 6
	DefaultDepth = 8
	MaxDepth     = 16
)

// Stages returns the stage list of a pipeline with the given depth.
//
//	6: fetch decode issue execute writeback commit
//	7: adds rename
//	8: adds dispatch
//	9+: adds issue-queue stages before execute
func Stages(depth int) []Stage {
	out := []Stage{StageFetch, StageDecode}
	if depth >= 7 {
		out = append(out, StageRename)
	}
	if depth >= 8 {
		out = append(out, StageDispatch)
	}
	out = append(out, StageIssue)
	for i := DefaultDepth; i < depth; i++ {
		out = append(out, StageQueue)
	}
	return append(out, StageExecute, StageWriteback, StageCommit)
}

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// Config holds the pipeline structure.
type Config struct {
	Depth           int                   `json:"depth" yaml:"depth"`
	BranchPredictor BranchPredictorConfig `json:"branch_predictor" yaml:"branch_predictor"`
}

// DefaultConfig returns an 8-stage pipeline with the default predictor.
func DefaultConfig() Config {
	return Config{
		Depth:           DefaultDepth,
		BranchPredictor: DefaultBranchPredictorConfig(),
	}
}

// Validate checks the depth range and the predictor table sizes. Zero table
// sizes select the defaults.
func (c Config) Validate() error {
	if c.Depth < MinDepth || c.Depth > MaxDepth {
		return fmt.Errorf("%w: depth %d outside [%d, %d]", ErrInvalidConfig, c.Depth, MinDepth, MaxDepth)
	}
	if n := c.BranchPredictor.BHTSize; n != 0 && bits.OnesCount32(n) != 1 {
		return fmt.Errorf("%w: bht_size %d is not a power of two", ErrInvalidConfig, n)
	}
	if n := c.BranchPredictor.BTBSize; n != 0 && bits.OnesCount32(n) != 1 {
		return fmt.Errorf("%w: btb_size %d is not a power of two", ErrInvalidConfig, n)
	}
	return nil
}
