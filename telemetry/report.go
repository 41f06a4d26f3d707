package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/alphasim/simctx"
)

// ReportLevels are the cache levels listed in every report.
var ReportLevels = []string{"l1i", "l1d", "l2", "l3"}

// Report is the performance report written at the end of a run. It holds
// no wall-clock or run-id data, so identical runs give identical bytes.
type Report struct {
	SimulationInfo SimulationInfo        `json:"simulation_info"`
	Cache          map[string]CacheStats `json:"cache"`
	Performance    Performance           `json:"performance"`
	Cores          []CoreReport          `json:"cores"`
	Errors         []ErrorReport         `json:"errors"`
}

// SimulationInfo describes the run.
type SimulationInfo struct {
	Target               string `json:"target"`
	Cores                int    `json:"cores"`
	MaxCycles            uint64 `json:"max_cycles"`
	TotalCycles          uint64 `json:"total_cycles"`
	InstructionsExecuted uint64 `json:"instructions_executed"`
	Halted               bool   `json:"halted"`
}

// CacheStats are the lookups resolved at one level.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Performance holds the derived metrics.
type Performance struct {
	IPC                        float64 `json:"ipc"`
	BranchPredictionsCorrect   uint64  `json:"branch_predictions_correct"`
	BranchPredictionsIncorrect uint64  `json:"branch_predictions_incorrect"`
	PipelineFlushes            uint64  `json:"pipeline_flushes"`
	Energy                     float64 `json:"energy"`
	EstimatedPower             float64 `json:"estimated_power"`
}

// CoreReport is the final state of one core.
type CoreReport struct {
	CoreID              int    `json:"core_id"`
	CoreType            string `json:"core_type"`
	Status              string `json:"status"`
	InstructionsRetired uint64 `json:"instructions_retired"`
}

// ErrorReport is one non-fatal or fatal error of the run.
type ErrorReport struct {
	Cycle  uint64 `json:"cycle"`
	CoreID int    `json:"core_id"`
	PC     uint64 `json:"pc"`
	Error  string `json:"error"`
}

// NewReport assembles a report from a snapshot, the final core states and
// the error log.
func NewReport(
	info SimulationInfo,
	snap Snapshot,
	cores []CoreReport,
	errs []*simctx.SimError,
) *Report {
	info.TotalCycles = snap.Cycles
	info.InstructionsExecuted = snap.Retired

	r := &Report{
		SimulationInfo: info,
		Cache:          make(map[string]CacheStats, len(ReportLevels)),
		Performance: Performance{
			IPC:                        snap.IPC,
			BranchPredictionsCorrect:   snap.BranchCorrect,
			BranchPredictionsIncorrect: snap.BranchIncorrect,
			PipelineFlushes:            snap.Flushes,
			Energy:                     snap.Energy,
			EstimatedPower:             snap.AveragePower,
		},
		Cores:  append([]CoreReport{}, cores...),
		Errors: make([]ErrorReport, 0, len(errs)),
	}

	for _, name := range ReportLevels {
		c := snap.Levels[name]
		r.Cache[name] = CacheStats{Hits: c.Hits, Misses: c.Misses, HitRate: c.HitRate()}
	}

	for _, e := range errs {
		r.Errors = append(r.Errors, ErrorReport{
			Cycle:  e.Cycle,
			CoreID: e.CoreID,
			PC:     e.PC,
			Error:  e.Err.Error(),
		})
	}

	return r
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// Save writes the report to path.
func (r *Report) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
