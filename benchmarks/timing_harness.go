// Package benchmarks runs assembly workloads through the cycle-level
// simulator and reports their timing.
package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/alphasim/asm"
	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/simulator"
)

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// Cores is the number of simulated cores
	Cores int `json:"cores"`

	// SimulatedCycles is the total cycle count of the run
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsRetired is the number of completed instructions on all cores
	InstructionsRetired uint64 `json:"instructions_retired"`

	// CPI is cycles per retired instruction
	CPI float64 `json:"cpi"`

	// StallCycles is the sum of per-core cycles in which nothing moved
	StallCycles uint64 `json:"stall_cycles"`

	// PipelineFlushes is the number of front-end flushes
	PipelineFlushes uint64 `json:"pipeline_flushes"`

	ICacheHits   uint64 `json:"icache_hits,omitempty"`
	ICacheMisses uint64 `json:"icache_misses,omitempty"`
	DCacheHits   uint64 `json:"dcache_hits,omitempty"`
	DCacheMisses uint64 `json:"dcache_misses,omitempty"`
	L2Hits       uint64 `json:"l2_hits,omitempty"`
	L2Misses     uint64 `json:"l2_misses,omitempty"`

	// Branch predictor stats
	BranchPredictions     uint64  `json:"branch_predictions,omitempty"`
	BranchCorrect         uint64  `json:"branch_correct,omitempty"`
	BranchMispredictions  uint64  `json:"branch_mispredictions,omitempty"`
	BranchAccuracyPercent float64 `json:"branch_accuracy_percent,omitempty"`

	// Energy is the estimated energy of the run
	Energy float64 `json:"energy"`

	// Halted is false when the run stopped at the cycle limit
	Halted bool `json:"halted"`

	// ExitCode is core 0's exit code
	ExitCode int64 `json:"exit_code"`

	// Error is set when the run stopped on a fatal error
	Error string `json:"error,omitempty"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single benchmark program.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Source is the assembly source of the program
	Source string

	// Cores is the number of cores to simulate. Zero means one.
	Cores int

	// Setup prepares simulator state after the program is loaded
	Setup func(s *simulator.Simulator)

	// ExpectedExit is the expected exit code (for validation)
	ExpectedExit int64
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Simulator is the base simulator configuration. Cores is overridden
	// per benchmark.
	Simulator simulator.Config

	// Optimize is the assembler optimization level
	Optimize int

	// Parallelism bounds the number of benchmarks run at once. Zero or
	// less means one.
	Parallelism int

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Logger receives per-benchmark progress
	Logger *slog.Logger

	// Verbose enables detailed output
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Simulator:   simulator.DefaultConfig(),
		Parallelism: 4,
		Output:      os.Stdout,
	}
}

// Harness runs timing benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results in the order they were
// added. A benchmark that fails to assemble or build aborts the whole run;
// simulation errors are recorded in the result.
func (h *Harness) RunAll(ctx context.Context) ([]BenchmarkResult, error) {
	results := make([]BenchmarkResult, len(h.benchmarks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Parallelism)

	for i, bench := range h.benchmarks {
		g.Go(func() error {
			result, err := h.runBenchmark(ctx, bench)
			if err != nil {
				return fmt.Errorf("benchmark %s: %w", bench.Name, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// runBenchmark executes a single benchmark on a fresh simulator.
func (h *Harness) runBenchmark(ctx context.Context, bench Benchmark) (BenchmarkResult, error) {
	config := h.config.Simulator.Clone()
	config.Cores = max(bench.Cores, 1)
	config.CoreTypes = make([]string, config.Cores)
	for i := range config.CoreTypes {
		config.CoreTypes[i] = "gpc"
	}

	target, err := insts.ParseTarget(config.Target)
	if err != nil {
		return BenchmarkResult{}, err
	}

	assembler := asm.New(
		asm.WithTarget(target),
		asm.WithOptimize(h.config.Optimize),
		asm.WithLogger(h.config.Logger),
	)
	obj, err := assembler.Assemble(bench.Source)
	if err != nil {
		return BenchmarkResult{}, err
	}

	s, err := simulator.MakeBuilder().
		WithConfig(config).
		WithLogger(h.config.Logger).
		WithStdout(io.Discard).
		WithStderr(io.Discard).
		Build("Bench." + componentName(bench.Name))
	if err != nil {
		return BenchmarkResult{}, err
	}
	if err := s.Load(obj.Program); err != nil {
		return BenchmarkResult{}, err
	}
	if bench.Setup != nil {
		bench.Setup(s)
	}

	start := time.Now()
	report, runErr := s.Run(ctx)
	wallTime := time.Since(start)
	if report == nil {
		return BenchmarkResult{}, runErr
	}

	result := BenchmarkResult{
		Name:                bench.Name,
		Description:         bench.Description,
		Cores:               config.Cores,
		SimulatedCycles:     report.SimulationInfo.TotalCycles,
		InstructionsRetired: report.SimulationInfo.InstructionsExecuted,
		PipelineFlushes:     report.Performance.PipelineFlushes,
		ICacheHits:          report.Cache["l1i"].Hits,
		ICacheMisses:        report.Cache["l1i"].Misses,
		DCacheHits:          report.Cache["l1d"].Hits,
		DCacheMisses:        report.Cache["l1d"].Misses,
		L2Hits:              report.Cache["l2"].Hits,
		L2Misses:            report.Cache["l2"].Misses,
		Energy:              report.Performance.Energy,
		Halted:              report.SimulationInfo.Halted,
		ExitCode:            s.ExitCode(),
		WallTime:            wallTime,
	}
	if result.InstructionsRetired > 0 {
		result.CPI = float64(result.SimulatedCycles) / float64(result.InstructionsRetired)
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	for _, c := range s.Cores() {
		stats := c.Pipeline.Stats()
		result.StallCycles += stats.Stalls
		result.BranchPredictions += stats.BranchPredictions
		result.BranchCorrect += stats.BranchCorrect
		result.BranchMispredictions += stats.BranchMispredictions
	}
	if result.BranchPredictions > 0 {
		result.BranchAccuracyPercent = 100 * float64(result.BranchCorrect) /
			float64(result.BranchPredictions)
	}

	h.config.Logger.Info("benchmark finished",
		"name", bench.Name,
		"cycles", result.SimulatedCycles,
		"instructions", result.InstructionsRetired,
		"wall_time", wallTime)

	return result, nil
}

// componentName turns a benchmark name such as "parallel_counter_4" into a
// simulator component name element such as "ParallelCounter4".
func componentName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}

	out := b.String()
	if out == "" || !unicode.IsLetter(rune(out[0])) {
		out = "B" + out
	}
	return out
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	w := h.config.Output

	_, _ = fmt.Fprintln(w, "=== AlphaSim Timing Benchmark Results ===")
	_, _ = fmt.Fprintln(w, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(w, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(w, "  Cores: %d\n", r.Cores)
		_, _ = fmt.Fprintf(w, "  Exit Code: %d\n", r.ExitCode)
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "  Error: %s\n", r.Error)
		} else if !r.Halted {
			_, _ = fmt.Fprintln(w, "  Stopped at the cycle limit")
		}
		_, _ = fmt.Fprintln(w, "  --- Timing ---")
		_, _ = fmt.Fprintf(w, "  Simulated Cycles:     %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(w, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(w, "  CPI:                  %.3f\n", r.CPI)
		_, _ = fmt.Fprintf(w, "  Stall Cycles:         %d\n", r.StallCycles)
		_, _ = fmt.Fprintf(w, "  Pipeline Flushes:     %d\n", r.PipelineFlushes)
		_, _ = fmt.Fprintf(w, "  Energy:               %.3f\n", r.Energy)

		if h.config.Verbose {
			_, _ = fmt.Fprintln(w, "  --- Caches ---")
			_, _ = fmt.Fprintf(w, "  L1I: %d hits, %d misses\n", r.ICacheHits, r.ICacheMisses)
			_, _ = fmt.Fprintf(w, "  L1D: %d hits, %d misses\n", r.DCacheHits, r.DCacheMisses)
			_, _ = fmt.Fprintf(w, "  L2:  %d hits, %d misses\n", r.L2Hits, r.L2Misses)
		}

		if r.BranchPredictions > 0 {
			_, _ = fmt.Fprintln(w, "  --- Branch Predictor ---")
			_, _ = fmt.Fprintf(w, "  Predictions:     %d\n", r.BranchPredictions)
			_, _ = fmt.Fprintf(w, "  Correct:         %d\n", r.BranchCorrect)
			_, _ = fmt.Fprintf(w, "  Mispredictions:  %d\n", r.BranchMispredictions)
			_, _ = fmt.Fprintf(w, "  Accuracy:        %.1f%%\n", r.BranchAccuracyPercent)
		}

		_, _ = fmt.Fprintf(w, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(w, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,cores,cycles,instructions,cpi,stalls,flushes,icache_hits,icache_misses,dcache_hits,dcache_misses,mispredictions,exit_code")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%d,%d,%d,%.3f,%d,%d,%d,%d,%d,%d,%d,%d\n",
			r.Name,
			r.Cores,
			r.SimulatedCycles,
			r.InstructionsRetired,
			r.CPI,
			r.StallCycles,
			r.PipelineFlushes,
			r.ICacheHits,
			r.ICacheMisses,
			r.DCacheHits,
			r.DCacheMisses,
			r.BranchMispredictions,
			r.ExitCode,
		)
	}
}

// BenchmarkReport is the JSON document written by PrintJSON.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	// Timestamp when the benchmark was run
	Timestamp string `json:"timestamp"`

	// Version of the simulator
	Version string `json:"version"`

	// Config describes the benchmark configuration
	Config BenchmarkConfig `json:"config"`
}

// BenchmarkConfig describes the harness configuration used.
type BenchmarkConfig struct {
	Target   string  `json:"target"`
	ClockGHz float64 `json:"clock_ghz"`
	Optimize int     `json:"optimize"`
	L1DSize  int     `json:"l1d_size"`
	BHTSize  uint32  `json:"bht_size"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	// TotalBenchmarks is the number of benchmarks run
	TotalBenchmarks int `json:"total_benchmarks"`

	// Failed is the number of benchmarks that stopped on an error
	Failed int `json:"failed"`

	// TotalCycles is the sum of all simulated cycles
	TotalCycles uint64 `json:"total_cycles"`

	// TotalInstructions is the sum of all instructions retired
	TotalInstructions uint64 `json:"total_instructions"`

	// AverageCPI is the average cycles per instruction
	AverageCPI float64 `json:"average_cpi"`

	// TotalWallTime is the total wall clock time for all benchmarks
	TotalWallTime time.Duration `json:"total_wall_time_ns"`
}

// Version is the simulator version recorded in benchmark reports.
const Version = "0.1.0"

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	summary := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		summary.TotalCycles += r.SimulatedCycles
		summary.TotalInstructions += r.InstructionsRetired
		summary.TotalWallTime += r.WallTime
		if r.Error != "" {
			summary.Failed++
		}
	}
	if summary.TotalInstructions > 0 {
		summary.AverageCPI = float64(summary.TotalCycles) / float64(summary.TotalInstructions)
	}

	sc := h.config.Simulator
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   Version,
			Config: BenchmarkConfig{
				Target:   sc.Target,
				ClockGHz: sc.Timing.ClockGHz,
				Optimize: h.config.Optimize,
				L1DSize:  sc.Memory.L1D.Size,
				BHTSize:  sc.Pipeline.BranchPredictor.BHTSize,
			},
		},
		Results: results,
		Summary: summary,
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
