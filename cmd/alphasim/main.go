// Package main provides the command-line front end of AlphaSim, a
// cycle-level simulator of the AlphaAHB and AlphaM instruction sets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/loader"
	"github.com/sarchlab/alphasim/simulator"
	"github.com/sarchlab/alphasim/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath string
	target     string
	cores      int
	maxCycles  uint64
	output     string
	format     string
	base       uint64
	emulate    bool
	verbose    bool
	logLevel   string
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	fs := flag.NewFlagSet("alphasim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to a JSON or YAML simulator configuration")
	fs.StringVar(&o.target, "target", "", "Target ISA: alpha or alpham (overrides config)")
	fs.IntVar(&o.cores, "cores", 0, "Number of cores (overrides config)")
	fs.Uint64Var(&o.maxCycles, "max-cycles", 0, "Cycle limit (overrides config)")
	fs.StringVar(&o.output, "output", "", "Path of the JSON performance report (overrides config)")
	fs.StringVar(&o.format, "format", "", "Program format: binary, elf or hex (default: detect)")
	fs.Func("base", "Load address of raw binaries (default 0)", func(s string) error {
		v, err := strconv.ParseUint(s, 0, 64)
		o.base = v
		return err
	})
	fs.BoolVar(&o.emulate, "emulate", false, "Run the functional emulator instead of the timing model")
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")
	fs.StringVar(&o.logLevel, "log-level", "", "Structured log level on stderr: debug, info, warn or error")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: alphasim [options] <program>\n")
		_, _ = fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return o, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, rest, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}
	if len(rest) != 1 {
		_, _ = fmt.Fprintf(stderr, "Usage: alphasim [options] <program>\n")
		return 2
	}
	programPath := rest[0]

	config, err := buildConfig(o)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	logger, err := newLogger(o.logLevel, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	loadOpts := []loader.LoadOption{loader.WithBaseAddress(o.base)}
	if o.format != "" {
		f, err := loader.ParseFormat(o.format)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		loadOpts = append(loadOpts, loader.WithFormat(f))
	}

	prog, err := loader.Load(programPath, loadOpts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error loading program: %v\n", err)
		return 1
	}

	if o.verbose {
		_, _ = fmt.Fprintf(stdout, "Loaded: %s\n", programPath)
		_, _ = fmt.Fprintf(stdout, "Entry point: 0x%X\n", prog.Entry)
		_, _ = fmt.Fprintf(stdout, "Segments: %d (%d bytes)\n", len(prog.Segments), prog.Size())
	}

	if o.emulate {
		return runEmulation(config, prog, programPath, logger, stdout, stderr, o.verbose)
	}
	return runTiming(ctx, config, prog, programPath, logger, stdout, stderr)
}

func buildConfig(o *options) (simulator.Config, error) {
	config := simulator.DefaultConfig()
	if o.configPath != "" {
		var err error
		config, err = simulator.LoadConfig(o.configPath)
		if err != nil {
			return config, err
		}
	}

	if o.target != "" {
		config.Target = o.target
	}
	if o.cores != 0 {
		config.Cores = o.cores
		config.CoreTypes = nil
	}
	if o.maxCycles != 0 {
		config.MaxCycles = o.maxCycles
	}
	if o.output != "" {
		config.Output = o.output
	}

	return config, config.Validate()
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	if level == "" {
		return slog.New(slog.DiscardHandler), nil
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// runEmulation runs the program on the functional single-core emulator.
func runEmulation(
	config simulator.Config,
	prog *loader.Program,
	programPath string,
	logger *slog.Logger,
	stdout, stderr io.Writer,
	verbose bool,
) int {
	target, err := insts.ParseTarget(config.Target)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	base, image, err := prog.Image()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	emulator := emu.NewEmulator(
		emu.WithTarget(target),
		emu.WithStdout(stdout),
		emu.WithStderr(stderr),
		emu.WithLogger(logger),
		emu.WithSkipInvalid(config.SkipInvalid),
		emu.WithMaxInstructions(config.MaxCycles),
	)
	emulator.LoadProgram(base, image)
	emulator.RegFile().PC = prog.Entry

	exitCode := emulator.Run()

	if verbose {
		_, _ = fmt.Fprintf(stdout, "\nProgram: %s\n", programPath)
		_, _ = fmt.Fprintf(stdout, "Exit code: %d\n", exitCode)
		_, _ = fmt.Fprintf(stdout, "Instructions executed: %d\n", emulator.InstructionCount())
		_, _ = fmt.Fprintf(stdout, "Dropped instructions: %d\n", len(emulator.Dropped()))
	}

	return int(exitCode)
}

// runTiming runs the program on the cycle-level multi-core model and writes
// the performance report.
func runTiming(
	ctx context.Context,
	config simulator.Config,
	prog *loader.Program,
	programPath string,
	logger *slog.Logger,
	stdout, stderr io.Writer,
) int {
	s, err := simulator.MakeBuilder().
		WithConfig(config).
		WithLogger(logger).
		WithStdout(stdout).
		WithStderr(stderr).
		Build("AlphaSim")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error building simulator: %v\n", err)
		return 1
	}
	if err := s.Load(prog); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error loading program: %v\n", err)
		return 1
	}

	report, runErr := s.Run(ctx)
	if report == nil {
		_, _ = fmt.Fprintf(stderr, "Simulation failed: %v\n", runErr)
		return 1
	}

	printSummary(stdout, programPath, s.ExitCode(), report)

	if config.Output != "" {
		if err := report.Save(config.Output); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error writing report: %v\n", err)
			return 1
		}
	}

	if runErr != nil {
		_, _ = fmt.Fprintf(stderr, "Simulation failed: %v\n", runErr)
		return 1
	}
	if !report.SimulationInfo.Halted {
		_, _ = fmt.Fprintf(stderr, "Cycle limit of %d reached\n", config.MaxCycles)
		return 1
	}

	return int(s.ExitCode())
}

func printSummary(w io.Writer, programPath string, exitCode int64, r *telemetry.Report) {
	info := r.SimulationInfo
	perf := r.Performance

	cpi := 0.0
	if info.InstructionsExecuted > 0 {
		cpi = float64(info.TotalCycles) / float64(info.InstructionsExecuted)
	}

	_, _ = fmt.Fprintf(w, "\n")
	_, _ = fmt.Fprintf(w, "Program: %s\n", programPath)
	_, _ = fmt.Fprintf(w, "Target: %s, %d core(s)\n", info.Target, info.Cores)
	_, _ = fmt.Fprintf(w, "Exit code: %d\n", exitCode)
	_, _ = fmt.Fprintf(w, "Total Instructions: %d\n", info.InstructionsExecuted)
	_, _ = fmt.Fprintf(w, "Total Cycles: %d\n", info.TotalCycles)
	_, _ = fmt.Fprintf(w, "CPI: %.2f  IPC: %.2f\n", cpi, perf.IPC)
	_, _ = fmt.Fprintf(w, "\n")
	_, _ = fmt.Fprintf(w, "Caches:\n")
	for _, level := range telemetry.ReportLevels {
		c := r.Cache[level]
		_, _ = fmt.Fprintf(w, "  %-3s %8d hits %8d misses (%5.1f%%)\n",
			level, c.Hits, c.Misses, 100*c.HitRate)
	}
	_, _ = fmt.Fprintf(w, "\n")
	_, _ = fmt.Fprintf(w, "Pipeline Events:\n")
	_, _ = fmt.Fprintf(w, "  Branches correct:    %d\n", perf.BranchPredictionsCorrect)
	_, _ = fmt.Fprintf(w, "  Branches mispredict: %d\n", perf.BranchPredictionsIncorrect)
	_, _ = fmt.Fprintf(w, "  Flushes:             %d\n", perf.PipelineFlushes)
	_, _ = fmt.Fprintf(w, "  Energy:              %.3f (%.3f per ns)\n", perf.Energy, perf.EstimatedPower)

	if len(r.Errors) > 0 {
		_, _ = fmt.Fprintf(w, "\nErrors:\n")
		for _, e := range r.Errors {
			_, _ = fmt.Fprintf(w, "  cycle %d core %d pc 0x%x: %s\n", e.Cycle, e.CoreID, e.PC, e.Error)
		}
	}
}
