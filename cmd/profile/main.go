// Package main provides a profiling wrapper for AlphaSim to identify
// simulator performance bottlenecks.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"time"

	"github.com/sarchlab/alphasim/emu"
	"github.com/sarchlab/alphasim/insts"
	"github.com/sarchlab/alphasim/loader"
	"github.com/sarchlab/alphasim/simulator"
)

var (
	timing      = flag.Bool("timing", false, "Profile the cycle-level model instead of the emulator")
	configPath  = flag.String("config", "", "Simulator configuration file (timing mode)")
	cpuProfile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile  = flag.String("memprofile", "", "write memory profile to file")
	duration    = flag.Duration("duration", 30*time.Second, "max duration to run (timing mode)")
	instruction = flag.Uint64("max-instr", 1000000, "max instructions to execute in the emulator (0 = unlimited)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: profile [options] <program>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	programPath := flag.Arg(0)

	prog, err := loader.Load(programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Loaded: %s\n", programPath)
	fmt.Printf("Entry point: 0x%X\n", prog.Entry)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
			os.Exit(1)
		}
	}

	start := time.Now()

	var (
		exitCode   int64
		instrCount uint64
		cycles     uint64
	)
	if *timing {
		exitCode, instrCount, cycles, err = runTimingProfile(prog)
	} else {
		exitCode, instrCount, err = runEmulationProfile(prog)
	}

	elapsed := time.Since(start)

	if *cpuProfile != "" {
		pprof.StopCPUProfile()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	if *memProfile != "" {
		if err := writeHeapProfile(*memProfile); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing memory profile: %v\n", err)
		}
	}

	fmt.Printf("\nProfiling Results:\n")
	fmt.Printf("Exit code: %d\n", exitCode)
	fmt.Printf("Instructions executed: %d\n", instrCount)
	if *timing {
		fmt.Printf("Simulated cycles: %d\n", cycles)
	}
	fmt.Printf("Elapsed time: %v\n", elapsed)
	if instrCount > 0 {
		fmt.Printf("Instructions/second: %.0f\n", float64(instrCount)/elapsed.Seconds())
	}
	if cycles > 0 {
		fmt.Printf("Cycles/second: %.0f\n", float64(cycles)/elapsed.Seconds())
	}
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return pprof.WriteHeapProfile(f)
}

// runEmulationProfile runs the program on the functional emulator.
func runEmulationProfile(prog *loader.Program) (int64, uint64, error) {
	base, image, err := prog.Image()
	if err != nil {
		return 0, 0, err
	}

	emulator := emu.NewEmulator(
		emu.WithTarget(insts.TargetAlphaM),
		emu.WithStdout(io.Discard),
		emu.WithMaxInstructions(*instruction),
	)
	emulator.LoadProgram(base, image)
	emulator.RegFile().PC = prog.Entry

	exitCode := emulator.Run()

	return exitCode, emulator.InstructionCount(), nil
}

// runTimingProfile runs the program on the cycle-level model until it stops
// or the duration elapses.
func runTimingProfile(prog *loader.Program) (int64, uint64, uint64, error) {
	config := simulator.DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = simulator.LoadConfig(*configPath)
		if err != nil {
			return 0, 0, 0, err
		}
	}

	s, err := simulator.MakeBuilder().
		WithConfig(config).
		WithStdout(io.Discard).
		Build("Profile")
	if err != nil {
		return 0, 0, 0, err
	}
	if err := s.Load(prog); err != nil {
		return 0, 0, 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	report, err := s.Run(ctx)
	if report == nil {
		return 0, 0, 0, err
	}

	info := report.SimulationInfo
	return s.ExitCode(), info.InstructionsExecuted, info.TotalCycles, err
}
