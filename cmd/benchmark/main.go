// Command benchmark runs the AlphaSim timing benchmark harness.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	-csv       Output results in CSV format (default: human-readable)
//	-json      Output results as a JSON report
//	-mimd      Also run the multi-core benchmarks
//	-config    Simulator configuration file (JSON or YAML)
//	-parallel  Number of benchmarks run at once
//	-O         Assembler optimization level
//
// Example:
//
//	# Run all benchmarks with human-readable output
//	go run ./cmd/benchmark -mimd
//
//	# Output CSV for spreadsheet comparison
//	go run ./cmd/benchmark -csv > results.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/sarchlab/alphasim/benchmarks"
	"github.com/sarchlab/alphasim/simulator"
)

func main() {
	csvOutput := flag.Bool("csv", false, "Output results in CSV format")
	jsonOutput := flag.Bool("json", false, "Output results in JSON format")
	mimd := flag.Bool("mimd", false, "Also run the multi-core benchmarks")
	configPath := flag.String("config", "", "Simulator configuration file")
	parallel := flag.Int("parallel", 4, "Number of benchmarks run at once")
	optimize := flag.Int("O", 0, "Assembler optimization level")
	verbose := flag.Bool("v", false, "Print cache statistics")
	flag.Parse()

	config := benchmarks.DefaultConfig()
	if *configPath != "" {
		simConfig, err := simulator.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		config.Simulator = simConfig
	}
	config.Parallelism = *parallel
	config.Optimize = *optimize
	config.Verbose = *verbose
	config.Output = os.Stdout

	harness := benchmarks.NewHarness(config)
	harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
	if *mimd {
		harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
	}

	if !*csvOutput && !*jsonOutput {
		fmt.Println("AlphaSim Timing Benchmark Harness")
		fmt.Println("=================================")
		fmt.Printf("Target:   %s\n", config.Simulator.Target)
		fmt.Printf("Clock:    %.1f GHz\n", config.Simulator.Timing.ClockGHz)
		fmt.Printf("Parallel: %d\n", config.Parallelism)
		fmt.Println("")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	results, err := harness.RunAll(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *jsonOutput:
		if err := harness.PrintJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *csvOutput:
		harness.PrintCSV(results)
	default:
		harness.PrintResults(results)
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" || !r.Halted {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d benchmark(s) did not complete\n", failed)
		os.Exit(1)
	}
}
