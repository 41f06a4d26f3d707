// Package main provides the entry point for AlphaSim.
// AlphaSim is a cycle-level AlphaAHB/AlphaM multi-core simulator built on
// Akita.
//
// For the full CLIs, use: go run ./cmd/alphasim and go run ./cmd/alphaas
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("AlphaSim - AlphaAHB/AlphaM MIMD Simulator")
	fmt.Println("Built on Akita simulation framework")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  alphasim [options] <program>   Run a binary, ELF or Intel HEX program")
	fmt.Println("  alphaas [options] <source.s>   Assemble a program")
	fmt.Println("  benchmark [options]            Run the timing microbenchmarks")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/alphasim -h' for the simulator options.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/alphasim' instead.")
	}
}
