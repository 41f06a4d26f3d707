// Package main provides alphaas, the AlphaAHB/AlphaM assembler.
//
// Usage:
//
//	alphaas [flags] <source.s>
//
// The output container defaults to a raw binary next to the source file.
// Use -f elf or -f hex for the other formats.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/sarchlab/alphasim/asm"
	"github.com/sarchlab/alphasim/loader"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

var extensions = map[loader.Format]string{
	loader.FormatRaw: ".bin",
	loader.FormatELF: ".elf",
	loader.FormatHex: ".hex",
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("alphaas", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath = fs.String("config", "", "Path to a JSON or YAML assembler configuration")
		output     = fs.String("o", "", "Output file (default: source name with the format's extension)")
		format     = fs.String("f", "", "Output format: binary, elf or hex (overrides config)")
		optimize   = fs.Int("O", -1, "Optimization level 0-2 (overrides config)")
		target     = fs.String("target", "", "Target ISA: alpha or alpham (overrides config)")
		origin     = fs.String("origin", "", "Address of the first statement (overrides config)")
		symbols    = fs.Bool("symbols", false, "Print the symbol table")
		verbose    = fs.Bool("v", false, "Verbose output")
	)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: alphaas [options] <source.s>\n")
		_, _ = fmt.Fprintf(stderr, "\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	source := fs.Arg(0)

	config := asm.DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = asm.LoadConfig(*configPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
	}
	if *format != "" {
		config.OutputFormat = *format
	}
	if *optimize >= 0 {
		config.Optimize = *optimize
	}
	if *target != "" {
		config.Target = *target
	}
	if *origin != "" {
		addr, err := strconv.ParseUint(*origin, 0, 64)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: invalid origin %q\n", *origin)
			return 2
		}
		config.Origin = addr
	}
	if err := config.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel}))

	assembler := asm.New(asm.WithConfig(config), asm.WithLogger(logger))
	obj, err := assembler.AssembleFile(source)
	if err != nil {
		printErrors(stderr, source, err)
		return 1
	}

	out := *output
	if out == "" {
		out = strings.TrimSuffix(source, filepath.Ext(source)) + extensions[config.Format()]
	}
	if err := loader.Save(out, obj.Program, config.Format()); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error writing output: %v\n", err)
		return 1
	}

	if *verbose {
		_, _ = fmt.Fprintf(stdout, "Assembled: %s -> %s (%s)\n", source, out, config.Format())
		_, _ = fmt.Fprintf(stdout, "Entry point: 0x%X\n", obj.Program.Entry)
		_, _ = fmt.Fprintf(stdout, "Instructions: %d (%d removed by -O%d)\n",
			obj.Instructions, obj.Removed, config.Optimize)
		_, _ = fmt.Fprintf(stdout, "Size: %d bytes in %d segment(s)\n",
			obj.Program.Size(), len(obj.Program.Segments))
	}

	if *symbols {
		printSymbols(stdout, obj.Symbols)
	}

	return 0
}

// printErrors writes one line per assembly error, prefixed with the source
// location when it is known.
func printErrors(w io.Writer, source string, err error) {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	for _, e := range errs {
		var lineErr *asm.Error
		if errors.As(e, &lineErr) && lineErr.Line > 0 {
			_, _ = fmt.Fprintf(w, "%s:%d: %v\n", source, lineErr.Line, lineErr.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s: %v\n", source, e)
	}
}

func printSymbols(w io.Writer, symbols map[string]uint64) {
	names := make([]string, 0, len(symbols))
	for name := range symbols {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		_, _ = fmt.Fprintf(w, "%016x %s\n", symbols[name], name)
	}
}
