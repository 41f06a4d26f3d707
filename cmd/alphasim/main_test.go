package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/alphasim/asm"
	"github.com/sarchlab/alphasim/loader"
	"github.com/sarchlab/alphasim/telemetry"
)

const addSource = `
_start:
	ldi r2, 5
	ldi r3, 7
	add r1, r2, r3
	ldi r0, 0
	syscall
`

var _ = Describe("alphasim", func() {
	var (
		dir            string
		stdout, stderr *bytes.Buffer
	)

	writeProgram := func(name, src string, format loader.Format) string {
		obj, err := asm.New(asm.WithOrigin(0x1000)).Assemble(src)
		Expect(err).NotTo(HaveOccurred())
		path := filepath.Join(dir, name)
		Expect(loader.Save(path, obj.Program, format)).To(Succeed())
		return path
	}

	runCLI := func(args ...string) int {
		return run(context.Background(), args, stdout, stderr)
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
	})

	It("should run a program and exit with its exit code", func() {
		path := writeProgram("add.hex", addSource, loader.FormatHex)
		report := filepath.Join(dir, "report.json")

		Expect(runCLI("-output", report, path)).To(Equal(12))
		Expect(stdout.String()).To(ContainSubstring("Total Cycles:"))
		Expect(stdout.String()).To(ContainSubstring("Exit code: 12"))

		data, err := os.ReadFile(report)
		Expect(err).NotTo(HaveOccurred())
		var r telemetry.Report
		Expect(json.Unmarshal(data, &r)).To(Succeed())
		Expect(r.SimulationInfo.Halted).To(BeTrue())
		Expect(r.SimulationInfo.InstructionsExecuted).To(BeNumerically(">=", 3))
	})

	It("should load ELF and raw programs", func() {
		elfPath := writeProgram("add.elf", addSource, loader.FormatELF)
		Expect(runCLI(elfPath)).To(Equal(12))

		rawPath := writeProgram("add.bin", addSource, loader.FormatRaw)
		Expect(runCLI("-format", "binary", "-base", "0x2000", rawPath)).To(Equal(12))
	})

	It("should run the functional emulator", func() {
		path := writeProgram("add.hex", addSource, loader.FormatHex)

		Expect(runCLI("-emulate", "-v", path)).To(Equal(12))
		Expect(stdout.String()).To(ContainSubstring("Instructions executed: 5"))
	})

	It("should report the cycle limit", func() {
		path := writeProgram("spin.hex", "spin: br spin\n", loader.FormatHex)

		Expect(runCLI("-max-cycles", "10", path)).To(Equal(1))
		Expect(stderr.String()).To(ContainSubstring("Cycle limit of 10 reached"))
	})

	It("should read a YAML configuration", func() {
		path := writeProgram("add.hex", addSource, loader.FormatHex)
		config := filepath.Join(dir, "sim.yaml")
		Expect(os.WriteFile(config, []byte("cores: 2\ntarget: alpha\n"), 0644)).To(Succeed())

		Expect(runCLI("-config", config, path)).To(Equal(12))
		Expect(stdout.String()).To(ContainSubstring("Target: alpha, 2 core(s)"))
	})

	It("should reject bad arguments", func() {
		Expect(runCLI()).To(Equal(2))
		Expect(runCLI("-format", "coff", "x.bin")).To(Equal(2))

		path := writeProgram("add.hex", addSource, loader.FormatHex)
		Expect(runCLI("-cores", "65", path)).To(Equal(1))
		Expect(stderr.String()).To(ContainSubstring("Error loading config"))

		Expect(runCLI(filepath.Join(dir, "missing.bin"))).To(Equal(1))
		Expect(stderr.String()).To(ContainSubstring("Error loading program"))
	})
})
