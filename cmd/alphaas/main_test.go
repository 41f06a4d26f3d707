package main

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/alphasim/loader"
)

const source = `
	.org 0x1000
_start:
	ldi r1, 3
	nop
	mov r2, r2
	br done
done:
	halt
`

var _ = Describe("alphaas", func() {
	var (
		dir            string
		src            string
		stdout, stderr *bytes.Buffer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		src = filepath.Join(dir, "prog.s")
		Expect(os.WriteFile(src, []byte(source), 0644)).To(Succeed())
		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
	})

	It("should write a raw binary next to the source by default", func() {
		Expect(run([]string{src}, stdout, stderr)).To(Equal(0))

		prog, err := loader.Load(filepath.Join(dir, "prog.bin"), loader.WithBaseAddress(0x1000))
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Size()).To(Equal(8 + 4 + 4 + 8 + 4))
	})

	It("should write ELF and keep the entry point", func() {
		out := filepath.Join(dir, "out.elf")
		Expect(run([]string{"-f", "elf", "-o", out, src}, stdout, stderr)).To(Equal(0))

		prog, err := loader.Load(out)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Entry).To(Equal(uint64(0x1000)))
	})

	It("should optimise and report with -v", func() {
		out := filepath.Join(dir, "out.hex")
		Expect(run([]string{"-O", "2", "-v", "-f", "hex", "-o", out, src}, stdout, stderr)).To(Equal(0))
		Expect(stdout.String()).To(ContainSubstring("(2 removed by -O2)"))

		prog, err := loader.Load(out)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Size()).To(Equal(8 + 8 + 4))
	})

	It("should print the symbol table", func() {
		Expect(run([]string{"-symbols", src}, stdout, stderr)).To(Equal(0))
		Expect(stdout.String()).To(ContainSubstring("0000000000001000 _start"))
		Expect(stdout.String()).To(ContainSubstring("0000000000001018 done"))
	})

	It("should report every error with its line", func() {
		bad := filepath.Join(dir, "bad.s")
		Expect(os.WriteFile(bad, []byte("ldi r1\nbr nowhere\n"), 0644)).To(Succeed())

		Expect(run([]string{bad}, stdout, stderr)).To(Equal(1))
		Expect(stderr.String()).To(ContainSubstring(bad + ":1:"))
		Expect(stderr.String()).To(ContainSubstring(bad + ":2:"))
	})

	It("should reject bad options", func() {
		Expect(run([]string{}, stdout, stderr)).To(Equal(2))
		Expect(run([]string{"-O", "3", src}, stdout, stderr)).To(Equal(2))
		Expect(run([]string{"-target", "z80", src}, stdout, stderr)).To(Equal(2))
	})
})
