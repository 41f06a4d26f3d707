package loader_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/alphasim/loader"
)

var _ = Describe("Program", func() {
	It("should sniff each container", func() {
		Expect(loader.Sniff([]byte("\x7fELF\x02\x01"))).To(Equal(loader.FormatELF))
		Expect(loader.Sniff([]byte("\n:00000001FF\n"))).To(Equal(loader.FormatHex))
		Expect(loader.Sniff([]byte(":not hex"))).To(Equal(loader.FormatRaw))
		Expect(loader.Sniff([]byte{0x01, 0x00, 0x00, 0x00})).To(Equal(loader.FormatRaw))
	})

	It("should place raw images at the base address", func() {
		path := filepath.Join(GinkgoT().TempDir(), "prog.bin")
		Expect(os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644)).To(Succeed())

		prog, err := loader.Load(path, loader.WithBaseAddress(0x4000))
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Entry).To(Equal(uint64(0x4000)))
		Expect(prog.Segments[0].Addr).To(Equal(uint64(0x4000)))
		Expect(prog.Size()).To(Equal(4))
	})

	It("should honour a forced format", func() {
		path := filepath.Join(GinkgoT().TempDir(), "prog.hex")
		Expect(os.WriteFile(path, []byte(":00000001FF\n"), 0o644)).To(Succeed())

		prog, err := loader.Load(path, loader.WithFormat(loader.FormatRaw))
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Size()).To(Equal(12))
	})

	It("should zero-fill gaps when flattening", func() {
		prog := &loader.Program{Segments: []loader.Segment{
			{Addr: 0x108, Data: []byte{9}},
			{Addr: 0x100, Data: []byte{1, 2}},
		}}

		base, img, err := prog.Image()
		Expect(err).NotTo(HaveOccurred())
		Expect(base).To(Equal(uint64(0x100)))
		Expect(img).To(Equal([]byte{1, 2, 0, 0, 0, 0, 0, 0, 9}))

		var buf bytes.Buffer
		Expect(loader.WriteRaw(&buf, prog)).To(Succeed())
		Expect(buf.Bytes()).To(Equal(img))
	})

	It("should save and reload in every format", func() {
		dir := GinkgoT().TempDir()
		prog := loader.NewProgram(0x1000, []byte{0x01, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x00, 0x00})

		for _, name := range []string{"binary", "elf", "hex"} {
			format, err := loader.ParseFormat(name)
			Expect(err).NotTo(HaveOccurred())

			path := filepath.Join(dir, "out."+name)
			Expect(loader.Save(path, prog, format)).To(Succeed())

			back, err := loader.Load(path, loader.WithBaseAddress(0x1000))
			Expect(err).NotTo(HaveOccurred(), name)
			Expect(back.Entry).To(Equal(uint64(0x1000)), name)
			Expect(back.Segments[0].Data).To(Equal(prog.Segments[0].Data), name)
		}
	})

	It("should reject unknown format names", func() {
		_, err := loader.ParseFormat("srec")
		Expect(err).To(MatchError(loader.ErrUnknownFormat))
	})
})
