package loader

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

const elfMagic = "\x7fELF"

// Machine is the e_machine value written into AlphaAHB ELF files.
const Machine = elf.EM_ALPHA

const (
	elfHeaderSize  = 64
	progHeaderSize = 56
)

// ReadELF parses an ELF64 little-endian AlphaAHB executable. Only PT_LOAD
// segments are kept.
func ReadELF(r io.ReaderAt) (*Program, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file")
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("not a little-endian ELF file")
	}
	if f.Machine != elf.EM_ALPHA && f.Machine != elf.EM_ALPHA_STD {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMachine, f.Machine)
	}

	prog := &Program{Entry: f.Entry}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			Addr:    phdr.Vaddr,
			Data:    data,
			MemSize: max(phdr.Memsz, phdr.Filesz),
			Flags:   flags,
		})
	}

	return prog, nil
}

// WriteELF writes prog as an ELF64 little-endian executable with one
// PT_LOAD program header per segment and no section headers.
func WriteELF(w io.Writer, prog *Program) error {
	if len(prog.Segments) == 0 {
		return ErrEmptyProgram
	}

	le := binary.LittleEndian
	phnum := len(prog.Segments)

	hdr := make([]byte, elfHeaderSize)
	copy(hdr[0:4], elfMagic)
	hdr[4] = byte(elf.ELFCLASS64)
	hdr[5] = byte(elf.ELFDATA2LSB)
	hdr[6] = byte(elf.EV_CURRENT)
	le.PutUint16(hdr[16:18], uint16(elf.ET_EXEC))
	le.PutUint16(hdr[18:20], uint16(Machine))
	le.PutUint32(hdr[20:24], uint32(elf.EV_CURRENT))
	le.PutUint64(hdr[24:32], prog.Entry)
	le.PutUint64(hdr[32:40], elfHeaderSize)
	le.PutUint16(hdr[52:54], elfHeaderSize)
	le.PutUint16(hdr[54:56], progHeaderSize)
	le.PutUint16(hdr[56:58], uint16(phnum))

	if _, err := w.Write(hdr); err != nil {
		return err
	}

	offset := uint64(elfHeaderSize + progHeaderSize*phnum)
	for _, s := range prog.Segments {
		ph := make([]byte, progHeaderSize)
		le.PutUint32(ph[0:4], uint32(elf.PT_LOAD))
		le.PutUint32(ph[4:8], uint32(segmentELFFlags(s.Flags)))
		le.PutUint64(ph[8:16], offset)
		le.PutUint64(ph[16:24], s.Addr)
		le.PutUint64(ph[24:32], s.Addr)
		le.PutUint64(ph[32:40], uint64(len(s.Data)))
		le.PutUint64(ph[40:48], max(s.MemSize, uint64(len(s.Data))))
		le.PutUint64(ph[48:56], 4)

		if _, err := w.Write(ph); err != nil {
			return err
		}
		offset += uint64(len(s.Data))
	}

	for _, s := range prog.Segments {
		if _, err := w.Write(s.Data); err != nil {
			return err
		}
	}

	return nil
}

func segmentELFFlags(f SegmentFlags) elf.ProgFlag {
	if f == 0 {
		return elf.PF_R | elf.PF_X
	}

	var pf elf.ProgFlag
	if f&SegmentFlagExecute != 0 {
		pf |= elf.PF_X
	}
	if f&SegmentFlagWrite != 0 {
		pf |= elf.PF_W
	}
	if f&SegmentFlagRead != 0 {
		pf |= elf.PF_R
	}
	return pf
}
