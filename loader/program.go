// Package loader reads and writes the program containers accepted by the
// simulator: raw binary, ELF64 and Intel HEX.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
)

// Errors returned by the container readers and writers.
var (
	ErrUnknownFormat      = errors.New("unknown container format")
	ErrUnsupportedMachine = errors.New("unsupported ELF machine")
	ErrBadRecord          = errors.New("malformed hex record")
	ErrBadChecksum        = errors.New("hex record checksum mismatch")
	ErrAddressRange       = errors.New("address out of container range")
	ErrEmptyProgram       = errors.New("program has no segments")
)

// Format names a program container.
type Format int

const (
	FormatRaw Format = iota
	FormatELF
	FormatHex
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "binary"
	case FormatELF:
		return "elf"
	case FormatHex:
		return "hex"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat maps an output_format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "binary", "bin", "raw":
		return FormatRaw, nil
	case "elf":
		return FormatELF, nil
	case "hex", "ihex":
		return FormatHex, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Segment is a contiguous run of bytes placed at Addr.
type Segment struct {
	Addr uint64
	Data []byte
	// MemSize is the size in memory. It may exceed len(Data); the tail is
	// zero-filled.
	MemSize uint64
	Flags   SegmentFlags
}

// End returns the first address past the segment's file data.
func (s Segment) End() uint64 {
	return s.Addr + uint64(len(s.Data))
}

// Program is a decoded container: an entry point and its segments.
type Program struct {
	Entry    uint64
	Segments []Segment
}

// Sort orders the segments by address.
func (p *Program) Sort() {
	sort.SliceStable(p.Segments, func(i, j int) bool {
		return p.Segments[i].Addr < p.Segments[j].Addr
	})
}

// Size returns the total number of file bytes across segments.
func (p *Program) Size() int {
	n := 0
	for _, s := range p.Segments {
		n += len(s.Data)
	}
	return n
}

// Image flattens the program into one byte run starting at the lowest
// segment address. Gaps are zero-filled.
func (p *Program) Image() (uint64, []byte, error) {
	if len(p.Segments) == 0 {
		return 0, nil, ErrEmptyProgram
	}

	lo, hi := p.Segments[0].Addr, p.Segments[0].End()
	for _, s := range p.Segments[1:] {
		lo = min(lo, s.Addr)
		hi = max(hi, s.End())
	}

	img := make([]byte, hi-lo)
	for _, s := range p.Segments {
		copy(img[s.Addr-lo:], s.Data)
	}

	return lo, img, nil
}

// NewProgram wraps a flat code image placed at base with entry at base.
func NewProgram(base uint64, code []byte) *Program {
	return &Program{
		Entry: base,
		Segments: []Segment{{
			Addr:    base,
			Data:    code,
			MemSize: uint64(len(code)),
			Flags:   SegmentFlagRead | SegmentFlagExecute,
		}},
	}
}

type loadOptions struct {
	base   uint64
	format Format
	forced bool
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithBaseAddress sets the load address for raw binaries.
func WithBaseAddress(addr uint64) LoadOption {
	return func(o *loadOptions) {
		o.base = addr
	}
}

// WithFormat skips sniffing and reads the file as f.
func WithFormat(f Format) LoadOption {
	return func(o *loadOptions) {
		o.format = f
		o.forced = true
	}
}

// Sniff guesses the container format of data.
func Sniff(data []byte) Format {
	if bytes.HasPrefix(data, []byte(elfMagic)) {
		return FormatELF
	}
	if looksLikeHex(data) {
		return FormatHex
	}
	return FormatRaw
}

// Load reads a program container from path, sniffing its format unless
// WithFormat is given.
func Load(path string, opts ...LoadOption) (*Program, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}

	format := o.format
	if !o.forced {
		format = Sniff(data)
	}

	return Decode(data, format, o.base)
}

// Decode parses data as the given format. base only applies to raw images.
func Decode(data []byte, format Format, base uint64) (*Program, error) {
	switch format {
	case FormatELF:
		return ReadELF(bytes.NewReader(data))
	case FormatHex:
		return ReadHex(bytes.NewReader(data))
	case FormatRaw:
		return ReadRaw(bytes.NewReader(data), base)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, format)
}

// Save writes prog to path in the given format.
func Save(path string, prog *Program, format Format) error {
	var buf bytes.Buffer

	var err error
	switch format {
	case FormatELF:
		err = WriteELF(&buf, prog)
	case FormatHex:
		err = WriteHex(&buf, prog)
	case FormatRaw:
		err = WriteRaw(&buf, prog)
	default:
		err = fmt.Errorf("%w: %v", ErrUnknownFormat, format)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write program: %w", err)
	}

	return nil
}
