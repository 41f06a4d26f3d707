package loader

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Intel HEX record types.
const (
	hexData            = 0x00
	hexEOF             = 0x01
	hexExtSegmentAddr  = 0x02
	hexExtLinearAddr   = 0x04
	hexStartLinearAddr = 0x05
	hexBytesPerRecord  = 16
	hexMaxAddress      = 1 << 32
)

// ReadHex parses an Intel HEX file. Contiguous data records are merged into
// one segment. Without a start address record the entry is the lowest
// loaded address.
func ReadHex(r io.Reader) (*Program, error) {
	var (
		prog     = &Program{}
		base     uint64
		hasEntry bool
		sawEOF   bool
		line     int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if sawEOF {
			return nil, fmt.Errorf("%w: line %d: data after end-of-file record", ErrBadRecord, line)
		}

		rec, err := parseHexRecord(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		switch rec.kind {
		case hexData:
			prog.appendData(base+uint64(rec.addr), rec.data)
		case hexEOF:
			sawEOF = true
		case hexExtSegmentAddr:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("%w: line %d: segment address length", ErrBadRecord, line)
			}
			base = uint64(rec.data[0])<<12 | uint64(rec.data[1])<<4
		case hexExtLinearAddr:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("%w: line %d: linear address length", ErrBadRecord, line)
			}
			base = uint64(rec.data[0])<<24 | uint64(rec.data[1])<<16
		case hexStartLinearAddr:
			if len(rec.data) != 4 {
				return nil, fmt.Errorf("%w: line %d: start address length", ErrBadRecord, line)
			}
			prog.Entry = uint64(rec.data[0])<<24 | uint64(rec.data[1])<<16 |
				uint64(rec.data[2])<<8 | uint64(rec.data[3])
			hasEntry = true
		default:
			return nil, fmt.Errorf("%w: line %d: record type %02X", ErrBadRecord, line, rec.kind)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hex file: %w", err)
	}
	if !sawEOF {
		return nil, fmt.Errorf("%w: missing end-of-file record", ErrBadRecord)
	}

	prog.Sort()
	if !hasEntry && len(prog.Segments) > 0 {
		prog.Entry = prog.Segments[0].Addr
	}

	return prog, nil
}

func (p *Program) appendData(addr uint64, data []byte) {
	if n := len(p.Segments); n > 0 && p.Segments[n-1].End() == addr {
		last := &p.Segments[n-1]
		last.Data = append(last.Data, data...)
		last.MemSize = uint64(len(last.Data))
		return
	}

	p.Segments = append(p.Segments, Segment{
		Addr:    addr,
		Data:    append([]byte(nil), data...),
		MemSize: uint64(len(data)),
		Flags:   SegmentFlagRead | SegmentFlagExecute,
	})
}

type hexRecord struct {
	kind byte
	addr uint16
	data []byte
}

func parseHexRecord(text string) (hexRecord, error) {
	if text[0] != ':' || len(text) < 11 || len(text)%2 == 0 {
		return hexRecord{}, ErrBadRecord
	}

	raw, err := hex.DecodeString(text[1:])
	if err != nil {
		return hexRecord{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}

	n := int(raw[0])
	if len(raw) != n+5 {
		return hexRecord{}, fmt.Errorf("%w: length byte %d does not match record", ErrBadRecord, n)
	}

	var sum byte
	for _, b := range raw {
		sum += b
	}
	if sum != 0 {
		return hexRecord{}, ErrBadChecksum
	}

	return hexRecord{
		kind: raw[3],
		addr: uint16(raw[1])<<8 | uint16(raw[2]),
		data: raw[4 : 4+n],
	}, nil
}

// WriteHex writes prog as Intel HEX using extended linear address records.
// Addresses must fit in 32 bits.
func WriteHex(w io.Writer, prog *Program) error {
	if len(prog.Segments) == 0 {
		return ErrEmptyProgram
	}

	bw := bufio.NewWriter(w)
	upper := uint64(0)

	for _, s := range prog.Segments {
		if s.End() > hexMaxAddress {
			return fmt.Errorf("%w: segment at 0x%x", ErrAddressRange, s.Addr)
		}

		for off := 0; off < len(s.Data); {
			addr := s.Addr + uint64(off)
			if addr>>16 != upper {
				upper = addr >> 16
				writeHexRecord(bw, hexExtLinearAddr, 0, []byte{byte(upper >> 8), byte(upper)})
			}

			// Records never straddle a 64 KiB boundary.
			n := min(hexBytesPerRecord, len(s.Data)-off, int(0x10000-addr&0xFFFF))
			writeHexRecord(bw, hexData, uint16(addr), s.Data[off:off+n])
			off += n
		}
	}

	if prog.Entry >= hexMaxAddress {
		return fmt.Errorf("%w: entry 0x%x", ErrAddressRange, prog.Entry)
	}
	e := prog.Entry
	writeHexRecord(bw, hexStartLinearAddr, 0, []byte{byte(e >> 24), byte(e >> 16), byte(e >> 8), byte(e)})
	writeHexRecord(bw, hexEOF, 0, nil)

	return bw.Flush()
}

func writeHexRecord(w *bufio.Writer, kind byte, addr uint16, data []byte) {
	raw := make([]byte, 0, len(data)+5)
	raw = append(raw, byte(len(data)), byte(addr>>8), byte(addr), kind)
	raw = append(raw, data...)

	var sum byte
	for _, b := range raw {
		sum += b
	}
	raw = append(raw, -sum)

	_ = w.WriteByte(':')
	_, _ = w.WriteString(strings.ToUpper(hex.EncodeToString(raw)))
	_ = w.WriteByte('\n')
}

func looksLikeHex(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != ':' {
		return false
	}

	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if line[0] != ':' {
			return false
		}
		for _, c := range line[1:] {
			if !isHexDigit(c) {
				return false
			}
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
