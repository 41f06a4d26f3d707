package loader

import (
	"fmt"
	"io"
)

// ReadRaw reads a flat image and places it at base. The entry point is base.
func ReadRaw(r io.Reader, base uint64) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw image: %w", err)
	}
	return NewProgram(base, data), nil
}

// WriteRaw writes the flattened program image. The load address and entry
// point are not recorded.
func WriteRaw(w io.Writer, prog *Program) error {
	_, img, err := prog.Image()
	if err != nil {
		return err
	}

	_, err = w.Write(img)
	return err
}
