package hint

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// flateCodec is the default [Codec], standing in for the reference
// implementation's QuickLZ: an opaque whole-buffer byte-to-byte codec. It
// uses klauspost/compress's flate implementation, which is a drop-in
// replacement for compress/flate with a faster encoder.
type flateCodec struct {
	level int
}

// NewFlateCodec returns a [Codec] backed by klauspost/compress/flate at the
// given compression level (see [flate.BestSpeed]..[flate.BestCompression]).
func NewFlateCodec(level int) Codec {
	return flateCodec{level: level}
}

func (c flateCodec) Compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := flate.NewWriter(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("hint: new flate writer: %w", err)
	}

	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("hint: flate write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("hint: flate close: %w", err)
	}

	return buf.Bytes(), nil
}

func (flateCodec) Decompress(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("hint: flate read: %w", err)
	}

	return plain, nil
}
