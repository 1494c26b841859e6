// Package hint implements the compressed hint-file sidecar format: a packed
// per-record index (ksz, datapos>>8, ver, hash-low-16, key) whose
// concatenation is compressed as a whole via a pluggable [Codec].
package hint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// recordFixedSize is the size of the fixed portion of a packed hint record:
// 4 bytes of (ksz:8 | datapos>>8:24), 4 bytes of ver, 2 bytes of hash-low-16.
const recordFixedSize = 10

// maxDataPosShifted is the largest datapos>>8 value representable in 24
// bits (the encoder's upper-bits packing).
const maxDataPosShifted = 1<<24 - 1

// ErrDataPosMisaligned is returned when encoding a record whose data
// position isn't a multiple of 256 — the packing relies on the low 8 bits
// always being zero.
var ErrDataPosMisaligned = errors.New("hint: datapos not 256-byte aligned")

// ErrDataPosOverflow is returned when datapos>>8 doesn't fit in 24 bits.
var ErrDataPosOverflow = errors.New("hint: datapos too large to pack in 24 bits")

// Record is one decoded hint-file entry.
type Record struct {
	Ksz     uint8
	DataPos int64 // full byte offset (already shifted back up by 8 bits)
	Ver     int32
	Hash    uint16 // low 16 bits of the 32-bit content hash
	Key     []byte
}

// DataPathToHintPath converts a "*.data" file path to its sidecar hint
// path by replacing the ".data" suffix with "hint.qlz".
func DataPathToHintPath(dataPath string) string {
	dir, base := filepath.Split(dataPath)

	prefix := strings.TrimSuffix(base, ".data")

	return filepath.Join(dir, prefix+"hint.qlz")
}

// Encode appends the packed representation of rec to buf and returns the
// result.
func Encode(buf []byte, rec Record) ([]byte, error) {
	if rec.DataPos%256 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrDataPosMisaligned, rec.DataPos)
	}

	shifted := rec.DataPos >> 8
	if shifted < 0 || shifted > maxDataPosShifted {
		return nil, fmt.Errorf("%w: %d", ErrDataPosOverflow, shifted)
	}

	packed := uint32(rec.Ksz)<<24 | uint32(shifted)

	var fixed [recordFixedSize]byte
	binary.LittleEndian.PutUint32(fixed[0:4], packed)
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(rec.Ver))
	binary.LittleEndian.PutUint16(fixed[8:10], rec.Hash)

	buf = append(buf, fixed[:]...)
	buf = append(buf, rec.Key...)
	buf = append(buf, 0) // single NUL pad byte

	return buf, nil
}

// Decode reads one packed hint record from buf, returning the record and
// the number of bytes consumed.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < recordFixedSize+1 {
		return Record{}, 0, fmt.Errorf("hint: truncated record fixed portion (have %d bytes)", len(buf))
	}

	packed := binary.LittleEndian.Uint32(buf[0:4])
	ksz := uint8(packed >> 24)
	shifted := packed & maxDataPosShifted

	ver := int32(binary.LittleEndian.Uint32(buf[4:8]))
	hash := binary.LittleEndian.Uint16(buf[8:10])

	need := recordFixedSize + int(ksz) + 1
	if len(buf) < need {
		return Record{}, 0, fmt.Errorf("hint: truncated record key (need %d, have %d)", need, len(buf))
	}

	key := bytes.Clone(buf[recordFixedSize : recordFixedSize+int(ksz)])

	return Record{
		Ksz:     ksz,
		DataPos: int64(shifted) << 8,
		Ver:     ver,
		Hash:    hash,
		Key:     key,
	}, need, nil
}

// DecodeAll decodes every packed record in buf (the decompressed contents
// of a hint file) until the buffer is exhausted.
func DecodeAll(buf []byte) ([]Record, error) {
	var recs []Record

	for len(buf) > 0 {
		rec, n, err := Decode(buf)
		if err != nil {
			return nil, err
		}

		recs = append(recs, rec)
		buf = buf[n:]
	}

	return recs, nil
}

// Codec is the pluggable, opaque compression algorithm applied to the
// concatenation of packed hint records. The reference implementation uses
// QuickLZ; this package treats it as any byte-to-byte codec satisfying
// this interface. See [NewFlateCodec] for the default implementation.
type Codec interface {
	Compress(plain []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
}

// EncodeFile packs recs and compresses the result with codec, producing
// the full on-disk contents of a hint file.
func EncodeFile(codec Codec, recs []Record) ([]byte, error) {
	var buf []byte

	for _, rec := range recs {
		var err error

		buf, err = Encode(buf, rec)
		if err != nil {
			return nil, err
		}
	}

	compressed, err := codec.Compress(buf)
	if err != nil {
		return nil, fmt.Errorf("hint: compress: %w", err)
	}

	return compressed, nil
}

// DecodeFile decompresses the on-disk contents of a hint file with codec
// and decodes every packed record it contains.
func DecodeFile(codec Codec, fileContents []byte) ([]Record, error) {
	plain, err := codec.Decompress(fileContents)
	if err != nil {
		return nil, fmt.Errorf("hint: decompress: %w", err)
	}

	return DecodeAll(plain)
}

// Write compresses recs with codec and writes the result to w.
func Write(w io.Writer, codec Codec, recs []Record) error {
	data, err := EncodeFile(codec, recs)
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("hint: write: %w", err)
	}

	return nil
}
