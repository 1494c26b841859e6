// Package record implements the append-only data-file record format: a
// 24-byte header followed by key and value, padded to a 256-byte boundary.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/beansdb/beansdb/pkg/bhash"
)

// Alignment is the record boundary: every record starts at an offset that
// is a multiple of Alignment bytes.
const Alignment = 256

// HeaderSize is the fixed size of a record header in bytes.
const HeaderSize = 24

// FlagCompressed marks that the stored value is compressed.
const FlagCompressed = 0x00010000

// ErrInvalidRecord marks a record whose crc field is zero: end of valid
// data, or a crash mid-write. Scanning a file must stop here.
var ErrInvalidRecord = errors.New("record: invalid record (crc=0)")

// ErrTruncated marks a header or payload read that hit EOF early.
var ErrTruncated = errors.New("record: truncated read")

// Header is the 24-byte fixed record header.
type Header struct {
	CRC    uint32
	Tstamp int32
	Flag   int32
	Ver    int32
	Ksz    uint32
	Vsz    uint32
}

// Compressed reports whether FlagCompressed is set.
func (h Header) Compressed() bool { return h.Flag&FlagCompressed != 0 }

// Tombstone reports whether this record is a deletion marker (ver < 0).
func (h Header) Tombstone() bool { return h.Ver < 0 }

// Record is a fully decoded record: header plus key/value and derived
// metadata needed by the index builder and compactor.
type Record struct {
	Header Header
	Key    []byte
	// Value is the raw, possibly-compressed value bytes exactly as stored.
	Value []byte
	// DataPos is the file offset of the record's header (a multiple of
	// Alignment).
	DataPos int64
	// ContentHash is bhash.ContentHash of the decompressed value.
	ContentHash uint32
}

// TotalSize returns 24 + ksz + vsz, the header+key+value size before
// padding.
func (h Header) TotalSize() int64 {
	return HeaderSize + int64(h.Ksz) + int64(h.Vsz)
}

// PadSize returns the number of NUL padding bytes following a record of the
// given total size, so that the next record starts on an Alignment
// boundary.
func PadSize(totalSize int64) int64 {
	rem := totalSize % Alignment
	if rem == 0 {
		return 0
	}

	return Alignment - rem
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.CRC)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Tstamp))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Flag))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Ver))
	binary.LittleEndian.PutUint32(buf[16:20], h.Ksz)
	binary.LittleEndian.PutUint32(buf[20:24], h.Vsz)

	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		CRC:    binary.LittleEndian.Uint32(buf[0:4]),
		Tstamp: int32(binary.LittleEndian.Uint32(buf[4:8])),
		Flag:   int32(binary.LittleEndian.Uint32(buf[8:12])),
		Ver:    int32(binary.LittleEndian.Uint32(buf[12:16])),
		Ksz:    binary.LittleEndian.Uint32(buf[16:20]),
		Vsz:    binary.LittleEndian.Uint32(buf[20:24]),
	}
}

// Decompressor decompresses a value previously compressed by FlagCompressed.
// The compactor passes compressed bytes through unchanged, but a [Reader]
// (including the one the compactor scans with) needs a Decompressor to
// compute the content hash of a compressed value: without one, Next
// returns an error for any record with FlagCompressed set.
type Decompressor interface {
	Decompress(compressed []byte) ([]byte, error)
}

// Reader scans records sequentially from an [io.ReadSeeker] (normally a
// *.data file opened read-only).
type Reader struct {
	r     io.ReadSeeker
	pos   int64
	codec Decompressor
}

// NewReader returns a Reader starting at the current position of r.
// Compressed values are decompressed with codec before computing their
// content hash; with a nil codec, Next returns an error for a compressed
// record. Record.Value is always left as the raw on-disk bytes.
func NewReader(r io.ReadSeeker, codec Decompressor) (*Reader, error) {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("record: determine start offset: %w", err)
	}

	return &Reader{r: r, pos: pos, codec: codec}, nil
}

// Pos returns the current scan position (the offset the next Next() call
// will read from).
func (rd *Reader) Pos() int64 { return rd.pos }

// Next reads one record. On a crc==0 header it returns ErrInvalidRecord
// after advancing past that record's padding (so callers that want to keep
// scanning past an isolated invalid slot can, though the normal policy is
// to stop the file scan on the first ErrInvalidRecord). On EOF with zero
// bytes read it returns io.EOF.
func (rd *Reader) Next() (Record, error) {
	startPos := rd.pos

	hdrBuf := make([]byte, HeaderSize)

	n, err := io.ReadFull(rd.r, hdrBuf)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Record{}, io.EOF
		}

		return Record{}, fmt.Errorf("%w: header at %d: %v", ErrTruncated, startPos, err)
	}

	rd.pos += HeaderSize

	hdr := decodeHeader(hdrBuf)

	if hdr.CRC == 0 {
		pad := PadSize(HeaderSize)
		if err := rd.skip(pad); err != nil {
			return Record{}, err
		}

		return Record{Header: hdr, DataPos: startPos}, fmt.Errorf("%w: at offset %d", ErrInvalidRecord, startPos)
	}

	key := make([]byte, hdr.Ksz)
	if _, err := io.ReadFull(rd.r, key); err != nil {
		return Record{}, fmt.Errorf("%w: key at %d: %v", ErrTruncated, startPos, err)
	}

	rd.pos += int64(hdr.Ksz)

	value := make([]byte, hdr.Vsz)
	if _, err := io.ReadFull(rd.r, value); err != nil {
		return Record{}, fmt.Errorf("%w: value at %d: %v", ErrTruncated, startPos, err)
	}

	rd.pos += int64(hdr.Vsz)

	total := hdr.TotalSize()
	if err := rd.skip(PadSize(total)); err != nil {
		return Record{}, err
	}

	plain := value

	if hdr.Compressed() {
		if rd.codec == nil {
			return Record{}, fmt.Errorf("record: compressed value at %d with no decompressor configured", startPos)
		}

		plain, err = rd.codec.Decompress(value)
		if err != nil {
			return Record{}, fmt.Errorf("record: decompress value at %d: %w", startPos, err)
		}
	}

	return Record{
		Header:      hdr,
		Key:         key,
		Value:       value,
		DataPos:     startPos,
		ContentHash: bhash.ContentHash(plain),
	}, nil
}

func (rd *Reader) skip(n int64) error {
	if n == 0 {
		return nil
	}

	_, err := rd.r.Seek(n, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("record: seek past padding: %w", err)
	}

	rd.pos += n

	return nil
}

// ComputeCRC computes a non-zero checksum over hdr (with CRC treated as
// zero), key and value. It is used when constructing new records (tests,
// the compactor CLI's self-test); compaction itself never recomputes
// a CRC, it passes the original bytes through.
func ComputeCRC(hdr Header, key, value []byte) uint32 {
	hdr.CRC = 0
	buf := encodeHeader(hdr)
	buf = append(buf, key...)
	buf = append(buf, value...)

	sum := crc32.ChecksumIEEE(buf)
	if sum == 0 {
		// Never emit the "invalid record" sentinel value for real data.
		sum = 1
	}

	return sum
}

// WriteRaw writes a record's original header+key+value bytes unchanged,
// followed by NUL padding to the next Alignment boundary. Compaction never
// re-encodes a record's payload: it always writes through the exact bytes
// read from the source file.
func WriteRaw(w io.Writer, hdr Header, key, value []byte) (int64, error) {
	if len(key) != int(hdr.Ksz) {
		return 0, fmt.Errorf("record: key length %d != header Ksz %d", len(key), hdr.Ksz)
	}

	if len(value) != int(hdr.Vsz) {
		return 0, fmt.Errorf("record: value length %d != header Vsz %d", len(value), hdr.Vsz)
	}

	buf := encodeHeader(hdr)
	buf = append(buf, key...)
	buf = append(buf, value...)

	total := int64(len(buf))
	buf = append(buf, make([]byte, PadSize(total))...)

	n, err := w.Write(buf)
	if err != nil {
		return int64(n), fmt.Errorf("record: write: %w", err)
	}

	return int64(n), nil
}
