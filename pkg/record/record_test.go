package record_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/beansdb/beansdb/pkg/bhash"
	"github.com/beansdb/beansdb/pkg/record"
	"github.com/stretchr/testify/require"
)

func buildRecord(t *testing.T, tstamp, ver int32, key, value []byte) []byte {
	t.Helper()

	hdr := record.Header{
		Tstamp: tstamp,
		Flag:   0,
		Ver:    ver,
		Ksz:    uint32(len(key)),
		Vsz:    uint32(len(value)),
	}
	hdr.CRC = record.ComputeCRC(hdr, key, value)

	var buf bytes.Buffer

	_, err := record.WriteRaw(&buf, hdr, key, value)
	require.NoError(t, err)

	return buf.Bytes()
}

func TestReader_RoundTrip_SingleRecord(t *testing.T) {
	t.Parallel()

	raw := buildRecord(t, 1000, 1, []byte("hello"), []byte("world"))
	require.Zero(t, len(raw)%record.Alignment, "encoded record must be alignment-padded")

	r, err := record.NewReader(bytes.NewReader(raw), nil)
	require.NoError(t, err)

	rec, err := r.Next()
	require.NoError(t, err)

	require.Equal(t, []byte("hello"), rec.Key)
	require.Equal(t, []byte("world"), rec.Value)
	require.Equal(t, int32(1000), rec.Header.Tstamp)
	require.Equal(t, int32(1), rec.Header.Ver)
	require.EqualValues(t, 0, rec.DataPos)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_MultipleRecords_PositionsAreAligned(t *testing.T) {
	t.Parallel()

	var all bytes.Buffer
	all.Write(buildRecord(t, 1, 1, []byte("k1"), []byte("v1")))
	all.Write(buildRecord(t, 2, 2, []byte("k2"), bytes.Repeat([]byte("x"), 500)))
	all.Write(buildRecord(t, 3, 3, []byte("k3"), []byte("v3")))

	r, err := record.NewReader(bytes.NewReader(all.Bytes()), nil)
	require.NoError(t, err)

	var positions []int64

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)
		positions = append(positions, rec.DataPos)
	}

	require.Len(t, positions, 3)

	for _, p := range positions {
		require.Zero(t, p%record.Alignment, "record start %d not aligned", p)
	}
}

func TestReader_ZeroCRC_ReturnsErrInvalidRecord(t *testing.T) {
	t.Parallel()

	buf := make([]byte, record.Alignment) // all zero => crc == 0

	r, err := record.NewReader(bytes.NewReader(buf), nil)
	require.NoError(t, err)

	_, err = r.Next()
	require.ErrorIs(t, err, record.ErrInvalidRecord)
}

func TestReader_TruncatedHeader_ReturnsErrTruncated(t *testing.T) {
	t.Parallel()

	raw := buildRecord(t, 1, 1, []byte("k"), []byte("v"))

	r, err := record.NewReader(bytes.NewReader(raw[:10]), nil)
	require.NoError(t, err)

	_, err = r.Next()
	require.ErrorIs(t, err, record.ErrTruncated)
}

func TestPadSize_RoundsUpToAlignment(t *testing.T) {
	t.Parallel()

	require.EqualValues(t, 0, record.PadSize(256))
	require.EqualValues(t, 1, record.PadSize(255))
	require.EqualValues(t, 255, record.PadSize(257))
	require.EqualValues(t, 0, record.PadSize(512))
}

func TestHeader_Tombstone(t *testing.T) {
	t.Parallel()

	require.True(t, record.Header{Ver: -1}.Tombstone())
	require.False(t, record.Header{Ver: 0}.Tombstone())
	require.False(t, record.Header{Ver: 5}.Tombstone())
}

func TestHeader_Compressed(t *testing.T) {
	t.Parallel()

	require.True(t, record.Header{Flag: record.FlagCompressed}.Compressed())
	require.False(t, record.Header{Flag: 0}.Compressed())
}

type fakeDecompressor struct {
	out []byte
	err error
}

func (f fakeDecompressor) Decompress([]byte) ([]byte, error) { return f.out, f.err }

func TestReader_CompressedValue_HashesDecompressedContent(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	compressedValue := []byte("zzz")
	hdr := record.Header{Ksz: uint32(len(key)), Vsz: uint32(len(compressedValue)), Flag: record.FlagCompressed}
	hdr.CRC = record.ComputeCRC(hdr, key, compressedValue)

	var buf bytes.Buffer
	_, err := record.WriteRaw(&buf, hdr, key, compressedValue)
	require.NoError(t, err)

	plain := []byte("the real value")
	r, err := record.NewReader(bytes.NewReader(buf.Bytes()), fakeDecompressor{out: plain})
	require.NoError(t, err)

	rec, err := r.Next()
	require.NoError(t, err)
	// Value field keeps the raw (compressed) on-disk bytes.
	require.Equal(t, compressedValue, rec.Value)
	// The content hash is computed over the decompressed value.
	require.Equal(t, bhash.ContentHash(plain), rec.ContentHash)
}
