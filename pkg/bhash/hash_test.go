package bhash_test

import (
	"bytes"
	"testing"

	"github.com/beansdb/beansdb/pkg/bhash"
	"github.com/stretchr/testify/require"
)

func TestFNV1a32_KnownVectors(t *testing.T) {
	t.Parallel()

	// Offset basis itself, for the empty input.
	require.Equal(t, uint32(0x811c9dc5), bhash.FNV1a32(nil))

	// Single byte 'a' = 0x61: h = (0x811c9dc5 ^ 0x61) * 0x01000193 mod 2^32.
	got := bhash.FNV1a32([]byte("a"))
	require.Equal(t, uint32(0xe40c292c), got)
}

func TestFNV1a32_Deterministic(t *testing.T) {
	t.Parallel()

	data := []byte("the quick brown fox jumps over the lazy dog")
	require.Equal(t, bhash.FNV1a32(data), bhash.FNV1a32(bytes.Clone(data)))
}

func TestContentHash_ShortInputUsesWholeValue(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0x42}, 100)
	want := uint32(len(data))*97 + bhash.FNV1a32(data)

	require.Equal(t, want, bhash.ContentHash(data))
}

func TestContentHash_ExactlyAtThresholdUsesWholeValue(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0x07}, 1024)
	want := uint32(len(data))*97 + bhash.FNV1a32(data)

	require.Equal(t, want, bhash.ContentHash(data))
}

func TestContentHash_LongInputSamplesHeadAndTail(t *testing.T) {
	t.Parallel()

	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i)
	}

	l := uint32(len(data))
	want := l * 97
	want += bhash.FNV1a32(data[:512])
	want *= 97
	want += bhash.FNV1a32(data[len(data)-512:])

	require.Equal(t, want, bhash.ContentHash(data))
}

func TestContentHash_Deterministic(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789"), 500) // 5000 bytes, > threshold

	require.Equal(t, bhash.ContentHash(data), bhash.ContentHash(bytes.Clone(data)))
}

func TestLow16_MasksUpperBits(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint16(0xBEEF), bhash.Low16(0xDEADBEEF))
}
