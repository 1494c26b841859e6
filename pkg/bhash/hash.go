// Package bhash provides the 32-bit FNV-1a hash used throughout beansdb for
// key-to-bucket mapping, endpoint ordering, and value content fingerprints.
package bhash

const (
	offsetBasis32 uint32 = 0x811c9dc5
	prime32       uint32 = 0x01000193

	// contentHashShortLen is the number of leading/trailing bytes sampled by
	// [ContentHash] for values longer than contentHashThreshold.
	contentHashShortLen = 512

	// contentHashThreshold is the value length above which ContentHash only
	// samples the first and last contentHashShortLen bytes instead of hashing
	// the whole value.
	contentHashThreshold = 1024
)

// FNV1a32 computes the 32-bit FNV-1a hash of data.
//
// Offset basis 0x811c9dc5, prime 0x01000193, matching the reference
// implementation bit for bit.
func FNV1a32(data []byte) uint32 {
	h := offsetBasis32

	for _, b := range data {
		h ^= uint32(b)
		h *= prime32
	}

	return h
}

// ContentHash computes the content fingerprint used for hint records
// ("gen_hash" in the reference implementation).
//
// For data of length L <= 1024 bytes, it is L*97 + fnv1a(data). For longer
// data it samples only the first and last 512 bytes:
//
//	h = L*97
//	h += fnv1a(data[:512])
//	h = h * 97          (truncated to 32 bits)
//	h += fnv1a(data[len(data)-512:])
//
// All additions/multiplications wrap at 32 bits, matching Go's unsigned
// integer overflow semantics.
func ContentHash(data []byte) uint32 {
	l := uint32(len(data))
	h := l * 97

	if len(data) <= contentHashThreshold {
		h += FNV1a32(data)

		return h
	}

	h += FNV1a32(data[:contentHashShortLen])
	h *= 97
	h += FNV1a32(data[len(data)-contentHashShortLen:])

	return h
}

// Low16 returns the low 16 bits of a 32-bit content hash, the window stored
// in hint records and the only window valid for hint/data-file comparisons.
func Low16(h uint32) uint16 {
	return uint16(h & 0xFFFF)
}
