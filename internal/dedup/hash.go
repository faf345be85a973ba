package dedup

// FNV1a32 hashes data up to (but not including) the first NUL byte, per
// §4.2's "concept-key hash is FNV-1a 32-bit over bytes up to the first
// NUL" — concept keys are NUL-terminated in their serialized form but
// callers pass the Go string without the terminator, so this also stops
// early if one sneaks in.
func FNV1a32(data []byte) uint32 {
	const offsetBasis uint32 = 2166136261
	const prime uint32 = 16777619
	h := offsetBasis
	for _, b := range data {
		if b == 0 {
			break
		}
		h ^= uint32(b)
		h *= prime
	}
	return h
}

// Murmur3Finalizer32 is the 32-bit finalizer mix from MurmurHash3, used
// by §4.2 to derive the k-th bloom bit from the concept key's FNV hash.
func Murmur3Finalizer32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x85ebca6b
	x ^= x >> 13
	x *= 0xc2b2ae35
	x ^= x >> 16
	return x
}

// bloomBitIndex returns the k-th bloom bit position for keyHash, per
// §4.2: murmur3(fnv1a(key) + k) mod m.
func bloomBitIndex(keyHash uint32, k int, m uint32) uint32 {
	return Murmur3Finalizer32(keyHash+uint32(k)) % m
}
