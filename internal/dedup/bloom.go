package dedup

// Bloom is a fixed-size bloom filter over concept keys with K hashes
// derived per §4.2. It supports no removals — §4.2 "accept the
// asymmetry" — a bit set by one key is never cleared by another key's
// absence.
type Bloom struct {
	bits []uint64
	m    uint32
	k    int
}

// NewBloom allocates a bloom filter of m bits (rounded up to a multiple
// of 64) using k hash probes per key.
func NewBloom(m uint32, k int) *Bloom {
	if m == 0 {
		m = 1
	}
	if k <= 0 {
		k = 1
	}
	words := (m + 63) / 64
	return &Bloom{bits: make([]uint64, words), m: m, k: k}
}

// Add sets the k bits for key. Safe to call more than once for the same
// key (idempotent).
func (b *Bloom) Add(key string) {
	h := FNV1a32([]byte(key))
	for i := 0; i < b.k; i++ {
		idx := bloomBitIndex(h, i, b.m)
		b.bits[idx/64] |= 1 << (idx % 64)
	}
}

// MaybeExists reports whether key might have been added. A false return
// is conclusive: the key was never added (§8 invariant 5, no false
// negatives). A true return may be a false positive.
func (b *Bloom) MaybeExists(key string) bool {
	h := FNV1a32([]byte(key))
	for i := 0; i < b.k; i++ {
		idx := bloomBitIndex(h, i, b.m)
		if b.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}
