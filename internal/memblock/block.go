// Package memblock defines the memory block type shared by every engine
// in the core: the sublimator emits blocks, the deduplicator indexes
// them, the version chain tracks their concept-key history, and the
// correlation graph tracks their summary drift and fan-out.
package memblock

import "fmt"

// BlockID is a stable, monotonically increasing identifier minted by the
// coordinator. The zero value is never issued and is used as the "no
// block" sentinel throughout the core (§7 Input error taxonomy).
type BlockID uint64

const NoBlockID BlockID = 0

// MaxConceptKeyLen is the serialized concept-key limit: 63 bytes plus a
// NUL terminator in the on-disk form (§3).
const MaxConceptKeyLen = 63

// Block is a unit of sublimated attention state plus a summary vector.
// Once admitted, Keys, Values and Positions are immutable; Summary is
// the block's initial summary only — later patched snapshots live in
// the correlation graph's bounded per-block history, not here.
type Block struct {
	ID          BlockID
	ConceptKey  string
	Keys        [][]float32 // [n_tokens][n_embd_k]
	Values      [][]float32 // [n_tokens][n_embd_v]
	Positions   []int32
	Summary     []float32 // nil if the block has no summary (§4.1)
	CreatedStep int64
}

// NTokens returns the number of rows carried by the block.
func (b *Block) NTokens() int {
	if b == nil {
		return 0
	}
	return len(b.Positions)
}

// ValidateConceptKey checks the §3 length bound and rejects the NUL byte
// within the key itself (NUL is the serialized terminator, not content).
func ValidateConceptKey(key string) error {
	if len(key) == 0 {
		return fmt.Errorf("memblock: concept key must not be empty")
	}
	if len(key) > MaxConceptKeyLen {
		return fmt.Errorf("memblock: concept key exceeds %d bytes", MaxConceptKeyLen)
	}
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return fmt.Errorf("memblock: concept key must not contain NUL")
		}
	}
	return nil
}
