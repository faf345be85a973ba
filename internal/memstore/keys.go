package memstore

import (
	"encoding/binary"
	"fmt"

	"holocore.dev/memory/internal/memblock"
)

func keyU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func keyPair(a, b memblock.BlockID) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:8], uint64(a))
	binary.BigEndian.PutUint64(out[8:16], uint64(b))
	return out
}

func keyVersion(id memblock.BlockID, version int) []byte {
	return []byte(fmt.Sprintf("%d_v%d", id, version))
}
