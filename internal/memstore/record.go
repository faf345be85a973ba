package memstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"holocore.dev/memory/internal/memblock"
)

// blockRecord is the payload of blocks/<id>.bin: { block_id:i64, dim:i32 }
// followed by dim float32s (§6). The concept key lives in the sibling
// texts/<id>.txt file, not here.
type blockRecord struct {
	ID      memblock.BlockID
	Summary []float32
}

func encodeBlockRecord(r blockRecord) []byte {
	dim := len(r.Summary)
	out := make([]byte, 8+4+dim*4)
	binary.LittleEndian.PutUint64(out[0:8], uint64(r.ID))
	binary.LittleEndian.PutUint32(out[8:12], uint32(dim))
	for i, v := range r.Summary {
		binary.LittleEndian.PutUint32(out[12+i*4:16+i*4], math.Float32bits(v))
	}
	return out
}

func decodeBlockRecord(b []byte) (blockRecord, error) {
	if len(b) < 12 {
		return blockRecord{}, fmt.Errorf("memstore: block record truncated")
	}
	id := memblock.BlockID(binary.LittleEndian.Uint64(b[0:8]))
	dim := int(binary.LittleEndian.Uint32(b[8:12]))
	if len(b) != 12+dim*4 {
		return blockRecord{}, fmt.Errorf("memstore: block record bad length for dim %d", dim)
	}
	summary := make([]float32, dim)
	for i := range summary {
		off := 12 + i*4
		summary[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
	}
	return blockRecord{ID: id, Summary: summary}, nil
}

// edgeRecord is the full payload of edges/<a>_<b>.bin.
type edgeRecord struct {
	A, B   memblock.BlockID
	Weight float64
	Count  int64
	TLast  int64
}

func encodeEdgeRecord(r edgeRecord) []byte {
	out := make([]byte, 8+8+8+8+8)
	binary.LittleEndian.PutUint64(out[0:8], uint64(r.A))
	binary.LittleEndian.PutUint64(out[8:16], uint64(r.B))
	binary.LittleEndian.PutUint64(out[16:24], math.Float64bits(r.Weight))
	binary.LittleEndian.PutUint64(out[24:32], uint64(r.Count))
	binary.LittleEndian.PutUint64(out[32:40], uint64(r.TLast))
	return out
}

func decodeEdgeRecord(b []byte) (edgeRecord, error) {
	if len(b) != 40 {
		return edgeRecord{}, fmt.Errorf("memstore: edge record bad length %d", len(b))
	}
	return edgeRecord{
		A:      memblock.BlockID(binary.LittleEndian.Uint64(b[0:8])),
		B:      memblock.BlockID(binary.LittleEndian.Uint64(b[8:16])),
		Weight: math.Float64frombits(binary.LittleEndian.Uint64(b[16:24])),
		Count:  int64(binary.LittleEndian.Uint64(b[24:32])),
		TLast:  int64(binary.LittleEndian.Uint64(b[32:40])),
	}, nil
}

// versionRecord is the payload of versions/<block_id>_v<version>.bin: the
// chain node without its PrevVersion/NextVersion pointers (those are
// reconstructed from the set of records sharing a concept key on
// replay), followed by dim:i32 and dim float32s (§6).
type versionRecord struct {
	NodeID          memblock.BlockID
	ConceptKey      string
	VersionNum      int32
	Status          uint8
	CreatedAt       int64
	SupersededAt    int64
	SupersededBy    memblock.BlockID
	MergedInto      memblock.BlockID
	Reason          string
	ConfidenceDelta float64
	Summary         []float32
}

func putString(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(s)))
	off += 2
	copy(buf[off:off+len(s)], s)
	return off + len(s)
}

func getString(buf []byte, off int) (string, int, error) {
	if off+2 > len(buf) {
		return "", 0, fmt.Errorf("memstore: truncated string length")
	}
	n := int(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2
	if off+n > len(buf) {
		return "", 0, fmt.Errorf("memstore: truncated string body")
	}
	return string(buf[off : off+n]), off + n, nil
}

func encodeVersionRecord(r versionRecord) []byte {
	dim := len(r.Summary)
	size := 8 + (2 + len(r.ConceptKey)) + 4 + 1 + 8 + 8 + 8 + 8 + (2 + len(r.Reason)) + 8 + 4 + dim*4
	out := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(out[off:off+8], uint64(r.NodeID))
	off += 8
	off = putString(out, off, r.ConceptKey)
	binary.LittleEndian.PutUint32(out[off:off+4], uint32(r.VersionNum))
	off += 4
	out[off] = r.Status
	off++
	binary.LittleEndian.PutUint64(out[off:off+8], uint64(r.CreatedAt))
	off += 8
	binary.LittleEndian.PutUint64(out[off:off+8], uint64(r.SupersededAt))
	off += 8
	binary.LittleEndian.PutUint64(out[off:off+8], uint64(r.SupersededBy))
	off += 8
	binary.LittleEndian.PutUint64(out[off:off+8], uint64(r.MergedInto))
	off += 8
	off = putString(out, off, r.Reason)
	binary.LittleEndian.PutUint64(out[off:off+8], math.Float64bits(r.ConfidenceDelta))
	off += 8
	binary.LittleEndian.PutUint32(out[off:off+4], uint32(dim))
	off += 4
	for _, v := range r.Summary {
		binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(v))
		off += 4
	}
	return out
}

func decodeVersionRecord(b []byte) (versionRecord, error) {
	var r versionRecord
	if len(b) < 8 {
		return r, fmt.Errorf("memstore: version record truncated")
	}
	off := 0
	r.NodeID = memblock.BlockID(binary.LittleEndian.Uint64(b[off : off+8]))
	off += 8
	var err error
	r.ConceptKey, off, err = getString(b, off)
	if err != nil {
		return r, err
	}
	if off+4+1+8+8+8+8+2 > len(b) {
		return r, fmt.Errorf("memstore: version record truncated (fixed fields)")
	}
	r.VersionNum = int32(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	r.Status = b[off]
	off++
	r.CreatedAt = int64(binary.LittleEndian.Uint64(b[off : off+8]))
	off += 8
	r.SupersededAt = int64(binary.LittleEndian.Uint64(b[off : off+8]))
	off += 8
	r.SupersededBy = memblock.BlockID(binary.LittleEndian.Uint64(b[off : off+8]))
	off += 8
	r.MergedInto = memblock.BlockID(binary.LittleEndian.Uint64(b[off : off+8]))
	off += 8
	r.Reason, off, err = getString(b, off)
	if err != nil {
		return r, err
	}
	if off+8+4 > len(b) {
		return r, fmt.Errorf("memstore: version record truncated (summary header)")
	}
	r.ConfidenceDelta = math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))
	off += 8
	dim := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if off+dim*4 != len(b) {
		return r, fmt.Errorf("memstore: version record bad length for dim %d", dim)
	}
	r.Summary = make([]float32, dim)
	for i := range r.Summary {
		r.Summary[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
	}
	return r, nil
}
