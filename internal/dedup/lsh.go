package dedup

import (
	"math"
	"math/rand"

	"holocore.dev/memory/internal/memblock"
)

// lshTable holds B random Gaussian hyperplanes in R^D, frozen after
// construction (§5 "Random hyperplanes are frozen after init"), plus the
// dynamic bucket contents accumulated at runtime.
type lshTable struct {
	hyperplanes [][]float32 // B x D
	buckets     map[uint32][]memblock.BlockID
}

func newLSHTable(rng *rand.Rand, b, d int) *lshTable {
	planes := make([][]float32, b)
	for i := 0; i < b; i++ {
		row := make([]float32, d)
		for j := 0; j < d; j++ {
			row[j] = float32(boxMuller(rng))
		}
		planes[i] = row
	}
	return &lshTable{hyperplanes: planes, buckets: make(map[uint32][]memblock.BlockID)}
}

// boxMuller draws one standard-normal sample from rng's uniform source.
// Hyperplane components are not re-normalized afterward — §4.2 "sign is
// what matters", so only the direction, not the magnitude, is used.
func boxMuller(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	if u1 <= 1e-12 {
		u1 = 1e-12
	}
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// bucketIndex returns the B-bit word whose i-th bit is 1 iff the dot
// product of vec with hyperplane i is >= 0 (§4.2). A zero vector yields
// all-ones, since 0 >= 0.
func (t *lshTable) bucketIndex(vec []float32) uint32 {
	var idx uint32
	for i, plane := range t.hyperplanes {
		var dot float64
		n := len(plane)
		if len(vec) < n {
			n = len(vec)
		}
		for j := 0; j < n; j++ {
			dot += float64(plane[j]) * float64(vec[j])
		}
		if dot >= 0 {
			idx |= 1 << uint(i)
		}
	}
	return idx
}

func (t *lshTable) insert(id memblock.BlockID, vec []float32) {
	idx := t.bucketIndex(vec)
	t.buckets[idx] = append(t.buckets[idx], id)
}

func (t *lshTable) candidates(vec []float32) []memblock.BlockID {
	idx := t.bucketIndex(vec)
	return t.buckets[idx]
}

// LSHIndex is the §4.2 "T independent LSH tables" structure.
type LSHIndex struct {
	tables []*lshTable
}

// NewLSHIndex builds T tables of B hyperplanes each in R^D, seeded
// deterministically from seed (§9 Randomness: "a reimplementation must
// allow a deterministic seed in the config for reproducibility").
func NewLSHIndex(t, b, d int, seed int64) *LSHIndex {
	rng := rand.New(rand.NewSource(seed))
	tables := make([]*lshTable, t)
	for i := range tables {
		tables[i] = newLSHTable(rng, b, d)
	}
	return &LSHIndex{tables: tables}
}

// Insert adds id to every table's bucket for vec.
func (idx *LSHIndex) Insert(id memblock.BlockID, vec []float32) {
	for _, t := range idx.tables {
		t.insert(id, vec)
	}
}

// Candidates unions the bucket contents from all tables for vec and
// removes duplicates, preserving first-seen order.
func (idx *LSHIndex) Candidates(vec []float32) []memblock.BlockID {
	seen := make(map[memblock.BlockID]struct{})
	out := make([]memblock.BlockID, 0)
	for _, t := range idx.tables {
		for _, id := range t.candidates(vec) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// NonEmptyBucketDepth returns the average occupancy of non-empty buckets
// across all tables, used for the §4.2 stats surface.
func (idx *LSHIndex) NonEmptyBucketDepth() float64 {
	var total, count int
	for _, t := range idx.tables {
		for _, ids := range t.buckets {
			total += len(ids)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}
