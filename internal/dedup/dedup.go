package dedup

import (
	"sort"
	"sync/atomic"

	"holocore.dev/memory/internal/memblock"
	"holocore.dev/memory/internal/vecmath"
)

// Config tunes the three-tier deduplication index (§3, §4.2).
type Config struct {
	BloomBits       uint32
	BloomHashes     int
	ExactBuckets    int
	LSHTables       int // T
	LSHHyperplanes  int // B
	SummaryDim      int // D
	LSHSeed         int64
	SimilarityThreshold float64
}

// DefaultConfig returns the tunables named in the source (§3): 32
// per-block fan-out lives in the graph package, not here; these are the
// dedup-specific defaults.
func DefaultConfig(dim int, seed int64) Config {
	return Config{
		BloomBits:           1 << 20,
		BloomHashes:         4,
		ExactBuckets:        4096,
		LSHTables:           4,
		LSHHyperplanes:      16,
		SummaryDim:          dim,
		LSHSeed:             seed,
		SimilarityThreshold: 0.85,
	}
}

// Stats holds the §4.2 "Stats" counters, never read for correctness.
// Only Query updates them (one lookup per call, one hit per call that
// scores at least one candidate, plus the number of LSH candidates);
// Admit, Register, Reindex, Forget and FindExact leave them unchanged.
type Stats struct {
	Lookups    atomic.Int64
	Hits       atomic.Int64
	Candidates atomic.Int64
}

// Deduplicator is the coordinator-owned three-tier admission/query index
// described in §4.2.
type Deduplicator struct {
	cfg   Config
	bloom *Bloom
	exact *ExactTable
	lsh   *LSHIndex
	stats Stats
}

// New constructs a Deduplicator from cfg.
func New(cfg Config) *Deduplicator {
	return &Deduplicator{
		cfg:   cfg,
		bloom: NewBloom(cfg.BloomBits, cfg.BloomHashes),
		exact: NewExactTable(cfg.ExactBuckets),
		lsh:   NewLSHIndex(cfg.LSHTables, cfg.LSHHyperplanes, cfg.SummaryDim, cfg.LSHSeed),
	}
}

// Admit runs the §4.2 admission algorithm for a block about to be
// created with the given concept key. It returns (existingID, false) if the key is already present — the
// caller must not create the new block — or (memblock.NoBlockID, true)
// if admission should proceed, in which case the caller is responsible
// for calling Register once the real block ID has been minted.
//
// A null/empty key is an input error (§7): it silently refuses
// admission rather than indexing an empty key.
func (d *Deduplicator) Admit(key string) (existing memblock.BlockID, admit bool) {
	if key == "" {
		return memblock.NoBlockID, false
	}
	if !d.bloom.MaybeExists(key) {
		return memblock.NoBlockID, true
	}
	if id, ok := d.exact.Find(key); ok {
		return id, false
	}
	return memblock.NoBlockID, true
}

// Register indexes a newly admitted block under key and id, inserting
// into the bloom filter, the exact table, and — if summary is non-nil —
// every LSH table (§4.2 step 3). Blocks with no summary are admitted
// without LSH insertion; exact-key lookup still works (§4.1 "Summary
// selection").
func (d *Deduplicator) Register(id memblock.BlockID, key string, summary []float32) {
	if key == "" {
		return
	}
	d.bloom.Add(key)
	d.exact.Insert(key, id)
	if summary != nil {
		d.lsh.Insert(id, summary)
	}
}

// Reindex repoints key's exact-table entry at id and, if summary is
// non-nil, inserts id into the LSH tables under that summary — used by
// the coordinator after a version-chain update advances the concept
// key's current block, so both exact lookup and near-duplicate query
// follow the new active version. The bloom bit is untouched (already
// set).
func (d *Deduplicator) Reindex(key string, id memblock.BlockID, summary []float32) {
	if key == "" {
		return
	}
	d.exact.Replace(key, id)
	if summary != nil {
		d.lsh.Insert(id, summary)
	}
}

// Forget removes key's exact-table entry (e.g. on retraction). The
// bloom bit is never cleared (§4.2 "Removal").
func (d *Deduplicator) Forget(key string) {
	if key == "" {
		return
	}
	d.exact.Remove(key)
}

// FindExact returns the block currently registered for key.
func (d *Deduplicator) FindExact(key string) (memblock.BlockID, bool) {
	if key == "" {
		return memblock.NoBlockID, false
	}
	return d.exact.Find(key)
}

// Candidate is one similarity-scored result of Query.
type Candidate struct {
	ID         memblock.BlockID
	Similarity float64
}

// SummaryLookup resolves a block ID to its current summary vector, used
// by Query to re-score LSH candidates. The coordinator supplies this
// (it owns the block store); the deduplicator holds no block data
// itself.
type SummaryLookup func(id memblock.BlockID) ([]float32, bool)

// Query runs the §4.2/§2 retrieval path: LSH candidate generation
// followed by exact cosine re-scoring, returned in non-increasing
// similarity order (§8 invariant 6). This resolves the spec's Open
// Question about find_similar returning unscored placeholders — every
// candidate here is re-scored.
func (d *Deduplicator) Query(vec []float32, lookup SummaryLookup) []Candidate {
	d.stats.Lookups.Add(1)
	if vec == nil || lookup == nil {
		return nil
	}
	ids := d.lsh.Candidates(vec)
	d.stats.Candidates.Add(int64(len(ids)))
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		summary, ok := lookup(id)
		if !ok {
			continue
		}
		sim := vecmath.CosineSimilarity(vec, summary)
		out = append(out, Candidate{ID: id, Similarity: sim})
	}
	if len(out) > 0 {
		d.stats.Hits.Add(1)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}

// SimilarityThreshold returns the configured acceptance cutoff for
// duplicate/near-duplicate decisions (§4.2 default 0.85).
func (d *Deduplicator) SimilarityThreshold() float64 {
	return d.cfg.SimilarityThreshold
}

// BucketDepth exposes the LSH index's average non-empty bucket depth
// for the coordinator's stats() surface (§4.2 Stats).
func (d *Deduplicator) BucketDepth() float64 {
	return d.lsh.NonEmptyBucketDepth()
}

// StatsSnapshot is a point-in-time read of Stats' atomic counters, for
// callers (the coordinator's stats() surface) that want plain values.
type StatsSnapshot struct {
	Lookups    int64
	Hits       int64
	Candidates int64
}

// Snapshot reads the current counters (§4.2 Stats: "never affect
// correctness" — a racy read here is fine).
func (d *Deduplicator) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Lookups:    d.stats.Lookups.Load(),
		Hits:       d.stats.Hits.Load(),
		Candidates: d.stats.Candidates.Load(),
	}
}
