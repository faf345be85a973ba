// Package graph implements the correlation graph ("HoloGit") described in
// §4.3: a weighted undirected graph over memory blocks whose edges are
// reinforced on co-retrieval and decayed over time, and which drives
// query expansion and summary patching.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"holocore.dev/memory/internal/memblock"
	"holocore.dev/memory/internal/vecmath"
)

// Config tunes the graph per the defaults named in §3/§4.3.
type Config struct {
	EMax               int     // per-block fan-out cap (32 in source)
	VMax               int     // bounded summary-history cap (16 in source)
	Boost              float64 // co-retrieval reinforcement (0.1)
	Decay              float64 // decay_edges multiplier (0.95)
	Epsilon            float64 // edges below this weight may be lazily removed (0.01)
	WMin               float64 // minimum edge weight considered for patching (0.3)
	DriftMax           float64 // weighted neighbor drift above this triggers a patch
	StabilityThreshold float64 // cumulative drift below this marks a block stable
}

// DefaultConfig returns the §3/§4.3 defaults.
func DefaultConfig() Config {
	return Config{
		EMax:               32,
		VMax:               16,
		Boost:              0.1,
		Decay:              0.95,
		Epsilon:            0.01,
		WMin:               0.3,
		DriftMax:           0.25,
		StabilityThreshold: 0.05,
	}
}

// edge is one correlation edge, shared by pointer between both
// endpoints' adjacency maps so a single decay or reinforcement pass
// updates both views at once.
type edge struct {
	a, b   memblock.BlockID
	weight float64
	count  int64
	tLast  int64
}

func pairKey(a, b memblock.BlockID) (memblock.BlockID, memblock.BlockID) {
	if a < b {
		return a, b
	}
	return b, a
}

// blockMeta is the arena record for one registered block (§9 "Cyclic
// graphs": an arena of block-metadata records with per-block
// fixed-capacity neighbor arrays storing block IDs, not pointers).
type blockMeta struct {
	id        memblock.BlockID
	history   [][]float32 // bounded to VMax, oldest dropped first
	isStable  bool
	neighbors map[memblock.BlockID]*edge

	// lastPatchNeighborVersion records, for each neighbor, how many
	// history entries that neighbor had at the time this block was last
	// patched against it — the basis for "drift since this block's last
	// patch" in ShouldPatch.
	lastPatchNeighborVersion map[memblock.BlockID]int
}

func (m *blockMeta) currentSummary() []float32 {
	if len(m.history) == 0 {
		return nil
	}
	return m.history[len(m.history)-1]
}

// Graph is the coordinator-owned correlation graph.
type Graph struct {
	mu    sync.RWMutex
	cfg   Config
	meta  map[memblock.BlockID]*blockMeta
	edges map[[2]memblock.BlockID]*edge
}

// New constructs an empty graph.
func New(cfg Config) *Graph {
	return &Graph{
		cfg:   cfg,
		meta:  make(map[memblock.BlockID]*blockMeta),
		edges: make(map[[2]memblock.BlockID]*edge),
	}
}

// RegisterBlock appends metadata for id with version-0 snapshot
// initialSummary and no edges. Registering the same block twice is
// rejected (§4.3 "A block may not be registered twice").
func (g *Graph) RegisterBlock(id memblock.BlockID, initialSummary []float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.meta[id]; exists {
		return fmt.Errorf("graph: block %v already registered", id)
	}
	g.meta[id] = &blockMeta{
		id:                       id,
		history:                  [][]float32{append([]float32(nil), initialSummary...)},
		neighbors:                make(map[memblock.BlockID]*edge),
		lastPatchNeighborVersion: make(map[memblock.BlockID]int),
	}
	return nil
}

// RecordCoRetrieval reinforces (or creates) the edge between every
// unordered pair in ids, per §4.3.
func (g *Graph) RecordCoRetrieval(ids []memblock.BlockID, step int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			if a == b {
				continue // no self-edges (§3 invariant)
			}
			if _, ok := g.meta[a]; !ok {
				continue
			}
			if _, ok := g.meta[b]; !ok {
				continue
			}
			g.reinforce(a, b, step)
		}
	}
}

func (g *Graph) reinforce(a, b memblock.BlockID, step int64) {
	ka, kb := pairKey(a, b)
	key := [2]memblock.BlockID{ka, kb}
	if e, ok := g.edges[key]; ok {
		e.weight = minF(1, e.weight+g.cfg.Boost)
		e.count++
		e.tLast = step
		return
	}

	g.ensureCapacity(a)
	g.ensureCapacity(b)

	e := &edge{a: a, b: b, weight: g.cfg.Boost, count: 1, tLast: step}
	g.edges[key] = e
	g.meta[a].neighbors[b] = e
	g.meta[b].neighbors[a] = e
}

// ensureCapacity evicts block's weakest edge (ties broken by oldest
// tLast) if it is already at E_MAX fan-out, making room for one more.
func (g *Graph) ensureCapacity(block memblock.BlockID) {
	m := g.meta[block]
	if len(m.neighbors) < g.cfg.EMax {
		return
	}
	var weakestPeer memblock.BlockID
	var weakest *edge
	for peer, e := range m.neighbors {
		if weakest == nil || e.weight < weakest.weight || (e.weight == weakest.weight && e.tLast < weakest.tLast) {
			weakest = e
			weakestPeer = peer
		}
	}
	if weakest != nil {
		g.removeEdge(block, weakestPeer)
	}
}

func (g *Graph) removeEdge(a, b memblock.BlockID) {
	ka, kb := pairKey(a, b)
	key := [2]memblock.BlockID{ka, kb}
	delete(g.edges, key)
	if m, ok := g.meta[a]; ok {
		delete(m.neighbors, b)
	}
	if m, ok := g.meta[b]; ok {
		delete(m.neighbors, a)
	}
}

// DecayEdges applies the periodic decay multiplier to every edge,
// lazily removing any that fall below Epsilon (§4.3 "decay_edges").
func (g *Graph) DecayEdges() {
	g.mu.Lock()
	defer g.mu.Unlock()
	var toRemove [][2]memblock.BlockID
	for key, e := range g.edges {
		e.weight *= g.cfg.Decay
		if e.weight < g.cfg.Epsilon {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		g.removeEdge(key[0], key[1])
	}
}

// EdgeWeight returns the current weight between a and b, if an edge
// exists.
func (g *Graph) EdgeWeight(a, b memblock.BlockID) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ka, kb := pairKey(a, b)
	e, ok := g.edges[[2]memblock.BlockID{ka, kb}]
	if !ok {
		return 0, false
	}
	return e.weight, true
}

// EdgeStats returns (weight, count, tLast) for the edge between a and b.
func (g *Graph) EdgeStats(a, b memblock.BlockID) (weight float64, count, tLast int64, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ka, kb := pairKey(a, b)
	e, found := g.edges[[2]memblock.BlockID{ka, kb}]
	if !found {
		return 0, 0, 0, false
	}
	return e.weight, e.count, e.tLast, true
}

// ExpandRetrievalSet runs a depth-1 BFS from seedIDs over edges with
// weight >= minCorrelation, capped at cap unique IDs total and
// stable-ordered by descending edge weight to the nearest seed (§4.3).
func (g *Graph) ExpandRetrievalSet(seedIDs []memblock.BlockID, minCorrelation float64, cap int) []memblock.BlockID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[memblock.BlockID]struct{}, len(seedIDs))
	out := make([]memblock.BlockID, 0, cap)
	for _, id := range seedIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) >= cap {
			return out
		}
	}

	type candidate struct {
		id     memblock.BlockID
		weight float64
	}
	var candidates []candidate
	for _, seed := range seedIDs {
		m, ok := g.meta[seed]
		if !ok {
			continue
		}
		for peer, e := range m.neighbors {
			if _, ok := seen[peer]; ok {
				continue
			}
			if e.weight < minCorrelation {
				continue
			}
			candidates = append(candidates, candidate{id: peer, weight: e.weight})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].weight > candidates[j].weight
	})
	for _, c := range candidates {
		if _, ok := seen[c.id]; ok {
			continue
		}
		seen[c.id] = struct{}{}
		out = append(out, c.id)
		if len(out) >= cap {
			break
		}
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// ShouldPatch reports whether block's neighbors have drifted enough
// since its last patch to warrant recomputing its summary (§4.3
// "should_patch"). A neighbor counts only if its edge weight is at
// least WMin; its contribution is its edge weight times the Euclidean
// distance between its current snapshot and the snapshot it had the
// last time block was patched against it, and a patch is due when the
// sum of contributions exceeds DriftMax. A block that has converged
// (IsStable) is excluded from non-forced patching.
func (g *Graph) ShouldPatch(id memblock.BlockID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.meta[id]
	if !ok || m.isStable {
		return false
	}
	weighted := 0.0
	for peer, e := range m.neighbors {
		if e.weight < g.cfg.WMin {
			continue
		}
		nm, ok := g.meta[peer]
		if !ok || len(nm.history) == 0 {
			continue
		}
		seenAt := m.lastPatchNeighborVersion[peer]
		if seenAt >= len(nm.history) {
			seenAt = len(nm.history) - 1
		}
		weighted += e.weight * vecmath.EuclideanDistance(nm.currentSummary(), nm.history[seenAt])
	}
	return weighted > g.cfg.DriftMax
}

// ApplyPatch recomputes id's summary as the weighted average of its
// own current snapshot and every qualifying neighbor's current
// snapshot (edge weight >= WMin), per §4.3's patch-computation formula
// patched = (original + Σ w_i·n_i) / (1 + Σ w_i). It appends the
// result to id's bounded history, updates id's drift bookkeeping
// against every neighbor considered, and recomputes IsStable. forced
// bypasses the IsStable gate (e.g. an explicit caller-requested
// re-sync).
func (g *Graph) ApplyPatch(id memblock.BlockID, forced bool) ([]float32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.meta[id]
	if !ok {
		return nil, false
	}
	if m.isStable && !forced {
		return nil, false
	}

	original := m.currentSummary()
	if original == nil {
		return nil, false
	}
	dim := len(original)
	sum := make([]float64, dim)
	for i, v := range original {
		sum[i] = float64(v)
	}
	weightTotal := 0.0
	considered := make([]memblock.BlockID, 0, len(m.neighbors))
	for peer, e := range m.neighbors {
		if e.weight < g.cfg.WMin {
			continue
		}
		nm, ok := g.meta[peer]
		if !ok {
			continue
		}
		cur := nm.currentSummary()
		if cur == nil || len(cur) != dim {
			continue
		}
		for i, v := range cur {
			sum[i] += e.weight * float64(v)
		}
		weightTotal += e.weight
		considered = append(considered, peer)
	}

	patched := make([]float32, dim)
	denom := 1 + weightTotal
	for i := range sum {
		patched[i] = float32(sum[i] / denom)
	}

	m.history = append(m.history, patched)
	if len(m.history) > g.cfg.VMax {
		m.history = m.history[len(m.history)-g.cfg.VMax:]
	}
	for _, peer := range considered {
		m.lastPatchNeighborVersion[peer] = len(g.meta[peer].history) - 1
	}

	g.recomputeStability(m)
	return patched, true
}

// recomputeStability sums the Euclidean distance between consecutive
// snapshots over m's bounded history; a block whose cumulative drift
// falls below StabilityThreshold converges and stops accepting
// non-forced patches until something moves it again (§4.3
// "convergence sweep").
func (g *Graph) recomputeStability(m *blockMeta) {
	if len(m.history) < 2 {
		m.isStable = false
		return
	}
	cumulative := 0.0
	for i := 1; i < len(m.history); i++ {
		cumulative += vecmath.EuclideanDistance(m.history[i], m.history[i-1])
	}
	m.isStable = cumulative < g.cfg.StabilityThreshold
}

// ConvergenceSweep recomputes IsStable for every registered block,
// e.g. after a batch of co-retrievals and decays (§4.3 "periodic
// convergence sweep").
func (g *Graph) ConvergenceSweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.meta {
		g.recomputeStability(m)
	}
}

// IsStable reports whether id has converged and will refuse
// non-forced patches.
func (g *Graph) IsStable(id memblock.BlockID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.meta[id]
	return ok && m.isStable
}

// RestoreEdge installs an edge at an exact persisted weight/count/tLast,
// bypassing reinforcement math and the fan-out cap — for rebuilding
// state from the persistence layer on startup, where the edge was
// already valid the last time it was written (§6 replay).
func (g *Graph) RestoreEdge(a, b memblock.BlockID, weight float64, count, tLast int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.meta[a]; !ok {
		return
	}
	if _, ok := g.meta[b]; !ok {
		return
	}
	ka, kb := pairKey(a, b)
	key := [2]memblock.BlockID{ka, kb}
	e := &edge{a: a, b: b, weight: weight, count: count, tLast: tLast}
	g.edges[key] = e
	g.meta[a].neighbors[b] = e
	g.meta[b].neighbors[a] = e
}

// CurrentSummary returns id's most recent snapshot.
func (g *Graph) CurrentSummary(id memblock.BlockID) ([]float32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.meta[id]
	if !ok {
		return nil, false
	}
	return m.currentSummary(), true
}
