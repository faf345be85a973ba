package graph

import (
	"math"
	"testing"

	"holocore.dev/memory/internal/memblock"
)

func TestRegisterBlockTwiceRejected(t *testing.T) {
	g := New(DefaultConfig())
	if err := g.RegisterBlock(1, []float32{1, 0}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := g.RegisterBlock(1, []float32{0, 1}); err == nil {
		t.Fatal("second register on same id should fail")
	}
}

// TestCoRetrievalReinforcementAndDecay mirrors the co-retrieval
// reinforcement scenario: four co-retrievals push A-B to weight 1.0,
// then ten decay passes at decay=0.9 bring it back down to ~0.3487.
func TestCoRetrievalReinforcementAndDecay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Boost = 0.25
	cfg.Decay = 0.9
	g := New(cfg)
	g.RegisterBlock(1, []float32{1, 0})
	g.RegisterBlock(2, []float32{0, 1})

	for step := int64(0); step < 4; step++ {
		g.RecordCoRetrieval([]memblock.BlockID{1, 2}, step)
	}
	w, ok := g.EdgeWeight(1, 2)
	if !ok || math.Abs(w-1.0) > 1e-9 {
		t.Fatalf("weight after 4 boosts of 0.25 = %v, want 1.0", w)
	}

	for i := 0; i < 10; i++ {
		g.DecayEdges()
	}
	w, ok = g.EdgeWeight(1, 2)
	if !ok {
		t.Fatal("edge should survive 10 decay passes at 0.9 from 1.0")
	}
	want := math.Pow(0.9, 10)
	if math.Abs(w-want) > 1e-9 {
		t.Fatalf("weight after 10 decays = %v, want %v", w, want)
	}
}

func TestDecayEdgesRemovesBelowEpsilon(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Boost = 0.02
	cfg.Decay = 0.1
	cfg.Epsilon = 0.01
	g := New(cfg)
	g.RegisterBlock(1, []float32{1, 0})
	g.RegisterBlock(2, []float32{0, 1})
	g.RecordCoRetrieval([]memblock.BlockID{1, 2}, 0)

	g.DecayEdges()
	if _, ok := g.EdgeWeight(1, 2); ok {
		t.Fatal("edge below epsilon should have been removed")
	}
}

func TestFanOutCapEvictsWeakestEdge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EMax = 2
	g := New(cfg)
	for i := memblock.BlockID(1); i <= 4; i++ {
		g.RegisterBlock(i, []float32{float32(i), 0})
	}
	// Hub 1 gets edges to 2 (weak, old), 3 (weak, old), then 4 forces
	// an eviction since EMax=2.
	g.RecordCoRetrieval([]memblock.BlockID{1, 2}, 0)
	g.RecordCoRetrieval([]memblock.BlockID{1, 3}, 1)
	g.RecordCoRetrieval([]memblock.BlockID{1, 4}, 2)

	if _, ok := g.EdgeWeight(1, 2); ok {
		t.Fatal("oldest/weakest edge (1-2) should have been evicted")
	}
	if _, ok := g.EdgeWeight(1, 3); !ok {
		t.Fatal("edge 1-3 should survive")
	}
	if _, ok := g.EdgeWeight(1, 4); !ok {
		t.Fatal("edge 1-4 should survive")
	}
}

// TestQueryExpansionDepthOne mirrors the query expansion scenario:
// edges A-B=0.8, A-C=0.2; expand_retrieval_set([A], 0.5, 8) -> [A, B].
func TestQueryExpansionDepthOne(t *testing.T) {
	cfg := DefaultConfig()
	g := New(cfg)
	const a, b, c = memblock.BlockID(1), memblock.BlockID(2), memblock.BlockID(3)
	g.RegisterBlock(a, []float32{1, 0})
	g.RegisterBlock(b, []float32{0, 1})
	g.RegisterBlock(c, []float32{1, 1})

	g.edges[[2]memblock.BlockID{a, b}] = &edge{a: a, b: b, weight: 0.8}
	g.meta[a].neighbors[b] = g.edges[[2]memblock.BlockID{a, b}]
	g.meta[b].neighbors[a] = g.edges[[2]memblock.BlockID{a, b}]

	g.edges[[2]memblock.BlockID{a, c}] = &edge{a: a, b: c, weight: 0.2}
	g.meta[a].neighbors[c] = g.edges[[2]memblock.BlockID{a, c}]
	g.meta[c].neighbors[a] = g.edges[[2]memblock.BlockID{a, c}]

	got := g.ExpandRetrievalSet([]memblock.BlockID{a}, 0.5, 8)
	want := []memblock.BlockID{a, b}
	if len(got) != len(want) {
		t.Fatalf("ExpandRetrievalSet = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ExpandRetrievalSet = %v, want %v", got, want)
		}
	}
}

func TestExpandRetrievalSetRespectsCap(t *testing.T) {
	g := New(DefaultConfig())
	const a = memblock.BlockID(1)
	g.RegisterBlock(a, []float32{1, 0})
	for i := memblock.BlockID(2); i <= 6; i++ {
		g.RegisterBlock(i, []float32{0, 1})
		g.RecordCoRetrieval([]memblock.BlockID{a, i}, int64(i))
	}
	got := g.ExpandRetrievalSet([]memblock.BlockID{a}, 0.0, 3)
	if len(got) != 3 {
		t.Fatalf("len(ExpandRetrievalSet) = %d, want 3", len(got))
	}
}

func TestApplyPatchWeightedAverage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WMin = 0.1
	cfg.VMax = 4
	g := New(cfg)
	g.RegisterBlock(1, []float32{0, 0})
	g.RegisterBlock(2, []float32{10, 0})
	g.edges[[2]memblock.BlockID{1, 2}] = &edge{a: 1, b: 2, weight: 1.0}
	g.meta[1].neighbors[2] = g.edges[[2]memblock.BlockID{1, 2}]
	g.meta[2].neighbors[1] = g.edges[[2]memblock.BlockID{1, 2}]

	patched, ok := g.ApplyPatch(1, false)
	if !ok {
		t.Fatal("ApplyPatch should succeed")
	}
	// (0 + 1.0*10) / (1+1.0) = 5
	if math.Abs(float64(patched[0])-5.0) > 1e-6 {
		t.Fatalf("patched = %v, want [5 0]", patched)
	}
}

func TestApplyPatchStableBlockRefusesUnlessForced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StabilityThreshold = 1000 // always "stable" once it has 2 history entries
	g := New(cfg)
	g.RegisterBlock(1, []float32{0})
	g.RegisterBlock(2, []float32{1})
	g.edges[[2]memblock.BlockID{1, 2}] = &edge{a: 1, b: 2, weight: 1.0}
	g.meta[1].neighbors[2] = g.edges[[2]memblock.BlockID{1, 2}]
	g.meta[2].neighbors[1] = g.edges[[2]memblock.BlockID{1, 2}]

	if _, ok := g.ApplyPatch(1, false); !ok {
		t.Fatal("first patch should succeed")
	}
	if !g.IsStable(1) {
		t.Fatal("block should be stable after tiny cumulative drift under a huge threshold")
	}
	if _, ok := g.ApplyPatch(1, false); ok {
		t.Fatal("non-forced patch on a stable block should be refused")
	}
	if _, ok := g.ApplyPatch(1, true); !ok {
		t.Fatal("forced patch should bypass the stability gate")
	}
}

func TestShouldPatchTriggersOnNeighborDrift(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WMin = 0.1
	cfg.DriftMax = 0.5
	g := New(cfg)
	g.RegisterBlock(1, []float32{0, 0})
	g.RegisterBlock(2, []float32{0, 0})
	g.edges[[2]memblock.BlockID{1, 2}] = &edge{a: 1, b: 2, weight: 1.0}
	g.meta[1].neighbors[2] = g.edges[[2]memblock.BlockID{1, 2}]
	g.meta[2].neighbors[1] = g.edges[[2]memblock.BlockID{1, 2}]

	if g.ShouldPatch(1) {
		t.Fatal("no drift yet, should not need a patch")
	}
	g.meta[2].history = append(g.meta[2].history, []float32{10, 10})
	if !g.ShouldPatch(1) {
		t.Fatal("neighbor moved far beyond DriftMax, should need a patch")
	}
}
