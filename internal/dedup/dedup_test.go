package dedup

import (
	"testing"

	"holocore.dev/memory/internal/memblock"
)

func TestAdmitDuplicateConceptKeyRefused(t *testing.T) {
	d := New(DefaultConfig(4, 42))

	existing, admit := d.Admit("fact:sky_color=blue")
	if !admit {
		t.Fatalf("first admission should proceed, got existing=%v", existing)
	}
	d.Register(1, "fact:sky_color=blue", []float32{1, 0, 0, 0})

	existing, admit = d.Admit("fact:sky_color=blue")
	if admit {
		t.Fatal("second admission with same key should be refused")
	}
	if existing != 1 {
		t.Fatalf("existing = %v, want 1", existing)
	}

	id, ok := d.FindExact("fact:sky_color=blue")
	if !ok || id != 1 {
		t.Fatalf("FindExact = (%v, %v), want (1, true)", id, ok)
	}
}

func TestAdmitIdempotentTripleInsert(t *testing.T) {
	d := New(DefaultConfig(2, 1))
	_, admit := d.Admit("k")
	if !admit {
		t.Fatal("want admit on first call")
	}
	d.Register(5, "k", []float32{1, 0})

	for i := 0; i < 2; i++ {
		existing, admit := d.Admit("k")
		if admit {
			t.Fatalf("iteration %d: expected refusal", i)
		}
		if existing != 5 {
			t.Fatalf("iteration %d: existing = %v, want 5", i, existing)
		}
	}
}

func TestAdmitEmptyKeyIsNoOp(t *testing.T) {
	d := New(DefaultConfig(2, 1))
	existing, admit := d.Admit("")
	if admit || existing != memblock.NoBlockID {
		t.Fatalf("Admit(\"\") = (%v, %v), want (NoBlockID, false)", existing, admit)
	}
}

func TestQueryOrdersBySimilarityDescending(t *testing.T) {
	d := New(DefaultConfig(4, 7))
	d.Register(1, "a", []float32{1, 0, 0, 0})
	d.Register(2, "b", []float32{0.9, 0.1, 0, 0})
	d.Register(3, "c", []float32{0, 1, 0, 0})

	summaries := map[memblock.BlockID][]float32{
		1: {1, 0, 0, 0},
		2: {0.9, 0.1, 0, 0},
		3: {0, 1, 0, 0},
	}
	lookup := func(id memblock.BlockID) ([]float32, bool) {
		v, ok := summaries[id]
		return v, ok
	}

	results := d.Query([]float32{1, 0, 0, 0}, lookup)
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Fatalf("results not sorted descending: %v", results)
		}
	}
	if len(results) > 0 && results[0].ID != 1 {
		t.Fatalf("expected block 1 to rank first, got %v", results[0].ID)
	}
}

func TestQueryNilVectorReturnsNil(t *testing.T) {
	d := New(DefaultConfig(2, 1))
	if got := d.Query(nil, func(memblock.BlockID) ([]float32, bool) { return nil, false }); got != nil {
		t.Fatalf("Query(nil, ...) = %v, want nil", got)
	}
}

func TestBloomNoFalseNegatives(t *testing.T) {
	b := NewBloom(1024, 3)
	keys := []string{"a", "b", "c", "fact:1", "fact:2"}
	for _, k := range keys {
		b.Add(k)
	}
	for _, k := range keys {
		if !b.MaybeExists(k) {
			t.Fatalf("MaybeExists(%q) = false after Add, false negative", k)
		}
	}
}

func TestBloomSaturationUniversalPositive(t *testing.T) {
	b := NewBloom(8, 2) // tiny filter, easy to saturate
	for i := 0; i < 50; i++ {
		b.Add(string(rune('a' + i%26)))
	}
	if !b.MaybeExists("never-added-key-xyz") {
		t.Skip("filter did not saturate with this key; bloom false positives are probabilistic")
	}
}

func TestLSHZeroVectorAllOnesBucket(t *testing.T) {
	idx := NewLSHIndex(1, 4, 3, 99)
	table := idx.tables[0]
	zero := make([]float32, 3)
	got := table.bucketIndex(zero)
	want := uint32(0b1111)
	if got != want {
		t.Fatalf("bucketIndex(zero) = %b, want %b", got, want)
	}
}

func TestExactTableReplaceAndRemove(t *testing.T) {
	tbl := NewExactTable(16)
	tbl.Insert("k", 1)
	if id, ok := tbl.Find("k"); !ok || id != 1 {
		t.Fatalf("Find after Insert = (%v,%v)", id, ok)
	}
	tbl.Replace("k", 2)
	if id, ok := tbl.Find("k"); !ok || id != 2 {
		t.Fatalf("Find after Replace = (%v,%v), want (2,true)", id, ok)
	}
	tbl.Remove("k")
	if _, ok := tbl.Find("k"); ok {
		t.Fatal("Find after Remove should fail")
	}
}
