package version

import (
	"testing"

	"holocore.dev/memory/internal/memblock"
)

func TestRegisterUpdateRollbackScenario(t *testing.T) {
	c := New()

	v, err := c.Register(10, "k", 1000)
	if err != nil || v != 1 {
		t.Fatalf("Register = (%d, %v), want (1, nil)", v, err)
	}

	v, err = c.Update(11, "k", "correction", 0.1, 1100)
	if err != nil || v != 2 {
		t.Fatalf("Update = (%d, %v), want (2, nil)", v, err)
	}
	cur, ok := c.Current("k")
	if !ok || cur != 11 {
		t.Fatalf("Current after update = (%v, %v), want (11, true)", cur, ok)
	}

	if err := c.Rollback("k", "revert"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	cur, ok = c.Current("k")
	if !ok || cur != 10 {
		t.Fatalf("Current after rollback = (%v, %v), want (10, true)", cur, ok)
	}
	n11, _ := c.Get(11)
	if n11.Status != StatusSuperseded {
		t.Fatalf("status(11) = %v, want SUPERSEDED", n11.Status)
	}

	if err := c.RollbackTo("k", 2, "redo"); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}
	cur, ok = c.Current("k")
	if !ok || cur != 11 {
		t.Fatalf("Current after RollbackTo(2) = (%v, %v), want (11, true)", cur, ok)
	}
}

func TestRegisterTwiceIsInvariantViolation(t *testing.T) {
	c := New()
	if _, err := c.Register(1, "k", 0); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := c.Register(2, "k", 0); err == nil {
		t.Fatal("second register on same key should fail")
	}
	// state must be unchanged
	cur, ok := c.Current("k")
	if !ok || cur != 1 {
		t.Fatalf("Current after failed re-register = (%v,%v), want (1,true)", cur, ok)
	}
}

func TestExactlyOneActivePerChain(t *testing.T) {
	c := New()
	c.Register(1, "k", 0)
	c.Update(2, "k", "r", 0, 1)
	c.Update(3, "k", "r", 0, 2)

	active := 0
	for _, n := range c.History("k") {
		if n.Status == StatusActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active count = %d, want 1", active)
	}
}

func TestVersionNumbersMonotonic(t *testing.T) {
	c := New()
	c.Register(1, "k", 0)
	c.Update(2, "k", "r", 0, 1)
	c.Update(3, "k", "r", 0, 2)

	hist := c.History("k")
	if hist[0].VersionNum != 1 {
		t.Fatalf("head.VersionNum = %d, want 1", hist[0].VersionNum)
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].VersionNum != hist[i-1].VersionNum+1 {
			t.Fatalf("version numbers not strictly increasing by 1: %v", hist)
		}
	}
	tail := hist[len(hist)-1]
	if tail.NextVersion != memblock.NoBlockID {
		t.Fatalf("tail.NextVersion = %v, want NoBlockID", tail.NextVersion)
	}
}

func TestRetractOnlyWhenActive(t *testing.T) {
	c := New()
	c.Register(1, "k", 0)
	c.Update(2, "k", "r", 0, 1)

	if err := c.Retract(1, "stale"); err == nil {
		t.Fatal("retracting a SUPERSEDED node should fail")
	}
	if err := c.Retract(2, "stale"); err != nil {
		t.Fatalf("retract active node: %v", err)
	}
	n, _ := c.Get(2)
	if n.Status != StatusRetracted {
		t.Fatalf("status = %v, want RETRACTED", n.Status)
	}
}

func TestMergeRequiresActiveSourcesAndTarget(t *testing.T) {
	c := New()
	c.Register(1, "a", 0)
	c.Register(2, "b", 0)
	c.Register(3, "target", 0)

	if err := c.Merge([]memblock.BlockID{1, 2}, 3, "consolidate"); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	n1, _ := c.Get(1)
	n2, _ := c.Get(2)
	if n1.Status != StatusMerged || n1.MergedInto != 3 {
		t.Fatalf("node 1 = %+v", n1)
	}
	if n2.Status != StatusMerged || n2.MergedInto != 3 {
		t.Fatalf("node 2 = %+v", n2)
	}

	if err := c.Merge([]memblock.BlockID{1}, 3, "again"); err == nil {
		t.Fatal("merging an already-MERGED source should fail")
	}
}

func TestCheckConflictClassifiesByThreshold(t *testing.T) {
	c := New()
	c.Register(1, "k", 0)
	summaries := map[memblock.BlockID][]float32{1: {1, 0, 0, 0}}
	lookup := func(id memblock.BlockID) ([]float32, bool) { v, ok := summaries[id]; return v, ok }

	th := DefaultThresholds()
	dup := c.CheckConflict("k", []float32{1, 0, 0, 0}, lookup, th)
	if len(dup) != 1 || dup[0].Type != ConflictDuplicate {
		t.Fatalf("expected duplicate, got %+v", dup)
	}

	contra := c.CheckConflict("k", []float32{-1, 0, 0, 0}, lookup, th)
	if len(contra) != 1 || contra[0].Type != ConflictContradiction {
		t.Fatalf("expected contradiction, got %+v", contra)
	}
}

func TestArchiveOldRespectsCapAndAge(t *testing.T) {
	c := New()
	c.Register(1, "k", 0)
	c.Update(2, "k", "r", 0, 100)
	c.Update(3, "k", "r", 0, 200)

	n := c.ArchiveOld(1000, 10000, 10)
	if n != 0 {
		t.Fatalf("ArchiveOld with huge maxAge should archive nothing, got %d", n)
	}
	n = c.ArchiveOld(1000, 50, 10)
	if n != 2 {
		t.Fatalf("ArchiveOld = %d, want 2 (both superseded nodes)", n)
	}
}
