package version

import (
	"holocore.dev/memory/internal/memblock"
	"holocore.dev/memory/internal/vecmath"
)

// ConflictType classifies a CheckConflict result (§4.4, Open Question
// resolved in DESIGN.md: the matcher is cosine similarity between
// summary vectors).
type ConflictType int

const (
	ConflictDuplicate ConflictType = iota
	ConflictUpdate
	ConflictContradiction
)

func (t ConflictType) String() string {
	switch t {
	case ConflictDuplicate:
		return "duplicate"
	case ConflictUpdate:
		return "update"
	case ConflictContradiction:
		return "contradiction"
	default:
		return "unknown"
	}
}

// Conflict reports one existing node that overlaps a proposed new value.
type Conflict struct {
	NodeID     memblock.BlockID
	Type       ConflictType
	Similarity float64
}

// Thresholds tunes CheckConflict's cosine-similarity matcher.
type Thresholds struct {
	DuplicateAt     float64 // similarity >= this -> ConflictDuplicate
	ContradictionAt float64 // similarity <  this -> ConflictContradiction
}

// DefaultThresholds treats a similarity of 0.95 or more as the same
// value (stricter than the deduplicator's 0.85 acceptance cutoff) and
// anything below 0.2 as disagreeing outright rather than merely updating.
func DefaultThresholds() Thresholds {
	return Thresholds{DuplicateAt: 0.95, ContradictionAt: 0.2}
}

// SummaryLookup resolves a node ID to its current summary vector.
type SummaryLookup func(id memblock.BlockID) ([]float32, bool)

// CheckConflict compares newValue against every node currently on
// conceptKey's chain (via lookup) and classifies each as a duplicate,
// an update, or a contradiction (§4.4 "check_conflict").
func (c *Chain) CheckConflict(conceptKey string, newValue []float32, lookup SummaryLookup, th Thresholds) []Conflict {
	if newValue == nil || lookup == nil {
		return nil
	}
	c.mu.RLock()
	ch, ok := c.byKey[conceptKey]
	var ids []memblock.BlockID
	if ok {
		ids = append(ids, ch.order...)
	}
	c.mu.RUnlock()

	out := make([]Conflict, 0, len(ids))
	for _, id := range ids {
		summary, ok := lookup(id)
		if !ok {
			continue
		}
		sim := vecmath.CosineSimilarity(newValue, summary)
		var ctype ConflictType
		switch {
		case sim >= th.DuplicateAt:
			ctype = ConflictDuplicate
		case sim < th.ContradictionAt:
			ctype = ConflictContradiction
		default:
			ctype = ConflictUpdate
		}
		out = append(out, Conflict{NodeID: id, Type: ctype, Similarity: sim})
	}
	return out
}
