// Package sublimator converts a serialized inference-runtime KV cache
// into a durable memory block (§4.1). It owns the only call into
// kvwire's wire parser; everything downstream of it works with plain
// []float32 rows.
package sublimator

import (
	"errors"
	"fmt"

	"holocore.dev/memory/internal/kvwire"
	"holocore.dev/memory/internal/memblock"
)

// Request bundles everything one sublimation call needs. The runtime
// collaborator (state_seq_size/state_seq_copy) lives outside this
// package; callers copy the bytes out before calling Sublimate.
type Request struct {
	ConceptKey string // empty is legal: the coordinator then gives the block no exact-key or version-chain entry
	StateBytes []byte

	NEmbdK int
	NEmbdV int

	// PosStart/PosEnd implement the optional [pos_start, pos_end) range
	// filter. Either may be nil to mean "unbounded on that side".
	PosStart *int32
	PosEnd   *int32

	// LayerIdx selects a single layer verbatim, or -1 to reduce across
	// all layers by per-coordinate mean.
	LayerIdx int

	// Summary is the caller-supplied summary vector, if any. When nil,
	// RuntimeEmbeddings (truncated to SummaryDim) is used as a
	// fallback; when both are nil the block carries no summary.
	Summary           []float32
	RuntimeEmbeddings []float32
	SummaryDim        int

	CreatedStep int64
}

// Sublimate implements §4.1 end to end: parse, dequantize, reduce,
// range-filter, and select a summary. A non-nil error always means "no
// block" — every partial allocation made along the way is simply
// dropped with the returned error, matching the release-on-failure
// semantics required for parse/allocation failures (§7).
func Sublimate(req Request) (*memblock.Block, error) {
	if len(req.StateBytes) == 0 {
		return nil, errors.New("sublimator: empty state bytes")
	}
	if req.NEmbdK <= 0 || req.NEmbdV <= 0 {
		return nil, errors.New("sublimator: n_embd_k and n_embd_v must be > 0")
	}
	if req.ConceptKey != "" {
		if err := memblock.ValidateConceptKey(req.ConceptKey); err != nil {
			return nil, err
		}
	}

	state, err := kvwire.ParseState(req.StateBytes)
	if err != nil {
		return nil, fmt.Errorf("sublimator: parse state: %w", err)
	}
	if state.CellCount == 0 {
		return nil, errors.New("sublimator: empty state (cell_count = 0)")
	}
	if state.NLayer == 0 {
		return nil, errors.New("sublimator: state has no layers")
	}
	if req.LayerIdx < -1 || req.LayerIdx >= state.NLayer {
		return nil, fmt.Errorf("sublimator: layer index %d out of range [0,%d)", req.LayerIdx, state.NLayer)
	}

	var keys, values [][]float32
	if req.LayerIdx >= 0 {
		layer := state.Layers[req.LayerIdx]
		keys = make([][]float32, state.CellCount)
		values = make([][]float32, state.CellCount)
		for i := 0; i < state.CellCount; i++ {
			keys[i] = layer.KeyRow(i, req.NEmbdK)
			values[i] = layer.ValueRow(i, req.NEmbdV)
		}
	} else {
		keys = reduceKeysAcrossLayers(state, req.NEmbdK)
		values = reduceValuesAcrossLayers(state, req.NEmbdV)
	}

	positions := append([]int32(nil), state.Positions...)

	if req.PosStart != nil || req.PosEnd != nil {
		keys, values, positions = filterRange(keys, values, positions, req.PosStart, req.PosEnd)
		if len(positions) == 0 {
			return nil, errors.New("sublimator: range filter produced an empty block")
		}
	}

	summary := selectSummary(req.Summary, req.RuntimeEmbeddings, req.SummaryDim)

	return &memblock.Block{
		ConceptKey:  req.ConceptKey,
		Keys:        keys,
		Values:      values,
		Positions:   positions,
		Summary:     summary,
		CreatedStep: req.CreatedStep,
	}, nil
}

// reduceKeysAcrossLayers implements the layer_idx = -1 path: the sum
// is accumulated in float32 and divided by n_layer, per §4.1 — not a
// float64 accumulation, because the spec is explicit about the
// precision here.
func reduceKeysAcrossLayers(state *kvwire.State, nEmbd int) [][]float32 {
	out := make([][]float32, state.CellCount)
	n := float32(len(state.Layers))
	for i := 0; i < state.CellCount; i++ {
		sum := make([]float32, nEmbd)
		for _, layer := range state.Layers {
			row := layer.KeyRow(i, nEmbd)
			for j := range sum {
				sum[j] += row[j]
			}
		}
		for j := range sum {
			sum[j] /= n
		}
		out[i] = sum
	}
	return out
}

func reduceValuesAcrossLayers(state *kvwire.State, nEmbd int) [][]float32 {
	out := make([][]float32, state.CellCount)
	n := float32(len(state.Layers))
	for i := 0; i < state.CellCount; i++ {
		sum := make([]float32, nEmbd)
		for _, layer := range state.Layers {
			row := layer.ValueRow(i, nEmbd)
			for j := range sum {
				sum[j] += row[j]
			}
		}
		for j := range sum {
			sum[j] /= n
		}
		out[i] = sum
	}
	return out
}

// filterRange dequantizes the whole sequence (already done by the
// caller) then keeps only rows whose position lies in [posStart,
// posEnd), preserving original order (§4.1 "Range filter").
func filterRange(keys, values [][]float32, positions []int32, posStart, posEnd *int32) ([][]float32, [][]float32, []int32) {
	outKeys := make([][]float32, 0, len(positions))
	outValues := make([][]float32, 0, len(positions))
	outPositions := make([]int32, 0, len(positions))
	for i, pos := range positions {
		if posStart != nil && pos < *posStart {
			continue
		}
		if posEnd != nil && pos >= *posEnd {
			continue
		}
		outKeys = append(outKeys, keys[i])
		outValues = append(outValues, values[i])
		outPositions = append(outPositions, pos)
	}
	return outKeys, outValues, outPositions
}

// selectSummary implements §4.1's precedence: caller-supplied summary,
// else the first SummaryDim floats of the runtime's token embeddings,
// else no summary at all (the block is still admitted, just without
// LSH insertion).
func selectSummary(caller, runtimeEmbeddings []float32, dim int) []float32 {
	if caller != nil {
		return append([]float32(nil), caller...)
	}
	if runtimeEmbeddings != nil {
		d := dim
		if d > len(runtimeEmbeddings) {
			d = len(runtimeEmbeddings)
		}
		if d <= 0 {
			return nil
		}
		return append([]float32(nil), runtimeEmbeddings[:d]...)
	}
	return nil
}
