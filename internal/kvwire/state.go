package kvwire

import "fmt"

// RawLayer holds one layer's still-quantized key/value payloads exactly
// as the runtime serialized them, per the §4.1 per-layer records.
type RawLayer struct {
	KeyDType     DType
	KeyBytesRow  uint64
	KeyPayload   []byte // CellCount rows of KeyBytesRow bytes each

	VTransposed bool

	// Row-major values (VTransposed == false).
	ValDType    DType
	ValBytesRow uint64
	ValPayload  []byte

	// Transposed values (VTransposed == true): NEmbdVGQA rows, each of
	// CellCount * ValBytesElem bytes, to be transposed on the fly into
	// [CellCount x NEmbdVGQA].
	ValBytesElem uint32
	NEmbdVGQA    uint32
	ValTPayload  []byte
}

// State is the parsed form of one runtime KV-cache serialization,
// stream 0 only (§4.1: "only stream 0 is consumed").
type State struct {
	CellCount   int
	Positions   []int32
	VTransposed bool
	NLayer      int
	Layers      []RawLayer
}

// ParseState decodes the wire layout in §4.1. It returns a populated
// *State, or an error if the buffer is too short to hold the declared
// counts. A zero CellCount is not an error here — the sublimator checks
// CellCount after parsing and treats zero as the "no tokens" boundary
// case, returning the sentinel.
func ParseState(data []byte) (*State, error) {
	cur := newCursor(data)

	nStream, err := cur.readU32LE()
	if err != nil {
		return nil, fmt.Errorf("kvwire: read n_stream: %w", err)
	}
	_ = nStream // only stream 0 is consumed; further streams are not read

	cellCountU32, err := cur.readU32LE()
	if err != nil {
		return nil, fmt.Errorf("kvwire: read cell_count: %w", err)
	}
	cellCount := int(cellCountU32)

	positions := make([]int32, cellCount)
	for i := 0; i < cellCount; i++ {
		pos, err := cur.readI32LE()
		if err != nil {
			return nil, fmt.Errorf("kvwire: read cell %d pos: %w", i, err)
		}
		positions[i] = pos

		nSeqID, err := cur.readU32LE()
		if err != nil {
			return nil, fmt.Errorf("kvwire: read cell %d n_seq_id: %w", i, err)
		}
		if _, err := cur.readExact(int(nSeqID) * 4); err != nil {
			return nil, fmt.Errorf("kvwire: read cell %d seq_ids: %w", i, err)
		}
	}

	vTransposedU32, err := cur.readU32LE()
	if err != nil {
		return nil, fmt.Errorf("kvwire: read v_transposed: %w", err)
	}
	vTransposed := vTransposedU32 != 0

	nLayerU32, err := cur.readU32LE()
	if err != nil {
		return nil, fmt.Errorf("kvwire: read n_layer: %w", err)
	}
	nLayer := int(nLayerU32)

	layers := make([]RawLayer, 0, nLayer)
	for l := 0; l < nLayer; l++ {
		layer, err := parseLayer(cur, cellCount, vTransposed)
		if err != nil {
			return nil, fmt.Errorf("kvwire: layer %d: %w", l, err)
		}
		layers = append(layers, layer)
	}

	return &State{
		CellCount:   cellCount,
		Positions:   positions,
		VTransposed: vTransposed,
		NLayer:      nLayer,
		Layers:      layers,
	}, nil
}

func parseLayer(cur *cursor, cellCount int, vTransposed bool) (RawLayer, error) {
	keyDTypeTag, err := cur.readI32LE()
	if err != nil {
		return RawLayer{}, fmt.Errorf("key dtype: %w", err)
	}
	keyBytesRow, err := cur.readU64LE()
	if err != nil {
		return RawLayer{}, fmt.Errorf("key bytes_per_row: %w", err)
	}
	keyPayload, err := cur.readExact(int(keyBytesRow) * cellCount)
	if err != nil {
		return RawLayer{}, fmt.Errorf("key payload: %w", err)
	}

	layer := RawLayer{
		KeyDType:    DTypeFromWire(keyDTypeTag),
		KeyBytesRow: keyBytesRow,
		KeyPayload:  append([]byte(nil), keyPayload...),
		VTransposed: vTransposed,
	}

	if !vTransposed {
		valDTypeTag, err := cur.readI32LE()
		if err != nil {
			return RawLayer{}, fmt.Errorf("value dtype: %w", err)
		}
		valBytesRow, err := cur.readU64LE()
		if err != nil {
			return RawLayer{}, fmt.Errorf("value bytes_per_row: %w", err)
		}
		valPayload, err := cur.readExact(int(valBytesRow) * cellCount)
		if err != nil {
			return RawLayer{}, fmt.Errorf("value payload: %w", err)
		}
		layer.ValDType = DTypeFromWire(valDTypeTag)
		layer.ValBytesRow = valBytesRow
		layer.ValPayload = append([]byte(nil), valPayload...)
		return layer, nil
	}

	valDTypeTag, err := cur.readI32LE()
	if err != nil {
		return RawLayer{}, fmt.Errorf("value dtype (transposed): %w", err)
	}
	valBytesElem, err := cur.readU32LE()
	if err != nil {
		return RawLayer{}, fmt.Errorf("value bytes_per_element: %w", err)
	}
	nEmbdVGQA, err := cur.readU32LE()
	if err != nil {
		return RawLayer{}, fmt.Errorf("n_embd_v_gqa: %w", err)
	}
	rowBytes := int(valBytesElem) * cellCount
	tPayload, err := cur.readExact(rowBytes * int(nEmbdVGQA))
	if err != nil {
		return RawLayer{}, fmt.Errorf("value payload (transposed): %w", err)
	}
	layer.ValDType = DTypeFromWire(valDTypeTag)
	layer.ValBytesElem = valBytesElem
	layer.NEmbdVGQA = nEmbdVGQA
	layer.ValTPayload = append([]byte(nil), tPayload...)
	return layer, nil
}

// KeyRow dequantizes row i (0 <= i < CellCount) of this layer's keys into
// a freshly allocated []float32 of length nEmbdK.
func (l RawLayer) KeyRow(i, nEmbdK int) []float32 {
	off := i * int(l.KeyBytesRow)
	end := off + int(l.KeyBytesRow)
	if end > len(l.KeyPayload) {
		return make([]float32, nEmbdK)
	}
	return DequantizeVector(l.KeyDType, l.KeyPayload[off:end], nEmbdK)
}

// ValueRow dequantizes row i of this layer's values into a freshly
// allocated []float32 of length nEmbdV, transposing on the fly when the
// layer stored values in transposed (column-major-by-embedding) form.
func (l RawLayer) ValueRow(i, nEmbdV int) []float32 {
	if !l.VTransposed {
		off := i * int(l.ValBytesRow)
		end := off + int(l.ValBytesRow)
		if end > len(l.ValPayload) {
			return make([]float32, nEmbdV)
		}
		return DequantizeVector(l.ValDType, l.ValPayload[off:end], nEmbdV)
	}

	out := make([]float32, nEmbdV)
	cellCount := 0
	if l.ValBytesElem > 0 {
		cellCount = len(l.ValTPayload) / int(l.ValBytesElem) / maxInt(int(l.NEmbdVGQA), 1)
	}
	rowBytes := int(l.ValBytesElem) * cellCount
	for e := 0; e < int(l.NEmbdVGQA) && e < nEmbdV; e++ {
		rowOff := e * rowBytes
		elemOff := rowOff + i*int(l.ValBytesElem)
		elemEnd := elemOff + int(l.ValBytesElem)
		if elemEnd > len(l.ValTPayload) {
			continue
		}
		v := DequantizeVector(l.ValDType, l.ValTPayload[elemOff:elemEnd], 1)
		out[e] = v[0]
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
