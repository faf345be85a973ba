// Package kvwire parses the inference runtime's serialized per-sequence KV
// cache state (§4.1 of the spec) and dequantizes the tensor rows it carries.
package kvwire

import (
	"encoding/binary"
	"fmt"
)

// cursor is a forward-only reader over a byte slice, mirroring the parser
// style used for the consensus wire format: every read either advances pos
// by exactly the requested amount or returns an error, and the slice is
// never copied until the caller asks for a payload.
type cursor struct {
	b   []byte
	pos int
}

func newCursor(b []byte) *cursor {
	return &cursor{b: b}
}

func (c *cursor) remaining() int {
	if c.pos >= len(c.b) {
		return 0
	}
	return len(c.b) - c.pos
}

func (c *cursor) readExact(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("kvwire: truncated state (need %d, have %d)", n, c.remaining())
	}
	start := c.pos
	c.pos += n
	return c.b[start:c.pos], nil
}

func (c *cursor) readU32LE() (uint32, error) {
	b, err := c.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) readI32LE() (int32, error) {
	v, err := c.readU32LE()
	return int32(v), err
}

func (c *cursor) readU64LE() (uint64, error) {
	b, err := c.readExact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
