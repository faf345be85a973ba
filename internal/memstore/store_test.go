package memstore

import (
	"testing"

	"holocore.dev/memory/internal/memblock"
)

func TestPutBlockThenReplayFromCache(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.PutBlock(1, "fact:k", []float32{1, 2, 3}); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	if err := s.PutEdge(1, 2, 0.5, 3, 100); err != nil {
		t.Fatalf("PutEdge: %v", err)
	}
	if err := s.PutVersion(VersionSnapshot{
		NodeID: 1, ConceptKey: "fact:k", VersionNum: 1, Status: 0,
		CreatedAt: 1000, SupersededBy: memblock.NoBlockID, MergedInto: memblock.NoBlockID,
		Summary: []float32{1, 2, 3},
	}); err != nil {
		t.Fatalf("PutVersion: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen without touching anything; since the prior Close wrote
	// Clean=true, this exercises the fast cache path.
	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	res, err := s2.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(res.Blocks) != 1 || res.Blocks[0].ID != 1 {
		t.Fatalf("Blocks = %+v", res.Blocks)
	}
	if res.Texts[1] != "fact:k" {
		t.Fatalf("Texts[1] = %q, want fact:k", res.Texts[1])
	}
	if len(res.Edges) != 1 || res.Edges[0].Weight != 0.5 {
		t.Fatalf("Edges = %+v", res.Edges)
	}
	if len(res.Versions) != 1 || res.Versions[0].NodeID != 1 {
		t.Fatalf("Versions = %+v", res.Versions)
	}
}

func TestReplayFallsBackToFlatFilesWhenDirty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.PutBlock(7, "k7", []float32{9}); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	// No Close(): manifest stays Clean=false, simulating a crash.
	if err := s.db.Close(); err != nil {
		t.Fatalf("db.Close: %v", err)
	}

	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.trustCache {
		t.Fatal("cache should not be trusted after an unclean shutdown")
	}
	res, err := s2.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(res.Blocks) != 1 || res.Blocks[0].ID != 7 {
		t.Fatalf("Blocks = %+v, want one block with ID 7", res.Blocks)
	}
}

func TestVerifyChecksumRejectsCorruption(t *testing.T) {
	payload := []byte("hello")
	buf := withChecksum(payload)
	buf[checksumSize] ^= 0xff // flip a payload byte
	if _, ok := verifyChecksum(buf); ok {
		t.Fatal("corrupted payload should fail checksum verification")
	}
	if _, ok := verifyChecksum(buf[:checksumSize-1]); ok {
		t.Fatal("truncated buffer should fail checksum verification")
	}
}

func TestBlockRecordRoundTrip(t *testing.T) {
	rec := blockRecord{ID: 42, Summary: []float32{1.5, -2.5, 0}}
	b := encodeBlockRecord(rec)
	got, err := decodeBlockRecord(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != rec.ID || len(got.Summary) != len(rec.Summary) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	for i := range rec.Summary {
		if got.Summary[i] != rec.Summary[i] {
			t.Fatalf("summary[%d] = %v, want %v", i, got.Summary[i], rec.Summary[i])
		}
	}
}

func TestVersionRecordRoundTrip(t *testing.T) {
	rec := versionRecord{
		NodeID: 3, ConceptKey: "fact:x", VersionNum: 2, Status: 1,
		CreatedAt: 10, SupersededAt: 20, SupersededBy: 4, MergedInto: 0,
		Reason: "correction", ConfidenceDelta: 0.25, Summary: []float32{1, 2},
	}
	b := encodeVersionRecord(rec)
	got, err := decodeVersionRecord(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.NodeID != rec.NodeID || got.ConceptKey != rec.ConceptKey || got.Reason != rec.Reason {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
