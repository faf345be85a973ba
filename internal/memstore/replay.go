package memstore

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"holocore.dev/memory/internal/memblock"
)

// ReplayResult is everything the coordinator needs to rebuild the four
// engines' in-memory state at startup.
type ReplayResult struct {
	Blocks   []blockRecord
	Texts    map[memblock.BlockID]string
	Edges    []edgeRecord
	Versions []VersionSnapshot
}

// Replay rebuilds in-memory state either from the bbolt accelerator
// cache (when the prior session closed cleanly) or, failing that, by
// walking the flat-file directories and verifying each record's
// checksum — corrupt records are logged and skipped, never fatal
// (§6, §7).
func (s *Store) Replay() (*ReplayResult, error) {
	if s.trustCache {
		if res, err := s.replayFromCache(); err == nil {
			return res, nil
		} else {
			s.logger.Warn("memstore: cache replay failed, falling back to flat files", "error", err)
		}
	}
	return s.replayFromFlatFiles()
}

func (s *Store) replayFromCache() (*ReplayResult, error) {
	res := &ReplayResult{Texts: make(map[memblock.BlockID]string)}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlocks).ForEach(func(_, v []byte) error {
			rec, err := decodeBlockRecord(v)
			if err != nil {
				return err
			}
			res.Blocks = append(res.Blocks, rec)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketEdges).ForEach(func(_, v []byte) error {
			rec, err := decodeEdgeRecord(v)
			if err != nil {
				return err
			}
			res.Edges = append(res.Edges, rec)
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketVersions).ForEach(func(_, v []byte) error {
			rec, err := decodeVersionRecord(v)
			if err != nil {
				return err
			}
			res.Versions = append(res.Versions, VersionSnapshot{
				NodeID: rec.NodeID, ConceptKey: rec.ConceptKey, VersionNum: int(rec.VersionNum),
				Status: rec.Status, CreatedAt: rec.CreatedAt, SupersededAt: rec.SupersededAt,
				SupersededBy: rec.SupersededBy, MergedInto: rec.MergedInto, Reason: rec.Reason,
				ConfidenceDelta: rec.ConfidenceDelta, Summary: rec.Summary,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Texts aren't cached in bbolt (they're free-form UTF-8, not a fixed
	// record); read them straight off disk for whichever blocks the
	// cache just produced.
	for _, b := range res.Blocks {
		if text, ok := s.readText(b.ID); ok {
			res.Texts[b.ID] = text
		}
	}
	s.blockCount, s.edgeCount, s.versionCount = len(res.Blocks), len(res.Edges), len(res.Versions)
	return res, nil
}

func (s *Store) readText(id memblock.BlockID) (string, bool) {
	b, err := os.ReadFile(s.root.textPath(id))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (s *Store) replayFromFlatFiles() (*ReplayResult, error) {
	res := &ReplayResult{Texts: make(map[memblock.BlockID]string)}

	entries, err := os.ReadDir(s.root.blocksDir())
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			id, ok := parseIDFromFilename(e.Name(), ".bin")
			if !ok {
				continue
			}
			buf, err := os.ReadFile(filepath.Join(s.root.blocksDir(), e.Name()))
			if err != nil {
				s.logger.Warn("memstore: read block failed", "file", e.Name(), "error", err)
				continue
			}
			payload, ok := verifyChecksum(buf)
			if !ok {
				s.logger.Warn("memstore: block checksum mismatch, skipping", "file", e.Name())
				continue
			}
			rec, err := decodeBlockRecord(payload)
			if err != nil {
				s.logger.Warn("memstore: block decode failed, skipping", "file", e.Name(), "error", err)
				continue
			}
			res.Blocks = append(res.Blocks, rec)
			if text, ok := s.readText(id); ok {
				res.Texts[id] = text
			}
			_ = s.cachePut(bucketBlocks, keyU64(uint64(id)), payload)
		}
	}

	entries, err = os.ReadDir(s.root.edgesDir())
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			buf, err := os.ReadFile(filepath.Join(s.root.edgesDir(), e.Name()))
			if err != nil {
				s.logger.Warn("memstore: read edge failed", "file", e.Name(), "error", err)
				continue
			}
			payload, ok := verifyChecksum(buf)
			if !ok {
				s.logger.Warn("memstore: edge checksum mismatch, skipping", "file", e.Name())
				continue
			}
			rec, err := decodeEdgeRecord(payload)
			if err != nil {
				s.logger.Warn("memstore: edge decode failed, skipping", "file", e.Name(), "error", err)
				continue
			}
			res.Edges = append(res.Edges, rec)
			_ = s.cachePut(bucketEdges, keyPair(rec.A, rec.B), payload)
		}
	}

	entries, err = os.ReadDir(s.root.versionsDir())
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			buf, err := os.ReadFile(filepath.Join(s.root.versionsDir(), e.Name()))
			if err != nil {
				s.logger.Warn("memstore: read version failed", "file", e.Name(), "error", err)
				continue
			}
			payload, ok := verifyChecksum(buf)
			if !ok {
				s.logger.Warn("memstore: version checksum mismatch, skipping", "file", e.Name())
				continue
			}
			rec, err := decodeVersionRecord(payload)
			if err != nil {
				s.logger.Warn("memstore: version decode failed, skipping", "file", e.Name(), "error", err)
				continue
			}
			res.Versions = append(res.Versions, VersionSnapshot{
				NodeID: rec.NodeID, ConceptKey: rec.ConceptKey, VersionNum: int(rec.VersionNum),
				Status: rec.Status, CreatedAt: rec.CreatedAt, SupersededAt: rec.SupersededAt,
				SupersededBy: rec.SupersededBy, MergedInto: rec.MergedInto, Reason: rec.Reason,
				ConfidenceDelta: rec.ConfidenceDelta, Summary: rec.Summary,
			})
			_ = s.cachePut(bucketVersions, keyVersion(rec.NodeID, int(rec.VersionNum)), payload)
		}
	}

	s.blockCount, s.edgeCount, s.versionCount = len(res.Blocks), len(res.Edges), len(res.Versions)
	return res, nil
}

func parseIDFromFilename(name, suffix string) (memblock.BlockID, bool) {
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(name, suffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return memblock.BlockID(n), true
}
