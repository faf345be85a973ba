// Package memstore implements the §6 persistence layout: four sibling
// flat-file directories (blocks/, texts/, edges/, versions/) as the
// fsync-free, idempotent ground truth, plus a bbolt-backed accelerator
// cache (index.bolt) that lets a clean-shutdown restart skip a full
// directory walk. Grounded on the teacher's node/store package: db.go's
// bucket-per-concern bbolt layout, manifest.go's atomic-commit
// MANIFEST.json, and paths.go's directory helpers.
package memstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"holocore.dev/memory/internal/memblock"
)

var (
	bucketBlocks   = []byte("blocks")
	bucketEdges    = []byte("edges")
	bucketVersions = []byte("versions")
)

// Store owns the on-disk layout under one root directory.
type Store struct {
	root   Root
	db     *bolt.DB
	logger *slog.Logger

	blockCount   int
	edgeCount    int
	versionCount int

	trustCache bool // decided once at Open, from the manifest as it stood before this session
}

// Open creates the directory layout if missing and opens the bbolt
// accelerator cache. It does not itself run Replay; the coordinator
// calls Replay once at startup and feeds the result into the engines.
func Open(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("memstore: root directory required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := Root(root)
	if err := r.ensureLayout(); err != nil {
		return nil, err
	}

	path := filepath.Join(root, "index.bolt")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("memstore: open bbolt: %w", err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketEdges, bucketVersions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	prior, err := readManifestFile(r)
	trustCache := err == nil && prior.Clean && prior.SchemaVersion == schemaVersionV1

	// Mark the cache dirty for the duration of this session; Close()
	// flips it back to clean. A crash mid-session leaves Clean=false,
	// which forces the next Open's Replay to fall back to a full
	// flat-file walk instead of trusting a possibly half-written cache.
	if err := writeManifestFile(r, &manifest{SchemaVersion: schemaVersionV1, Clean: false}); err != nil {
		logger.Warn("memstore: failed to mark cache dirty", "error", err)
	}

	return &Store{root: r, db: bdb, logger: logger, trustCache: trustCache}, nil
}

// Close marks the accelerator cache clean with its final record counts
// and closes bbolt. In-memory engine state is authoritative regardless
// of whether this succeeds (§7 "I/O error... logged").
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := writeManifestFile(s.root, &manifest{
		SchemaVersion: schemaVersionV1,
		Clean:         true,
		BlockCount:    s.blockCount,
		EdgeCount:     s.edgeCount,
		VersionCount:  s.versionCount,
	}); err != nil {
		s.logger.Warn("memstore: failed to write clean manifest", "error", err)
	}
	return s.db.Close()
}

// PutBlock writes blocks/<id>.bin and texts/<id>.txt (the ground
// truth), then mirrors the decoded record into the bbolt cache.
func (s *Store) PutBlock(id memblock.BlockID, conceptKey string, summary []float32) error {
	payload := encodeBlockRecord(blockRecord{ID: id, Summary: summary})
	if err := os.WriteFile(s.root.blockPath(id), withChecksum(payload), 0o600); err != nil {
		return fmt.Errorf("memstore: write block %d: %w", id, err)
	}
	if conceptKey != "" {
		if err := os.WriteFile(s.root.textPath(id), []byte(conceptKey), 0o600); err != nil {
			return fmt.Errorf("memstore: write text %d: %w", id, err)
		}
	}
	if err := s.cachePut(bucketBlocks, keyU64(uint64(id)), payload); err != nil {
		s.logger.Warn("memstore: cache put block failed", "id", id, "error", err)
	} else {
		s.blockCount++
	}
	return nil
}

// PutEdge writes edges/<a>_<b>.bin.
func (s *Store) PutEdge(a, b memblock.BlockID, weight float64, count, tLast int64) error {
	if a > b {
		a, b = b, a
	}
	payload := encodeEdgeRecord(edgeRecord{A: a, B: b, Weight: weight, Count: count, TLast: tLast})
	if err := os.WriteFile(s.root.edgePath(a, b), withChecksum(payload), 0o600); err != nil {
		return fmt.Errorf("memstore: write edge %d_%d: %w", a, b, err)
	}
	if err := s.cachePut(bucketEdges, keyPair(a, b), payload); err != nil {
		s.logger.Warn("memstore: cache put edge failed", "a", a, "b", b, "error", err)
	} else {
		s.edgeCount++
	}
	return nil
}

// PutVersion writes versions/<block_id>_v<version>.bin.
func (s *Store) PutVersion(r VersionSnapshot) error {
	payload := encodeVersionRecord(versionRecord{
		NodeID:          r.NodeID,
		ConceptKey:      r.ConceptKey,
		VersionNum:      int32(r.VersionNum),
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		SupersededAt:    r.SupersededAt,
		SupersededBy:    r.SupersededBy,
		MergedInto:      r.MergedInto,
		Reason:          r.Reason,
		ConfidenceDelta: r.ConfidenceDelta,
		Summary:         r.Summary,
	})
	if err := os.WriteFile(s.root.versionPath(r.NodeID, r.VersionNum), withChecksum(payload), 0o600); err != nil {
		return fmt.Errorf("memstore: write version %d v%d: %w", r.NodeID, r.VersionNum, err)
	}
	if err := s.cachePut(bucketVersions, keyVersion(r.NodeID, r.VersionNum), payload); err != nil {
		s.logger.Warn("memstore: cache put version failed", "id", r.NodeID, "version", r.VersionNum, "error", err)
	} else {
		s.versionCount++
	}
	return nil
}

func (s *Store) cachePut(bucket, key, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, payload)
	})
}

// VersionSnapshot is the persistence-layer view of one version chain
// node plus the summary it carried at that version (§6: "version
// record without its pointer field, followed by dim and the summary").
type VersionSnapshot struct {
	NodeID          memblock.BlockID
	ConceptKey      string
	VersionNum      int
	Status          uint8
	CreatedAt       int64
	SupersededAt    int64
	SupersededBy    memblock.BlockID
	MergedInto      memblock.BlockID
	Reason          string
	ConfidenceDelta float64
	Summary         []float32
}
