package memstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const schemaVersionV1 uint32 = 1

// manifest is the accelerator cache's self-description. A manifest
// present, schema-compatible, and marked Clean means the last session
// closed without incident and the bbolt cache can be trusted for a
// fast startup instead of a full flat-file replay (§6, adapting the
// teacher's MANIFEST.json gate in node/store/manifest.go).
type manifest struct {
	SchemaVersion uint32 `json:"schema_version"`
	Clean         bool   `json:"clean"`
	BlockCount    int    `json:"block_count"`
	EdgeCount     int    `json:"edge_count"`
	VersionCount  int    `json:"version_count"`
}

func manifestPath(root Root) string {
	return filepath.Join(string(root), "MANIFEST.json")
}

func readManifestFile(root Root) (*manifest, error) {
	b, err := os.ReadFile(manifestPath(root))
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("memstore: manifest json: %w", err)
	}
	return &m, nil
}

// writeManifestFile writes MANIFEST.json via a temp-write-then-rename,
// the same atomic-commit shape the teacher uses, minus the fsync calls
// — the persistence layout here is explicitly fsync-free (§6) since
// the flat files it sits beside are themselves the recoverable ground
// truth on replay.
func writeManifestFile(root Root, m *manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("memstore: manifest json: %w", err)
	}
	b = append(b, '\n')

	final := manifestPath(root)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("memstore: manifest write tmp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("memstore: manifest rename: %w", err)
	}
	return nil
}
