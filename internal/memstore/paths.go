package memstore

import (
	"fmt"
	"os"
	"path/filepath"

	"holocore.dev/memory/internal/memblock"
)

// Root returns the persistence root, the single configured directory
// under which the four sibling directories of §6 live.
type Root string

func (r Root) blocksDir() string   { return filepath.Join(string(r), "blocks") }
func (r Root) textsDir() string    { return filepath.Join(string(r), "texts") }
func (r Root) edgesDir() string    { return filepath.Join(string(r), "edges") }
func (r Root) versionsDir() string { return filepath.Join(string(r), "versions") }

func (r Root) blockPath(id memblock.BlockID) string {
	return filepath.Join(r.blocksDir(), fmt.Sprintf("%d.bin", id))
}

func (r Root) textPath(id memblock.BlockID) string {
	return filepath.Join(r.textsDir(), fmt.Sprintf("%d.txt", id))
}

func (r Root) edgePath(a, b memblock.BlockID) string {
	if a > b {
		a, b = b, a
	}
	return filepath.Join(r.edgesDir(), fmt.Sprintf("%d_%d.bin", a, b))
}

func (r Root) versionPath(blockID memblock.BlockID, versionNum int) string {
	return filepath.Join(r.versionsDir(), fmt.Sprintf("%d_v%d.bin", blockID, versionNum))
}

func (r Root) ensureLayout() error {
	for _, dir := range []string{string(r), r.blocksDir(), r.textsDir(), r.edgesDir(), r.versionsDir()} {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("memstore: mkdir %s: %w", path, err)
	}
	return nil
}
