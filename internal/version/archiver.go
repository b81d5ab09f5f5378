// Package version implements the version archiver (C2): whenever a path's
// content is about to be overwritten, its prior blob is appended to that
// path's version chain, both on the DHT (via the versioned key API) and as
// a materialized file under the path's on-mount version folder. The
// on-disk write follows the teacher's cache.go discipline: write to a
// temp file, then rename, so a crash mid-write never leaves a partial
// version file visible.
package version

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ctresc/peerfs/internal/logging"
	"go.uber.org/zap"
)

// Store is the subset of the DHT client the archiver needs, declared
// locally so this package does not import internal/dht directly.
type Store interface {
	PutVersioned(ctx context.Context, key string, version int, data []byte) error
	RemoveVersioned(ctx context.Context, key string, version int) error
}

// Archiver tracks each path's chain length and materializes historical
// blobs both on the DHT and under a local version folder.
type Archiver struct {
	store   Store
	baseDir string // root of the on-mount version folder tree

	mu     sync.Mutex
	chains map[string]int // path -> current chain length
}

// New creates an archiver that writes materialized versions under baseDir.
func New(store Store, baseDir string) *Archiver {
	return &Archiver{
		store:   store,
		baseDir: baseDir,
		chains:  make(map[string]int),
	}
}

// VersionFolder returns the directory a path's historical blobs are
// materialized under.
func (a *Archiver) VersionFolder(path string) string {
	return filepath.Join(a.baseDir, filepath.FromSlash(path))
}

// Archive appends oldBlob to path's version chain. It is a no-op for empty
// prior content: spec.md §4.1 only archives a blob that was genuinely the
// current content of the path, and a file that has never held content has
// nothing worth keeping.
func (a *Archiver) Archive(ctx context.Context, path string, oldBlob []byte) error {
	if len(oldBlob) == 0 {
		return nil
	}

	a.mu.Lock()
	index := a.chains[path]
	a.chains[path] = index + 1
	a.mu.Unlock()

	if err := a.store.PutVersioned(ctx, path, index, oldBlob); err != nil {
		return fmt.Errorf("version: archive to dht: %w", err)
	}
	if err := a.writeLocal(path, index, oldBlob); err != nil {
		logging.L().Warn("version: local materialization failed", zap.Error(err), zap.String("path", path))
	}
	return nil
}

// ChainLength reports how many historical blobs are currently archived for
// path.
func (a *Archiver) ChainLength(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chains[path]
}

// RemoveVersions drops every archived blob for path, both from the DHT and
// from the local version folder, used when the path itself is deleted.
func (a *Archiver) RemoveVersions(ctx context.Context, path string) error {
	a.mu.Lock()
	length := a.chains[path]
	delete(a.chains, path)
	a.mu.Unlock()

	var firstErr error
	for i := 0; i < length; i++ {
		if err := a.store.RemoveVersioned(ctx, path, i); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := os.RemoveAll(a.VersionFolder(path)); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *Archiver) writeLocal(path string, index int, blob []byte) error {
	dir := a.VersionFolder(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create version folder: %w", err)
	}

	final := filepath.Join(dir, fmt.Sprintf("%d", index))
	temp := final + ".tmp"

	f, err := os.Create(temp)
	if err != nil {
		return fmt.Errorf("create temp version file: %w", err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(temp)
		return fmt.Errorf("write version file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(temp)
		return fmt.Errorf("close version file: %w", err)
	}
	if err := os.Rename(temp, final); err != nil {
		os.Remove(temp)
		return fmt.Errorf("rename version file: %w", err)
	}
	return nil
}
