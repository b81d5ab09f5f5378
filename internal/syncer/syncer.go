// Package syncer implements the syncer listener (C7): it periodically
// enumerates the DHT's path index, materializes any path the local
// namespace mirror does not yet know about, and refreshes content for
// paths whose remote blob has changed since last seen. Writes it performs
// go through Mirror.InstallContent, bypassing the monitor, so a
// syncer-originated write is never re-published as if it were local
// (spec.md §4.5).
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/ctresc/peerfs/internal/logging"
	"github.com/ctresc/peerfs/internal/namespace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PathIndexLocation mirrors writer.PathIndexLocation without creating an
// import between the two listener packages.
const PathIndexLocation = "keys"

// fanoutLimit bounds how many paths are reconciled concurrently per sync
// pass (spec.md §5's bounded-concurrency rule).
const fanoutLimit = 8

// ContentSource is the subset of the DHT client the syncer needs.
type ContentSource interface {
	GetAllUnder(ctx context.Context, location string) (map[string][]byte, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// NamespaceTarget is the subset of the namespace mirror the syncer needs.
type NamespaceTarget interface {
	Find(path string) (namespace.Node, error)
	CreateQuiet(path string) (namespace.Node, error)
	InstallContent(path string, data []byte) error
}

// Syncer periodically reconciles the local namespace mirror against the
// DHT's path index.
type Syncer struct {
	source ContentSource
	target NamespaceTarget
	log    *zap.Logger

	mu   sync.Mutex
	seen map[string][]byte // path -> last-installed content, to skip unchanged paths
}

// New creates a syncer.
func New(source ContentSource, target NamespaceTarget) *Syncer {
	return &Syncer{
		source: source,
		target: target,
		log:    logging.L().Named("syncer"),
		seen:   make(map[string][]byte),
	}
}

// Run blocks, invoking Sync every interval until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.log.Warn("sync pass failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sync performs one reconciliation pass: enumerate the path index, then
// materialize or refresh every path whose content has changed.
func (s *Syncer) Sync(ctx context.Context) error {
	entries, err := s.source.GetAllUnder(ctx, PathIndexLocation)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanoutLimit)

	for path := range entries {
		path := path
		g.Go(func() error {
			s.reconcile(gctx, path)
			return nil
		})
	}
	return g.Wait()
}

func (s *Syncer) reconcile(ctx context.Context, path string) {
	content, ok, err := s.source.Get(ctx, path)
	if err != nil {
		s.log.Warn("fetch failed", zap.Error(err), zap.String("path", path))
		return
	}
	if !ok {
		return
	}

	s.mu.Lock()
	prev, known := s.seen[path]
	s.mu.Unlock()
	if known && bytesEqual(prev, content) {
		return
	}

	if _, err := s.target.Find(path); err != nil {
		if _, err := s.target.CreateQuiet(path); err != nil {
			s.log.Warn("materialize failed", zap.Error(err), zap.String("path", path))
			return
		}
	}

	if err := s.target.InstallContent(path, content); err != nil {
		// The path resolved to a directory or symlink; nothing to install.
		s.log.Debug("install skipped", zap.Error(err), zap.String("path", path))
		return
	}

	s.mu.Lock()
	s.seen[path] = content
	s.mu.Unlock()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
