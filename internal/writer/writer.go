// Package writer implements the writer listener (C6): it subscribes to the
// monitor's CompleteWrite events, archives the path's prior content, and
// publishes the new content (and a path-index entry) to the DHT. DHT
// failures are logged and swallowed rather than propagated, matching
// spec.md §5's error-handling design: a write that already landed in the
// namespace mirror must not be undone by a downstream replication failure.
package writer

import (
	"context"
	"fmt"
	"sync"

	"github.com/ctresc/peerfs/internal/eventbus"
	"github.com/ctresc/peerfs/internal/logging"
	"github.com/ctresc/peerfs/internal/monitor"
	"go.uber.org/zap"
)

// ContentStore is the subset of the DHT client the writer needs.
type ContentStore interface {
	Put(ctx context.Context, key string, data []byte) error
	PutUnder(ctx context.Context, location, key string, data []byte) error
}

// Archiver is the subset of the version archiver the writer needs.
type Archiver interface {
	Archive(ctx context.Context, path string, oldBlob []byte) error
}

// PathIndexLocation is the DHT location under which path entries are
// published, matching dht.KeysLocation without importing internal/dht.
const PathIndexLocation = "keys"

// Listener reacts to CompleteWrite events.
type Listener struct {
	store    ContentStore
	archiver Archiver

	// prior returns the content most recently published to the DHT for
	// path, used to archive it before the new content overwrites it. It
	// is supplied by the caller; cmd/peerfs reads the path's content key
	// from the DHT, which still holds the prior blob because handleWrite
	// calls prior before its own Put.
	prior func(path string) ([]byte, bool)

	mu     sync.Mutex
	queues map[string]*pathQueue
}

// pathQueue serializes the DHT work for one path onto a single drain
// goroutine, so CompleteWrite emissions for that path land in the order
// they were published (spec.md §4.2) while different paths' writes run
// concurrently with each other and never block the caller.
type pathQueue struct {
	mu      sync.Mutex
	pending []monitor.CompleteWrite
	active  bool
}

// New creates a writer listener. prior may be nil, in which case no
// archiving occurs (useful for tests focused purely on publication).
func New(store ContentStore, archiver Archiver, prior func(path string) ([]byte, bool)) *Listener {
	return &Listener{store: store, archiver: archiver, prior: prior, queues: make(map[string]*pathQueue)}
}

// Handle implements eventbus.Listener. It must never block on DHT I/O: the
// monitor's tick loop calls Handle in-line via the event bus, and spec.md
// §5 requires the tick to hand off and return immediately. The actual
// DHT.Put/archive work runs on a per-path goroutine started here.
func (l *Listener) Handle(e eventbus.Event) {
	cw, ok := e.(monitor.CompleteWrite)
	if !ok {
		return
	}

	l.mu.Lock()
	q, ok := l.queues[cw.Path]
	if !ok {
		q = &pathQueue{}
		l.queues[cw.Path] = q
	}
	l.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, cw)
	start := !q.active
	q.active = true
	q.mu.Unlock()

	if start {
		go l.drain(q)
	}
}

// drain runs handleWrite for every event queued for one path, in order,
// until the queue goes empty.
func (l *Listener) drain(q *pathQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.active = false
			q.mu.Unlock()
			return
		}
		cw := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := l.handleWrite(context.Background(), cw); err != nil {
			logging.L().Warn("writer: publish failed", zap.Error(err), zap.String("path", cw.Path))
		}
	}
}

func (l *Listener) handleWrite(ctx context.Context, cw monitor.CompleteWrite) error {
	if l.prior != nil && l.archiver != nil {
		if old, ok := l.prior(cw.Path); ok && len(old) > 0 {
			if err := l.archiver.Archive(ctx, cw.Path, old); err != nil {
				logging.L().Warn("writer: archive failed", zap.Error(err), zap.String("path", cw.Path))
			}
		}
	}

	if err := l.store.Put(ctx, cw.Path, cw.Content); err != nil {
		return fmt.Errorf("put content: %w", err)
	}
	if err := l.store.PutUnder(ctx, PathIndexLocation, cw.Path, []byte(cw.Path)); err != nil {
		return fmt.Errorf("put path index: %w", err)
	}
	return nil
}
