// Package fsstat implements the filesystem stat/resize component (C8):
// it tracks the block-count figures reported through statfs(2) and grows
// them monotonically as the DHT's peer count increases, the way the
// teacher's metrics package exposes gauges for runtime-varying figures via
// github.com/prometheus/client_golang/prometheus/promauto.
package fsstat

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config holds the statfs tunables from spec.md §6.
type Config struct {
	BlockSize     uint32
	InitialBlocks uint64 // per-peer baseline, scaled by InitialSize
}

// DefaultConfig matches the values spec.md §4.4 suggests.
func DefaultConfig() Config {
	return Config{BlockSize: 4096, InitialBlocks: 1 << 20}
}

// Stat is the live filesystem-size estimate surfaced through statfs(2).
// Capacity only ever grows: spec.md §4.4 forbids shrinking block counts
// when peers leave, since blocks already reported to the kernel must
// remain valid for the life of the mount.
type Stat struct {
	cfg Config

	mu     sync.RWMutex
	blocks uint64
	files  uint64

	registry    *prometheus.Registry
	blocksGauge prometheus.Gauge
	peersGauge  prometheus.Gauge
}

// New creates a stat tracker seeded for a single-peer (just-mounted) view,
// with its own metrics registry so multiple Stat instances (one per test,
// or a future multi-mount process) never collide on metric names.
func New(cfg Config) *Stat {
	if cfg.BlockSize == 0 {
		cfg = DefaultConfig()
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	s := &Stat{
		cfg:      cfg,
		blocks:   InitialSize(cfg, 0),
		registry: registry,
		blocksGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peerfs_fs_blocks_total",
			Help: "Total blocks currently reported through statfs.",
		}),
		peersGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "peerfs_dht_peer_count",
			Help: "Peers currently known to the local DHT node.",
		}),
	}
	s.blocksGauge.Set(float64(s.blocks))
	return s
}

// Registry exposes the Prometheus registry backing this tracker's gauges,
// so cmd/peerfs can serve it over /metrics.
func (s *Stat) Registry() *prometheus.Registry {
	return s.registry
}

// InitialSize computes the block count offered for a given peer count,
// growing linearly with the size of the overlay (more peers imply more
// aggregate storage capacity backing the filesystem).
func InitialSize(cfg Config, peerCount int) uint64 {
	return cfg.InitialBlocks * uint64(peerCount+1)
}

// OnPeerCountChanged is wired as the DHT client's peer-map change
// listener (C1's PeerChangeFunc). It only ever grows the reported block
// count, never shrinks it.
func (s *Stat) OnPeerCountChanged(peerCount int) {
	s.peersGauge.Set(float64(peerCount))

	candidate := InitialSize(s.cfg, peerCount)

	s.mu.Lock()
	if candidate > s.blocks {
		s.blocks = candidate
		s.blocksGauge.Set(float64(s.blocks))
	}
	s.mu.Unlock()
}

// SetFileCount records how many files currently exist, used for the files
// field of statfs.
func (s *Stat) SetFileCount(n uint64) {
	s.mu.Lock()
	s.files = n
	s.mu.Unlock()
}

// Snapshot is the data statfs(2) needs.
type Snapshot struct {
	BlockSize  uint32
	Blocks     uint64
	BlocksFree uint64
	Files      uint64
	FilesFree  uint64
}

// Snapshot returns the current figures. Free space always equals total
// space: the DHT has no fixed ceiling the mount can observe locally.
func (s *Stat) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		BlockSize:  s.cfg.BlockSize,
		Blocks:     s.blocks,
		BlocksFree: s.blocks,
		Files:      s.files,
		FilesFree:  s.blocks,
	}
}
