// Command peerfs mounts the DHT-backed POSIX filesystem: it wires the
// namespace mirror, file monitor, event bus, writer and syncer listeners,
// DHT client, and FUSE adapter together, then blocks until a signal asks
// it to unmount. Structured the way the teacher's phase0 fuse-client
// wires its own filesystem, cache, and background loops before waiting on
// os/signal.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ctresc/peerfs/internal/bootstrap"
	"github.com/ctresc/peerfs/internal/cli"
	"github.com/ctresc/peerfs/internal/config"
	"github.com/ctresc/peerfs/internal/dht"
	"github.com/ctresc/peerfs/internal/eventbus"
	"github.com/ctresc/peerfs/internal/fsstat"
	"github.com/ctresc/peerfs/internal/logging"
	"github.com/ctresc/peerfs/internal/monitor"
	"github.com/ctresc/peerfs/internal/namespace"
	"github.com/ctresc/peerfs/internal/syncer"
	"github.com/ctresc/peerfs/internal/version"
	"github.com/ctresc/peerfs/internal/vfs"
	"github.com/ctresc/peerfs/internal/writer"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logging.Sync()
	logger := logging.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := dht.New(cfg.ListenAddr)
	if err != nil {
		logger.Fatal("dht: listen failed", zap.Error(err))
	}
	defer node.Shutdown()

	stat := fsstat.New(fsstat.Config{BlockSize: cfg.BlockSize, InitialBlocks: cfg.InitialBlocks})
	node.OnPeerMapChange(stat.OnPeerCountChanged)
	var peerCount atomic.Int64
	node.OnPeerMapChange(func(count int) { peerCount.Store(int64(count)) })

	if cfg.BootstrapURL != "" {
		if err := joinOverlay(ctx, node, cfg); err != nil {
			logger.Warn("bootstrap join failed, starting as a lone peer", zap.Error(err))
		}
	}

	defer deregisterFromBootstrap(cfg, node)

	var bootstrapServer *bootstrap.Server
	if cfg.StartBootstrapServer {
		bootstrapServer = bootstrap.NewServer(cfg.BootstrapServerAddr)
		go func() {
			if err := bootstrapServer.ListenAndServe(ctx); err != nil {
				logger.Warn("bootstrap server exited", zap.Error(err))
			}
		}()
	}

	bus := eventbus.New()
	mon := monitor.New(monitor.Config{
		InitialCountdown: cfg.MonitorInitialCountdown,
		TickInterval:     cfg.MonitorTickInterval,
		IdleEviction:     cfg.MonitorIdleEviction,
	}, bus)
	mon.Start()
	defer mon.Terminate()

	mirror := namespace.New()
	mirror.SetMonitor(mon)
	mirror.SetContentRemover(pathRemover{node})
	versionFolder := filepath.Join(cfg.MountPoint, cfg.VersionFolderName)
	mirror.SetVersionFolderPredicate(func(path string) bool {
		return path == "/"+cfg.VersionFolderName || hasPrefix(path, "/"+cfg.VersionFolderName+"/")
	})

	archiver := version.New(pathVersionedStore{node}, versionFolder)
	mirror.SetVersionRemover(pathArchiver{archiver})
	writerListener := writer.New(pathContentStore{node}, archiver, func(path string) ([]byte, bool) {
		data, ok, err := node.Get(ctx, path)
		if err != nil {
			return nil, false
		}
		return data, ok
	})
	bus.Subscribe("CompleteWrite", writerListener)

	syncListener := syncer.New(pathContentSource{node}, mirror)
	go syncListener.Run(ctx, cfg.SyncInterval)

	loader := func(path string) ([]byte, error) {
		data, ok, err := node.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []byte{}, nil
		}
		return data, nil
	}

	fsys := vfs.NewFS(mirror, mon, stat, loader)
	server, err := fsys.Mount(cfg.MountPoint)
	if err != nil {
		logger.Fatal("mount failed", zap.Error(err))
	}
	logger.Info("mounted", zap.String("mount_point", cfg.MountPoint))

	if cfg.StartCLI {
		go cli.Run(ctx, cli.Inspector{
			Mirror:    mirror,
			PeerCount: func() int { return int(peerCount.Load()) },
			LocalAddr: node.LocalIP,
		}, os.Stdin, os.Stdout)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		server.Unmount()
	}()

	server.Wait()
}

func joinOverlay(ctx context.Context, node *dht.Node, cfg config.Config) error {
	rc := bootstrap.New(bootstrap.Config{BaseURL: cfg.BootstrapURL})
	selfAddr, selfPort := node.LocalIP(), node.LocalPort()

	if err := rc.Keepalive(ctx, selfAddr, selfPort); err != nil {
		return fmt.Errorf("register with rendezvous: %w", err)
	}
	go rc.RunKeepalive(ctx, selfAddr, selfPort, cfg.KeepaliveInterval)

	peers, err := rc.Peers(ctx)
	if err != nil {
		return fmt.Errorf("fetch peer list: %w", err)
	}
	for _, p := range peers {
		if p.Address == selfAddr && p.Port == selfPort {
			continue
		}
		joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := node.Join(joinCtx, p.Addr())
		cancel()
		if err == nil {
			return nil
		}
	}
	return nil
}

// deregisterFromBootstrap is the process-exit hook spec.md §5 requires:
// best-effort, never propagated (§7's shutdown-path error policy).
func deregisterFromBootstrap(cfg config.Config, node *dht.Node) {
	if cfg.BootstrapURL == "" {
		return
	}
	rc := bootstrap.New(bootstrap.Config{BaseURL: cfg.BootstrapURL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Deregister(ctx, node.LocalIP(), node.LocalPort()); err != nil {
		logging.L().Warn("deregister from rendezvous failed", zap.Error(err))
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// pathRemover adapts *dht.Node to namespace.ContentRemover.
type pathRemover struct{ node *dht.Node }

func (p pathRemover) Remove(path string) error {
	return p.node.Remove(context.Background(), path)
}

func (p pathRemover) RemovePathIndex(path string) error {
	return p.node.RemoveUnder(context.Background(), dht.KeysLocation, path)
}

// pathArchiver adapts *version.Archiver to namespace.VersionRemover.
type pathArchiver struct{ archiver *version.Archiver }

func (p pathArchiver) RemoveVersions(path string) error {
	return p.archiver.RemoveVersions(context.Background(), path)
}

// pathVersionedStore adapts *dht.Node to version.Store.
type pathVersionedStore struct{ node *dht.Node }

func (p pathVersionedStore) PutVersioned(ctx context.Context, key string, version int, data []byte) error {
	return p.node.PutVersioned(ctx, key, version, data)
}

func (p pathVersionedStore) RemoveVersioned(ctx context.Context, key string, version int) error {
	return p.node.RemoveVersioned(ctx, key, version)
}

// pathContentStore adapts *dht.Node to writer.ContentStore.
type pathContentStore struct{ node *dht.Node }

func (p pathContentStore) Put(ctx context.Context, key string, data []byte) error {
	return p.node.Put(ctx, key, data)
}

func (p pathContentStore) PutUnder(ctx context.Context, location, key string, data []byte) error {
	return p.node.PutUnder(ctx, location, key, data)
}

// pathContentSource adapts *dht.Node to syncer.ContentSource.
type pathContentSource struct{ node *dht.Node }

func (p pathContentSource) GetAllUnder(ctx context.Context, location string) (map[string][]byte, error) {
	return p.node.GetAllUnder(ctx, location)
}

func (p pathContentSource) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.node.Get(ctx, key)
}
