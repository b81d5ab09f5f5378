// Package config loads runtime configuration from flags with environment
// variable overrides, the way the teacher's phase1/internal/config package
// layers flag.FlagSet parsing with os.Getenv fallbacks instead of reaching
// for a config-file library.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable enumerated in the external interfaces design
// (mount/DHT/monitor settings) plus the ambient additions this
// implementation carries (logging, bootstrap, sync cadence).
type Config struct {
	MountPoint string
	ListenAddr string
	StartCLI   bool

	BlockSize     uint32
	InitialBlocks uint64

	MonitorInitialCountdown int
	MonitorTickInterval     time.Duration
	MonitorIdleEviction     int

	LogLevel  string
	LogFormat string

	BootstrapURL            string
	StartBootstrapServer    bool
	BootstrapServerAddr     string
	KeepaliveInterval       time.Duration
	SyncInterval            time.Duration

	VersionFolderName string
}

// Default returns the configuration used when no flags or environment
// variables override it.
func Default() Config {
	return Config{
		MountPoint:              "/mnt/peerfs",
		ListenAddr:              "0.0.0.0:0",
		StartCLI:                false,
		BlockSize:               4096,
		InitialBlocks:           1 << 20,
		MonitorInitialCountdown: 3,
		MonitorTickInterval:     100 * time.Millisecond,
		MonitorIdleEviction:     10,
		LogLevel:                "info",
		LogFormat:               "console",
		BootstrapURL:            "",
		StartBootstrapServer:    false,
		BootstrapServerAddr:     "0.0.0.0:7946",
		KeepaliveInterval:       30 * time.Second,
		SyncInterval:            5 * time.Second,
		VersionFolderName:       ".versions",
	}
}

// Parse builds a Config from command-line flags (args, typically
// os.Args[1:]), using env vars as the fallback for anything not passed on
// the command line, and Default for anything neither specifies.
func Parse(args []string) (Config, error) {
	cfg := Default()
	applyEnv(&cfg)

	fs := flag.NewFlagSet("peerfs", flag.ContinueOnError)
	fs.StringVar(&cfg.MountPoint, "mount-point", cfg.MountPoint, "directory to mount the filesystem at")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address:port for the DHT's UDP socket")
	fs.BoolVar(&cfg.StartCLI, "start-cli", cfg.StartCLI, "start the interactive inspection REPL")

	blockSize := fs.Uint("block-size", uint(cfg.BlockSize), "statfs block size in bytes")
	initialBlocks := fs.Uint64("initial-blocks", cfg.InitialBlocks, "baseline block count per known peer")

	fs.IntVar(&cfg.MonitorInitialCountdown, "monitor-initial-countdown", cfg.MonitorInitialCountdown, "ticks of inactivity before a dirty write is flushed")
	fs.DurationVar(&cfg.MonitorTickInterval, "monitor-tick-interval", cfg.MonitorTickInterval, "monitor tick period")
	fs.IntVar(&cfg.MonitorIdleEviction, "monitor-idle-eviction", cfg.MonitorIdleEviction, "ticks of clean inactivity before a record is evicted")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json")

	fs.StringVar(&cfg.BootstrapURL, "bootstrap-url", cfg.BootstrapURL, "rendezvous service base URL")
	fs.BoolVar(&cfg.StartBootstrapServer, "start-with-bootstrap-server", cfg.StartBootstrapServer, "also serve the rendezvous API locally")
	fs.StringVar(&cfg.BootstrapServerAddr, "bootstrap-server-addr", cfg.BootstrapServerAddr, "address for the self-hosted rendezvous server")
	fs.DurationVar(&cfg.KeepaliveInterval, "keepalive-interval", cfg.KeepaliveInterval, "rendezvous keepalive period")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "syncer reconciliation period")

	fs.StringVar(&cfg.VersionFolderName, "version-folder-name", cfg.VersionFolderName, "name of the on-mount version folder")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.BlockSize = uint32(*blockSize)
	cfg.InitialBlocks = *initialBlocks
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PEERFS_MOUNT_POINT"); v != "" {
		cfg.MountPoint = v
	}
	if v := os.Getenv("PEERFS_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PEERFS_START_CLI"); v != "" {
		cfg.StartCLI = v == "1" || v == "true"
	}
	if v := os.Getenv("PEERFS_BLOCK_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.BlockSize = uint32(n)
		}
	}
	if v := os.Getenv("PEERFS_INITIAL_BLOCKS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.InitialBlocks = n
		}
	}
	if v := os.Getenv("PEERFS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PEERFS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("PEERFS_BOOTSTRAP_URL"); v != "" {
		cfg.BootstrapURL = v
	}
	if v := os.Getenv("PEERFS_START_BOOTSTRAP_SERVER"); v != "" {
		cfg.StartBootstrapServer = v == "1" || v == "true"
	}
	if v := os.Getenv("PEERFS_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = d
		}
	}
}
