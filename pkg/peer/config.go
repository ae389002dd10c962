// Package peer wires the Chunk Store, Peer Server, Download Engine, and
// State Manager into the single composed process described in §2: the
// entity that both serves and fetches chunks while staying reconciled with
// the Tracker Registry.
package peer

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mt-dev/minitorrent/pkg/constants"
)

// Config is the peer's external configuration surface (§6): tracker
// endpoint, listening port range, chunking policy, timeouts, and the data
// directory layout.
type Config struct {
	TrackerHost string
	TrackerPort int

	PeerPortStart int
	PeerPortEnd   int

	PieceLength          int
	MaxParallelDownloads int

	DownloadTimeout  time.Duration
	TrackerTimeout   time.Duration
	AutoSaveInterval time.Duration

	DataDir string // rooted at ~/.minitorrent/ or equivalent, §6

	// ChunksRoot, when non-empty, overrides the default uploads/chunks
	// directory under DataDir (the chunks_root configuration key, §6).
	ChunksRoot string
}

// DefaultConfig returns a Config populated with the spec's default values
// (§6), rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		TrackerHost:          "127.0.0.1",
		TrackerPort:          constants.DefaultTrackerPort,
		PeerPortStart:        constants.DefaultPeerPortStart,
		PeerPortEnd:          constants.DefaultPeerPortEnd,
		PieceLength:          constants.DefaultPieceLength,
		MaxParallelDownloads: constants.DefaultMaxParallelDownloads,
		DownloadTimeout:      constants.ChunkTransferTimeout,
		TrackerTimeout:       constants.TrackerControlTimeout,
		AutoSaveInterval:     constants.DefaultAutoSaveInterval,
		DataDir:              dataDir,
	}
}

func (c Config) chunksRoot() string {
	if c.ChunksRoot != "" {
		return c.ChunksRoot
	}
	return c.DataDir + "/uploads/chunks"
}

func (c Config) downloadsRoot() string { return c.DataDir + "/downloads" }

// fileConfig mirrors the on-disk JSON configuration keys (§6). Pointer
// fields distinguish "absent" from "zero": an absent key leaves the
// corresponding default untouched.
type fileConfig struct {
	TrackerHost   *string `json:"tracker_host"`
	TrackerPort   *int    `json:"tracker_port"`
	PeerPortRange *struct {
		Start int `json:"start"`
		End   int `json:"end"`
	} `json:"peer_port_range"`
	PieceLength          *int    `json:"piece_length"`
	MaxParallelDownloads *int    `json:"max_parallel_downloads"`
	DownloadTimeoutS     *int    `json:"download_timeout_s"`
	TrackerTimeoutS      *int    `json:"tracker_timeout_s"`
	AutoSaveIntervalS    *int    `json:"auto_save_interval_s"`
	ChunksRoot           *string `json:"chunks_root"`
}

// LoadConfig reads a JSON configuration file and overlays its keys on the
// defaults for dataDir. Keys absent from the file keep their default value.
func LoadConfig(path, dataDir string) (Config, error) {
	cfg := DefaultConfig(dataDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("peer: failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("peer: failed to parse config file: %w", err)
	}

	if fc.TrackerHost != nil {
		cfg.TrackerHost = *fc.TrackerHost
	}
	if fc.TrackerPort != nil {
		cfg.TrackerPort = *fc.TrackerPort
	}
	if fc.PeerPortRange != nil {
		cfg.PeerPortStart = fc.PeerPortRange.Start
		cfg.PeerPortEnd = fc.PeerPortRange.End
	}
	if fc.PieceLength != nil {
		cfg.PieceLength = *fc.PieceLength
	}
	if fc.MaxParallelDownloads != nil {
		cfg.MaxParallelDownloads = *fc.MaxParallelDownloads
	}
	if fc.DownloadTimeoutS != nil {
		cfg.DownloadTimeout = time.Duration(*fc.DownloadTimeoutS) * time.Second
	}
	if fc.TrackerTimeoutS != nil {
		cfg.TrackerTimeout = time.Duration(*fc.TrackerTimeoutS) * time.Second
	}
	if fc.AutoSaveIntervalS != nil {
		cfg.AutoSaveInterval = time.Duration(*fc.AutoSaveIntervalS) * time.Second
	}
	if fc.ChunksRoot != nil {
		cfg.ChunksRoot = *fc.ChunksRoot
	}
	return cfg, nil
}
