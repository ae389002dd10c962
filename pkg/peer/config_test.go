package peer

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigOverlaysOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"tracker_host": "tracker.example",
		"tracker_port": 7000,
		"peer_port_range": {"start": 30000, "end": 30099},
		"max_parallel_downloads": 3,
		"auto_save_interval_s": 5,
		"chunks_root": "/srv/chunks"
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path, dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.TrackerHost != "tracker.example" || cfg.TrackerPort != 7000 {
		t.Errorf("tracker endpoint not overlaid: %s:%d", cfg.TrackerHost, cfg.TrackerPort)
	}
	if cfg.PeerPortStart != 30000 || cfg.PeerPortEnd != 30099 {
		t.Errorf("port range not overlaid: [%d, %d]", cfg.PeerPortStart, cfg.PeerPortEnd)
	}
	if cfg.MaxParallelDownloads != 3 {
		t.Errorf("max parallel downloads not overlaid: %d", cfg.MaxParallelDownloads)
	}
	if cfg.AutoSaveInterval != 5*time.Second {
		t.Errorf("auto-save interval not overlaid: %s", cfg.AutoSaveInterval)
	}
	if cfg.ChunksRoot != "/srv/chunks" {
		t.Errorf("chunks root not overlaid: %s", cfg.ChunksRoot)
	}
	if cfg.chunksRoot() != "/srv/chunks" {
		t.Errorf("chunksRoot() should honor the override, got %s", cfg.chunksRoot())
	}

	// Keys absent from the file keep their defaults.
	defaults := DefaultConfig(dir)
	if cfg.PieceLength != defaults.PieceLength {
		t.Errorf("piece length should keep its default, got %d", cfg.PieceLength)
	}
	if cfg.DownloadTimeout != defaults.DownloadTimeout {
		t.Errorf("download timeout should keep its default, got %s", cfg.DownloadTimeout)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"), t.TempDir()); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
