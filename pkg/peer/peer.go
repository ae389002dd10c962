package peer

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/mt-dev/minitorrent/pkg/chunkserver"
	"github.com/mt-dev/minitorrent/pkg/content"
	"github.com/mt-dev/minitorrent/pkg/downloader"
	"github.com/mt-dev/minitorrent/pkg/events"
	"github.com/mt-dev/minitorrent/pkg/state"
	"github.com/mt-dev/minitorrent/pkg/trackerclient"
)

// Peer is the composed process of §2: one State Manager, one Peer Server,
// one Download Engine, and a tracker client, all sharing the same data
// directory.
type Peer struct {
	cfg Config

	State      *state.Manager
	Tracker    *trackerclient.Client
	Server     *chunkserver.Server
	Downloader *downloader.Engine
	Sink       events.Sink

	announceHost string
	announcePort int
}

// Boot performs the process start sequence (§2): reload persisted state,
// bind the Peer Server (reusing the last bound port when possible), then
// announce every persisted content entry that is not stopped as started.
func Boot(cfg Config, sink events.Sink) (*Peer, error) {
	if sink == nil {
		sink = events.NopSink{}
	}

	mgr, err := state.Load(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("peer: failed to load state: %w", err)
	}

	p := &Peer{
		cfg:          cfg,
		State:        mgr,
		Tracker:      trackerclient.New(net.JoinHostPort(cfg.TrackerHost, fmt.Sprintf("%d", cfg.TrackerPort))),
		Sink:         sink,
		announceHost: "127.0.0.1",
	}

	p.Server = chunkserver.NewServer(p.resolveChunkDir, p.recordUpload)

	listener, port, err := bindListener(mgr, cfg)
	if err != nil {
		return nil, fmt.Errorf("peer: failed to bind peer server: %w", err)
	}
	p.announcePort = port
	mgr.SetLastBoundPort(port)
	logger.Printf("listening on port %d as %s", port, mgr.PeerID())

	go p.Server.Serve(listener)
	// Wait until Serve has taken the listener, so that a Shutdown issued right
	// after Boot closes it and frees the port for the next start.
	for p.Server.Addr() == nil {
		time.Sleep(time.Millisecond)
	}

	p.Downloader = downloader.NewEngine(p.Tracker, mgr, sink, cfg.downloadsRoot(), cfg.MaxParallelDownloads)

	mgr.StartAutoSave(cfg.AutoSaveInterval)

	p.announceExistingEntries()

	return p, nil
}

// bindListener attempts the State Manager's last successfully bound port
// first, falling back to a random port in the configured range on
// EADDRINUSE or any other bind failure (§4.6 step 5, §7 PortBindFailed).
func bindListener(mgr *state.Manager, cfg Config) (net.Listener, int, error) {
	if preferred := mgr.LastBoundPort(); preferred != 0 {
		if listener, err := net.Listen("tcp", fmt.Sprintf(":%d", preferred)); err == nil {
			return listener, preferred, nil
		}
	}

	const attempts = 20
	span := cfg.PeerPortEnd - cfg.PeerPortStart + 1
	for i := 0; i < attempts; i++ {
		port := cfg.PeerPortStart + rand.Intn(span)
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return listener, port, nil
		}
	}
	return nil, 0, fmt.Errorf("peer: exhausted %d attempts to bind a port in [%d, %d]", attempts, cfg.PeerPortStart, cfg.PeerPortEnd)
}

// resolveChunkDir satisfies chunkserver.ChunkDirResolver by looking up the
// content entry's save_path in the State Manager.
func (p *Peer) resolveChunkDir(contentID string) (string, bool) {
	entry, ok := p.State.Entry(contentID)
	if !ok {
		return "", false
	}
	return entry.SavePath, true
}

// recordUpload satisfies chunkserver.StatsRecorder: it records the transfer
// in the State Manager and emits TransferRecorded (§4.4 step 4).
func (p *Peer) recordUpload(peerAddr, contentID string, chunkIndex, bytes int) {
	p.State.AddStats(contentID, peerAddr, state.DirectionUpload, chunkIndex, bytes)
	p.Sink.TransferRecorded(state.DirectionUpload, peerAddr, contentID, chunkIndex, bytes)
}

// announceExistingEntries issues announce(started) for every persisted
// content entry, complete or partial, except those whose status is stopped
// (boot control flow, §2).
func (p *Peer) announceExistingEntries() {
	for _, summary := range p.State.Entries() {
		if summary.Status == state.StatusStopped {
			continue
		}
		_, _ = p.Tracker.AnnounceStarted(summary.ContentID, summary.Filename, summary.TotalPieces, p.State.PeerID(), p.announceHost, p.announcePort)
	}
}

// Publish splits sourcePath into chunks, registers the resulting entry as
// fully completed, and announces it to the tracker (§2, §4.3).
func (p *Peer) Publish(sourcePath string) (string, error) {
	id, err := content.ComputeID(sourcePath)
	if err != nil {
		return "", fmt.Errorf("peer: failed to compute content id: %w", err)
	}

	destDir := filepath.Join(p.cfg.chunksRoot(), id)
	totalPieces, err := content.Split(sourcePath, destDir, p.cfg.PieceLength)
	if err != nil {
		return "", err
	}

	stat, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("peer: failed to stat source file: %w", err)
	}

	filename := filepath.Base(sourcePath)
	now := time.Now()
	completed := make([]int, totalPieces)
	for i := range completed {
		completed[i] = i
	}

	p.State.AddEntry(&state.ContentEntry{
		ContentID:       id,
		Filename:        filename,
		PieceLength:     p.cfg.PieceLength,
		TotalPieces:     totalPieces,
		TotalSize:       stat.Size(),
		SavePath:        destDir,
		CompletedPieces: completed,
		Status:          state.StatusSeeding,
		CompletedAt:     now,
	})

	if _, err := p.Tracker.AnnounceStarted(id, filename, totalPieces, p.State.PeerID(), p.announceHost, p.announcePort); err != nil {
		return id, fmt.Errorf("peer: publish succeeded locally but announce failed: %w", err)
	}
	logger.Printf("published %s as %s (%d pieces)", filename, id, totalPieces)
	return id, nil
}

// Download resolves identifier against the tracker and runs the Download
// Engine to completion, re-sharing the result on success (§2, §4.5, §9
// reshare path).
func (p *Peer) Download(mode downloader.Mode, identifier string) error {
	contentID, err := p.Downloader.Start(mode, identifier)
	if err != nil {
		return err
	}

	entry, ok := p.State.Entry(contentID)
	if ok && entry.Status == state.StatusSeeding {
		_, _ = p.Tracker.AnnounceCompleted(entry.ContentID, p.State.PeerID())
		_, _ = p.Tracker.AnnounceStarted(entry.ContentID, entry.Filename, entry.TotalPieces, p.State.PeerID(), p.announceHost, p.announcePort)
		logger.Printf("download %s complete, now seeding", contentID)
	}
	return nil
}

// Remove deletes a content entry, cascading to tracker deregistration and
// chunk deletion (§3 Content Entry lifecycle).
func (p *Peer) Remove(contentID string) error {
	entry, ok := p.State.Entry(contentID)
	if !ok {
		return fmt.Errorf("peer: unknown content_id %q", contentID)
	}

	_, _ = p.Tracker.AnnounceStopped(contentID, p.State.PeerID())
	if err := content.RemoveAll(entry.SavePath); err != nil {
		return err
	}
	p.State.RemoveEntry(contentID)
	return nil
}

// Shutdown stops the Peer Server and the State Manager's background
// auto-save, performing a final save if dirty (§4.4, §4.6).
func (p *Peer) Shutdown() error {
	logger.Printf("shutting down")
	_ = p.Server.Stop()
	return p.State.Shutdown()
}
