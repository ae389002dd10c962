package peer

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/mt-dev/minitorrent/pkg/downloader"
	"github.com/mt-dev/minitorrent/pkg/state"
	"github.com/mt-dev/minitorrent/pkg/tracker"
)

func startTestTracker(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := tracker.NewServer(tracker.NewRegistry())
	go srv.Serve(listener)
	t.Cleanup(func() { srv.Stop() })
	return listener.Addr().String()
}

func bootTestPeer(t *testing.T, trackerAddr string) *Peer {
	t.Helper()
	host, portStr, err := net.SplitHostPort(trackerAddr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse tracker port: %v", err)
	}

	cfg := DefaultConfig(t.TempDir())
	cfg.TrackerHost = host
	cfg.TrackerPort = port
	cfg.PeerPortStart = 20000
	cfg.PeerPortEnd = 29999

	pr, err := Boot(cfg, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() { pr.Shutdown() })
	return pr
}

func TestPublishRegistersAFullyCompletedEntry(t *testing.T) {
	trackerAddr := startTestTracker(t)
	p := bootTestPeer(t, trackerAddr)

	sourceDir := t.TempDir()
	sourcePath := filepath.Join(sourceDir, "hello.txt")
	if err := os.WriteFile(sourcePath, []byte("hello, minitorrent"), 0644); err != nil {
		t.Fatal(err)
	}

	contentID, err := p.Publish(sourcePath)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	entry, ok := p.State.Entry(contentID)
	if !ok {
		t.Fatal("expected the published entry to exist")
	}
	if entry.Status != state.StatusSeeding {
		t.Fatalf("expected a freshly published entry to be seeding, got %s", entry.Status)
	}
	if entry.Role() != state.RoleSeeder {
		t.Fatalf("expected role SEEDER, got %s", entry.Role())
	}
}

func TestRemoveCascadesToTrackerAndDisk(t *testing.T) {
	trackerAddr := startTestTracker(t)
	p := bootTestPeer(t, trackerAddr)

	sourceDir := t.TempDir()
	sourcePath := filepath.Join(sourceDir, "doomed.txt")
	if err := os.WriteFile(sourcePath, []byte("will be removed"), 0644); err != nil {
		t.Fatal(err)
	}

	contentID, err := p.Publish(sourcePath)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	entry, _ := p.State.Entry(contentID)
	chunkDir := entry.SavePath

	if err := p.Remove(contentID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, ok := p.State.Entry(contentID); ok {
		t.Fatal("expected the entry to be gone after Remove")
	}
	if _, err := os.Stat(chunkDir); !os.IsNotExist(err) {
		t.Fatal("expected the chunk directory to be deleted")
	}
}

func TestDownloadByIDAnnouncesAfterCompletion(t *testing.T) {
	trackerAddr := startTestTracker(t)
	seeder := bootTestPeer(t, trackerAddr)

	sourceDir := t.TempDir()
	sourcePath := filepath.Join(sourceDir, "share.bin")
	if err := os.WriteFile(sourcePath, []byte("shareable content body"), 0644); err != nil {
		t.Fatal(err)
	}
	contentID, err := seeder.Publish(sourcePath)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	leecher := bootTestPeer(t, trackerAddr)
	if err := leecher.Download(downloader.ByID, contentID); err != nil {
		t.Fatalf("Download: %v", err)
	}

	entry, ok := leecher.State.Entry(contentID)
	if !ok {
		t.Fatal("expected a downloaded entry to exist")
	}
	if entry.Status != state.StatusSeeding {
		t.Fatalf("expected the completed download to be seeding, got %s", entry.Status)
	}

	time.Sleep(10 * time.Millisecond) // let the post-download announce land

	reply, err := leecher.Tracker.Query(contentID)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	announced := false
	for _, info := range reply.Peers {
		if info.PeerID == leecher.State.PeerID() {
			announced = true
		}
	}
	if !announced {
		t.Fatalf("expected the tracker to list the leecher after its download completed, got %+v", reply.Peers)
	}
}

func TestBindListenerReusesLastBoundPortAcrossRestart(t *testing.T) {
	trackerAddr := startTestTracker(t)
	p := bootTestPeer(t, trackerAddr)
	firstPort := p.announcePort
	dataDir := p.cfg.DataDir

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	host, portStr, err := net.SplitHostPort(trackerAddr)
	if err != nil {
		t.Fatal(err)
	}
	trackerPort, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig(dataDir)
	cfg.TrackerHost = host
	cfg.TrackerPort = trackerPort
	cfg.PeerPortStart = 20000
	cfg.PeerPortEnd = 29999

	p2, err := Boot(cfg, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() { p2.Shutdown() })

	if p2.announcePort != firstPort {
		t.Fatalf("expected restart to rebind the previously bound port %d, got %d", firstPort, p2.announcePort)
	}
}

func TestBindListenerFallsBackWhenLastPortIsOccupied(t *testing.T) {
	trackerAddr := startTestTracker(t)
	p := bootTestPeer(t, trackerAddr)
	firstPort := p.announcePort
	if err := p.State.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// p is still holding firstPort open (not shut down), so a second boot
	// pointed at the same data directory must fall back to a new port
	// rather than fail (§4.6 step 5, §7 PortBindFailed).
	host, portStr, err := net.SplitHostPort(trackerAddr)
	if err != nil {
		t.Fatal(err)
	}
	trackerPort, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig(p.cfg.DataDir)
	cfg.TrackerHost = host
	cfg.TrackerPort = trackerPort
	cfg.PeerPortStart = 20000
	cfg.PeerPortEnd = 29999

	p2, err := Boot(cfg, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() { p2.Shutdown() })

	if p2.announcePort == firstPort {
		t.Fatal("expected a different port since the first is still bound")
	}
}
