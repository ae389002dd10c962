package downloader

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mt-dev/minitorrent/pkg/chunkserver"
	"github.com/mt-dev/minitorrent/pkg/content"
	"github.com/mt-dev/minitorrent/pkg/events"
	"github.com/mt-dev/minitorrent/pkg/state"
	"github.com/mt-dev/minitorrent/pkg/tracker"
	"github.com/mt-dev/minitorrent/pkg/trackerclient"
)

// progressRecorder captures DownloadProgress events; workers emit them
// concurrently, so appends are guarded.
type progressRecorder struct {
	events.NopSink
	mu       sync.Mutex
	progress []events.Progress
}

func (r *progressRecorder) DownloadProgress(p events.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *progressRecorder) snapshot() []events.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Progress, len(r.progress))
	copy(out, r.progress)
	return out
}

func startGoodPeer(t *testing.T, chunkDir string) net.Addr {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := chunkserver.NewServer(func(contentID string) (string, bool) {
		return chunkDir, true
	}, nil)
	go srv.Serve(listener)
	t.Cleanup(func() { srv.Stop() })
	return listener.Addr()
}

// startDeadPeer binds a listener and immediately closes it, so connection
// attempts against its address are refused (§8 Scenario 4's "P_dead refuses
// connections").
func startDeadPeer(t *testing.T) net.Addr {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr()
	listener.Close()
	return addr
}

func splitHostPort(t *testing.T, addr net.Addr) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func startTrackerServer(t *testing.T) net.Addr {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := tracker.NewServer(tracker.NewRegistry())
	go srv.Serve(listener)
	t.Cleanup(func() { srv.Stop() })
	return listener.Addr()
}

func TestParallelDownloadSurvivesADeadPeer(t *testing.T) {
	const totalPieces = 8
	const pieceLen = 16

	sourceDir := t.TempDir()
	for i := 0; i < totalPieces; i++ {
		data := make([]byte, pieceLen)
		for j := range data {
			data[j] = byte('A' + i)
		}
		if err := content.WritePiece(sourceDir, i, data); err != nil {
			t.Fatalf("seed piece %d: %v", i, err)
		}
	}

	goodAddr := startGoodPeer(t, sourceDir)
	deadAddr := startDeadPeer(t)

	goodHost, goodPort := splitHostPort(t, goodAddr)
	deadHost, deadPort := splitHostPort(t, deadAddr)

	trackerAddr := startTrackerServer(t)
	trackerClient := trackerclient.New(trackerAddr.String())

	contentID := "deadbeefcafef00d"
	if _, err := trackerClient.Register(contentID, "eightpieces.bin", totalPieces, "PGOOD", goodHost, goodPort); err != nil {
		t.Fatalf("register good peer: %v", err)
	}
	if _, err := trackerClient.Register(contentID, "eightpieces.bin", totalPieces, "PDEAD", deadHost, deadPort); err != nil {
		t.Fatalf("register dead peer: %v", err)
	}

	dataDir := t.TempDir()
	mgr, err := state.Load(dataDir)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	t.Cleanup(func() { mgr.Shutdown() })

	downloadDir := t.TempDir()
	recorder := &progressRecorder{}
	engine := NewEngine(trackerClient, mgr, recorder, downloadDir, 5)

	if _, err := engine.Start(ByID, contentID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	entry, ok := mgr.Entry(contentID)
	if !ok {
		t.Fatal("expected a content entry to exist after download")
	}
	if entry.Status != state.StatusSeeding {
		t.Fatalf("expected status seeding (all 8 pieces present), got %s", entry.Status)
	}
	if len(entry.CompletedPieces) != totalPieces {
		t.Fatalf("expected all %d pieces, got %d", totalPieces, len(entry.CompletedPieces))
	}

	stats := mgr.StatisticsSnapshot()
	if stats.TotalDownloadedBytes <= 0 {
		t.Fatal("expected a positive total downloaded byte count")
	}

	progress := recorder.snapshot()
	if len(progress) != totalPieces {
		t.Fatalf("expected one progress event per piece, got %d", len(progress))
	}
	maxCompleted := 0
	for _, p := range progress {
		if p.TotalPieces != totalPieces {
			t.Errorf("progress event has total %d, want %d", p.TotalPieces, totalPieces)
		}
		if p.AverageSpeed <= 0 {
			t.Errorf("expected recomputed average speed > 0, got %f", p.AverageSpeed)
		}
		if p.CompletedPieces > maxCompleted {
			maxCompleted = p.CompletedPieces
		}
		if p.CompletedPieces == totalPieces && p.ETA != 0 {
			t.Errorf("expected zero ETA once every piece is present, got %s", p.ETA)
		}
	}
	if maxCompleted != totalPieces {
		t.Errorf("expected a progress event reporting all %d pieces, got max %d", totalPieces, maxCompleted)
	}

	history := mgr.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(history))
	}
	if history[0].Status != state.HistoryCompleted {
		t.Errorf("expected history status Completed, got %s", history[0].Status)
	}
	if history[0].AverageSpeed <= 0 {
		t.Errorf("expected a positive average download speed, got %f", history[0].AverageSpeed)
	}
}

func TestResolveByNameRequiresExactlyOneMatch(t *testing.T) {
	trackerAddr := startTrackerServer(t)
	client := trackerclient.New(trackerAddr.String())

	if _, err := client.Register("id1", "Report.pdf", 1, "P1", "127.0.0.1", 7000); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Register("id2", "annual_report.PDF", 1, "P2", "127.0.0.1", 7001); err != nil {
		t.Fatal(err)
	}

	dataDir := t.TempDir()
	mgr, _ := state.Load(dataDir)
	t.Cleanup(func() { mgr.Shutdown() })
	engine := NewEngine(client, mgr, nil, t.TempDir(), 5)

	_, err := engine.Resolve(ByName, "report")
	if err != ErrAmbiguousName {
		t.Fatalf("expected ErrAmbiguousName, got %v", err)
	}

	_, err = engine.Resolve(ByName, "xyz")
	if err != ErrNoMatch {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestStartRefusesEmptyPeerList(t *testing.T) {
	trackerAddr := startTrackerServer(t)
	client := trackerclient.New(trackerAddr.String())

	// REGISTER then UNREGISTER leaves a record with an empty peer list.
	if _, err := client.Register("lonely", "f.bin", 1, "P1", "127.0.0.1", 7000); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Unregister("lonely", "P1"); err != nil {
		t.Fatal(err)
	}

	dataDir := t.TempDir()
	mgr, _ := state.Load(dataDir)
	t.Cleanup(func() { mgr.Shutdown() })
	engine := NewEngine(client, mgr, nil, t.TempDir(), 5)

	_, err := engine.Start(ByID, "lonely")
	if err != ErrNoPeers {
		t.Fatalf("expected ErrNoPeers, got %v", err)
	}
}

func TestCancelStopsAFreshDownloadBeforeItCompletes(t *testing.T) {
	// A download against only a dead peer, with cancel set immediately,
	// must finalize as failed rather than hang.
	deadAddr := startDeadPeer(t)
	deadHost, deadPort := splitHostPort(t, deadAddr)

	trackerAddr := startTrackerServer(t)
	client := trackerclient.New(trackerAddr.String())
	if _, err := client.Register("onlydead", "f.bin", 2, "PDEAD", deadHost, deadPort); err != nil {
		t.Fatal(err)
	}

	dataDir := t.TempDir()
	mgr, _ := state.Load(dataDir)
	t.Cleanup(func() { mgr.Shutdown() })
	engine := NewEngine(client, mgr, nil, t.TempDir(), 5)

	go func() {
		time.Sleep(5 * time.Millisecond)
		engine.Cancel("onlydead")
	}()

	_, err := engine.Start(ByID, "onlydead")
	if err == nil {
		t.Fatal("expected the download to fail when every peer is unreachable")
	}
	entry, _ := mgr.Entry("onlydead")
	if entry.Status != state.StatusStopped {
		t.Fatalf("expected entry status stopped after failure, got %s", entry.Status)
	}
}
