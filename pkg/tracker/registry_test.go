package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/mt-dev/minitorrent/pkg/wire"
)

// TestRegisterUnregisterAnnounceAtMostOnce is P1 (§8): for any sequence of
// REGISTER/UNREGISTER/ANNOUNCE for the same (content_id, peer_id), the
// tracker's peer list contains that peer_id at most once.
func TestRegisterUnregisterAnnounceAtMostOnce(t *testing.T) {
	reg := NewRegistry()
	peer := wire.PeerInfo{Host: "127.0.0.1", Port: 6000, PeerID: "P1"}

	reg.Register("id", "f.bin", 2, peer)
	reg.Register("id", "f.bin", 2, peer)
	rec, _ := reg.Query("id")
	if len(rec.Peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(rec.Peers))
	}

	reg.Unregister("id", "P1")
	reg.Register("id", "f.bin", 2, peer)
	rec, _ = reg.Query("id")
	if len(rec.Peers) != 1 {
		t.Fatalf("expected 1 peer after unregister+reregister, got %d", len(rec.Peers))
	}
}

// TestConcurrentRegisterConverges is P6 (§8): two concurrent REGISTER calls
// from the same peer for the same content converge to a single peer-list
// entry.
func TestConcurrentRegisterConverges(t *testing.T) {
	reg := NewRegistry()
	peer := wire.PeerInfo{Host: "127.0.0.1", Port: 6000, PeerID: "P1"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Register("id", "f.bin", 2, peer)
		}()
	}
	wg.Wait()

	rec, _ := reg.Query("id")
	if len(rec.Peers) != 1 {
		t.Fatalf("expected convergence to 1 peer, got %d", len(rec.Peers))
	}
}

func TestQueryAbsentRecord(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Query("nope")
	if ok {
		t.Error("expected ok=false for absent record")
	}
}

func TestUnregisterReportsWhetherRemovalHappened(t *testing.T) {
	reg := NewRegistry()
	peer := wire.PeerInfo{Host: "127.0.0.1", Port: 6000, PeerID: "P1"}
	reg.Register("id", "f.bin", 1, peer)

	if !reg.Unregister("id", "P1") {
		t.Error("expected true for successful removal")
	}
	if reg.Unregister("id", "P1") {
		t.Error("expected false for second removal of an already-removed peer")
	}
}

func TestRecordPersistsWithEmptyPeerList(t *testing.T) {
	reg := NewRegistry()
	peer := wire.PeerInfo{Host: "127.0.0.1", Port: 6000, PeerID: "P1"}
	reg.Register("id", "f.bin", 1, peer)
	reg.Unregister("id", "P1")

	rec, ok := reg.Query("id")
	if !ok {
		t.Fatal("expected record to persist after its last peer is removed")
	}
	if len(rec.Peers) != 0 {
		t.Errorf("expected empty peer list, got %d", len(rec.Peers))
	}
}

func TestStatsSummarizesRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", "a.bin", 1, wire.PeerInfo{Host: "h", Port: 1, PeerID: "P1"})
	reg.Register("a", "a.bin", 1, wire.PeerInfo{Host: "h", Port: 2, PeerID: "P2"})
	reg.Register("b", "b.bin", 3, wire.PeerInfo{Host: "h", Port: 3, PeerID: "P1"})

	s := reg.Stats()
	if s.TotalFiles != 2 {
		t.Errorf("expected 2 files, got %d", s.TotalFiles)
	}
	if s.TotalPeers != 3 {
		t.Errorf("expected 3 peer entries across records, got %d", s.TotalPeers)
	}
	if len(s.Files) != 2 {
		t.Errorf("expected 2 record copies, got %d", len(s.Files))
	}
}

func TestSweepEvictsOnlyStalePeers(t *testing.T) {
	reg := NewRegistry()
	reg.Register("id", "f.bin", 1, wire.PeerInfo{Host: "h", Port: 1, PeerID: "stale"})

	// Force the entry to look old by rewinding its lastSeen timestamp directly.
	reg.mu.Lock()
	reg.records["id"].lastSeen["stale"] = time.Now().Add(-time.Hour)
	reg.mu.Unlock()

	reg.Register("id", "f.bin", 1, wire.PeerInfo{Host: "h", Port: 2, PeerID: "fresh"})

	evicted := reg.Sweep(time.Minute)
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}

	rec, _ := reg.Query("id")
	if len(rec.Peers) != 1 || rec.Peers[0].PeerID != "fresh" {
		t.Errorf("expected only the fresh peer to remain, got %+v", rec.Peers)
	}
}
