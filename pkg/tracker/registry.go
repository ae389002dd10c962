package tracker

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/mt-dev/minitorrent/pkg/wire"
)

// Registry is the tracker's single global mapping of content_id to Record,
// guarded by one mutex; every mutation and every read is performed under it
// (§4.2, §5). Reentrancy is not required: no Registry method calls another
// Registry method while already holding the lock.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register upserts the record for fileID and appends peer unless a peer
// with the same PeerID is already registered (I1). It is also the
// implementation of ANNOUNCE(started) once the caller has supplied host,
// port, filename, and numChunks.
func (r *Registry) Register(fileID, filename string, numChunks int, peer wire.PeerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[fileID]
	if !ok {
		rec = &Record{FileID: fileID, Filename: filename, NumChunks: numChunks}
		r.records[fileID] = rec
	} else {
		// Keep the record's descriptive fields current; filename/chunk count
		// never regress to empty on a follow-up REGISTER.
		if filename != "" {
			rec.Filename = filename
		}
		if numChunks > 0 {
			rec.NumChunks = numChunks
		}
	}
	rec.upsertPeer(peer)
}

// Query returns a copy of the record for fileID and whether it exists.
func (r *Registry) Query(fileID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[fileID]
	if !ok {
		return Record{}, false
	}
	return copyRecord(rec), true
}

// Unregister removes peerID from fileID's peer list, reporting whether a
// removal actually happened. It is a no-op, reporting false, if the record
// or the peer does not exist.
func (r *Registry) Unregister(fileID, peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[fileID]
	if !ok {
		return false
	}
	return rec.removePeer(peerID)
}

// SearchByName performs a case-insensitive substring match of query against
// every record's filename and returns copies of the matching records (§4.2).
// Both sides are run through Unicode NFC normalization before comparison, so
// filenames arriving with combining-mark sequences (accents composed two
// different ways, as filenames from other OSes commonly do) still match.
func (r *Registry) SearchByName(query string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	needle := strings.ToLower(norm.NFC.String(query))
	var matches []Record
	for _, rec := range r.records {
		if strings.Contains(strings.ToLower(norm.NFC.String(rec.Filename)), needle) {
			matches = append(matches, copyRecord(rec))
		}
	}
	return matches
}

// Sweep removes every peer whose last announce is older than maxAge. It
// implements the additive, optional eviction policy described in the
// Design Notes (§9): the tracker otherwise never drops a peer that dies
// without announcing "stopped".
func (r *Registry) Sweep(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	evicted := 0
	for _, rec := range r.records {
		kept := rec.Peers[:0]
		for _, p := range rec.Peers {
			if seen := rec.lastSeenAt(p.PeerID); !seen.IsZero() && seen.Before(cutoff) {
				delete(rec.lastSeen, p.PeerID)
				evicted++
				continue
			}
			kept = append(kept, p)
		}
		rec.Peers = kept
	}
	return evicted
}

// Stats is a point-in-time summary of the registry: how many records it
// holds, how many peer entries exist across them, and a copy of every
// record. Computed under the mutex like every other read.
type Stats struct {
	TotalFiles int
	TotalPeers int
	Files      []Record
}

// Stats snapshots the registry for status reporting.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{TotalFiles: len(r.records)}
	for _, rec := range r.records {
		s.TotalPeers += len(rec.Peers)
		s.Files = append(s.Files, copyRecord(rec))
	}
	return s
}

func copyRecord(rec *Record) Record {
	peers := make([]wire.PeerInfo, len(rec.Peers))
	copy(peers, rec.Peers)
	return Record{
		FileID:    rec.FileID,
		Filename:  rec.Filename,
		NumChunks: rec.NumChunks,
		Peers:     peers,
	}
}
