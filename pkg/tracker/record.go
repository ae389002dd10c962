// Package tracker implements the Tracker Registry (§4.2): a single-process,
// multi-threaded service that maps content identifiers to the set of peers
// currently holding all or part of that content.
package tracker

import (
	"time"

	"github.com/mt-dev/minitorrent/pkg/wire"
)

// Record is one tracker record: a content_id's filename, chunk count, and
// ordered peer list (§3). The record persists, memory-resident, even when
// its peer list becomes empty; the tracker never deletes a record outright.
type Record struct {
	FileID    string
	Filename  string
	NumChunks int
	Peers     []wire.PeerInfo

	// lastSeen tracks the most recent announce per peer_id, used only by
	// Sweep's optional stale-peer eviction (§9). It is not part of the wire
	// representation of a record.
	lastSeen map[string]time.Time
}

// upsertPeer appends p to the record's peer list unless a peer with the same
// PeerID is already present, in which case that entry is overwritten in
// place with p (refreshing its host and port) and no duplicate is added (I1:
// idempotent registration). Either way the peer's last-seen time is reset.
func (r *Record) upsertPeer(p wire.PeerInfo) {
	if r.lastSeen == nil {
		r.lastSeen = make(map[string]time.Time)
	}
	r.lastSeen[p.PeerID] = time.Now()

	for i, existing := range r.Peers {
		if existing.PeerID == p.PeerID {
			r.Peers[i] = p
			return
		}
	}
	r.Peers = append(r.Peers, p)
}

// removePeer removes the peer identified by peerID, reporting whether a
// removal actually happened.
func (r *Record) removePeer(peerID string) bool {
	delete(r.lastSeen, peerID)
	for i, existing := range r.Peers {
		if existing.PeerID == peerID {
			r.Peers = append(r.Peers[:i], r.Peers[i+1:]...)
			return true
		}
	}
	return false
}

// lastSeenAt returns when peerID was last announced, or the zero time if unknown.
func (r *Record) lastSeenAt(peerID string) time.Time {
	return r.lastSeen[peerID]
}
