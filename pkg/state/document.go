package state

import "time"

// PeerMetadata is the process-wide, persisted metadata block (§3, §4.6):
// the peer identity, session bookkeeping, and the last successfully bound
// listening port for port-reuse across restarts.
type PeerMetadata struct {
	PeerID        string    `json:"peer_id"`
	SessionStart  time.Time `json:"session_start"`
	LastBoundPort int       `json:"last_bound_port,omitempty"`
}

// HistoryRecord is one completed or failed download, kept in insertion
// order in Document.DownloadHistory (§4.5).
type HistoryRecord struct {
	ContentID    string    `json:"content_id"`
	Filename     string    `json:"filename"`
	TotalSize    int64     `json:"total_size"`
	AverageSpeed float64   `json:"average_speed_bytes_per_sec"`
	Status       string    `json:"status"`
	Progress     float64   `json:"progress"`
	FinishedAt   time.Time `json:"finished_at"`
}

// History status values (§4.5).
const (
	HistoryCompleted = "Completed"
	HistoryFailed    = "Failed"
)

// Document is the full schema persisted to state.json (§4.6):
// {peer_metadata, content_entries, statistics, download_history}.
type Document struct {
	PeerMetadata    PeerMetadata             `json:"peer_metadata"`
	ContentEntries  map[string]*ContentEntry `json:"content_entries"`
	Statistics      Statistics               `json:"statistics"`
	DownloadHistory []HistoryRecord          `json:"download_history"`
}

// NewDocument creates an empty document for a freshly initialized data
// directory (§4.6): session_start = now, empty content map.
func NewDocument(peerID string) *Document {
	return &Document{
		PeerMetadata: PeerMetadata{
			PeerID:       peerID,
			SessionStart: time.Now(),
		},
		ContentEntries: make(map[string]*ContentEntry),
		Statistics:     NewStatistics(),
	}
}
