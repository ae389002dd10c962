package state

import "time"

// maxRecentTransfers bounds the rolling transfer log kept for observers
// (§5: "rolling counters and last-20 transfer log").
const maxRecentTransfers = 20

// TransferRecord is one recorded upload or download event (§4.4, §6).
type TransferRecord struct {
	Direction  string    `json:"direction"` // "upload" or "download"
	Peer       string    `json:"peer"`
	ContentID  string    `json:"content_id"`
	ChunkIndex int       `json:"chunk_index"`
	Bytes      int       `json:"bytes"`
	At         time.Time `json:"at"`
}

// Direction values for TransferRecord.
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

// Statistics is the session-level transfer statistics block (§3, §5):
// rolling totals plus a bounded recent-transfer log. Per-entry upload and
// download totals live durably on each ContentEntry instead (the Design
// Notes' open question on cross-session upload totals is resolved in favor
// of durable per-entry counters, see SPEC_FULL.md §12).
type Statistics struct {
	TotalUploadedBytes   int64            `json:"total_uploaded_bytes"`
	TotalDownloadedBytes int64            `json:"total_downloaded_bytes"`
	RecentTransfers      []TransferRecord `json:"recent_transfers"`
}

// NewStatistics creates an empty statistics block.
func NewStatistics() Statistics {
	return Statistics{}
}

// record appends a transfer to the rolling log (capped at
// maxRecentTransfers, dropping the oldest) and updates the session totals.
func (s *Statistics) record(rec TransferRecord) {
	switch rec.Direction {
	case DirectionUpload:
		s.TotalUploadedBytes += int64(rec.Bytes)
	case DirectionDownload:
		s.TotalDownloadedBytes += int64(rec.Bytes)
	}

	s.RecentTransfers = append(s.RecentTransfers, rec)
	if len(s.RecentTransfers) > maxRecentTransfers {
		s.RecentTransfers = s.RecentTransfers[len(s.RecentTransfers)-maxRecentTransfers:]
	}
}
