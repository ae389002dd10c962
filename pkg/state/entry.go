// Package state implements the State Manager (§4.6): the durable per-peer
// document describing every content entry, peer metadata, transfer
// statistics, and download history, persisted atomically and reloaded on
// restart.
package state

import (
	"sort"
	"time"
)

// Status values a content entry can hold (§3). Paused and stopped suppress
// new chunk requests issued by this peer but never suppress chunk serving.
const (
	StatusDownloading = "downloading"
	StatusSeeding     = "seeding"
	StatusPaused      = "paused"
	StatusStopped     = "stopped"
)

// Role is a content entry's derived seeder/leecher classification (§3); it
// is never stored, only computed on read.
type Role string

const (
	RoleSeeder  Role = "SEEDER"
	RoleLeecher Role = "LEECHER"
)

// ContentEntry is the identity of one shareable file (§3). CompletedPieces
// is kept sorted and de-duplicated by MarkPieceComplete so callers can treat
// it as an ordered set without re-sorting it themselves.
type ContentEntry struct {
	ContentID       string    `json:"content_id"`
	Filename        string    `json:"filename"`
	PieceLength     int       `json:"piece_length"`
	TotalPieces     int       `json:"total_pieces"`
	TotalSize       int64     `json:"total_size"`
	SavePath        string    `json:"save_path"`
	CompletedPieces []int     `json:"completed_pieces"`
	Status          string    `json:"status"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	UploadedBytes   int64     `json:"uploaded_bytes"`
	AddedAt         time.Time `json:"added_at"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
	LastActive      time.Time `json:"last_active"`

	// pausedFrom remembers the status a pause interrupted, so resume can
	// restore it (the state diagram's "any state --pause--> [paused]
	// --resume--> previous state", §4.6).
	pausedFrom string
}

// Role reports SEEDER iff every piece is present, else LEECHER (I3, §3).
func (e *ContentEntry) Role() Role {
	if e.TotalPieces > 0 && len(e.CompletedPieces) == e.TotalPieces {
		return RoleSeeder
	}
	return RoleLeecher
}

// Progress reports the fraction of pieces completed, in [0, 1].
func (e *ContentEntry) Progress() float64 {
	if e.TotalPieces == 0 {
		return 0
	}
	return float64(len(e.CompletedPieces)) / float64(e.TotalPieces)
}

// hasPiece reports whether index i is already recorded complete.
func (e *ContentEntry) hasPiece(i int) bool {
	for _, existing := range e.CompletedPieces {
		if existing == i {
			return true
		}
	}
	return false
}

// addPiece inserts i into CompletedPieces, keeping it sorted and unique
// (I2), and reports whether the entry just transitioned to SEEDER (I3).
func (e *ContentEntry) addPiece(i int) bool {
	wasSeeder := e.Role() == RoleSeeder
	if !e.hasPiece(i) {
		e.CompletedPieces = append(e.CompletedPieces, i)
		sort.Ints(e.CompletedPieces)
	}
	return !wasSeeder && e.Role() == RoleSeeder
}

// Summary is the read-only projection of a ContentEntry exposed to
// observers (§6): the stored fields plus the derived Role and Progress.
type Summary struct {
	ContentID       string    `json:"content_id"`
	Filename        string    `json:"filename"`
	TotalPieces     int       `json:"total_pieces"`
	TotalSize       int64     `json:"total_size"`
	Status          string    `json:"status"`
	Role            Role      `json:"role"`
	Progress        float64   `json:"progress"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	UploadedBytes   int64     `json:"uploaded_bytes"`
	AddedAt         time.Time `json:"added_at"`
	LastActive      time.Time `json:"last_active"`
}

// Summarize derives a Summary from a ContentEntry.
func Summarize(e *ContentEntry) Summary {
	return Summary{
		ContentID:       e.ContentID,
		Filename:        e.Filename,
		TotalPieces:     e.TotalPieces,
		TotalSize:       e.TotalSize,
		Status:          e.Status,
		Role:            e.Role(),
		Progress:        e.Progress(),
		DownloadedBytes: e.DownloadedBytes,
		UploadedBytes:   e.UploadedBytes,
		AddedAt:         e.AddedAt,
		LastActive:      e.LastActive,
	}
}
