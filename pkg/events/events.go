// Package events defines the narrow observer contract (§6) through which
// any presentation layer watches the core without coupling to it: a single
// Sink interface fed by the Download Engine and by the peer's recording of
// chunks the Peer Server uploads.
package events

import (
	"time"

	"github.com/mt-dev/minitorrent/pkg/state"
)

// Progress is the download progress recomputed on each successful piece
// (§4.5 step 5): elapsed time since the download was admitted, average
// speed over that span, and the projected time to completion.
type Progress struct {
	ContentID       string
	CompletedPieces int
	TotalPieces     int
	Elapsed         time.Duration
	AverageSpeed    float64 // bytes per second
	ETA             time.Duration
}

// Sink receives every observer-visible event emitted by the core (§6). A
// presentation layer implements Sink and is otherwise out of scope (§1).
// Implementations must not block the caller for long; callers invoke Sink
// methods synchronously from network and worker goroutines.
type Sink interface {
	StateChanged(summary state.Summary)
	TransferRecorded(direction, peer, contentID string, chunkIndex, bytes int)
	DownloadStarted(contentID, filename string, totalPieces int)
	DownloadProgress(p Progress)
	DownloadCompleted(contentID string, totalSize int64, averageSpeed float64)
	DownloadFailed(contentID string, progress float64, reason string)
	PeerCountsUpdated(contentID string, seeders, leechers int)
}

// NopSink is a Sink that discards every event; it is the default when no
// observer is registered, and a convenient base to embed in partial
// implementations.
type NopSink struct{}

func (NopSink) StateChanged(state.Summary)                        {}
func (NopSink) TransferRecorded(string, string, string, int, int) {}
func (NopSink) DownloadStarted(string, string, int)               {}
func (NopSink) DownloadProgress(Progress)                         {}
func (NopSink) DownloadCompleted(string, int64, float64)          {}
func (NopSink) DownloadFailed(string, float64, string)            {}
func (NopSink) PeerCountsUpdated(string, int, int)                {}

var _ Sink = NopSink{}

// Multi fans a single event out to every sink in the slice, in order. A nil
// or empty Multi is itself a valid no-op Sink.
type Multi []Sink

func (m Multi) StateChanged(summary state.Summary) {
	for _, s := range m {
		s.StateChanged(summary)
	}
}

func (m Multi) TransferRecorded(direction, peer, contentID string, chunkIndex, bytes int) {
	for _, s := range m {
		s.TransferRecorded(direction, peer, contentID, chunkIndex, bytes)
	}
}

func (m Multi) DownloadStarted(contentID, filename string, totalPieces int) {
	for _, s := range m {
		s.DownloadStarted(contentID, filename, totalPieces)
	}
}

func (m Multi) DownloadProgress(p Progress) {
	for _, s := range m {
		s.DownloadProgress(p)
	}
}

func (m Multi) DownloadCompleted(contentID string, totalSize int64, averageSpeed float64) {
	for _, s := range m {
		s.DownloadCompleted(contentID, totalSize, averageSpeed)
	}
}

func (m Multi) DownloadFailed(contentID string, progress float64, reason string) {
	for _, s := range m {
		s.DownloadFailed(contentID, progress, reason)
	}
}

func (m Multi) PeerCountsUpdated(contentID string, seeders, leechers int) {
	for _, s := range m {
		s.PeerCountsUpdated(contentID, seeders, leechers)
	}
}

var _ Sink = Multi(nil)
