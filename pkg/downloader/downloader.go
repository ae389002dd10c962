// Package downloader implements the Download Engine (§4.5): resolving a
// user intent against the Tracker, scheduling a bounded worker pool of
// parallel chunk fetches across a randomly shuffled peer set per piece,
// and finalizing a completed download by merging its chunks and
// re-publishing them for seeding.
package downloader

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mt-dev/minitorrent/pkg/constants"
	"github.com/mt-dev/minitorrent/pkg/content"
	"github.com/mt-dev/minitorrent/pkg/events"
	"github.com/mt-dev/minitorrent/pkg/state"
	"github.com/mt-dev/minitorrent/pkg/trackerclient"
	"github.com/mt-dev/minitorrent/pkg/wire"
)

// Mode selects how a download's target is resolved (§4.5 step 1).
type Mode int

const (
	ByID Mode = iota
	ByName
)

// ErrAmbiguousName is returned when a ByName resolution matches more than
// one record; ambiguity is surfaced to the caller, never auto-resolved
// (§4.5 step 1).
var ErrAmbiguousName = errors.New("downloader: more than one file matches that name")

// ErrNoMatch is returned when resolution finds nothing.
var ErrNoMatch = errors.New("downloader: no matching content found")

// ErrNoPeers is returned when the resolved record has an empty peer list
// (§4.5 step 2).
var ErrNoPeers = errors.New("downloader: no peers available for this content")

// Engine runs downloads against a tracker client, persisting progress
// through a State Manager and serving chunk bodies for pieces it has
// already fetched (via the Chunk Store, wired in by the peer on reshare).
type Engine struct {
	Tracker     *trackerclient.Client
	State       *state.Manager
	Sink        events.Sink
	DownloadDir string
	MaxParallel int

	mu      sync.Mutex
	cancels map[string]*int32
	pauses  map[string]*int32
}

// NewEngine creates a download engine. maxParallel <= 0 defaults to
// constants.DefaultMaxParallelDownloads.
func NewEngine(tracker *trackerclient.Client, mgr *state.Manager, sink events.Sink, downloadDir string, maxParallel int) *Engine {
	if maxParallel <= 0 {
		maxParallel = constants.DefaultMaxParallelDownloads
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Engine{
		Tracker:     tracker,
		State:       mgr,
		Sink:        sink,
		DownloadDir: downloadDir,
		MaxParallel: maxParallel,
		cancels:     make(map[string]*int32),
		pauses:      make(map[string]*int32),
	}
}

// resolved is the information the engine needs from the tracker to drive a
// download (§4.5 step 1).
type resolved struct {
	contentID   string
	filename    string
	totalPieces int
	peers       []wire.PeerInfo
}

// Resolve looks up identifier against the tracker per mode, requiring
// exactly one match for ByName.
func (e *Engine) Resolve(mode Mode, identifier string) (resolved, error) {
	switch mode {
	case ByName:
		reply, err := e.Tracker.SearchByName(identifier)
		if err != nil {
			return resolved{}, err
		}
		if len(reply.Files) == 0 {
			return resolved{}, ErrNoMatch
		}
		if len(reply.Files) > 1 {
			return resolved{}, ErrAmbiguousName
		}
		f := reply.Files[0]
		return resolved{contentID: f.FileID, filename: f.Filename, totalPieces: f.NumChunks, peers: f.Peers}, nil

	default:
		reply, err := e.Tracker.Query(identifier)
		if err != nil {
			return resolved{}, err
		}
		if reply.Status != wire.StatusSuccess {
			return resolved{}, ErrNoMatch
		}
		return resolved{contentID: identifier, filename: reply.Filename, totalPieces: reply.NumChunks, peers: reply.Peers}, nil
	}
}

// Start resolves identifier, admits the download into the State Manager,
// and runs it to completion synchronously, returning the resolved
// content_id. Callers that want a non-blocking start should invoke this in
// their own goroutine.
func (e *Engine) Start(mode Mode, identifier string) (string, error) {
	target, err := e.Resolve(mode, identifier)
	if err != nil {
		return "", err
	}
	if len(target.peers) == 0 {
		return "", ErrNoPeers
	}

	dir := filepath.Join(e.DownloadDir, target.contentID)

	e.State.AddEntry(&state.ContentEntry{
		ContentID:   target.contentID,
		Filename:    target.filename,
		TotalPieces: target.totalPieces,
		SavePath:    dir,
		Status:      state.StatusDownloading,
	})
	e.Sink.DownloadStarted(target.contentID, target.filename, target.totalPieces)
	// The tracker record carries no per-peer completion state, so every
	// listed remote peer is counted as a seed source and this peer as the
	// one known leecher.
	e.Sink.PeerCountsUpdated(target.contentID, len(target.peers), 1)

	e.registerFlags(target.contentID)

	ok := e.run(target, dir)
	if ok {
		return target.contentID, e.finalize(target, dir)
	}
	return target.contentID, e.fail(target.contentID, "download cancelled or failed")
}

// registerFlags creates fresh, cleared cancel/pause flags for contentID.
func (e *Engine) registerFlags(contentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[contentID] = new(int32)
	e.pauses[contentID] = new(int32)
}

// Pause sets the pause flag for an active download (§4.5 step 4, §5).
func (e *Engine) Pause(contentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if flag, ok := e.pauses[contentID]; ok {
		atomic.StoreInt32(flag, 1)
	}
	_ = e.State.SetStatus(contentID, state.StatusPaused)
}

// Resume clears the pause flag for a download.
func (e *Engine) Resume(contentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if flag, ok := e.pauses[contentID]; ok {
		atomic.StoreInt32(flag, 0)
	}
	_ = e.State.Resume(contentID)
}

// Cancel sets the cancel flag for an active download (§4.5 step 4, §5): the
// engine rejects further worker results and discards in-flight chunks.
func (e *Engine) Cancel(contentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if flag, ok := e.cancels[contentID]; ok {
		atomic.StoreInt32(flag, 1)
	}
}

func (e *Engine) cancelFlag(contentID string) *int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels[contentID]
}

func (e *Engine) pauseFlag(contentID string) *int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauses[contentID]
}

// run schedules up to totalPieces piece tasks on a worker pool bounded by
// MaxParallel (§4.5 step 3) and blocks until every piece is resolved or the
// download is cancelled. It returns false if cancelled or any piece
// ultimately failed.
func (e *Engine) run(target resolved, dir string) bool {
	poolSize := e.MaxParallel
	if target.totalPieces < poolSize {
		poolSize = target.totalPieces
	}
	if poolSize <= 0 {
		poolSize = 1
	}

	pieces := make(chan int, target.totalPieces)
	for i := 0; i < target.totalPieces; i++ {
		pieces <- i
	}
	close(pieces)

	results := make(chan bool, target.totalPieces)
	cancel := e.cancelFlag(target.contentID)
	pause := e.pauseFlag(target.contentID)

	var wg sync.WaitGroup

	for w := 0; w < poolSize; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range pieces {
				for atomic.LoadInt32(pause) == 1 && atomic.LoadInt32(cancel) == 0 {
					time.Sleep(constants.PausePollInterval)
				}
				if atomic.LoadInt32(cancel) == 1 {
					results <- false
					continue
				}

				data, err := fetchPiece(target.contentID, i, target.peers)
				if err != nil {
					results <- false
					continue
				}
				if atomic.LoadInt32(cancel) == 1 {
					// Discard: cancellation rejects further results (§5).
					results <- false
					continue
				}

				if err := content.WritePiece(dir, i, data); err != nil {
					results <- false
					continue
				}
				if err := e.State.MarkPieceComplete(target.contentID, i); err != nil {
					results <- false
					continue
				}

				e.State.AddStats(target.contentID, "", state.DirectionDownload, i, len(data))
				e.Sink.TransferRecorded(state.DirectionDownload, "", target.contentID, i, len(data))

				entry, _ := e.State.Entry(target.contentID)
				e.Sink.DownloadProgress(progressOf(&entry))
				e.Sink.StateChanged(state.Summarize(&entry))

				results <- true
			}
		}()
	}

	wg.Wait()
	close(results)

	allOK := true
	for r := range results {
		if !r {
			allOK = false
		}
	}
	return allOK && atomic.LoadInt32(cancel) == 0
}

// progressOf recomputes elapsed time, average speed, and ETA from the
// entry's current piece count and byte counters (§4.5 step 5). The ETA
// scales the elapsed time by the remaining piece count; pieces are uniform
// in size except possibly the last, so the projection is as accurate as the
// download's speed is steady.
func progressOf(entry *state.ContentEntry) events.Progress {
	completed := len(entry.CompletedPieces)
	elapsed := time.Since(entry.AddedAt)

	var speed float64
	if secs := elapsed.Seconds(); secs > 0 {
		speed = float64(entry.DownloadedBytes) / secs
	}

	var eta time.Duration
	if completed > 0 && completed < entry.TotalPieces {
		remaining := entry.TotalPieces - completed
		eta = time.Duration(float64(elapsed) / float64(completed) * float64(remaining))
	}

	return events.Progress{
		ContentID:       entry.ContentID,
		CompletedPieces: completed,
		TotalPieces:     entry.TotalPieces,
		Elapsed:         elapsed,
		AverageSpeed:    speed,
		ETA:             eta,
	}
}

// fetchPiece iterates a randomly shuffled copy of peers, attempting
// CHUNK_REQUEST against each with a per-attempt deadline, returning the
// first successful body (§4.5 step 3, "Peer selection").
func fetchPiece(contentID string, index int, peers []wire.PeerInfo) ([]byte, error) {
	shuffled := make([]wire.PeerInfo, len(peers))
	copy(shuffled, peers)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for _, peer := range shuffled {
		data, err := requestChunk(peer, contentID, index)
		if err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("downloader: exhausted all peers for piece %d", index)
}

func requestChunk(peer wire.PeerInfo, contentID string, index int) ([]byte, error) {
	addr := net.JoinHostPort(peer.Host, fmt.Sprintf("%d", peer.Port))
	conn, err := net.DialTimeout("tcp", addr, constants.ChunkTransferTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := wire.SendMessage(conn, wire.NewChunkRequestMessage(contentID, index)); err != nil {
		return nil, err
	}

	var reply wire.ChunkResponseMessage
	if err := wire.ReceiveMessage(conn, constants.ChunkTransferTimeout, &reply); err != nil {
		return nil, err
	}
	if reply.Status != wire.StatusSuccess {
		return nil, fmt.Errorf("downloader: peer reported %s for piece %d", reply.Status, index)
	}

	return wire.ReceiveBytes(conn, uint64(reply.ChunkSize), constants.ChunkTransferTimeout)
}

// finalize merges a completed download, records history, and emits
// DownloadCompleted (§4.5 step 6). It does not contact the tracker;
// peer.Peer.Download announces the finished content after Start returns.
func (e *Engine) finalize(target resolved, dir string) error {
	outputPath := filepath.Join(e.DownloadDir, target.filename)
	entry, _ := e.State.Entry(target.contentID)

	if err := content.Merge(dir, outputPath, target.totalPieces); err != nil {
		return e.fail(target.contentID, err.Error())
	}

	totalSize := entry.TotalSize
	if info, err := os.Stat(outputPath); err == nil {
		totalSize = info.Size()
	}

	elapsed := time.Since(entry.AddedAt).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(totalSize) / elapsed
	}

	e.State.RecordHistory(state.HistoryRecord{
		ContentID:    target.contentID,
		Filename:     target.filename,
		TotalSize:    totalSize,
		AverageSpeed: speed,
		Status:       state.HistoryCompleted,
		Progress:     1.0,
		FinishedAt:   time.Now(),
	})
	e.Sink.DownloadCompleted(target.contentID, totalSize, speed)
	e.Sink.PeerCountsUpdated(target.contentID, len(target.peers)+1, 0)
	return nil
}

// fail marks a download failed with its current partial progress (§4.5
// step 6, §7 propagation policy).
func (e *Engine) fail(contentID, reason string) error {
	entry, ok := e.State.Entry(contentID)
	progress := 0.0
	if ok {
		progress = entry.Progress()
	}
	_ = e.State.SetStatus(contentID, state.StatusStopped)
	e.State.RecordHistory(state.HistoryRecord{
		ContentID:  contentID,
		Filename:   entry.Filename,
		TotalSize:  entry.TotalSize,
		Status:     state.HistoryFailed,
		Progress:   progress,
		FinishedAt: time.Now(),
	})
	e.Sink.DownloadFailed(contentID, progress, reason)
	return fmt.Errorf("downloader: %s", reason)
}
