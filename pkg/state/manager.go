package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mt-dev/minitorrent/pkg/constants"
	"github.com/mt-dev/minitorrent/pkg/identity"
)

// stateFileName is the durable document's filename within the data directory.
const stateFileName = "state.json"

// Manager is the single per-peer instance of the State Manager (§4.6). All
// reads and mutations go through its guarded API; every mutation sets the
// dirty flag that the background auto-save task checks on each wake.
type Manager struct {
	mu       sync.Mutex
	doc      *Document
	path     string
	dirty    bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Load reads the durable document from dataDir, creating it (along with a
// freshly generated peer identity) if this is the first run. A corrupted
// state file is treated as StateLoadFailed: the manager reinitializes and
// continues rather than refusing to start (§7, §9).
func Load(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("state: failed to create data directory: %w", err)
	}

	peerID, err := identity.LoadOrCreate(dataDir)
	if err != nil {
		return nil, fmt.Errorf("state: failed to load peer identity: %w", err)
	}

	path := filepath.Join(dataDir, stateFileName)
	doc, loadErr := loadDocument(path)
	if loadErr != nil {
		// StateLoadFailed (§7): reinitialize rather than fail the boot.
		doc = NewDocument(peerID)
	} else if doc.PeerMetadata.PeerID == "" {
		doc.PeerMetadata.PeerID = peerID
	}

	m := &Manager{doc: doc, path: path}
	if loadErr != nil {
		m.dirty = true
	}
	return m, nil
}

func loadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.ContentEntries == nil {
		doc.ContentEntries = make(map[string]*ContentEntry)
	}
	return &doc, nil
}

// Save serializes the document to <path>.tmp and renames it over path, so
// no reader ever observes a partially written file (I4). It always writes,
// regardless of the dirty flag; callers that want the dirty-gated behavior
// should use the auto-save loop or check IsDirty themselves.
func (m *Manager) Save() error {
	m.mu.Lock()
	data, err := json.MarshalIndent(m.doc, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("state: failed to marshal document: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("state: failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("state: failed to rename temp file into place: %w", err)
	}

	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()
	return nil
}

// StartAutoSave launches the background save task (§4.6): it sleeps for
// interval, then snapshots the dirty flag and saves only if set. It runs
// until Shutdown is called.
func (m *Manager) StartAutoSave(interval time.Duration) {
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if m.IsDirty() {
					if err := m.Save(); err != nil {
						// A failed auto-save is recovered locally: the dirty
						// flag stays set and the next tick retries (§7).
						m.mu.Lock()
						m.dirty = true
						m.mu.Unlock()
					}
				}
			}
		}
	}()
}

// Shutdown stops the background auto-save task and performs a final save
// if the document is dirty (§4.6).
func (m *Manager) Shutdown() error {
	m.stopOnce.Do(func() {
		if m.stopCh != nil {
			close(m.stopCh)
			<-m.doneCh
		}
	})
	if m.IsDirty() {
		return m.Save()
	}
	return nil
}

// IsDirty reports whether the document has unsaved mutations.
func (m *Manager) IsDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// PeerID returns the process-wide persisted peer identity.
func (m *Manager) PeerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.PeerMetadata.PeerID
}

// LastBoundPort returns the port recorded from the previous successful bind,
// or 0 if none is recorded (§4.6 port reuse).
func (m *Manager) LastBoundPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.PeerMetadata.LastBoundPort
}

// SetLastBoundPort persists the port the Peer Server successfully bound, so
// the next start attempts it first (§4.6).
func (m *Manager) SetLastBoundPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.PeerMetadata.LastBoundPort = port
	m.dirty = true
}

// AddEntry registers a new content entry. If an entry with the same
// ContentID already exists it is replaced, matching the create-on-publish
// or create-on-download-start lifecycle (§3).
func (m *Manager) AddEntry(entry *ContentEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if entry.AddedAt.IsZero() {
		entry.AddedAt = now
	}
	entry.LastActive = now
	m.doc.ContentEntries[entry.ContentID] = entry
	m.dirty = true
}

// RemoveEntry deletes a content entry; the caller is responsible for
// cascading tracker deregistration and chunk deletion (§3).
func (m *Manager) RemoveEntry(contentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.doc.ContentEntries, contentID)
	m.dirty = true
}

// SetStatus transitions a content entry's status (§4.6 state machine). When
// transitioning to paused, the entry's prior status is remembered so a
// later resume can restore it.
func (m *Manager) SetStatus(contentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.doc.ContentEntries[contentID]
	if !ok {
		return fmt.Errorf("state: unknown content_id %q", contentID)
	}
	if status == StatusPaused && entry.Status != StatusPaused {
		entry.pausedFrom = entry.Status
	}
	entry.Status = status
	entry.LastActive = time.Now()
	m.dirty = true
	return nil
}

// Resume restores a paused entry to the status it held before pausing.
func (m *Manager) Resume(contentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.doc.ContentEntries[contentID]
	if !ok {
		return fmt.Errorf("state: unknown content_id %q", contentID)
	}
	if entry.pausedFrom != "" {
		entry.Status = entry.pausedFrom
		entry.pausedFrom = ""
	}
	entry.LastActive = time.Now()
	m.dirty = true
	return nil
}

// MarkPieceComplete records piece i as present for contentID (I2) and, if
// this completion brings the entry from fewer than TotalPieces to exactly
// TotalPieces, transitions it to seeding and stamps CompletedAt (I3).
func (m *Manager) MarkPieceComplete(contentID string, i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.doc.ContentEntries[contentID]
	if !ok {
		return fmt.Errorf("state: unknown content_id %q", contentID)
	}

	becameSeeder := entry.addPiece(i)
	entry.LastActive = time.Now()
	if becameSeeder {
		entry.Status = StatusSeeding
		entry.CompletedAt = time.Now()
	}
	m.dirty = true
	return nil
}

// AddStats accumulates per-entry downloaded/uploaded byte counters (durable
// across sessions, resolving the Design Notes' open question, §9) and
// records the transfer in the session-level rolling log.
func (m *Manager) AddStats(contentID, peer string, direction string, chunkIndex, bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.doc.ContentEntries[contentID]; ok {
		switch direction {
		case DirectionDownload:
			entry.DownloadedBytes += int64(bytes)
		case DirectionUpload:
			entry.UploadedBytes += int64(bytes)
		}
		entry.LastActive = time.Now()
	}

	m.doc.Statistics.record(TransferRecord{
		Direction:  direction,
		Peer:       peer,
		ContentID:  contentID,
		ChunkIndex: chunkIndex,
		Bytes:      bytes,
		At:         time.Now(),
	})
	m.dirty = true
}

// RecordHistory appends rec to the download history (§4.5).
func (m *Manager) RecordHistory(rec HistoryRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.DownloadHistory = append(m.doc.DownloadHistory, rec)
	m.dirty = true
}

// Entry returns a copy of the entry for contentID. CompletedPieces is copied
// as well, so changes to the result never reach the stored entry.
func (m *Manager) Entry(contentID string) (ContentEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.doc.ContentEntries[contentID]
	if !ok {
		return ContentEntry{}, false
	}
	return copyEntry(entry), true
}

// Entries returns a snapshot Summary for every content entry (§6 observer
// contract); the snapshot is copied out under the lock so the caller can
// inspect it without racing future mutations.
func (m *Manager) Entries() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.doc.ContentEntries))
	for _, entry := range m.doc.ContentEntries {
		out = append(out, Summarize(entry))
	}
	return out
}

// History returns a copy of the download history in insertion order.
func (m *Manager) History() []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryRecord, len(m.doc.DownloadHistory))
	copy(out, m.doc.DownloadHistory)
	return out
}

// StatisticsSnapshot returns a copy of the session-level statistics block.
func (m *Manager) StatisticsSnapshot() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	recent := make([]TransferRecord, len(m.doc.Statistics.RecentTransfers))
	copy(recent, m.doc.Statistics.RecentTransfers)
	return Statistics{
		TotalUploadedBytes:   m.doc.Statistics.TotalUploadedBytes,
		TotalDownloadedBytes: m.doc.Statistics.TotalDownloadedBytes,
		RecentTransfers:      recent,
	}
}

func copyEntry(e *ContentEntry) ContentEntry {
	cp := *e
	cp.CompletedPieces = make([]int, len(e.CompletedPieces))
	copy(cp.CompletedPieces, e.CompletedPieces)
	return cp
}

// DefaultAutoSaveInterval is the interval StartAutoSave should be called
// with absent an explicit configuration override (§4.6, §6).
const DefaultAutoSaveInterval = constants.DefaultAutoSaveInterval
