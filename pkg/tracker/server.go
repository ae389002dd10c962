package tracker

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/mt-dev/minitorrent/pkg/constants"
	"github.com/mt-dev/minitorrent/pkg/wire"
)

// Server accepts tracker connections and dispatches each to its own worker
// goroutine; the per-connection loop is read-message → dispatch → send-reply
// until the peer closes (§4.2). The running flag and listener are guarded by
// mu: the accept loop reads them while Stop writes from another goroutine.
type Server struct {
	Registry *Registry

	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// NewServer creates a tracker server backed by registry.
func NewServer(registry *Registry) *Server {
	return &Server{Registry: registry}
}

// ListenAndServe binds addr and serves connections until Stop is called.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections off an already-bound listener until Stop is
// called. Transient Accept failures are logged and retried while the
// server's running flag is set (§4.4, applied here to the tracker's own
// listener).
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	for s.isRunning() {
		conn, err := listener.Accept()
		if err != nil {
			if !s.isRunning() {
				return nil
			}
			logger.Printf("accept failed: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
	return nil
}

// Stop closes the listening socket; in-flight connection workers are
// allowed to drain on their own.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.running = false
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		return listener.Close()
	}
	return nil
}

func (s *Server) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// handleConnection reads one message at a time off conn, dispatches it, and
// writes the reply, until the connection closes or a framing error occurs.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	for {
		var envelope wire.Envelope
		raw, err := readRawMessage(conn)
		if err != nil {
			// Framing/JSON malformed, or the peer closed: either way we stop
			// servicing this connection without mutating any state. A
			// malformed frame first gets a best-effort error reply (§4.2).
			if !wire.IsClosedByPeer(err) && !wire.IsTimeout(err) {
				_ = wire.SendMessage(conn, wire.TrackerReply{Status: wire.StatusError, Message: "malformed message"})
			}
			return
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			_ = wire.SendMessage(conn, wire.TrackerReply{Status: wire.StatusError, Message: "malformed message"})
			return
		}

		reply, ok := s.dispatch(envelope.Type, raw)
		if !ok {
			return
		}
		if err := wire.SendMessage(conn, reply); err != nil {
			return
		}
	}
}

// readRawMessage reads one framed message and returns its raw JSON payload
// so the dispatcher can unmarshal it twice (once for the type tag, once for
// the concrete message).
func readRawMessage(conn net.Conn) ([]byte, error) {
	var raw json.RawMessage
	if err := wire.ReceiveMessage(conn, constants.TrackerControlTimeout, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// dispatch routes a decoded message to its handler. The bool return reports
// whether the connection should continue (false means close, mirroring the
// "malformed JSON closes the connection after a best-effort error reply"
// failure semantics of §4.2).
func (s *Server) dispatch(msgType string, raw []byte) (interface{}, bool) {
	switch msgType {
	case wire.TypeRegister:
		return s.handleRegister(raw), true
	case wire.TypeQuery:
		return s.handleQuery(raw), true
	case wire.TypeUnregister:
		return s.handleUnregister(raw), true
	case wire.TypeSearchByName:
		return s.handleSearchByName(raw), true
	case wire.TypeAnnounce:
		return s.handleAnnounce(raw), true
	default:
		return wire.TrackerReply{Status: wire.StatusError, Message: "unknown message type: " + msgType}, true
	}
}

func (s *Server) handleRegister(raw []byte) wire.TrackerReply {
	var msg wire.RegisterMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wire.TrackerReply{Status: wire.StatusError, Message: "malformed REGISTER"}
	}
	if msg.FileID == "" || msg.PeerID == "" || msg.Host == "" {
		return wire.TrackerReply{Status: wire.StatusError, Message: "missing required field"}
	}

	s.Registry.Register(msg.FileID, msg.Filename, msg.NumChunks, wire.PeerInfo{
		Host:   msg.Host,
		Port:   msg.Port,
		PeerID: msg.PeerID,
	})
	return wire.TrackerReply{Status: wire.StatusSuccess, FileID: msg.FileID}
}

func (s *Server) handleQuery(raw []byte) wire.TrackerReply {
	var msg wire.QueryMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wire.TrackerReply{Status: wire.StatusError, Message: "malformed QUERY"}
	}
	if msg.FileID == "" {
		return wire.TrackerReply{Status: wire.StatusError, Message: "missing required field", Peers: []wire.PeerInfo{}}
	}

	rec, ok := s.Registry.Query(msg.FileID)
	if !ok {
		return wire.TrackerReply{Status: wire.StatusError, Peers: []wire.PeerInfo{}}
	}
	return wire.TrackerReply{
		Status:    wire.StatusSuccess,
		FileID:    rec.FileID,
		Filename:  rec.Filename,
		NumChunks: rec.NumChunks,
		Peers:     rec.Peers,
	}
}

func (s *Server) handleUnregister(raw []byte) wire.TrackerReply {
	var msg wire.UnregisterMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wire.TrackerReply{Status: wire.StatusError, Message: "malformed UNREGISTER"}
	}
	if msg.FileID == "" || msg.PeerID == "" {
		return wire.TrackerReply{Status: wire.StatusError, Message: "missing required field"}
	}

	if s.Registry.Unregister(msg.FileID, msg.PeerID) {
		return wire.TrackerReply{Status: wire.StatusSuccess, FileID: msg.FileID}
	}
	return wire.TrackerReply{Status: wire.StatusError, Message: "peer not registered"}
}

// handleSearchByName returns a wire.SearchReply; per §4.2 and the Design
// Notes, an empty match list is reported as status:"error" with files:[] —
// this is wire-compatible with the source but readers should treat
// Files being empty as authoritative, not Status.
func (s *Server) handleSearchByName(raw []byte) wire.SearchReply {
	var msg wire.SearchByNameMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wire.SearchReply{Status: wire.StatusError, Files: []wire.SearchResult{}}
	}
	if msg.Filename == "" {
		return wire.SearchReply{Status: wire.StatusError, Files: []wire.SearchResult{}}
	}

	matches := s.Registry.SearchByName(msg.Filename)
	if len(matches) == 0 {
		return wire.SearchReply{Status: wire.StatusError, Files: []wire.SearchResult{}}
	}

	results := make([]wire.SearchResult, len(matches))
	for i, rec := range matches {
		results[i] = wire.SearchResult{
			FileID:    rec.FileID,
			Filename:  rec.Filename,
			NumChunks: rec.NumChunks,
			Peers:     rec.Peers,
		}
	}
	return wire.SearchReply{Status: wire.StatusSuccess, Files: results}
}

func (s *Server) handleAnnounce(raw []byte) wire.TrackerReply {
	var msg wire.AnnounceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wire.TrackerReply{Status: wire.StatusError, Message: "malformed ANNOUNCE"}
	}
	if msg.InfoHash == "" || msg.PeerID == "" {
		return wire.TrackerReply{Status: wire.StatusError, Message: "missing required field"}
	}

	switch msg.Event {
	case wire.EventStarted:
		if msg.Host == "" {
			return wire.TrackerReply{Status: wire.StatusError, Message: "missing host for started announce"}
		}
		s.Registry.Register(msg.InfoHash, msg.Filename, msg.NumChunks, wire.PeerInfo{
			Host:   msg.Host,
			Port:   msg.Port,
			PeerID: msg.PeerID,
		})
		return wire.TrackerReply{Status: wire.StatusSuccess, FileID: msg.InfoHash}

	case wire.EventStopped:
		// Equivalent to UNREGISTER, but always reports success even when
		// the peer was never registered (§4.2).
		s.Registry.Unregister(msg.InfoHash, msg.PeerID)
		return wire.TrackerReply{Status: wire.StatusSuccess, FileID: msg.InfoHash}

	case wire.EventCompleted:
		// Advisory only; no state change (§4.2).
		return wire.TrackerReply{Status: wire.StatusSuccess, FileID: msg.InfoHash}

	default:
		return wire.TrackerReply{Status: wire.StatusError, Message: "unknown announce event: " + msg.Event}
	}
}

// StartSweeper launches a background goroutine that evicts peers whose last
// announce is older than maxAge, once per interval, until stop is closed.
// This is the additive eviction policy from the Design Notes (§9); trackers
// that never call this method retain every peer until explicit unregister.
func (s *Server) StartSweeper(interval, maxAge time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Registry.Sweep(maxAge)
			}
		}
	}()
}
