// Package chunkserver implements the Peer Server (§4.4): a TCP listener
// that answers inbound chunk requests for any piece the Chunk Store holds,
// recording an upload statistic for each successful transfer.
package chunkserver

import (
	"log"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/mt-dev/minitorrent/pkg/constants"
	"github.com/mt-dev/minitorrent/pkg/content"
	"github.com/mt-dev/minitorrent/pkg/wire"
)

// logger writes timestamped chunk-server lifecycle lines to stderr.
var logger = log.New(os.Stderr, "chunkserver: ", log.LstdFlags)

// ChunkDirResolver maps a content_id to the directory its chunks live in,
// so the server can stay ignorant of the State Manager's entry schema.
type ChunkDirResolver func(contentID string) (dir string, ok bool)

// StatsRecorder is called once per successfully served chunk.
type StatsRecorder func(peer, contentID string, chunkIndex, bytes int)

// Server accepts inbound peer-to-peer connections and, for each, spawns an
// independent worker that serves at most one CHUNK_REQUEST before closing
// (§4.4). It mirrors the Tracker Registry's Server/Serve/handleConnection
// shape.
type Server struct {
	ResolveDir ChunkDirResolver
	OnUpload   StatsRecorder

	// mu guards running and listener: the accept loop reads them while
	// Stop writes from another goroutine.
	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// NewServer creates a chunk server backed by resolveDir and onUpload.
// onUpload may be nil if no recording is desired.
func NewServer(resolveDir ChunkDirResolver, onUpload StatsRecorder) *Server {
	return &Server{ResolveDir: resolveDir, OnUpload: onUpload}
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
// called. Transient Accept failures are logged and retried while running
// (§4.4).
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

// Stop closes the listening socket; in-flight workers are allowed to drain
// (§4.4).
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

// Addr reports the listener's bound address, or nil if not yet serving.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConnection reads one control message with a 5-second deadline
// (§4.4 step 1), rejects anything other than CHUNK_REQUEST by silently
// closing (step 2), looks up the chunk (step 3), and replies with either
// the chunk body (step 4) or a not_found response (step 5).
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	var req wire.ChunkRequestMessage
	if err := wire.ReceiveMessage(conn, constants.PeerControlTimeout, &req); err != nil {
		return
	}
	if req.Type != wire.TypeChunkRequest {
		return
	}

	dir, ok := s.ResolveDir(req.FileID)
	if !ok {
		s.replyNotFound(conn, req)
		return
	}

	data, err := content.ReadPiece(dir, req.ChunkIndex)
	if err != nil {
		s.replyNotFound(conn, req)
		return
	}

	reply := wire.ChunkResponseMessage{
		Type:       wire.TypeChunkResponse,
		FileID:     req.FileID,
		ChunkIndex: req.ChunkIndex,
		ChunkSize:  len(data),
		Status:     wire.StatusSuccess,
	}
	if err := wire.SendMessage(conn, reply); err != nil {
		return
	}
	if err := wire.SendBytes(conn, data); err != nil {
		return
	}

	if s.OnUpload != nil {
		s.OnUpload(peerAddr(conn), req.FileID, req.ChunkIndex, len(data))
	}
}

func (s *Server) replyNotFound(conn net.Conn, req wire.ChunkRequestMessage) {
	reply := wire.ChunkResponseMessage{
		Type:       wire.TypeChunkResponse,
		FileID:     req.FileID,
		ChunkIndex: req.ChunkIndex,
		ChunkSize:  0,
		Status:     wire.StatusNotFound,
	}
	_ = wire.SendMessage(conn, reply)
}

// peerAddr formats the remote address for statistics tagging (§4.4: "tagged
// by peer address"). Falling back to the raw string form keeps this
// resilient to non-TCP net.Conn implementations used in tests.
func peerAddr(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return net.JoinHostPort(tcpAddr.IP.String(), strconv.Itoa(tcpAddr.Port))
	}
	return addr.String()
}
