// Package wire implements the framed JSON control protocol shared by every
// network boundary in the system (peer→tracker, peer→peer), as specified in
// §4.1 and §6. Every frame is an 8-byte big-endian length prefix followed by
// that many bytes of UTF-8 JSON; chunk bodies that follow a CHUNK_RESPONSE
// are raw bytes with no prefix of their own, their length is carried in the
// preceding control message.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// lengthPrefixSize is the width, in bytes, of the big-endian frame header.
const lengthPrefixSize = 8

// MaxFrameSize bounds a single control-message payload. It exists only to
// keep a malformed peer from making us allocate an unbounded buffer; it is
// far larger than any REGISTER/QUERY/ANNOUNCE payload the protocol defines.
const MaxFrameSize = 16 * 1024 * 1024

// SendMessage writes v as one length-prefixed JSON frame. The prefix and
// payload are written as a single buffer so that a partial write can never
// leave the stream framed incorrectly for the next message.
func SendMessage(conn net.Conn, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return NewProtocolError("failed to marshal message", err)
	}

	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.BigEndian.PutUint64(buf[:lengthPrefixSize], uint64(len(payload)))
	copy(buf[lengthPrefixSize:], payload)

	if _, err := conn.Write(buf); err != nil {
		return NewProtocolError("failed to write frame", err)
	}
	return nil
}

// ReceiveMessage reads exactly one length-prefixed JSON frame and decodes it
// into v. A non-zero timeout sets the connection's read deadline for the
// duration of the call; a zero timeout leaves any previously set deadline
// untouched.
func ReceiveMessage(conn net.Conn, timeout time.Duration, v interface{}) error {
	if timeout > 0 {
		// SetReadDeadline fails only on a connection that is already closed;
		// the read below then fails too and reports which side closed it
		// (EOF from a peer close classifies as ClosedByPeer).
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}

	header := make([]byte, lengthPrefixSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return classifyReadError(err, "failed to read frame length")
	}

	length := binary.BigEndian.Uint64(header)
	if length > MaxFrameSize {
		return NewProtocolError(fmt.Sprintf("frame length %d exceeds maximum %d", length, MaxFrameSize), nil)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return classifyReadError(err, "failed to read frame payload")
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return NewProtocolError("failed to unmarshal frame payload", err)
	}
	return nil
}

// SendBytes writes exactly len(buf) raw bytes with no length prefix of its
// own. Used for chunk bodies, whose length is announced by the preceding
// CHUNK_RESPONSE control message (§4.1, a protocol invariant).
func SendBytes(conn net.Conn, buf []byte) error {
	if _, err := conn.Write(buf); err != nil {
		return NewProtocolError("failed to write chunk body", err)
	}
	return nil
}

// ReceiveBytes reads exactly n raw bytes with no length prefix, honoring an
// optional per-call read deadline.
func ReceiveBytes(conn net.Conn, n uint64, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, NewProtocolError("failed to set read deadline", err)
		}
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, classifyReadError(err, "failed to read chunk body")
	}
	return buf, nil
}

// classifyReadError maps the stdlib's distinct EOF/deadline/I-O failures
// onto the wire error taxonomy so callers can branch on Code rather than on
// net.Error or io.EOF directly.
func classifyReadError(err error, message string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return NewClosedByPeerError(message, err)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return NewTimeoutError(message, err)
	}
	return NewProtocolError(message, err)
}
