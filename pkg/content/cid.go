// Package content implements the Chunk Store (§4.3): content identifier
// derivation and the filesystem layer that splits a source file into
// fixed-size chunks, reads/writes individual chunks, and reassembles them
// back into a file. The store performs no hashing of individual chunks;
// correctness rests on the single-writer discipline of the Download Engine
// and publisher (§4.3).
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/mt-dev/minitorrent/pkg/constants"
)

// ComputeFullID hashes the entire file at path with SHA-256 and returns the
// full 64-character hex digest. Per the Design Notes (§9), an implementer
// should prefer the full hash for the identifier used internally, even
// though the wire protocol carries the 16-character truncated form for
// compatibility (I5).
func ComputeFullID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", NewIoError("failed to open file for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", NewIoError("failed to hash file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeID hashes the file at path and returns the wire-level content_id:
// the first ContentIDHexLength characters of the full SHA-256 hex digest.
func ComputeID(path string) (string, error) {
	full, err := ComputeFullID(path)
	if err != nil {
		return "", err
	}
	return TruncateID(full), nil
}

// TruncateID truncates a full hex digest to the wire-level content_id length.
func TruncateID(fullHex string) string {
	if len(fullHex) <= constants.ContentIDHexLength {
		return fullHex
	}
	return fullHex[:constants.ContentIDHexLength]
}
