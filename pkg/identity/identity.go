// Package identity manages the peer's process-wide persistent identifier,
// as specified in §3. A Peer Identity is a 20-character string shaped
// "-MT0001-" followed by 12 random hex characters, generated once per data
// directory and never rewritten; its lifetime is the data directory's
// lifetime.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"

	"github.com/mt-dev/minitorrent/pkg/constants"
)

// randomHexSuffixLen is the number of random hex characters following the
// prefix; PeerIDPrefix (8 chars) + randomHexSuffixLen (12 chars) = PeerIDLength (20).
const randomHexSuffixLen = constants.PeerIDLength - len(constants.PeerIDPrefix)

// Generate produces a fresh peer identity string shaped
// "-MT0001-" + 12 random hex characters. The suffix is the hex encoding of
// a BLAKE3 digest of fresh entropy salted with dataDir, the same
// hash-entropy-then-truncate shape the teacher uses to derive its honeytag
// token, rather than hex-encoding the raw random bytes directly.
func Generate(dataDir string) (string, error) {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("identity: failed to generate random suffix: %w", err)
	}

	hasher := blake3.New(32, nil)
	hasher.Write(entropy)
	hasher.Write([]byte(dataDir))
	digest := hasher.Sum(nil)

	suffix := hex.EncodeToString(digest)[:randomHexSuffixLen]
	return constants.PeerIDPrefix + suffix, nil
}

// Validate reports whether id has the correct shape for a peer identity.
func Validate(id string) bool {
	if len(id) != constants.PeerIDLength {
		return false
	}
	if !strings.HasPrefix(id, constants.PeerIDPrefix) {
		return false
	}
	suffix := id[len(constants.PeerIDPrefix):]
	_, err := hex.DecodeString(padOddHex(suffix))
	return err == nil
}

// padOddHex pads an odd-length hex string with a trailing zero so it can be
// hex-decoded for validation; this does not change the string's identity,
// only lets us reuse hex.DecodeString as a character-class check.
func padOddHex(s string) string {
	if len(s)%2 == 1 {
		return s + "0"
	}
	return s
}

// LoadOrCreate reads the persisted peer identity from <dataDir>/peer_id.txt,
// creating one if the file does not yet exist. The returned identity is
// stable for the lifetime of dataDir (§3).
func LoadOrCreate(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "peer_id.txt")

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if Validate(id) {
			return id, nil
		}
		// Fall through and regenerate: a corrupted identity file is treated
		// like a missing one rather than a fatal error.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("identity: failed to read %s: %w", path, err)
	}

	id, err := Generate(dataDir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("identity: failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0644); err != nil {
		return "", fmt.Errorf("identity: failed to write %s: %w", path, err)
	}
	return id, nil
}
