package content

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mt-dev/minitorrent/pkg/constants"
)

func TestComputeIDIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	id1, err := ComputeID(path)
	if err != nil {
		t.Fatalf("ComputeID failed: %v", err)
	}
	id2, err := ComputeID(path)
	if err != nil {
		t.Fatalf("ComputeID failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ComputeID not deterministic: %q != %q", id1, id2)
	}
	if len(id1) != constants.ContentIDHexLength {
		t.Errorf("expected length %d, got %d", constants.ContentIDHexLength, len(id1))
	}
}

func TestComputeIDDiffersForDifferentContent(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.bin")
	pathB := filepath.Join(dir, "b.bin")
	os.WriteFile(pathA, []byte("content A"), 0644)
	os.WriteFile(pathB, []byte("content B"), 0644)

	idA, err := ComputeID(pathA)
	if err != nil {
		t.Fatalf("ComputeID failed: %v", err)
	}
	idB, err := ComputeID(pathB)
	if err != nil {
		t.Fatalf("ComputeID failed: %v", err)
	}
	if idA == idB {
		t.Error("expected different content ids for different content")
	}
}

func TestTruncateID(t *testing.T) {
	full := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	short := TruncateID(full)
	if len(short) != constants.ContentIDHexLength {
		t.Errorf("expected length %d, got %d", constants.ContentIDHexLength, len(short))
	}
	if short != full[:constants.ContentIDHexLength] {
		t.Errorf("expected prefix of full hash, got %q", short)
	}
}
