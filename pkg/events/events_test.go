package events

import (
	"testing"

	"github.com/mt-dev/minitorrent/pkg/state"
)

type recordingSink struct {
	NopSink
	started []string
}

func (r *recordingSink) DownloadStarted(contentID, filename string, totalPieces int) {
	r.started = append(r.started, contentID)
}

func TestMultiFansOutToEverySink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := Multi{a, b}

	m.DownloadStarted("abcd", "file.bin", 4)

	if len(a.started) != 1 || a.started[0] != "abcd" {
		t.Fatalf("sink a did not receive event: %+v", a.started)
	}
	if len(b.started) != 1 || b.started[0] != "abcd" {
		t.Fatalf("sink b did not receive event: %+v", b.started)
	}
}

func TestNilMultiIsNoop(t *testing.T) {
	var m Multi
	m.StateChanged(state.Summary{ContentID: "x"})
	m.DownloadFailed("x", 0.5, "timeout")
}

func TestNopSinkSatisfiesInterface(t *testing.T) {
	var s Sink = NopSink{}
	s.PeerCountsUpdated("x", 1, 2)
}
