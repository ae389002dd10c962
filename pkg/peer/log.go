package peer

import (
	"log"
	"os"
)

// logger writes timestamped peer lifecycle lines to stderr: listener bound,
// publish, download completion, shutdown. Per-chunk traffic is reported through the
// events.Sink observer contract instead, never logged here.
var logger = log.New(os.Stderr, "peer: ", log.LstdFlags)
