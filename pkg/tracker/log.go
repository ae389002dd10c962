package tracker

import (
	"log"
	"os"
)

// logger writes timestamped tracker lifecycle lines to stderr (accept
// failures), never one per message handled.
var logger = log.New(os.Stderr, "tracker: ", log.LstdFlags)
