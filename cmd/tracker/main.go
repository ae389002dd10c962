// Package main implements the Tracker Registry CLI as specified in §4.2.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/mt-dev/minitorrent/pkg/constants"
	"github.com/mt-dev/minitorrent/pkg/tracker"
)

// Build-time variables set by ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		runServe(os.Args[1:])
		return
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "serve":
		runServe(os.Args[2:])
	default:
		// No subcommand recognized: fall back to serving, so plain flags
		// like "minitorrent-tracker --port 7000" still work.
		runServe(os.Args[1:])
	}
}

func runServe(args []string) {
	port := constants.DefaultTrackerPort
	sweepInterval := 0 * time.Second

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--port", "-p":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "minitorrent-tracker: --port requires a value")
				os.Exit(1)
			}
			i++
			p, err := strconv.Atoi(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "minitorrent-tracker: invalid port %q\n", args[i])
				os.Exit(1)
			}
			port = p
		case "--sweep":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "minitorrent-tracker: --sweep requires a duration")
				os.Exit(1)
			}
			i++
			d, err := time.ParseDuration(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "minitorrent-tracker: invalid sweep duration %q\n", args[i])
				os.Exit(1)
			}
			sweepInterval = d
		}
	}

	registry := tracker.NewRegistry()
	srv := tracker.NewServer(registry)

	addr := net.JoinHostPort("", strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("minitorrent-tracker: failed to bind %s: %v", addr, err)
	}

	if sweepInterval > 0 {
		go runSweeper(registry, sweepInterval)
	}
	go runStatusLogger(registry, time.Minute)

	log.Printf("minitorrent-tracker %s listening on %s", version, listener.Addr())
	if err := srv.Serve(listener); err != nil {
		log.Fatalf("minitorrent-tracker: serve failed: %v", err)
	}
}

// runSweeper periodically evicts peers that stopped announcing without ever
// sending a "stopped" event, per the optional eviction policy (§9).
func runSweeper(registry *tracker.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if evicted := registry.Sweep(interval); evicted > 0 {
			log.Printf("minitorrent-tracker: swept %d stale peer(s)", evicted)
		}
	}
}

// runStatusLogger emits a registry summary once per interval.
func runStatusLogger(registry *tracker.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s := registry.Stats()
		log.Printf("minitorrent-tracker: tracking %d file(s), %d peer(s)", s.TotalFiles, s.TotalPeers)
	}
}

func printVersion() {
	fmt.Printf("minitorrent-tracker %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
}

func printUsage() {
	fmt.Printf(`minitorrent-tracker v%s - content discovery tracker

Usage:
  minitorrent-tracker [serve] [options]

Options:
  --port, -p <n>     Listen port (default %d)
  --sweep <duration>  Evict peers silent for longer than duration (e.g. 10m); disabled by default

Commands:
  serve     Run the tracker (default if no command given)
  version   Show version information
  help      Show this help message
`, version, constants.DefaultTrackerPort)
}
