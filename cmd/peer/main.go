// Package main implements the Peer CLI as specified in §2 and §4.5.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mt-dev/minitorrent/pkg/constants"
	"github.com/mt-dev/minitorrent/pkg/downloader"
	"github.com/mt-dev/minitorrent/pkg/events"
	"github.com/mt-dev/minitorrent/pkg/peer"
)

// Build-time variables set by ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "serve":
		runServe(args)
	case "publish":
		runPublish(args)
	case "download":
		runDownload(args)
	case "list":
		runList(args)
	case "status":
		runStatus(args)
	case "remove":
		runRemove(args)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// consoleSink prints a running line per observer-visible event (§6); it is
// the CLI's presentation layer and otherwise has no bearing on the core.
type consoleSink struct{ events.NopSink }

func (consoleSink) DownloadStarted(contentID, filename string, totalPieces int) {
	fmt.Printf("downloading %s (%s, %d pieces)\n", filename, contentID, totalPieces)
}

func (consoleSink) DownloadProgress(p events.Progress) {
	fmt.Printf("\r%s: %d/%d pieces, %s/s, ETA %s", p.ContentID, p.CompletedPieces, p.TotalPieces,
		humanize.Bytes(uint64(p.AverageSpeed)), p.ETA.Round(time.Second))
}

func (consoleSink) DownloadCompleted(contentID string, totalSize int64, averageSpeed float64) {
	fmt.Printf("\n%s: done, %s at %s/s\n", contentID, humanize.Bytes(uint64(totalSize)), humanize.Bytes(uint64(averageSpeed)))
}

func (consoleSink) DownloadFailed(contentID string, progress float64, reason string) {
	fmt.Printf("\n%s: failed at %.0f%%: %s\n", contentID, progress*100, reason)
}

var _ events.Sink = consoleSink{}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".minitorrent"
	}
	return filepath.Join(home, ".minitorrent")
}

func bootFromArgs(args []string) (*peer.Peer, []string) {
	cfg := peer.DefaultConfig(defaultDataDir())
	var rest []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--data-dir":
			i++
			if i < len(args) {
				cfg.DataDir = args[i]
			}
		case "--config":
			i++
			if i < len(args) {
				loaded, err := peer.LoadConfig(args[i], cfg.DataDir)
				if err != nil {
					fmt.Fprintf(os.Stderr, "minitorrent-peer: %v\n", err)
					os.Exit(1)
				}
				cfg = loaded
			}
		case "--tracker":
			i++
			if i < len(args) {
				host, portStr, err := splitHostPort(args[i])
				if err == nil {
					cfg.TrackerHost = host
					if p, err := strconv.Atoi(portStr); err == nil {
						cfg.TrackerPort = p
					}
				}
			}
		default:
			rest = append(rest, args[i])
		}
	}

	p, err := peer.Boot(cfg, consoleSink{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "minitorrent-peer: boot failed: %v\n", err)
		os.Exit(1)
	}
	return p, rest
}

func splitHostPort(s string) (string, string, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("minitorrent-peer: %q is not host:port", s)
}

func runServe(args []string) {
	p, _ := bootFromArgs(args)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	fmt.Printf("minitorrent-peer %s serving as %s\n", version, p.State.PeerID())
	<-sig

	fmt.Println("shutting down...")
	if err := p.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "minitorrent-peer: shutdown error: %v\n", err)
		os.Exit(1)
	}
}

func runPublish(args []string) {
	p, rest := bootFromArgs(args)
	defer p.Shutdown()

	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "minitorrent-peer: publish requires a file path")
		os.Exit(1)
	}

	contentID, err := p.Publish(rest[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "minitorrent-peer: publish failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("published %s as content_id %s\n", rest[0], contentID)
}

func runDownload(args []string) {
	p, rest := bootFromArgs(args)
	defer p.Shutdown()

	mode := downloader.ByID
	var identifier string
	for _, a := range rest {
		if a == "--by-name" {
			mode = downloader.ByName
			continue
		}
		identifier = a
	}
	if identifier == "" {
		fmt.Fprintln(os.Stderr, "minitorrent-peer: download requires a content_id or, with --by-name, a filename")
		os.Exit(1)
	}

	if err := p.Download(mode, identifier); err != nil {
		fmt.Fprintf(os.Stderr, "minitorrent-peer: download failed: %v\n", err)
		os.Exit(1)
	}
}

func runList(args []string) {
	p, _ := bootFromArgs(args)
	defer p.Shutdown()

	entries := p.State.Entries()
	if len(entries) == 0 {
		fmt.Println("no content entries")
		return
	}
	for _, e := range entries {
		age := time.Since(e.AddedAt).Round(time.Second)
		fmt.Printf("%-16s %-24s %-6s %-8s %5.1f%%  %s  added %s ago\n",
			e.ContentID, e.Filename, e.Role, e.Status, e.Progress*100, humanize.Bytes(uint64(e.TotalSize)), age)
	}
}

func runStatus(args []string) {
	p, _ := bootFromArgs(args)
	defer p.Shutdown()

	entries := p.State.Entries()
	if len(entries) == 0 {
		fmt.Println("no content entries")
	}
	for _, e := range entries {
		fmt.Printf("%-16s %-24s %-6s %-8s %5.1f%%  down %s  up %s  active %s\n",
			e.ContentID, e.Filename, e.Role, e.Status, e.Progress*100,
			humanize.Bytes(uint64(e.DownloadedBytes)), humanize.Bytes(uint64(e.UploadedBytes)),
			humanize.Time(e.LastActive))
	}

	stats := p.State.StatisticsSnapshot()
	fmt.Printf("session totals: %s down, %s up\n",
		humanize.Bytes(uint64(stats.TotalDownloadedBytes)), humanize.Bytes(uint64(stats.TotalUploadedBytes)))

	for _, h := range p.State.History() {
		fmt.Printf("history: %-24s %-9s %5.1f%%  %s at %s/s  finished %s\n",
			h.Filename, h.Status, h.Progress*100, humanize.Bytes(uint64(h.TotalSize)),
			humanize.Bytes(uint64(h.AverageSpeed)), humanize.Time(h.FinishedAt))
	}
}

func runRemove(args []string) {
	p, rest := bootFromArgs(args)
	defer p.Shutdown()

	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "minitorrent-peer: remove requires a content_id")
		os.Exit(1)
	}
	if err := p.Remove(rest[0]); err != nil {
		fmt.Fprintf(os.Stderr, "minitorrent-peer: remove failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("removed %s\n", rest[0])
}

func printVersion() {
	fmt.Printf("minitorrent-peer %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
}

func printUsage() {
	fmt.Printf(`minitorrent-peer v%s - chunk-swarm file sharing peer

Usage:
  minitorrent-peer <command> [options] [args]

Commands:
  serve                     Run the peer process (chunk server + autosave)
  publish <path>            Split a file into chunks, seed it, and announce
  download <content_id>     Download by content_id
  download --by-name <name> Download by filename (must match exactly one file)
  list                      List known content entries
  status                    Show per-entry counters, session totals, and history
  remove <content_id>       Deregister and delete a content entry
  version                   Show version information
  help                      Show this help message

Options (serve/publish/download/list/status/remove):
  --data-dir <dir>      Data directory (default ~/.minitorrent)
  --config <path>       JSON configuration file overlaid on the defaults
  --tracker <host:port> Tracker address (default 127.0.0.1:%d)
`, version, constants.DefaultTrackerPort)
}
