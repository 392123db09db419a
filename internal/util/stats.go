package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/session counter.
var Stats = &stats{}

type stats struct {
	OpenedSessions atomic.Int64 // cumulative sessions created since process start
	ClosedSessions atomic.Int64 // cumulative sessions evicted or closed
	BytesSent      atomic.Int64 // cumulative bytes written to the socket
	BytesRecv      atomic.Int64 // cumulative bytes read from the socket
	PacketsSent    atomic.Int64
	PacketsRecv    atomic.Int64
	Dropped        atomic.Int64 // inbound datagrams discarded by the worker
}

func (s *stats) AddSession()    { s.OpenedSessions.Add(1) }
func (s *stats) RemoveSession() { s.ClosedSessions.Add(1) }
func (s *stats) AddDropped()    { s.Dropped.Add(1) }

func (s *stats) AddSent(n int) {
	s.PacketsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.PacketsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		secs := interval.Seconds()

		var prevSent, prevRecv, prevOpened, prevClosed, prevDropped int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.OpenedSessions.Load()
				closed := Stats.ClosedSessions.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				dropped := Stats.Dropped.Load()

				inS := float64(recv-prevRecv) / secs
				outS := float64(sent-prevSent) / secs
				inC := opened - prevOpened
				outC := closed - prevClosed
				drops := dropped - prevDropped

				if inC > 0 || outC > 0 || drops > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inC, outC, drops))
				}

				prevSent = sent
				prevRecv = recv
				prevOpened = opened
				prevClosed = closed
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inC, outC, drops int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d↑ %2d↓ | Dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		inC,
		outC,
		drops,
	)
}
