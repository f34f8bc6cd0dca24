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

// Stats is the process-wide relay traffic counter.
var Stats = &stats{}

type stats struct {
	FramesSent  atomic.Int64 // frames written to the transport
	FramesRecv  atomic.Int64 // frames read from the transport
	Dropped     atomic.Int64 // inbound frames rejected by the decoder
	Reconnects  atomic.Int64 // reconnect attempts scheduled
	PhaseSwitch atomic.Int64 // successful phase transitions
}

func (s *stats) AddSent()      { s.FramesSent.Add(1) }
func (s *stats) AddRecv()      { s.FramesRecv.Add(1) }
func (s *stats) AddDropped()   { s.Dropped.Add(1) }
func (s *stats) AddReconnect() { s.Reconnects.Add(1) }
func (s *stats) AddPhase()     { s.PhaseSwitch.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FramesSent, FramesRecv, Dropped, Reconnects, PhaseSwitch int64
}

// Snapshot returns the current counter values.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		FramesSent:  s.FramesSent.Load(),
		FramesRecv:  s.FramesRecv.Load(),
		Dropped:     s.Dropped.Load(),
		Reconnects:  s.Reconnects.Load(),
		PhaseSwitch: s.PhaseSwitch.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs relay statistics every
// interval, only when something changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev Snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(prev, cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats renders the delta between two snapshots for the logger.
func formatStats(prev, cur Snapshot) string {
	return fmt.Sprintf("Frames: %3d↑ %3d↓ | Dropped: %d | Reconnects: %d | Phase changes: %d",
		cur.FramesSent-prev.FramesSent,
		cur.FramesRecv-prev.FramesRecv,
		cur.Dropped-prev.Dropped,
		cur.Reconnects-prev.Reconnects,
		cur.PhaseSwitch-prev.PhaseSwitch,
	)
}
