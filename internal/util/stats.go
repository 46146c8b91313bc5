package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Bridge counters
// ──────────────────────────────────────────────────────────────────────────────

// BridgeStats holds the diagnostic counters of one bridge. All fields are
// updated atomically and may be read at any time.
type BridgeStats struct {
	ForwardedToWifi atomic.Int64 // frames handed to the uplink
	ForwardedToUSB  atomic.Int64 // frames handed to the USB link
	BytesToWifi     atomic.Int64 // payload bytes handed to the uplink
	BytesToUSB      atomic.Int64 // payload bytes handed to the USB link

	DroppedBackpressure atomic.Int64 // queue full or uplink busy
	DroppedDisconnected atomic.Int64 // uplink not Connected
	DroppedInvalid      atomic.Int64 // empty or oversized frames
	DroppedUSBTx        atomic.Int64 // USB send returned Busy/Fail
	TransportFailures   atomic.Int64 // uplink send faults reported to the state machine
	ReconnectAttempts   atomic.Int64 // automatic reconnection attempts
	CodecChecksumErrors atomic.Int64 // uplink frames dropped for a bad checksum
	CodecResyncs        atomic.Int64 // uplink stream resynchronisations
}

// Snapshot is a plain copy of BridgeStats.
type Snapshot struct {
	ForwardedToWifi     int64
	ForwardedToUSB      int64
	BytesToWifi         int64
	BytesToUSB          int64
	DroppedBackpressure int64
	DroppedDisconnected int64
	DroppedInvalid      int64
	DroppedUSBTx        int64
	TransportFailures   int64
	ReconnectAttempts   int64
	CodecChecksumErrors int64
	CodecResyncs        int64
}

// Snapshot reads every counter.
func (s *BridgeStats) Snapshot() Snapshot {
	return Snapshot{
		ForwardedToWifi:     s.ForwardedToWifi.Load(),
		ForwardedToUSB:      s.ForwardedToUSB.Load(),
		BytesToWifi:         s.BytesToWifi.Load(),
		BytesToUSB:          s.BytesToUSB.Load(),
		DroppedBackpressure: s.DroppedBackpressure.Load(),
		DroppedDisconnected: s.DroppedDisconnected.Load(),
		DroppedInvalid:      s.DroppedInvalid.Load(),
		DroppedUSBTx:        s.DroppedUSBTx.Load(),
		TransportFailures:   s.TransportFailures.Load(),
		ReconnectAttempts:   s.ReconnectAttempts.Load(),
		CodecChecksumErrors: s.CodecChecksumErrors.Load(),
		CodecResyncs:        s.CodecResyncs.Load(),
	}
}

// Dropped sums every drop counter.
func (s Snapshot) Dropped() int64 {
	return s.DroppedBackpressure + s.DroppedDisconnected + s.DroppedInvalid + s.DroppedUSBTx
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs bridge statistics every
// interval. Quiet intervals are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, stats *BridgeStats, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := stats.Snapshot()
				secs := interval.Seconds()

				upS := float64(cur.BytesToWifi-prev.BytesToWifi) / secs
				downS := float64(cur.BytesToUSB-prev.BytesToUSB) / secs
				drops := cur.Dropped() - prev.Dropped()

				if upS > 10 || downS > 10 || drops > 0 || cur.ReconnectAttempts != prev.ReconnectAttempts {
					pterm.DefaultLogger.Info(formatStats(upS, downS, drops, cur.ReconnectAttempts))
				}

				prev = cur

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
func formatStats(upS, downS float64, drops, reconnects int64) string {
	return fmt.Sprintf("Up: %s/s | Down: %s/s | Drops: %3d | Reconnects: %d",
		formatBytes(upS),
		formatBytes(downS),
		drops,
		reconnects,
	)
}
