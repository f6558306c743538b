// Package features implements C3: a fixed-arity, order-stable numeric
// feature vector for the ML scorer (spec.md §4.2).
package features

import (
	"time"

	"github.com/priyanshumishra610/SentinelVNC/internal/event"
	"github.com/priyanshumishra610/SentinelVNC/internal/session"
)

// Length is the fixed arity of the feature vector, part of the feature
// contract shared with the trained model artifact.
const Length = 11

// Names is the ordered, stable feature-name list (spec.md §4.2 table).
// Matching this order at training and inference time is mandatory.
var Names = [Length]string{
	"is_clipboard",
	"is_screenshot",
	"is_file_transfer",
	"clipboard_size_mb",
	"file_size_mb",
	"time_of_day",
	"clipboard_count_1min",
	"screenshot_count_1min",
	"file_transfer_count_1min",
	"clipboard_total_kb_1min",
	"file_transfer_total_mb_1min",
}

const oneMinute = 60.0

// Extract builds the 11-length feature vector for one Event, reading
// one-minute aggregates from the owning session's Window. Deterministic in
// (event, window snapshot) per spec.md invariant 6.
func Extract(ev event.Event, win *session.Window, now time.Time) [Length]float64 {
	var f [Length]float64

	f[0] = boolF(ev.Type == event.TypeClipboardCopy)
	f[1] = boolF(ev.Type == event.TypeScreenshot)
	f[2] = boolF(ev.Type == event.TypeFileTransfer)
	if ev.Type == event.TypeClipboardCopy {
		f[3] = ev.SizeKB / 1000.0
	} else {
		f[3] = 0
	}
	if ev.Type == event.TypeFileTransfer {
		f[4] = ev.SizeMB
	}
	f[5] = timeOfDay(now)

	clipCount, clipKB := 0, 0.0
	shotCount := 0
	ftCount, ftMB := 0, 0.0

	for _, s := range win.Snapshot() {
		if now.Sub(s.Timestamp).Seconds() > oneMinute {
			continue
		}
		// The Window stores raw wire Samples (direction+bytes), not typed
		// Events; proxy-observed traffic approximates clipboard/file-transfer
		// counts via direction, matching the generator-event semantics these
		// normalization constants were fit against.
		if s.Direction == event.ClientToServer {
			clipCount++
			clipKB += float64(s.Bytes) / 1024.0
			ftCount++
			ftMB += float64(s.Bytes) / (1024.0 * 1024.0)
		} else {
			shotCount++
		}
	}

	f[6] = float64(clipCount) / 10.0
	f[7] = float64(shotCount) / 10.0
	f[8] = float64(ftCount) / 10.0
	f[9] = clipKB / 1000.0
	f[10] = ftMB

	return f
}

func boolF(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func timeOfDay(now time.Time) float64 {
	secs := float64(now.Unix() % 86400)
	return secs / 86400.0
}
