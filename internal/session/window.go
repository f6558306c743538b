package session

import (
	"sync"
	"time"

	"github.com/priyanshumishra610/SentinelVNC/internal/event"
)

// WindowCapacity is the bounded ring size for C1 (spec.md §4.1).
const WindowCapacity = 100

// DefaultTailSamples is the default number of recent samples an alert
// payload carries (spec.md §4.1 "tail(n) ... default n=20").
const DefaultTailSamples = 20

// Window is a per-session bounded ring of recent Samples with O(1) append
// and linear-in-stored-size aggregate queries. It is only ever mutated by
// the owning session's forwarder; external readers must call Snapshot to
// obtain an immutable copy taken under exclusive access.
type Window struct {
	mu      sync.Mutex
	buf     [WindowCapacity]Sample
	len     int // number of valid entries
	next    int // index the next append writes to
}

// NewWindow returns an empty Window.
func NewWindow() *Window { return &Window{} }

// Append adds a Sample, evicting the oldest entry on overflow. O(1).
func (w *Window) Append(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf[w.next] = s
	w.next = (w.next + 1) % WindowCapacity
	if w.len < WindowCapacity {
		w.len++
	}
}

// forEach walks stored samples oldest-first under the lock. Callers must not
// retain references to the passed Sample beyond the closure.
func (w *Window) forEach(f func(Sample)) {
	if w.len == 0 {
		return
	}
	start := w.next - w.len
	if start < 0 {
		start += WindowCapacity
	}
	for i := 0; i < w.len; i++ {
		f(w.buf[(start+i)%WindowCapacity])
	}
}

// SumBytes sums Bytes of stored samples matching direction whose age
// (now - timestamp) is <= windowSeconds.
func (w *Window) SumBytes(direction event.Direction, windowSeconds float64, now time.Time) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var sum int64
	w.forEach(func(s Sample) {
		if s.Direction != direction {
			return
		}
		if now.Sub(s.Timestamp).Seconds() <= windowSeconds {
			sum += s.Bytes
		}
	})
	return sum
}

// SumBytesLastN sums Bytes of samples matching direction among the last n
// stored samples overall (any direction), mirroring the original source's
// "last 10 samples" framing for R1 rather than a time window.
func (w *Window) SumBytesLastN(direction event.Direction, n int) int64 {
	var sum int64
	for _, s := range w.LastN(n) {
		if s.Direction == direction {
			sum += s.Bytes
		}
	}
	return sum
}

// Count counts stored samples matching direction within windowSeconds.
func (w *Window) Count(direction event.Direction, windowSeconds float64, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	var n int
	w.forEach(func(s Sample) {
		if s.Direction != direction {
			return
		}
		if now.Sub(s.Timestamp).Seconds() <= windowSeconds {
			n++
		}
	})
	return n
}

// LastN returns up to n of the most recent stored samples (direction-agnostic),
// used by R1 ("last 10 samples" of either direction, filtered by the caller).
func (w *Window) LastN(n int) []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > w.len {
		n = w.len
	}
	out := make([]Sample, 0, n)
	if n == 0 {
		return out
	}
	start := w.next - n
	if start < 0 {
		start += WindowCapacity
	}
	for i := 0; i < n; i++ {
		out = append(out, w.buf[(start+i)%WindowCapacity])
	}
	return out
}

// Tail returns up to n of the most recent samples in insertion order, used
// when assembling an alert payload (spec.md §4.1, default n=20).
func (w *Window) Tail(n int) []Sample {
	return w.LastN(n)
}

// Snapshot returns an immutable copy of every stored sample, oldest first.
func (w *Window) Snapshot() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Sample, 0, w.len)
	w.forEach(func(s Sample) { out = append(out, s) })
	return out
}

// Len reports how many samples are currently stored (<= WindowCapacity).
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.len
}
