package session

import (
	"time"

	"github.com/priyanshumishra610/SentinelVNC/internal/event"
)

// Sample is a single immutable observation of a forwarded chunk.
type Sample struct {
	Timestamp time.Time
	Direction event.Direction
	Bytes     int64
}

// TimestampUnix returns fractional Unix seconds, per spec.md's Sample field.
func (s Sample) TimestampUnix() float64 {
	return float64(s.Timestamp.UnixNano()) / 1e9
}
