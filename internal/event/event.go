// Package event defines the shape the detection engine consumes.
//
// SentinelVNC has two producers of Events: the inline proxy, which derives
// one Event per forwarded chunk from (direction, byte count), and the
// standalone event generator used in testing, which emits explicitly typed
// events (clipboard_copy, screenshot, file_transfer) with payload-descriptive
// size fields. Both paths flow through this single shape; the feature
// extractor reads whichever fields are present and defaults the rest to zero.
package event

import "time"

// Type enumerates the kinds of observation the detection engine reasons about.
type Type string

const (
	TypeClipboardCopy Type = "clipboard_copy"
	TypeScreenshot    Type = "screenshot"
	TypeFrameburst    Type = "frameburst"
	TypeFileTransfer  Type = "file_transfer"
	TypeUnknown       Type = "unknown"
)

// Direction is the wire direction a Sample/Event was observed on.
type Direction string

const (
	ClientToServer Direction = "client_to_server"
	ServerToClient Direction = "server_to_client"
)

// Event is the unit the Detection Engine (C5) evaluates.
type Event struct {
	SessionID string
	Type      Type
	Direction Direction
	Timestamp time.Time

	// Bytes is the size of the chunk that produced this Event, when the
	// proxy derived it from wire traffic.
	Bytes int64

	// SizeKB / SizeMB are set by the event generator for clipboard_copy and
	// file_transfer events respectively. Zero when absent.
	SizeKB float64
	SizeMB float64
}

// TimestampUnix returns the event's timestamp as fractional Unix seconds,
// matching spec.md's "timestamp (monotonic, seconds, fractional)".
func (e Event) TimestampUnix() float64 {
	return float64(e.Timestamp.UnixNano()) / 1e9
}
