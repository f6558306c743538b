// Package alertsink implements C7: the HTTP-facing alert-handling core.
// It receives raw traffic telemetry from the proxy, re-runs the Detection
// Engine itself (never trusting a caller-asserted verdict), persists an
// Alert, hands the event off to C8 for forensic writing, and returns a
// containment decision.
package alertsink

import "time"

// RecentSampleDTO is one entry of an AlertRequest's recent_samples array.
type RecentSampleDTO struct {
	Timestamp float64 `json:"timestamp"`
	Direction string  `json:"direction"`
	Bytes     int64   `json:"bytes"`
}

// SessionStatsDTO mirrors spec.md §6's session_stats object.
type SessionStatsDTO struct {
	ClientToServerBytes   int64   `json:"client_to_server_bytes"`
	ServerToClientBytes   int64   `json:"server_to_client_bytes"`
	ClientToServerPackets int64   `json:"client_to_server_packets"`
	ServerToClientPackets int64   `json:"server_to_client_packets"`
	DurationSeconds       float64 `json:"duration_seconds"`
}

// AlertRequest is the proxy->C7 payload (spec.md §6 "Alert POST payload").
type AlertRequest struct {
	SessionID     string            `json:"session_id"`
	ClientIP      string            `json:"client_ip"`
	UpstreamIP    string            `json:"upstream_ip"`
	Timestamp     float64           `json:"timestamp"`
	Heuristic     string            `json:"heuristic"`
	Bytes         int64             `json:"bytes"`
	RecentSamples []RecentSampleDTO `json:"recent_samples"`
	SessionStats  SessionStatsDTO   `json:"session_stats"`
}

// AlertResponse is C7's reply to the proxy (spec.md §6 "Alert POST response").
type AlertResponse struct {
	Action       string `json:"action"` // "contain" | "no-op"
	AlertID      string `json:"alert_id"`
	Severity     string `json:"severity"` // lowercase
	ForensicHash string `json:"forensic_hash"`
}

// ContainRequest is the operator->C7 containment payload.
type ContainRequest struct {
	SessionID string  `json:"session_id"`
	Reason    *string `json:"reason,omitempty"`
}

// ContainResponse is C7's reply to a containment request.
type ContainResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// APIError is the structured error envelope spec.md §7 requires for every
// API failure.
type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Status is an Alert's operator-facing lifecycle state.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusInvestigating Status = "INVESTIGATING"
	StatusContained      Status = "CONTAINED"
	StatusResolved       Status = "RESOLVED"
)

// Alert is the persistent record C7 owns (spec.md §3 "Alert").
type Alert struct {
	AlertID           string
	SessionID         string
	ClientIP          string
	UpstreamIP        string
	EventTimestamp    float64
	Heuristic         string
	IsAlert           bool
	DetectionMethods  []string
	Reasons           []string
	Severity          string
	MLScore           float64
	Status            Status
	Contained         bool
	ContainedAt       *time.Time
	ForensicHash      string
	AnchorRoot        *string
	CreatedAt         time.Time
}
