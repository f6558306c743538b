package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/priyanshumishra610/SentinelVNC/internal/detect"
	"github.com/priyanshumishra610/SentinelVNC/internal/event"
	"github.com/priyanshumishra610/SentinelVNC/internal/session"
	"github.com/priyanshumishra610/SentinelVNC/pkg/metrics"
)

// recentSampleWire and the other *Wire types mirror spec.md §6's Alert POST
// payload exactly; they stay local to this package rather than importing
// internal/alertsink's types, since the two sides only share a wire
// contract, not Go types.
type recentSampleWire struct {
	Timestamp float64 `json:"timestamp"`
	Direction string  `json:"direction"`
	Bytes     int64   `json:"bytes"`
}

type sessionStatsWire struct {
	ClientToServerBytes   int64   `json:"client_to_server_bytes"`
	ServerToClientBytes   int64   `json:"server_to_client_bytes"`
	ClientToServerPackets int64   `json:"client_to_server_packets"`
	ServerToClientPackets int64   `json:"server_to_client_packets"`
	DurationSeconds       float64 `json:"duration_seconds"`
}

type alertRequestWire struct {
	SessionID     string             `json:"session_id"`
	ClientIP      string             `json:"client_ip"`
	UpstreamIP    string             `json:"upstream_ip"`
	Timestamp     float64            `json:"timestamp"`
	Heuristic     string             `json:"heuristic"`
	Bytes         int64              `json:"bytes"`
	RecentSamples []recentSampleWire `json:"recent_samples"`
	SessionStats  sessionStatsWire   `json:"session_stats"`
}

type alertResponseWire struct {
	Action       string `json:"action"`
	AlertID      string `json:"alert_id"`
	Severity     string `json:"severity"`
	ForensicHash string `json:"forensic_hash"`
}

// heuristicName maps an event.Type back onto the wire enum C7 expects.
func heuristicName(t event.Type) string {
	switch t {
	case event.TypeFrameburst:
		return "frameburst"
	case event.TypeClipboardCopy:
		return "clipboard_exfiltration"
	case event.TypeFileTransfer:
		return "file_transfer_like"
	default:
		return "file_transfer_like"
	}
}

func buildAlertRequest(sess *session.Session, ev event.Event, verdict detect.Verdict) alertRequestWire {
	tail := sess.Recent.Tail(session.DefaultTailSamples)
	samples := make([]recentSampleWire, len(tail))
	for i, s := range tail {
		samples[i] = recentSampleWire{Timestamp: s.TimestampUnix(), Direction: string(s.Direction), Bytes: s.Bytes}
	}

	counters := sess.CountersSnapshot()

	return alertRequestWire{
		SessionID:  sess.ID,
		ClientIP:   sess.ClientEndpoint,
		UpstreamIP: sess.UpstreamEndpoint,
		Timestamp:  ev.TimestampUnix(),
		Heuristic:  heuristicName(ev.Type),
		Bytes:      ev.Bytes,
		RecentSamples: samples,
		SessionStats: sessionStatsWire{
			ClientToServerBytes:   counters.C2SBytes,
			ServerToClientBytes:   counters.S2CBytes,
			ClientToServerPackets: counters.C2SPackets,
			ServerToClientPackets: counters.S2CPackets,
			DurationSeconds:       sess.Duration().Seconds(),
		},
	}
}

// alertPoster owns the HTTP client used to reach C7. A dedicated, small
// client (rather than http.DefaultClient) keeps the alert_timeout bound
// exclusive to this call path.
type alertPoster struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func newAlertPoster(url string, timeout time.Duration) *alertPoster {
	return &alertPoster{url: url, timeout: timeout, client: &http.Client{Timeout: timeout}}
}

// post sends the alert to C7 and returns its decided action, or "no-op" if
// the request errors or times out — spec.md §7: "C7 unreachable / alert
// timeout: treat as no containment; continue forwarding; the verdict is
// still recorded locally" (locally here meaning the proxy's own logs/metrics;
// C7 is the system of record for persisted Alerts).
func (a *alertPoster) post(ctx context.Context, req alertRequestWire) string {
	b, err := json.Marshal(req)
	if err != nil {
		metrics.AlertPostFailures.Inc()
		return "no-op"
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.url, bytes.NewReader(b))
	if err != nil {
		metrics.AlertPostFailures.Inc()
		return "no-op"
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		metrics.AlertPostFailures.Inc()
		return "no-op"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.AlertPostFailures.Inc()
		return "no-op"
	}

	var out alertResponseWire
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.AlertPostFailures.Inc()
		return "no-op"
	}
	return out.Action
}
