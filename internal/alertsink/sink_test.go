package alertsink

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/priyanshumishra610/SentinelVNC/internal/detect"
	"github.com/priyanshumishra610/SentinelVNC/internal/forensics"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	dir := t.TempDir()

	store, err := NewStore(filepath.Join(dir, "alerts.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	writer := forensics.NewWriter(forensics.WriterConfig{Dir: filepath.Join(dir, "forensic"), MaxAttempts: 1}, nil, zerolog.Nop())
	engine := detect.New(detect.DefaultConfig(), nil)

	return New(DefaultConfig(), engine, writer, store, nil, zerolog.Nop(), nil)
}

func TestProcessAlertS1ClipboardBurstFires(t *testing.T) {
	sink := newTestSink(t)

	req := AlertRequest{
		SessionID: "session_1.2.3.4_5555_aaaaaaaa",
		ClientIP:  "1.2.3.4",
		Timestamp: 1700000000.0,
		Heuristic: "clipboard_exfiltration",
		Bytes:     204801,
	}

	resp, err := sink.ProcessAlert(context.Background(), req)
	if err != nil {
		t.Fatalf("process alert: %v", err)
	}
	if resp.Severity != "medium" {
		t.Fatalf("expected medium severity for rule-only alert, got %q", resp.Severity)
	}
	if resp.ForensicHash == "" {
		t.Fatal("expected a forensic_hash for an affirmative verdict")
	}
	if resp.AlertID == "" {
		t.Fatal("expected a non-empty alert id")
	}
}

func TestProcessAlertS4NoAlertNoForensicHash(t *testing.T) {
	sink := newTestSink(t)

	req := AlertRequest{
		SessionID: "session_9.9.9.9_4444_bbbbbbbb",
		ClientIP:  "9.9.9.9",
		Timestamp: 1700000000.0,
		Heuristic: "clipboard_exfiltration",
		Bytes:     50 * 1024,
	}

	resp, err := sink.ProcessAlert(context.Background(), req)
	if err != nil {
		t.Fatalf("process alert: %v", err)
	}
	if resp.Action != "no-op" {
		t.Fatalf("expected no-op action, got %q", resp.Action)
	}
	if resp.Severity != "low" {
		t.Fatalf("expected low severity, got %q", resp.Severity)
	}
	if resp.ForensicHash != "" {
		t.Fatalf("expected no forensic_hash for a no-alert event, got %q", resp.ForensicHash)
	}
}

func TestProcessAlertIdempotentReplayProducesSameVerdict(t *testing.T) {
	sink := newTestSink(t)

	req := AlertRequest{
		SessionID: "session_replay_7777_cccccccc",
		ClientIP:  "5.5.5.5",
		Timestamp: 1700000000.0,
		Heuristic: "frameburst",
		Bytes:     10485761,
	}

	first, err := sink.ProcessAlert(context.Background(), req)
	if err != nil {
		t.Fatalf("process alert: %v", err)
	}

	// Build a fresh sink (simulating replay against a different replica,
	// no shared in-process state) over a fresh store/writer — the verdict
	// must still be MEDIUM from rule evaluation alone, proving the engine
	// is pure over its inputs rather than depending on hidden state.
	sink2 := newTestSink(t)
	second, err := sink2.ProcessAlert(context.Background(), req)
	if err != nil {
		t.Fatalf("process alert (replay): %v", err)
	}

	if first.Severity != second.Severity {
		t.Fatalf("expected identical severity on replay, got %q and %q", first.Severity, second.Severity)
	}
}

func TestProcessContainmentWithoutRedisReportsFailureNotCrash(t *testing.T) {
	sink := newTestSink(t)

	resp, err := sink.ProcessContainment(context.Background(), ContainRequest{SessionID: "session_x"})
	if err != nil {
		t.Fatalf("process containment: %v", err)
	}
	if resp.Success {
		t.Fatal("expected containment to report failure when no redis client is configured")
	}
}
