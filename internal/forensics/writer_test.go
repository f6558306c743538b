package forensics

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeNotifier struct {
	mu    sync.Mutex
	leaves []string
	alerts []string
}

func (f *fakeNotifier) Enqueue(_ context.Context, leafHash, alertID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, leafHash)
	f.alerts = append(f.alerts, alertID)
	return nil
}

func testRecord(alertID string) Record {
	return NewRecord(alertID, 1700000000.123456,
		Event{SessionID: "session_1.2.3.4_9999_abcdef01", Type: "clipboard_copy", Direction: "client_to_server", Timestamp: 1700000000.0, Bytes: 204801},
		Verdict{IsAlert: true, DetectionMethods: []string{"RULE"}, Severity: "MEDIUM", MLScore: 0.0},
		[]string{"Rule 1: clipboard burst 204801 bytes exceeds threshold 204800 bytes"},
	)
}

func TestCanonicalizeDeterministic(t *testing.T) {
	r := testRecord("ALERT_1")
	a, err := Canonicalize(r)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	b, err := Canonicalize(r)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if a.Hash != b.Hash {
		t.Fatalf("expected deterministic hash, got %q and %q", a.Hash, b.Hash)
	}
	if a.Hash == "" {
		t.Fatal("expected non-empty hash")
	}
}

func TestCanonicalizeHashExcludesHashField(t *testing.T) {
	r := testRecord("ALERT_2")
	first, err := Canonicalize(r)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	// Feeding a record that already carries a (stale) hash value must
	// reproduce the same hash, proving the hash field itself never feeds
	// the digest.
	withStaleHash := first
	withStaleHash.Hash = "deadbeef"
	second, err := Canonicalize(withStaleHash)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if first.Hash != second.Hash {
		t.Fatalf("hash should be independent of prior Hash field value, got %q vs %q", first.Hash, second.Hash)
	}
}

func TestVerifyHashDetectsTamper(t *testing.T) {
	r := testRecord("ALERT_3")
	canon, err := Canonicalize(r)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	ok, err := VerifyHash(canon)
	if err != nil || !ok {
		t.Fatalf("expected freshly canonicalized record to verify, ok=%v err=%v", ok, err)
	}

	tampered := canon
	tampered.Verdict.Severity = "LOW"
	ok, err = VerifyHash(tampered)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("expected tampered record to fail hash verification")
	}
}

func TestWriterPersistsAndNotifies(t *testing.T) {
	dir := t.TempDir()
	notifier := &fakeNotifier{}
	w := NewWriter(WriterConfig{Dir: dir, MaxAttempts: 3}, notifier, zerolog.Nop())

	r := testRecord("ALERT_42")
	written, err := w.Write(context.Background(), r)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if written.Hash == "" {
		t.Fatal("expected Write to populate Hash")
	}

	path := filepath.Join(dir, "ALERT_42.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected forensic file on disk: %v", err)
	}

	loaded, err := Read(dir, "ALERT_42")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if loaded.Hash != written.Hash {
		t.Fatalf("read-back hash %q does not match written hash %q", loaded.Hash, written.Hash)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.leaves) != 1 || notifier.leaves[0] != written.Hash {
		t.Fatalf("expected notifier enqueued with written hash, got %+v", notifier.leaves)
	}
	if notifier.alerts[0] != "ALERT_42" {
		t.Fatalf("expected notifier enqueued with alert id ALERT_42, got %q", notifier.alerts[0])
	}
}
