package anchor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSigner(t *testing.T) Signer {
	t.Helper()
	s, err := NewHMACSigner([]byte("test-key"))
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	return s
}

func TestServiceEmitsBatchAtBatchSize(t *testing.T) {
	dir := t.TempDir()
	cfg := ServiceConfig{AnchorDir: dir, BatchSize: 3, Interval: time.Hour, SoftLimitMultiple: 10}

	var mu sync.Mutex
	var got []Anchor
	onAnchor := func(a Anchor, alertIDs []string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, a)
	}

	svc := NewService(cfg, NewMemQueue(), newTestSigner(t), onAnchor, zerolog.Nop(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Enqueue(ctx, HashHex([]byte{byte(i)}), "ALERT_1"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// Enqueue itself must emit the batch the instant leaf_count reaches
	// BatchSize; Interval is an hour, so nothing else could have fired it.

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly one anchor emitted, got %d", len(got))
	}
	if got[0].LeafCount != 3 {
		t.Fatalf("expected leaf count 3, got %d", got[0].LeafCount)
	}
	if got[0].SignerID == "" {
		t.Fatal("expected a non-empty signer id")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read anchor dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one persisted anchor file, got %d", len(entries))
	}

	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read anchor file: %v", err)
	}
	var persisted Anchor
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("unmarshal persisted anchor: %v", err)
	}
	if persisted.MerkleRoot != got[0].MerkleRoot {
		t.Fatalf("persisted root %q does not match emitted root %q", persisted.MerkleRoot, got[0].MerkleRoot)
	}
}

func TestServiceSoftLimitForcesOutOfScheduleBatch(t *testing.T) {
	dir := t.TempDir()
	cfg := ServiceConfig{AnchorDir: dir, BatchSize: 2, Interval: time.Hour, SoftLimitMultiple: 2}

	var mu sync.Mutex
	emitted := 0
	onAnchor := func(a Anchor, _ []string) {
		mu.Lock()
		defer mu.Unlock()
		emitted++
	}

	q := NewMemQueue()
	svc := NewService(cfg, q, newTestSigner(t), onAnchor, zerolog.Nop(), nil)
	ctx := context.Background()

	// soft limit = batch_size * multiple = 4; push 5 to exceed it. The leaves
	// go straight onto the queue (as another producer sharing the queue would
	// push them), because Service.Enqueue flushes each time the queue reaches
	// BatchSize and so never lets it grow past the soft limit on its own.
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, Leaf{Hash: HashHex([]byte{byte(i)}), AlertID: "ALERT_1"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	svc.flushIfOverSoftLimit(ctx)

	mu.Lock()
	defer mu.Unlock()
	if emitted != 1 {
		t.Fatalf("expected one forced batch once over soft limit, got %d", emitted)
	}

	n, err := svc.queue.Len(ctx)
	if err != nil {
		t.Fatalf("queue len: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected soft-limit flush to drain entire queue, got %d remaining", n)
	}
}

func TestServiceDrainFinalOnShutdown(t *testing.T) {
	dir := t.TempDir()
	cfg := ServiceConfig{AnchorDir: dir, BatchSize: 100, Interval: time.Hour, SoftLimitMultiple: 10}

	var mu sync.Mutex
	var got []Anchor
	onAnchor := func(a Anchor, _ []string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, a)
	}

	svc := NewService(cfg, NewMemQueue(), newTestSigner(t), onAnchor, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Enqueue(ctx, HashHex([]byte("only-leaf")), "ALERT_X"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected shutdown to drain pending leaf into exactly one final anchor, got %d", len(got))
	}
	if got[0].LeafCount != 1 {
		t.Fatalf("expected final anchor to cover the one queued leaf, got %d", got[0].LeafCount)
	}
}
