package forensics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/priyanshumishra610/SentinelVNC/pkg/metrics"
)

// LeafNotifier is C9's enqueue entrypoint, satisfied by *anchor.Service.
// Kept as a narrow interface here so forensics never imports anchor's full
// batching machinery, only the one operation it depends on.
type LeafNotifier interface {
	Enqueue(ctx context.Context, leafHash, alertID string) error
}

// WriterConfig controls where records land and how write failures are
// retried (spec.md §7 "Forensic write failure: retry with exponential
// backoff up to N attempts").
type WriterConfig struct {
	Dir         string
	MaxAttempts int
	BaseBackoff time.Duration
}

// DefaultWriterConfig matches pkg/config.Default().Anchor.ForensicDir and a
// conservative retry policy.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{Dir: "data/forensic", MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond}
}

// Writer persists Forensic Records to an append-only, alert-id-keyed store
// and hands their leaf hash to C9.
type Writer struct {
	cfg      WriterConfig
	notifier LeafNotifier
	log      zerolog.Logger
}

// NewWriter builds a Writer. notifier may be nil in tests that only exercise
// persistence; production wiring always supplies the anchor service.
func NewWriter(cfg WriterConfig, notifier LeafNotifier, log zerolog.Logger) *Writer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultWriterConfig().MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultWriterConfig().BaseBackoff
	}
	return &Writer{cfg: cfg, notifier: notifier, log: log.With().Str("component", "forensics").Logger()}
}

// Write canonicalizes r (filling Hash), persists it as <alert_id>.json, and
// enqueues its hash with C9. Persistence is retried with exponential backoff
// on transient failure; if every attempt fails, ForensicWriteFailures is
// incremented and the error is returned so the caller can keep the alert in
// memory and retry on the next batch, per spec.md §7.
func (w *Writer) Write(ctx context.Context, r Record) (Record, error) {
	canon, err := Canonicalize(r)
	if err != nil {
		return r, fmt.Errorf("canonicalize record %s: %w", r.AlertID, err)
	}

	if err := w.persistWithRetry(canon); err != nil {
		metrics.ForensicWriteFailures.Inc()
		w.log.Error().Err(err).Str("alert_id", canon.AlertID).Msg("forensic record write exhausted retries")
		return canon, fmt.Errorf("persist forensic record %s: %w", canon.AlertID, err)
	}

	if w.notifier != nil {
		if err := w.notifier.Enqueue(ctx, canon.Hash, canon.AlertID); err != nil {
			// The record is safely on disk; a failed enqueue only delays
			// anchoring, it never loses the record. Log and move on.
			w.log.Error().Err(err).Str("alert_id", canon.AlertID).Msg("failed to enqueue forensic leaf for anchoring")
		}
	}

	return canon, nil
}

func (w *Writer) persistWithRetry(r Record) error {
	path := filepath.Join(w.cfg.Dir, r.AlertID+".json")

	var lastErr error
	backoff := w.cfg.BaseBackoff
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if err := writeOnce(w.cfg.Dir, path, r); err != nil {
			lastErr = err
			w.log.Warn().Err(err).Int("attempt", attempt).Str("alert_id", r.AlertID).Msg("forensic write attempt failed")
			if attempt < w.cfg.MaxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
			continue
		}
		return nil
	}
	return lastErr
}

func writeOnce(dir, path string, r Record) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir forensic dir: %w", err)
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Read loads a previously written Record by alert id.
func Read(dir, alertID string) (Record, error) {
	b, err := os.ReadFile(filepath.Join(dir, alertID+".json"))
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("unmarshal forensic record %s: %w", alertID, err)
	}
	return r, nil
}
