package anchor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/priyanshumishra610/SentinelVNC/internal/tracing"
	"github.com/priyanshumishra610/SentinelVNC/pkg/metrics"
)

func encodeBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// ServiceConfig is C9's batching policy (mirrors pkg/config.Anchor).
type ServiceConfig struct {
	AnchorDir         string
	BatchSize         int
	Interval          time.Duration
	SoftLimitMultiple int // force an out-of-schedule batch past BatchSize * this
}

// DefaultServiceConfig mirrors pkg/config.Default().Anchor.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		AnchorDir:         "data/anchors",
		BatchSize:         100,
		Interval:          60 * time.Second,
		SoftLimitMultiple: 10,
	}
}

// OnAnchor is invoked after an anchor is built and persisted, with the
// alert IDs backing its leaves in order, so C7 can backfill
// Alert.AnchorRoot.
type OnAnchor func(a Anchor, alertIDs []string)

// Service runs C9: batches queued forensic leaf hashes into signed,
// persisted Anchors on a size-or-interval schedule, with soft-limit
// backpressure, and drains the queue into a final anchor on shutdown
// (spec.md §5).
type Service struct {
	cfg    ServiceConfig
	queue  Queue
	signer Signer
	onAnchor OnAnchor
	log    zerolog.Logger
	tracer *tracing.Provider

	mu      sync.Mutex
	lastSeq int64 // monotonic tiebreaker for anchor_id under rapid batches
}

// NewService wires a Queue and Signer into a running anchor batcher. tracer
// may be nil, in which case batch emission is untraced.
func NewService(cfg ServiceConfig, queue Queue, signer Signer, onAnchor OnAnchor, log zerolog.Logger, tracer *tracing.Provider) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultServiceConfig().BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultServiceConfig().Interval
	}
	if cfg.SoftLimitMultiple <= 0 {
		cfg.SoftLimitMultiple = DefaultServiceConfig().SoftLimitMultiple
	}
	if onAnchor == nil {
		onAnchor = func(Anchor, []string) {}
	}
	return &Service{cfg: cfg, queue: queue, signer: signer, onAnchor: onAnchor, log: log.With().Str("component", "anchor").Logger(), tracer: tracer}
}

// Enqueue adds a forensic leaf hash to the pending batch. Called by C8
// immediately after a forensic record is durably written. If this push
// brings the queue to or past BatchSize, it emits a batch immediately
// rather than waiting for the next scheduled tick (spec.md §4.8 trigger
// (a): "leaf_count >= batch_size").
func (s *Service) Enqueue(ctx context.Context, leafHash, alertID string) error {
	if err := s.queue.Enqueue(ctx, Leaf{Hash: leafHash, AlertID: alertID}); err != nil {
		return fmt.Errorf("enqueue leaf: %w", err)
	}
	n, err := s.queue.Len(ctx)
	if err != nil {
		return nil
	}
	metrics.AnchorQueueDepth.Set(float64(n))
	if n >= s.cfg.BatchSize {
		s.emitBatch(ctx, s.cfg.BatchSize, "batch_size")
	}
	return nil
}

// Run drives the batch ticker until ctx is cancelled, then drains any
// remaining queue into one final anchor before returning.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Poll more often than the interval so the soft limit can fire promptly
	// under bursty enqueue traffic, not just on the interval's own tick.
	backpressurePoll := s.cfg.Interval / 10
	if backpressurePoll <= 0 {
		backpressurePoll = time.Second
	}
	softTicker := time.NewTicker(backpressurePoll)
	defer softTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drainFinal(context.Background())
			return
		case <-ticker.C:
			s.flushIfNonEmpty(ctx)
		case <-softTicker.C:
			s.flushIfOverSoftLimit(ctx)
		}
	}
}

func (s *Service) flushIfNonEmpty(ctx context.Context) {
	n, err := s.queue.Len(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("queue length check failed")
		return
	}
	if n == 0 {
		return
	}
	s.emitBatch(ctx, s.cfg.BatchSize, "scheduled")
}

func (s *Service) flushIfOverSoftLimit(ctx context.Context) {
	n, err := s.queue.Len(ctx)
	if err != nil {
		return
	}
	metrics.AnchorQueueDepth.Set(float64(n))
	softLimit := s.cfg.BatchSize * s.cfg.SoftLimitMultiple
	if n <= softLimit {
		return
	}
	s.log.Warn().Int("queue_depth", n).Int("soft_limit", softLimit).Msg("anchor queue over soft limit, forcing out-of-schedule batch")
	s.emitBatch(ctx, n, "soft_limit") // drain everything, not just one batch-size chunk
}

func (s *Service) drainFinal(ctx context.Context) {
	n, err := s.queue.Len(ctx)
	if err != nil || n == 0 {
		return
	}
	s.log.Info().Int("leaf_count", n).Msg("draining pending leaves into final anchor before shutdown")
	s.emitBatch(ctx, n, "shutdown_drain")
}

// emitBatch drains up to max leaves, builds and signs an Anchor, persists
// it, and invokes onAnchor. A drain shorter than requested (e.g. a
// concurrent drain already took some) still produces a valid anchor over
// whatever was actually returned. cause labels the trace span with why this
// batch fired.
func (s *Service) emitBatch(ctx context.Context, max int, cause string) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartAnchorSpan(ctx, cause)
	}

	leaves, err := s.queue.Drain(ctx, max)
	if err != nil {
		s.log.Error().Err(err).Msg("drain failed, leaving leaves queued")
		if span != nil {
			tracing.EndAnchorSpan(span, "", 0, err)
		}
		return
	}
	if len(leaves) == 0 {
		if span != nil {
			tracing.EndAnchorSpan(span, "", 0, nil)
		}
		return
	}

	hashes := make([]string, len(leaves))
	alertIDs := make([]string, len(leaves))
	for i, l := range leaves {
		hashes[i] = l.Hash
		alertIDs[i] = l.AlertID
	}

	tree := BuildTree(hashes)
	root := tree.Root()
	createdAt := time.Now()

	digest := []byte(root + formatUnix(createdAt))
	sig, err := s.signer.Sign(digest)
	if err != nil {
		s.log.Error().Err(err).Msg("signing failed, anchor dropped")
		if span != nil {
			tracing.EndAnchorSpan(span, "", len(hashes), err)
		}
		return
	}

	a := Anchor{
		AnchorID:   s.nextAnchorID(createdAt),
		CreatedAt:  float64(createdAt.UnixNano()) / 1e9,
		MerkleRoot: root,
		LeafCount:  len(hashes),
		LeafHashes: hashes,
		Signature:  encodeBase64(sig),
		SignerID:   s.signer.ID(),
	}

	if err := s.persist(a); err != nil {
		s.log.Error().Err(err).Str("anchor_id", a.AnchorID).Msg("failed to persist anchor")
		if span != nil {
			tracing.EndAnchorSpan(span, a.AnchorID, a.LeafCount, err)
		}
		return
	}

	metrics.AnchorBatches.Inc()
	if n, err := s.queue.Len(ctx); err == nil {
		metrics.AnchorQueueDepth.Set(float64(n))
	}
	s.log.Info().Str("anchor_id", a.AnchorID).Int("leaf_count", a.LeafCount).Str("merkle_root", a.MerkleRoot).Msg("anchor emitted")

	if span != nil {
		tracing.EndAnchorSpan(span, a.AnchorID, a.LeafCount, nil)
	}
	s.onAnchor(a, alertIDs)
}

// nextAnchorID follows the original's "ANCHOR_<epoch-ms>" shape with a
// monotonic suffix so two batches in the same millisecond never collide.
func (s *Service) nextAnchorID(t time.Time) string {
	s.mu.Lock()
	s.lastSeq++
	seq := s.lastSeq
	s.mu.Unlock()
	return fmt.Sprintf("ANCHOR_%d_%d", t.UnixMilli(), seq)
}

func (s *Service) persist(a Anchor) error {
	if err := os.MkdirAll(s.cfg.AnchorDir, 0o755); err != nil {
		return fmt.Errorf("mkdir anchor dir: %w", err)
	}
	path := filepath.Join(s.cfg.AnchorDir, a.AnchorID+".json")
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal anchor: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write anchor tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename anchor into place: %w", err)
	}
	return nil
}

func formatUnix(t time.Time) string {
	return fmt.Sprintf("%.6f", float64(t.UnixNano())/1e9)
}
