package alertsink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/priyanshumishra610/SentinelVNC/internal/detect"
	"github.com/priyanshumishra610/SentinelVNC/internal/event"
	"github.com/priyanshumishra610/SentinelVNC/internal/forensics"
	"github.com/priyanshumishra610/SentinelVNC/internal/session"
	"github.com/priyanshumishra610/SentinelVNC/internal/tracing"
	"github.com/priyanshumishra610/SentinelVNC/pkg/metrics"
)

// heuristicToEvent maps the proxy's coarse heuristic name onto the typed
// (event.Type, event.Direction) pair the Detection Engine expects.
var heuristicToEvent = map[string]struct {
	Type      event.Type
	Direction event.Direction
}{
	"clipboard_exfiltration": {event.TypeClipboardCopy, event.ClientToServer},
	"frameburst":             {event.TypeFrameburst, event.ServerToClient},
	"file_transfer_like":     {event.TypeFileTransfer, event.ClientToServer},
}

// severityRank orders severities for the "minimum severity to auto-contain"
// comparison (pkg/config.Auto.ContainSeverity).
var severityRank = map[detect.Severity]int{
	detect.SeverityLow:      0,
	detect.SeverityMedium:   1,
	detect.SeverityHigh:     2,
	detect.SeverityCritical: 3,
}

// Config bundles C7's policy knobs.
type Config struct {
	AutoContainOnAlert  bool
	AutoContainSeverity detect.Severity
	ContainChannelPrefix string
}

// DefaultConfig matches pkg/config.Default().Auto.
func DefaultConfig() Config {
	return Config{AutoContainOnAlert: false, AutoContainSeverity: detect.SeverityHigh, ContainChannelPrefix: "sentinelvnc:contain:"}
}

// Sink is C7: it never trusts a caller-asserted verdict — every AlertRequest
// is re-scored by the same Detection Engine the proxy uses, so a replayed
// request always reproduces the same Alert (spec.md invariant 4 extended to
// the HTTP boundary).
type Sink struct {
	cfg      Config
	engine   *detect.Engine
	writer   *forensics.Writer
	store    *Store
	rdb      *redis.Client
	seq      int64 // local monotonic tiebreaker when redis is unavailable
	log      zerolog.Logger
	tracer   *tracing.Provider
}

// New wires the Detection Engine, forensic writer, alert store, and an
// optional Redis client (for the alert-id tiebreak counter and the
// containment control channel) into a running Sink. tracer may be nil.
func New(cfg Config, engine *detect.Engine, writer *forensics.Writer, store *Store, rdb *redis.Client, log zerolog.Logger, tracer *tracing.Provider) *Sink {
	if cfg.ContainChannelPrefix == "" {
		cfg.ContainChannelPrefix = DefaultConfig().ContainChannelPrefix
	}
	return &Sink{cfg: cfg, engine: engine, writer: writer, store: store, rdb: rdb, log: log.With().Str("component", "alertsink").Logger(), tracer: tracer}
}

// ProcessAlert re-evaluates req through the Detection Engine, persists the
// resulting Alert, writes its Forensic Record, optionally auto-contains, and
// returns the response the proxy expects.
func (s *Sink) ProcessAlert(ctx context.Context, req AlertRequest) (AlertResponse, error) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartAlertSpan(ctx, req.SessionID)
	}

	win := session.NewWindow()
	for _, dto := range req.RecentSamples {
		win.Append(session.Sample{
			Timestamp: unixToTime(dto.Timestamp),
			Direction: event.Direction(dto.Direction),
			Bytes:     dto.Bytes,
		})
	}

	mapped, known := heuristicToEvent[req.Heuristic]
	if !known {
		mapped = struct {
			Type      event.Type
			Direction event.Direction
		}{event.TypeUnknown, event.ClientToServer}
	}

	now := unixToTime(req.Timestamp)
	ev := event.Event{
		SessionID: req.SessionID,
		Type:      mapped.Type,
		Direction: mapped.Direction,
		Timestamp: now,
		Bytes:     req.Bytes,
	}
	latest := session.Sample{Timestamp: now, Direction: mapped.Direction, Bytes: req.Bytes}
	win.Append(latest)

	verdict := s.engine.Evaluate(ev, win, latest, now)
	metrics.VerdictsBySeverity.WithLabelValues(string(verdict.Severity)).Inc()
	for _, m := range verdict.DetectionMethods {
		if m == detect.MethodRule {
			metrics.RuleFired.WithLabelValues("combined").Inc()
		}
	}

	alertID := s.nextAlertID(ctx, now)
	createdAt := time.Now()

	a := Alert{
		AlertID:          alertID,
		SessionID:        req.SessionID,
		ClientIP:         req.ClientIP,
		UpstreamIP:       req.UpstreamIP,
		EventTimestamp:   req.Timestamp,
		Heuristic:        req.Heuristic,
		IsAlert:          verdict.IsAlert,
		DetectionMethods: methodsToStrings(verdict.DetectionMethods),
		Reasons:          verdict.Reasons,
		Severity:         string(verdict.Severity),
		MLScore:          verdict.MLScore,
		Status:           StatusOpen,
		CreatedAt:        createdAt,
	}

	if !verdict.IsAlert {
		// spec.md S4: no-alert events are not persisted as forensic
		// records (forensic_hash stays unassigned), but the caller still
		// receives a structured no-op response.
		metrics.AlertsDowngraded.Inc()
		if span != nil {
			tracing.EndAlertSpan(span, alertID, lowerSeverity(verdict.Severity), nil)
		}
		return AlertResponse{Action: "no-op", AlertID: alertID, Severity: lowerSeverity(verdict.Severity), ForensicHash: ""}, nil
	}

	if err := s.store.Insert(a); err != nil {
		if span != nil {
			tracing.EndAlertSpan(span, alertID, lowerSeverity(verdict.Severity), err)
		}
		return AlertResponse{}, fmt.Errorf("persist alert: %w", err)
	}
	metrics.AlertsTotal.WithLabelValues(string(verdict.Severity)).Inc()

	rec := forensics.NewRecord(alertID, req.Timestamp,
		forensics.Event{
			SessionID: req.SessionID,
			Type:      string(mapped.Type),
			Direction: string(mapped.Direction),
			Timestamp: req.Timestamp,
			Bytes:     req.Bytes,
		},
		forensics.Verdict{
			IsAlert:           verdict.IsAlert,
			DetectionMethods:  methodsToStrings(verdict.DetectionMethods),
			Severity:          string(verdict.Severity),
			MLScore:           verdict.MLScore,
			FeatureImportance: verdict.FeatureImportance,
		},
		verdict.Reasons,
	)

	written, err := s.writer.Write(ctx, rec)
	forensicHash := ""
	if err != nil {
		s.log.Error().Err(err).Str("alert_id", alertID).Msg("forensic write failed, alert stays without forensic_hash for now")
	} else {
		forensicHash = written.Hash
		if err := s.store.UpdateForensicHash(alertID, forensicHash); err != nil {
			s.log.Error().Err(err).Str("alert_id", alertID).Msg("failed to backfill forensic_hash")
		}
	}

	action := "no-op"
	if s.shouldAutoContain(verdict.Severity) {
		if err := s.publishContain(ctx, req.SessionID, "auto: "+string(verdict.Severity)+" severity alert"); err != nil {
			s.log.Error().Err(err).Str("session_id", req.SessionID).Msg("failed to publish containment command")
		} else {
			action = "contain"
			metrics.ContainmentsTotal.WithLabelValues("auto").Inc()
		}
	}

	if span != nil {
		tracing.EndAlertSpan(span, alertID, lowerSeverity(verdict.Severity), nil)
	}
	return AlertResponse{
		Action:       action,
		AlertID:      alertID,
		Severity:     lowerSeverity(verdict.Severity),
		ForensicHash: forensicHash,
	}, nil
}

// ProcessContainment publishes a containment command to the session's
// control channel. Publication success is the best signal C7 has that a
// watching proxy replica will act on it (spec.md §7 "containment race":
// idempotent, so a second request against an already-contained session is
// harmless).
func (s *Sink) ProcessContainment(ctx context.Context, req ContainRequest) (ContainResponse, error) {
	reason := "operator requested containment"
	if req.Reason != nil && *req.Reason != "" {
		reason = *req.Reason
	}

	if err := s.publishContain(ctx, req.SessionID, reason); err != nil {
		return ContainResponse{Success: false, SessionID: req.SessionID, Message: fmt.Sprintf("failed to publish containment command: %v", err)}, nil
	}

	if err := s.store.MarkContained(req.SessionID, time.Now()); err != nil {
		s.log.Warn().Err(err).Str("session_id", req.SessionID).Msg("failed to backfill contained status on alert rows")
	}
	metrics.ContainmentsTotal.WithLabelValues("operator").Inc()

	return ContainResponse{Success: true, SessionID: req.SessionID, Message: "containment command published"}, nil
}

type containMessage struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (s *Sink) publishContain(ctx context.Context, sessionID, reason string) error {
	if s.rdb == nil {
		return fmt.Errorf("no redis client configured, cannot reach proxy control channel")
	}
	b, err := json.Marshal(containMessage{SessionID: sessionID, Reason: reason})
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.cfg.ContainChannelPrefix+sessionID, b).Err()
}

func (s *Sink) shouldAutoContain(sev detect.Severity) bool {
	if !s.cfg.AutoContainOnAlert {
		return false
	}
	return severityRank[sev] >= severityRank[s.cfg.AutoContainSeverity]
}

// nextAlertID builds "ALERT_<epoch-ms>_<seq>", with seq drawn from Redis
// INCR when available (shared across sentinel-alertd replicas) or a local
// atomic counter otherwise — either way, two alerts in the same millisecond
// never collide.
func (s *Sink) nextAlertID(ctx context.Context, now time.Time) string {
	ms := now.UnixMilli()
	var seq int64
	if s.rdb != nil {
		if n, err := s.rdb.Incr(ctx, "sentinelvnc:alert_seq").Result(); err == nil {
			seq = n
		} else {
			seq = atomic.AddInt64(&s.seq, 1)
		}
	} else {
		seq = atomic.AddInt64(&s.seq, 1)
	}
	return fmt.Sprintf("ALERT_%d_%d", ms, seq)
}

func methodsToStrings(methods []detect.Method) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

func lowerSeverity(sev detect.Severity) string {
	switch sev {
	case detect.SeverityLow:
		return "low"
	case detect.SeverityMedium:
		return "medium"
	case detect.SeverityHigh:
		return "high"
	case detect.SeverityCritical:
		return "critical"
	default:
		return "low"
	}
}

func unixToTime(sec float64) time.Time {
	whole := int64(sec)
	frac := sec - float64(whole)
	return time.Unix(whole, int64(frac*1e9))
}
