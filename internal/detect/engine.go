// Package detect implements C5, the Detection Engine: a stateless
// orchestrator over C2 (rules) and C4 (ML scorer). History lives entirely
// in the caller-supplied session.Window; the engine itself holds no state.
package detect

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/priyanshumishra610/SentinelVNC/internal/event"
	"github.com/priyanshumishra610/SentinelVNC/internal/features"
	"github.com/priyanshumishra610/SentinelVNC/internal/ml"
	"github.com/priyanshumishra610/SentinelVNC/internal/rules"
	"github.com/priyanshumishra610/SentinelVNC/internal/session"
)

// Severity is the verdict's assigned urgency.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Method is a detection method that contributed to a verdict.
type Method string

const (
	MethodRule Method = "RULE"
	MethodML   Method = "ML"
)

// Verdict is the result of one Detection Engine evaluation (spec.md §3).
type Verdict struct {
	IsAlert           bool
	DetectionMethods  []Method
	Reasons           []string
	Severity          Severity
	MLScore           float64
	FeatureImportance map[string]float64
}

// Config bundles the rule thresholds and the ML decision threshold.
type Config struct {
	Rules        rules.Config
	MLThreshold  float64
}

// DefaultConfig matches spec.md's defaults (rules defaults + ML threshold 0.5).
func DefaultConfig() Config {
	return Config{Rules: rules.DefaultConfig(), MLThreshold: 0.5}
}

// Engine orchestrates C2 and C4 to produce a Verdict per Event.
type Engine struct {
	cfg    Config
	scorer *ml.Scorer
}

// New builds a Detection Engine. scorer may be nil only in tests that don't
// exercise the ML path; production wiring always supplies one (even an
// unloaded one, which simply returns score 0.0).
func New(cfg Config, scorer *ml.Scorer) *Engine {
	return &Engine{cfg: cfg, scorer: scorer}
}

// Evaluate runs the full pipeline for one forwarded chunk: evaluate rules
// against win (to which the caller has already appended latest), extract
// features, score via ML, and assemble the verdict. now is passed explicitly so the same chunk
// replayed later (idempotent C7 re-evaluation) reproduces identical rule
// results against the same window contents.
func (e *Engine) Evaluate(ev event.Event, win *session.Window, latest session.Sample, now time.Time) Verdict {
	ruleResult := safeEvaluateRules(e.cfg.Rules, win, latest, now)

	f := features.Extract(ev, win, now)

	var pred ml.Prediction
	if e.scorer != nil {
		pred = safePredict(e.scorer, f)
	}
	mlAlert := pred.Score > e.cfg.MLThreshold

	return assemble(ruleResult, pred, mlAlert, e.cfg.MLThreshold)
}

func assemble(ruleResult rules.Result, pred ml.Prediction, mlAlert bool, mlThreshold float64) Verdict {
	v := Verdict{
		IsAlert:           ruleResult.Alert || mlAlert,
		MLScore:           pred.Score,
		FeatureImportance: pred.FeatureImportance,
	}

	if ruleResult.Alert {
		v.DetectionMethods = append(v.DetectionMethods, MethodRule)
		v.Reasons = append(v.Reasons, ruleResult.Reasons...)
	}
	if mlAlert {
		v.DetectionMethods = append(v.DetectionMethods, MethodML)
		v.Reasons = append(v.Reasons, fmt.Sprintf("ML score %.3f exceeds threshold %.3f", pred.Score, mlThreshold))
	}

	switch {
	case ruleResult.Alert && mlAlert:
		v.Severity = SeverityHigh
	case ruleResult.Alert || mlAlert:
		v.Severity = SeverityMedium
	default:
		v.Severity = SeverityLow
	}

	return v
}

// safeEvaluateRules and safePredict isolate monitoring faults: a panic in
// rule evaluation or ML scoring is logged and treated as "no alert from
// this method", never propagated up into the forwarder (spec.md §4.5, §7
// "Monitoring fault").
func safeEvaluateRules(cfg rules.Config, win *session.Window, latest session.Sample, now time.Time) (result rules.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("rule evaluation panicked; treating as no rule alert")
			result = rules.Result{}
		}
	}()
	return rules.Evaluate(cfg, win, latest, now)
}

func safePredict(scorer *ml.Scorer, f [features.Length]float64) (pred ml.Prediction) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ml scoring panicked; treating as score 0.0")
			pred = ml.Prediction{Score: 0.0, Diagnostic: "scorer panic"}
		}
	}()
	return scorer.Predict(f)
}
