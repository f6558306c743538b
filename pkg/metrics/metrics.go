// Package metrics holds the Prometheus collectors shared across
// sentinel-proxy and sentinel-alertd, registered once per process the way
// the teacher registers its rate-limit/anomaly metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// --- C6 proxy ---
	BytesForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "bytes_forwarded_total", Help: "Bytes forwarded per direction."},
		[]string{"direction"},
	)
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "sentinelvnc", Name: "sessions_active", Help: "Currently active proxy sessions."},
	)
	SessionsContained = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "sessions_contained_total", Help: "Sessions transitioned to CONTAINED."},
	)
	AlertPostFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "alert_post_failures_total", Help: "Alert POSTs that timed out or errored."},
	)

	// --- C5 detection engine ---
	RuleFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "rule_fired_total", Help: "Rule firings by rule name."},
		[]string{"rule"},
	)
	MLScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "sentinelvnc", Name: "ml_score", Help: "Distribution of ML anomaly scores.", Buckets: prometheus.LinearBuckets(0, 0.1, 11)},
	)
	VerdictsBySeverity = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "verdicts_total", Help: "Detection verdicts by severity."},
		[]string{"severity"},
	)

	// --- C7 alert sink ---
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "alerts_total", Help: "Alerts created, by severity."},
		[]string{"severity"},
	)
	AlertsDowngraded = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "alerts_downgraded_total", Help: "Alert payloads that re-evaluated to no-alert."},
	)
	ContainmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "containments_total", Help: "Containment decisions issued, by trigger."},
		[]string{"trigger"},
	)

	// --- C8 forensics ---
	ForensicWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "forensic_write_failures_total", Help: "Forensic record writes that exhausted retries."},
	)

	// --- C9 anchor ---
	AnchorBatches = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "anchor_batches_total", Help: "Merkle anchors emitted."},
	)
	AnchorQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "sentinelvnc", Name: "anchor_queue_depth", Help: "Pending leaf hashes awaiting the next anchor."},
	)
	AnchorVerifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sentinelvnc", Name: "anchor_verify_failures_total", Help: "Anchor verification mismatches detected."},
	)

	registerOnce sync.Once
)

// Register registers every collector against reg exactly once per process.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			BytesForwarded, SessionsActive, SessionsContained, AlertPostFailures,
			RuleFired, MLScore, VerdictsBySeverity,
			AlertsTotal, AlertsDowngraded, ContainmentsTotal,
			ForensicWriteFailures,
			AnchorBatches, AnchorQueueDepth, AnchorVerifyFailures,
		)
	})
}
