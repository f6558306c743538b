// Package rules implements C2, the rule evaluator: three pure heuristics
// applied, in order, to the latest forwarded Sample given a Window snapshot.
package rules

import (
	"fmt"
	"time"

	"github.com/priyanshumishra610/SentinelVNC/internal/event"
	"github.com/priyanshumishra610/SentinelVNC/internal/session"
)

// Config holds the three rule thresholds, all operator-configurable
// (spec.md §6 CLI flags / pkg/config.Config).
type Config struct {
	ClipboardThresholdBytes  int64
	FrameburstThresholdBytes int64
	FileTransferWindowSec    float64
	FileTransferRateKbps     float64
}

// DefaultConfig matches spec.md §4.2's defaults.
func DefaultConfig() Config {
	return Config{
		ClipboardThresholdBytes:  200 * 1024,
		FrameburstThresholdBytes: 10 * 1024 * 1024,
		FileTransferWindowSec:    5,
		FileTransferRateKbps:     1000,
	}
}

// Result is the outcome of evaluating all three rules against one Sample.
type Result struct {
	Alert   bool
	Reasons []string // ordered R1, R2, R3; at most three entries
}

// Evaluate applies R1, R2, R3 in order against the latest sample and the
// window it was just appended to. Pure over (sample, window snapshot,
// config): calling it twice with the same Window contents yields identical
// output (spec.md invariant 4).
func Evaluate(cfg Config, win *session.Window, latest session.Sample, now time.Time) Result {
	var reasons []string

	if r1, ok := checkClipboardBurst(cfg, win, latest); ok {
		reasons = append(reasons, r1)
	}
	if r2, ok := checkFrameburst(cfg, latest); ok {
		reasons = append(reasons, r2)
	}
	if r3, ok := checkFileTransferRate(cfg, win, now); ok {
		reasons = append(reasons, r3)
	}

	return Result{Alert: len(reasons) > 0, Reasons: reasons}
}

// checkClipboardBurst is R1: clipboard-style client->server burst.
// Trigger when the sum of client->server bytes over the last 10 stored
// samples (any direction) exceeds the configured threshold.
func checkClipboardBurst(cfg Config, win *session.Window, latest session.Sample) (string, bool) {
	if latest.Direction != event.ClientToServer {
		return "", false
	}
	observed := win.SumBytesLastN(event.ClientToServer, 10)
	if observed > cfg.ClipboardThresholdBytes {
		return fmt.Sprintf(
			"Rule 1: client->server burst exceeds clipboard threshold: %d bytes > %d bytes (%dKB)",
			observed, cfg.ClipboardThresholdBytes, cfg.ClipboardThresholdBytes/1024,
		), true
	}
	return "", false
}

// checkFrameburst is R2: a single server->client sample larger than the
// frameburst threshold.
func checkFrameburst(cfg Config, latest session.Sample) (string, bool) {
	if latest.Direction != event.ServerToClient {
		return "", false
	}
	if latest.Bytes > cfg.FrameburstThresholdBytes {
		return fmt.Sprintf(
			"Rule 2: server->client frame exceeds threshold: %d bytes > %d bytes (%.1fMB)",
			latest.Bytes, cfg.FrameburstThresholdBytes, float64(latest.Bytes)/(1024*1024),
		), true
	}
	return "", false
}

// checkFileTransferRate is R3: sustained high-rate client->server transfer
// over the configured time window, expressed in kbps.
// rate_kbps = (sum_bytes * 8) / (window_sec * 1024)
func checkFileTransferRate(cfg Config, win *session.Window, now time.Time) (string, bool) {
	sum := win.SumBytes(event.ClientToServer, cfg.FileTransferWindowSec, now)
	rateKbps := (float64(sum) * 8) / (cfg.FileTransferWindowSec * 1024)
	if rateKbps > cfg.FileTransferRateKbps {
		return fmt.Sprintf(
			"Rule 3: sustained client->server rate %.1f kbps over %.0fs exceeds threshold %.0f kbps (%d bytes)",
			rateKbps, cfg.FileTransferWindowSec, cfg.FileTransferRateKbps, sum,
		), true
	}
	return "", false
}
