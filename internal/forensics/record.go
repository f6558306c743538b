// Package forensics implements C8: canonicalizing an alert into an
// immutable, content-hashed Forensic Record and durably appending it, then
// handing the leaf hash to C9 for the next Merkle batch.
package forensics

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Event is the event snapshot embedded in a Forensic Record — a trimmed,
// JSON-stable projection of internal/event.Event (no time.Time, which does
// not round-trip canonically across Go/Python boundaries; spec.md's wire
// format uses a unix-float timestamp everywhere).
type Event struct {
	SessionID string  `json:"session_id"`
	Type      string  `json:"type"`
	Direction string  `json:"direction"`
	Timestamp float64 `json:"timestamp"`
	Bytes     int64   `json:"bytes"`
}

// Verdict is the detection verdict snapshot embedded in a Forensic Record.
type Verdict struct {
	IsAlert          bool               `json:"is_alert"`
	DetectionMethods []string           `json:"detection_methods"`
	Severity         string             `json:"severity"`
	MLScore          float64            `json:"ml_score"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
}

// Record is the canonical, immutable forensic document for one alert
// (spec.md §3 "Forensic Record"). ForensicID always equals AlertID.
type Record struct {
	ForensicID string   `json:"forensic_id"`
	AlertID    string   `json:"alert_id"`
	Timestamp  float64  `json:"timestamp"`
	Event      Event    `json:"event"`
	Verdict    Verdict  `json:"verdict"`
	Reasons    []string `json:"reasons"`
	Hash       string   `json:"hash"`
}

// NewRecord builds a Record with ForensicID set from alertID and Hash left
// empty; call Canonicalize (or Writer.Write, which does it internally) to
// compute and fill Hash before persisting.
func NewRecord(alertID string, timestamp float64, ev Event, verdict Verdict, reasons []string) Record {
	return Record{
		ForensicID: alertID,
		AlertID:    alertID,
		Timestamp:  timestamp,
		Event:      ev,
		Verdict:    verdict,
		Reasons:    append([]string(nil), reasons...),
	}
}

// Canonicalize computes the record's content hash: SHA-256 over the
// record's canonical JSON bytes (map with sorted keys, the `hash` field
// itself excluded) — spec.md §4.7 and invariant 7 ("forensic determinism").
// It returns a copy of r with Hash populated; the caller's value is not
// modified.
func Canonicalize(r Record) (Record, error) {
	r.Hash = ""
	b, err := canonicalBytes(r)
	if err != nil {
		return r, fmt.Errorf("canonicalize forensic record: %w", err)
	}
	sum := sha256.Sum256(b)
	r.Hash = hex.EncodeToString(sum[:])
	return r, nil
}

// canonicalBytes serializes v through a generic map so encoding/json's
// alphabetical map-key ordering gives us sorted keys and stable number
// formatting without a third-party canonical-JSON library — no example in
// the pack ships one, and the stdlib's own map-marshal behavior already
// satisfies spec.md's "sorted keys, stable number formatting" requirement.
func canonicalBytes(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	delete(generic, "hash")
	return json.Marshal(generic)
}

// VerifyHash recomputes a record's hash and reports whether it matches the
// stored Hash field — the per-record half of invariant 7.
func VerifyHash(r Record) (bool, error) {
	recomputed, err := Canonicalize(r)
	if err != nil {
		return false, err
	}
	return recomputed.Hash == r.Hash, nil
}
