package alertsink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the Alert persistent store: sqlite, mirroring the teacher pack's
// cgo-free modernc.org/sqlite usage (zamorofthat-elida's internal/storage).
// The Forensic Record itself stays a flat JSON file (internal/forensics);
// only the mutable Alert row needs an updatable store.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) the sqlite-backed Alert store at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open alert store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate alert store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS alerts (
		alert_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		client_ip TEXT NOT NULL,
		upstream_ip TEXT NOT NULL,
		event_timestamp REAL NOT NULL,
		heuristic TEXT NOT NULL,
		is_alert INTEGER NOT NULL,
		detection_methods TEXT,
		reasons TEXT,
		severity TEXT NOT NULL,
		ml_score REAL NOT NULL,
		status TEXT NOT NULL,
		contained INTEGER NOT NULL DEFAULT 0,
		contained_at DATETIME,
		forensic_hash TEXT,
		anchor_root TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_session ON alerts(session_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	`)
	return err
}

// Insert persists a new Alert row.
func (s *Store) Insert(a Alert) error {
	methods, _ := json.Marshal(a.DetectionMethods)
	reasons, _ := json.Marshal(a.Reasons)
	_, err := s.db.Exec(`
		INSERT INTO alerts
		(alert_id, session_id, client_ip, upstream_ip, event_timestamp, heuristic,
		 is_alert, detection_methods, reasons, severity, ml_score, status,
		 contained, contained_at, forensic_hash, anchor_root, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AlertID, a.SessionID, a.ClientIP, a.UpstreamIP, a.EventTimestamp, a.Heuristic,
		boolToInt(a.IsAlert), string(methods), string(reasons), a.Severity, a.MLScore, string(a.Status),
		boolToInt(a.Contained), a.ContainedAt, a.ForensicHash, a.AnchorRoot, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.AlertID, err)
	}
	return nil
}

// UpdateForensicHash backfills the forensic_hash column once C8 writes the
// record.
func (s *Store) UpdateForensicHash(alertID, hash string) error {
	_, err := s.db.Exec(`UPDATE alerts SET forensic_hash = ? WHERE alert_id = ?`, hash, alertID)
	return err
}

// UpdateAnchorRoot backfills anchor_root once C9 anchors the batch
// containing this alert's forensic leaf.
func (s *Store) UpdateAnchorRoot(alertID, root string) error {
	_, err := s.db.Exec(`UPDATE alerts SET anchor_root = ? WHERE alert_id = ?`, root, alertID)
	return err
}

// MarkContained sets contained=true, contained_at=at and status=CONTAINED
// for every not-yet-contained alert on sessionID, whatever its status. Best-effort bookkeeping; the proxy's Session state
// machine is the authoritative record of containment.
func (s *Store) MarkContained(sessionID string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE alerts SET contained = 1, contained_at = ?, status = ? WHERE session_id = ? AND contained = 0`,
		at, string(StatusContained), sessionID,
	)
	return err
}

// Get retrieves one Alert by id.
func (s *Store) Get(alertID string) (*Alert, error) {
	row := s.db.QueryRow(`
		SELECT alert_id, session_id, client_ip, upstream_ip, event_timestamp, heuristic,
		       is_alert, detection_methods, reasons, severity, ml_score, status,
		       contained, contained_at, forensic_hash, anchor_root, created_at
		FROM alerts WHERE alert_id = ?`, alertID)

	var a Alert
	var isAlertInt, containedInt int
	var methods, reasons sql.NullString
	var containedAt sql.NullTime
	var forensicHash, anchorRoot sql.NullString
	var status string

	err := row.Scan(
		&a.AlertID, &a.SessionID, &a.ClientIP, &a.UpstreamIP, &a.EventTimestamp, &a.Heuristic,
		&isAlertInt, &methods, &reasons, &a.Severity, &a.MLScore, &status,
		&containedInt, &containedAt, &forensicHash, &anchorRoot, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", alertID, err)
	}

	a.IsAlert = isAlertInt != 0
	a.Contained = containedInt != 0
	a.Status = Status(status)
	if methods.Valid && methods.String != "" {
		_ = json.Unmarshal([]byte(methods.String), &a.DetectionMethods)
	}
	if reasons.Valid && reasons.String != "" {
		_ = json.Unmarshal([]byte(reasons.String), &a.Reasons)
	}
	if containedAt.Valid {
		t := containedAt.Time
		a.ContainedAt = &t
	}
	if forensicHash.Valid {
		a.ForensicHash = forensicHash.String
	}
	if anchorRoot.Valid {
		v := anchorRoot.String
		a.AnchorRoot = &v
	}

	return &a, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
