package httpserver

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/priyanshumishra610/SentinelVNC/internal/alertsink"
	"github.com/priyanshumishra610/SentinelVNC/internal/detect"
	"github.com/priyanshumishra610/SentinelVNC/internal/forensics"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()

	store, err := alertsink.NewStore(filepath.Join(dir, "alerts.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	writer := forensics.NewWriter(forensics.WriterConfig{Dir: filepath.Join(dir, "forensic"), MaxAttempts: 1}, nil, zerolog.Nop())
	engine := detect.New(detect.DefaultConfig(), nil)
	sink := alertsink.New(alertsink.DefaultConfig(), engine, writer, store, nil, zerolog.Nop(), nil)
	handler := alertsink.NewHandler(sink, zerolog.Nop())

	return NewRouter(RouterDeps{Alerts: handler, Registry: prometheus.NewRegistry()})
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPostAlertsRejectsMissingSessionID(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing session_id, got %d", rec.Code)
	}
}

func TestPostAlertsHappyPath(t *testing.T) {
	r := newTestRouter(t)
	body := `{"session_id":"session_1.1.1.1_1_deadbeef","client_ip":"1.1.1.1","timestamp":1700000000.0,"heuristic":"clipboard_exfiltration","bytes":204801}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"severity":"medium"`) {
		t.Fatalf("expected medium severity in response, got %s", rec.Body.String())
	}
}

func TestPostContainRejectsMissingSessionID(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contain", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing session_id, got %d", rec.Code)
	}
}
