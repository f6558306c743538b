package proxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/priyanshumishra610/SentinelVNC/internal/detect"
)

// startEchoServer returns a listener that echoes every byte it receives,
// used to stand in for the upstream desktop server.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						if _, werr := conn.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func startAlertStub(t *testing.T, action string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"action": action, "alert_id": "ALERT_TEST", "severity": "high", "forensic_hash": "deadbeef",
		})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func startTestProxy(t *testing.T, cfg Config) string {
	t.Helper()
	engine := detect.New(detect.DefaultConfig(), nil)
	px := New(cfg, engine, nil, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // just claiming a free port; ListenAndServe re-binds it

	cfg.ListenAddr = addr
	px = New(cfg, engine, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan struct{})
	go func() {
		// ListenAndServe blocks; give it a moment to bind before the test dials.
		go func() { time.Sleep(20 * time.Millisecond); close(ready) }()
		_ = px.ListenAndServe(ctx)
	}()
	<-ready
	return addr
}

func TestByteFaithfulForwarding(t *testing.T) {
	upstream := startEchoServer(t)
	alertURL := startAlertStub(t, "no-op")

	cfg := DefaultConfig()
	cfg.ServerAddr = upstream
	cfg.AlertURL = alertURL
	cfg.MaxChunkBytes = 4096
	cfg.IOTimeout = 2 * time.Second
	cfg.AlertTimeout = time.Second

	listenAddr := startTestProxy(t, cfg)

	conn, err := net.Dial("tcp", listenAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello sentinelvnc, this is a small harmless chunk")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(payload))
	n := 0
	for n < len(payload) {
		m, err := conn.Read(buf[n:])
		if err != nil {
			t.Fatalf("read echo: %v", err)
		}
		n += m
	}

	if string(buf) != string(payload) {
		t.Fatalf("expected byte-faithful echo, got %q want %q", buf, payload)
	}
}

func TestContainOnAlertClosesSession(t *testing.T) {
	upstream := startEchoServer(t)
	alertURL := startAlertStub(t, "no-op")

	cfg := DefaultConfig()
	cfg.ServerAddr = upstream
	cfg.AlertURL = alertURL
	cfg.ContainOnAlert = true
	cfg.MaxChunkBytes = 16 * 1024 * 1024
	cfg.IOTimeout = 2 * time.Second
	cfg.AlertTimeout = time.Second

	listenAddr := startTestProxy(t, cfg)

	conn, err := net.Dial("tcp", listenAddr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	// A single client->server chunk over the clipboard threshold triggers
	// R1, and ContainOnAlert forces containment even though the alert stub
	// itself answers no-op.
	big := make([]byte, 205*1024)
	if _, err := conn.Write(big); err != nil {
		t.Fatalf("write: %v", err)
	}

	// After containment the upstream no longer echoes; the read should
	// eventually fail/EOF rather than deliver the full payload.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(big))
	total := 0
	for total < len(big) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			break
		}
	}
	if total == len(big) {
		t.Fatal("expected containment to interrupt forwarding before the full chunk echoed back")
	}
}
