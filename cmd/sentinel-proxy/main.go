package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/priyanshumishra610/SentinelVNC/internal/detect"
	"github.com/priyanshumishra610/SentinelVNC/internal/ml"
	"github.com/priyanshumishra610/SentinelVNC/internal/proxy"
	"github.com/priyanshumishra610/SentinelVNC/internal/rules"
	"github.com/priyanshumishra610/SentinelVNC/pkg/config"
	"github.com/priyanshumishra610/SentinelVNC/pkg/metrics"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	switch strings.ToLower(getenv("LOG_LEVEL", "info")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfgPath := os.Getenv("SENTINELVNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/policies.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error().Err(err).Str("config", cfgPath).Msg("load config")
		os.Exit(2)
	}

	listen := flag.String("listen", cfg.Proxy.ListenAddr, "address to accept client VNC connections on")
	server := flag.String("server", cfg.Proxy.ServerAddr, "upstream VNC/desktop-sharing server address")
	alertURL := flag.String("alert-url", cfg.Proxy.AlertURL, "sentinel-alertd alert endpoint")
	containOnAlert := flag.Bool("contain-on-alert", cfg.Proxy.ContainOnAlert, "immediately contain the session on any alert, bypassing C7's decision")
	clipboardKB := flag.Int("clipboard-threshold-kb", cfg.Rules.ClipboardThresholdKB, "Rule 1 clipboard burst threshold, in KB")
	frameburstMB := flag.Int("frameburst-threshold-mb", cfg.Rules.FrameburstThresholdMB, "Rule 2 frameburst threshold, in MB")
	fileTransferKbps := flag.Float64("file-transfer-rate-kbps", cfg.Rules.FileTransferRateKbps, "Rule 3 sustained transfer threshold, in kbps")
	flag.Parse()

	cfg.Proxy.ListenAddr = *listen
	cfg.Proxy.ServerAddr = *server
	cfg.Proxy.AlertURL = *alertURL
	cfg.Proxy.ContainOnAlert = *containOnAlert
	cfg.Rules.ClipboardThresholdKB = *clipboardKB
	cfg.Rules.FrameburstThresholdMB = *frameburstMB
	cfg.Rules.FileTransferRateKbps = *fileTransferKbps

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	metricsAddr := getenv("SENTINEL_PROXY_METRICS_ADDR", "0.0.0.0:9090")
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           buildMetricsMux(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", metricsAddr).Msg("sentinel-proxy metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	scorer, err := ml.NewScorer(cfg.ML.ModelPath)
	if err != nil {
		log.Error().Err(err).Str("model_path", cfg.ML.ModelPath).Msg("ml model artifact is malformed or layout-mismatched")
		os.Exit(2)
	}

	engine := detect.New(detect.Config{
		Rules: rules.Config{
			ClipboardThresholdBytes:  int64(cfg.Rules.ClipboardThresholdKB) * 1024,
			FrameburstThresholdBytes: int64(cfg.Rules.FrameburstThresholdMB) * 1024 * 1024,
			FileTransferWindowSec:    cfg.Rules.FileTransferWindowSec,
			FileTransferRateKbps:     cfg.Rules.FileTransferRateKbps,
		},
		MLThreshold: cfg.ML.Threshold,
	}, scorer)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not reachable yet; externally-triggered containment unavailable until it is")
	} else {
		log.Info().Msg("redis reachable")
	}

	px := proxy.New(proxy.Config{
		ListenAddr:           cfg.Proxy.ListenAddr,
		ServerAddr:           cfg.Proxy.ServerAddr,
		AlertURL:             cfg.Proxy.AlertURL,
		ContainOnAlert:       cfg.Proxy.ContainOnAlert,
		MaxChunkBytes:        cfg.Proxy.MaxChunkBytes,
		ConnectTimeout:       time.Duration(cfg.Proxy.ConnectTimeoutSec) * time.Second,
		IOTimeout:            time.Duration(cfg.Proxy.IOTimeoutSec) * time.Second,
		AlertTimeout:         time.Duration(cfg.Proxy.AlertTimeoutSec) * time.Second,
		ContainChannelPrefix: "sentinelvnc:contain:",
	}, engine, rdb, log.Logger)

	log.Info().
		Str("listen", cfg.Proxy.ListenAddr).
		Str("server", cfg.Proxy.ServerAddr).
		Str("alert_url", cfg.Proxy.AlertURL).
		Bool("contain_on_alert", cfg.Proxy.ContainOnAlert).
		Msg("sentinel-proxy starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- px.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested; waiting for in-flight sessions to unwind")
		if err := <-serveErr; err != nil {
			log.Error().Err(err).Msg("listener did not shut down cleanly")
		}
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("listener failed")
			_ = rdb.Close()
			os.Exit(1)
		}
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := metricsSrv.Shutdown(shCtx); err != nil {
		_ = metricsSrv.Close()
	}

	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
	log.Info().Int("sessions_remaining", px.SessionCount()).Msg("sentinel-proxy exited")
}

func buildMetricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
