package main

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/priyanshumishra610/SentinelVNC/internal/alertsink"
	"github.com/priyanshumishra610/SentinelVNC/internal/anchor"
	"github.com/priyanshumishra610/SentinelVNC/internal/detect"
	"github.com/priyanshumishra610/SentinelVNC/internal/forensics"
	"github.com/priyanshumishra610/SentinelVNC/internal/httpserver"
	"github.com/priyanshumishra610/SentinelVNC/internal/ml"
	"github.com/priyanshumishra610/SentinelVNC/internal/rules"
	"github.com/priyanshumishra610/SentinelVNC/internal/tracing"
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

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	tracer, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize tracing provider")
		os.Exit(2)
	}

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

	store, err := alertsink.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Store.SQLitePath).Msg("failed to open alert store")
		os.Exit(2)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not reachable yet; anchor queue falls back to in-memory, containment publish disabled")
	} else {
		log.Info().Msg("redis reachable")
	}

	signerKey, err := hex.DecodeString(cfg.Anchor.HMACKeyHex)
	if err != nil {
		log.Warn().Err(err).Msg("hmac_key_hex is not valid hex; generating an ephemeral key instead")
		signerKey = nil
	}
	signer, err := anchor.NewHMACSigner(signerKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize anchor signer")
		os.Exit(2)
	}

	var queue anchor.Queue
	if err := rdb.Ping(context.Background()).Err(); err == nil {
		queue = anchor.NewRedisQueue(rdb, "sentinelvnc:anchor:pending")
	} else {
		queue = anchor.NewMemQueue()
	}

	onAnchor := func(a anchor.Anchor, alertIDs []string) {
		for _, id := range alertIDs {
			if err := store.UpdateAnchorRoot(id, a.MerkleRoot); err != nil {
				log.Warn().Err(err).Str("alert_id", id).Str("anchor_id", a.AnchorID).Msg("failed to backfill anchor_root")
			}
		}
	}

	anchorSvc := anchor.NewService(anchor.ServiceConfig{
		AnchorDir:         cfg.Anchor.AnchorDir,
		BatchSize:         cfg.Anchor.BatchSize,
		Interval:          time.Duration(cfg.Anchor.IntervalSec) * time.Second,
		SoftLimitMultiple: cfg.Anchor.SoftLimitMultiple,
	}, queue, signer, onAnchor, log.Logger, tracer)

	writer := forensics.NewWriter(forensics.WriterConfig{
		Dir: cfg.Anchor.ForensicDir,
	}, anchorSvc, log.Logger)

	sink := alertsink.New(alertsink.Config{
		AutoContainOnAlert:   cfg.Auto.ContainOnAlert,
		AutoContainSeverity:  detect.Severity(strings.ToUpper(cfg.Auto.ContainSeverity)),
		ContainChannelPrefix: "sentinelvnc:contain:",
	}, engine, writer, store, rdb, log.Logger, tracer)
	handler := alertsink.NewHandler(sink, log.Logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{Alerts: handler, Registry: registry})

	httpserver.EnableDrainFlag(true)

	addr := getenv("SENTINEL_ALERTD_HTTP_ADDR", ":8000")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	anchorDone := make(chan struct{})
	go func() {
		defer close(anchorDone)
		anchorSvc.Run(ctx)
	}()

	go func() {
		log.Info().Str("addr", addr).Str("anchor_dir", cfg.Anchor.AnchorDir).Str("forensic_dir", cfg.Anchor.ForensicDir).Msg("sentinel-alertd starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown requested; draining")
	httpserver.SetDraining(true)

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("http server did not shut down in time; forcing close")
		_ = srv.Close()
	}

	<-anchorDone // anchor.Service.Run drains any pending leaves into a final anchor on ctx cancellation

	if tracerErr := tracer.Shutdown(context.Background()); tracerErr != nil {
		log.Warn().Err(tracerErr).Msg("tracer shutdown")
	}
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
	log.Info().Msg("sentinel-alertd exited")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
