// Package config loads SentinelVNC's policy file with koanf, the same way
// the teacher loads rate-limit policy: YAML on disk, typed into a Config
// struct, with environment variables overriding individual operational
// knobs at startup (spec.md §6 "Environment").
package config

import (
	"os"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Proxy holds C6's listen/upstream/alert-sink wiring.
type Proxy struct {
	ListenAddr        string `yaml:"listen_addr"`
	ServerAddr        string `yaml:"server_addr"`
	AlertURL          string `yaml:"alert_url"`
	ContainOnAlert    bool   `yaml:"contain_on_alert"`
	MaxChunkBytes     int    `yaml:"max_chunk_bytes"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	IOTimeoutSec      int    `yaml:"io_timeout_sec"`
	AlertTimeoutSec   int    `yaml:"alert_timeout_sec"`
}

// Rules holds C2's three thresholds.
type Rules struct {
	ClipboardThresholdKB  int     `yaml:"clipboard_threshold_kb"`
	FrameburstThresholdMB int     `yaml:"frameburst_threshold_mb"`
	FileTransferRateKbps  float64 `yaml:"file_transfer_rate_kbps"`
	FileTransferWindowSec float64 `yaml:"file_transfer_window_sec"`
}

// ML holds C4's model path and decision threshold.
type ML struct {
	ModelPath string  `yaml:"model_path"`
	Threshold float64 `yaml:"threshold"`
}

// Anchor holds C9's batching policy and pluggable-signer selection.
type Anchor struct {
	ForensicDir       string `yaml:"forensic_dir"`
	AnchorDir         string `yaml:"anchor_dir"`
	BatchSize         int    `yaml:"batch_size"`
	IntervalSec       int    `yaml:"interval_sec"`
	SoftLimitMultiple int    `yaml:"soft_limit_multiple"`
	Signer            string `yaml:"signer"` // only "hmac" exists; sentinel-alertd always builds an HMACSigner and does not read this field
	HMACKeyHex        string `yaml:"hmac_key_hex"`
}

// Auto holds automatic-containment policy.
type Auto struct {
	ContainOnAlert  bool   `yaml:"contain_on_alert"`
	ContainSeverity string `yaml:"contain_severity"` // minimum severity to auto-contain, default HIGH
}

// Store holds the Alert persistent store location.
type Store struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Redis holds the shared-queue / control-channel connection.
type Redis struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// Tracing holds C7/C9's optional OpenTelemetry span export.
type Tracing struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "stdout" or "none"
	ServiceName string `yaml:"service_name"`
}

// Config is the top-level policy document for both binaries. A single file
// can back both sentinel-proxy and sentinel-alertd; each reads only the
// sections it needs.
type Config struct {
	Proxy  Proxy  `yaml:"proxy"`
	Rules  Rules  `yaml:"rules"`
	ML     ML     `yaml:"ml"`
	Anchor Anchor `yaml:"anchor"`
	Auto   Auto   `yaml:"auto"`
	Store  Store  `yaml:"store"`
	Redis  Redis  `yaml:"redis"`
	Tracing Tracing `yaml:"tracing"`
}

// Default returns spec.md's documented defaults.
func Default() Config {
	return Config{
		Proxy: Proxy{
			ListenAddr:        "0.0.0.0:5900",
			ServerAddr:        "localhost:5901",
			AlertURL:          "http://localhost:8000/api/v1/alerts",
			ContainOnAlert:    false,
			MaxChunkBytes:     4096,
			ConnectTimeoutSec: 30,
			IOTimeoutSec:      30,
			AlertTimeoutSec:   5,
		},
		Rules: Rules{
			ClipboardThresholdKB:  200,
			FrameburstThresholdMB: 10,
			FileTransferRateKbps:  1000,
			FileTransferWindowSec: 5,
		},
		ML: ML{ModelPath: "", Threshold: 0.5},
		Anchor: Anchor{
			ForensicDir:       "data/forensic",
			AnchorDir:         "data/anchors",
			BatchSize:         100,
			IntervalSec:       60,
			SoftLimitMultiple: 10,
			Signer:            "hmac",
		},
		Auto:  Auto{ContainOnAlert: false, ContainSeverity: "HIGH"},
		Store: Store{SQLitePath: "data/alerts.db"},
		Redis: Redis{Addr: "localhost:6379", DB: 0},
		Tracing: Tracing{Enabled: false, Exporter: "none", ServiceName: "sentinel-alertd"},
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// environment overrides. A missing path is not an error: defaults alone are
// a valid configuration for local/dev use.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			k := koanf.New(".")
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, err
			}
			if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
				return nil, err
			}
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides wires the environment variables spec.md §6 names onto
// the loaded config, following the teacher's getenv-with-default idiom.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODEL_PATH"); v != "" {
		cfg.ML.ModelPath = v
	}
	if v := os.Getenv("FORENSIC_DIR"); v != "" {
		cfg.Anchor.ForensicDir = v
	}
	if v := os.Getenv("ANCHOR_DIR"); v != "" {
		cfg.Anchor.AnchorDir = v
	}
	if v := os.Getenv("ANCHOR_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Anchor.BatchSize = n
		}
	}
	if v := os.Getenv("ANCHOR_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Anchor.IntervalSec = n
		}
	}
	if v := os.Getenv("ML_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ML.Threshold = f
		}
	}
	if v := os.Getenv("ALERT_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Proxy.AlertTimeoutSec = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
}
