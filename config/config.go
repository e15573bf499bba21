package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Scale      ScaleConfig      `yaml:"scale"`
	Filter     FilterConfig     `yaml:"filter"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys and alert thresholds for web push.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
	// FailStreak is the number of consecutive out-of-range commits for one
	// variant that triggers an alert. 0 disables the streak alert.
	FailStreak int `yaml:"fail_streak"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	SnapshotTTLMs   int     `yaml:"snapshot_ttl_ms"`
}

// ScaleConfig holds the serial link and frame settings for the bench scale.
type ScaleConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Device          string  `yaml:"device"`
	Baud            int     `yaml:"baud"`
	ReadTimeoutMs   int     `yaml:"read_timeout_ms"`
	ByteSize        int     `yaml:"byte_size"`
	Parity          string  `yaml:"parity"`    // none|even|odd|mark|space
	StopBits        string  `yaml:"stop_bits"` // 1|1.5|2
	XonXoff         bool    `yaml:"xonxoff"`
	RTSCTS          bool    `yaml:"rtscts"`
	DSRDTR          bool    `yaml:"dsrdtr"`
	ForceDTR        bool    `yaml:"force_dtr"`
	ForceRTS        bool    `yaml:"force_rts"`
	CountsPerGram   float64 `yaml:"counts_per_gram"`
	KgMultiplier    float64 `yaml:"kg_multiplier"`
	DefaultNetUnit  string  `yaml:"default_net_unit"` // auto|g|kg|lb|oz
	FrameTerminator string  `yaml:"frame_terminator"` // escape sequences decoded, e.g. "\r"
	FrameMaxBytes   int     `yaml:"frame_max_bytes"`
	DiagLogCapacity int     `yaml:"diag_log_capacity"`
}

// FilterConfig holds the smoothing and stability detector settings.
type FilterConfig struct {
	MedianWindow     int     `yaml:"median_window"`
	EMAAlpha         float64 `yaml:"ema_alpha"`
	StableSamples    int     `yaml:"stable_samples"`
	StableEpsilonG   float64 `yaml:"stable_epsilon_g"`
	DisplayPrecision float64 `yaml:"display_precision"`
	AutoTare         bool    `yaml:"auto_tare"`
	AutoTareIdleSec  int     `yaml:"auto_tare_idle_sec"`
	ZeroGateG        float64 `yaml:"zero_gate_g"`
	ZeroSpanG        float64 `yaml:"zero_span_g"`
	ZeroRateGPS      float64 `yaml:"zero_rate_gps"`
	SampleHz         int     `yaml:"sample_hz"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ReadTimeout returns the serial read timeout as a duration.
func (s *ScaleConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMs) * time.Millisecond
}

// Terminator returns the frame terminator with escape sequences decoded,
// so "\r" or "\r\n" in the YAML become real control bytes.
func (s *ScaleConfig) Terminator() []byte {
	decoded, err := strconv.Unquote(`"` + s.FrameTerminator + `"`)
	if err != nil || decoded == "" {
		return []byte{'\r'}
	}
	return []byte(decoded)
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.SnapshotTTLMs <= 0 {
		cfg.Server.SnapshotTTLMs = 300
	}

	if cfg.Scale.Device == "" {
		cfg.Scale.Device = "/dev/ttyUSB0"
	}
	if cfg.Scale.Baud <= 0 {
		cfg.Scale.Baud = 9600
	}
	if cfg.Scale.ReadTimeoutMs <= 0 {
		cfg.Scale.ReadTimeoutMs = 500
	}
	if cfg.Scale.ByteSize != 5 && cfg.Scale.ByteSize != 6 && cfg.Scale.ByteSize != 7 {
		cfg.Scale.ByteSize = 8
	}
	if cfg.Scale.Parity == "" {
		cfg.Scale.Parity = "none"
	}
	if cfg.Scale.StopBits == "" {
		cfg.Scale.StopBits = "1"
	}
	if cfg.Scale.CountsPerGram <= 0 {
		cfg.Scale.CountsPerGram = 1000.0
	}
	if cfg.Scale.KgMultiplier <= 0 {
		cfg.Scale.KgMultiplier = 1000.0
	}
	if cfg.Scale.DefaultNetUnit == "" {
		cfg.Scale.DefaultNetUnit = "auto"
	}
	if cfg.Scale.FrameTerminator == "" {
		cfg.Scale.FrameTerminator = `\r`
	}
	if cfg.Scale.FrameMaxBytes <= 0 {
		cfg.Scale.FrameMaxBytes = 64
	}
	if cfg.Scale.DiagLogCapacity <= 0 {
		cfg.Scale.DiagLogCapacity = 2000
	}

	if cfg.Filter.MedianWindow <= 0 {
		cfg.Filter.MedianWindow = 10
	}
	if cfg.Filter.EMAAlpha <= 0 || cfg.Filter.EMAAlpha > 1 {
		cfg.Filter.EMAAlpha = 0.2
	}
	if cfg.Filter.StableSamples <= 0 {
		cfg.Filter.StableSamples = 5
	}
	if cfg.Filter.StableEpsilonG <= 0 {
		cfg.Filter.StableEpsilonG = 0.05
	}
	if cfg.Filter.DisplayPrecision <= 0 {
		cfg.Filter.DisplayPrecision = 0.1
	}
	if cfg.Filter.AutoTareIdleSec <= 0 {
		cfg.Filter.AutoTareIdleSec = 30
	}
	if cfg.Filter.ZeroGateG <= 0 {
		cfg.Filter.ZeroGateG = 3.0
	}
	if cfg.Filter.ZeroSpanG <= 0 {
		cfg.Filter.ZeroSpanG = 0.8
	}
	if cfg.Filter.ZeroRateGPS <= 0 {
		cfg.Filter.ZeroRateGPS = 0.05
	}
	if cfg.Filter.SampleHz <= 0 {
		cfg.Filter.SampleHz = 10
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:data/weigh.db?_fk=1"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}
