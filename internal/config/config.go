package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverRemote = "remote"
)

// Config captures the settings required to boot the sentry engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Clients    ClientsConfig    `yaml:"clients"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
	Rules      RulesConfig      `yaml:"rules"`
	Cache      CacheConfig      `yaml:"cache"`
	Detection  DetectionConfig  `yaml:"detection"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Stream     StreamConfig     `yaml:"stream"`
	Postmortem PostmortemConfig `yaml:"postmortem"`
}

// ServerConfig controls the gRPC, HTTP, and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// StorageConfig selects where metrics, logs, and incidents live.
// The remote driver reads signals from clients.signals and keeps incidents in the SQLite file.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// ClientsConfig groups outbound integrations.
type ClientsConfig struct {
	Signals SignalsClientConfig `yaml:"signals"`
}

// SignalsClientConfig configures the remote signal API.
type SignalsClientConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	SeriesPath  string        `yaml:"seriesPath"`
	WindowPath  string        `yaml:"windowPath"`
	LogsPath    string        `yaml:"logsPath"`
	CatalogPath string        `yaml:"catalogPath"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"maxRetries"`
}

// ArchiveConfig configures the optional postmortem archive.
type ArchiveConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"apiKey"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls rule-pack loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls in-process caching of remote catalog lookups.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Size       int           `yaml:"size"`
	CatalogTTL time.Duration `yaml:"catalogTTL"`
}

// DetectionConfig tunes the anomaly detector and the periodic sweep.
type DetectionConfig struct {
	WindowSize  int           `yaml:"windowSize"`
	MinPoints   int           `yaml:"minPoints"`
	Threshold   int           `yaml:"threshold"`
	SeriesLimit int           `yaml:"seriesLimit"`
	Interval    time.Duration `yaml:"interval"`
	Workers     int           `yaml:"workers"`
}

// AnalysisConfig tunes the root-cause analyzer.
type AnalysisConfig struct {
	Padding        time.Duration `yaml:"padding"`
	MetricLimit    int           `yaml:"metricLimit"`
	LogLimit       int           `yaml:"logLimit"`
	MinCorrelation float64       `yaml:"minCorrelation"`
	MaxHypotheses  int           `yaml:"maxHypotheses"`
}

// StreamConfig controls live event transports.
type StreamConfig struct {
	KeepAlive time.Duration `yaml:"keepAlive"`
}

// PostmortemConfig controls where rendered reports are written.
type PostmortemConfig struct {
	ExportDir string `yaml:"exportDir"`
}

// Load initialises Config from an optional .env file, a YAML file, and environment overrides.
func Load(path string) (*Config, error) {
	envFile := os.Getenv("MIRADOR_SENTRY_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if path == "" {
		path = os.Getenv("MIRADOR_SENTRY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverRemote:
		if strings.TrimSpace(c.Clients.Signals.BaseURL) == "" {
			return fmt.Errorf("storage driver %q requires clients.signals.baseURL", DriverRemote)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Detection.WindowSize <= 0 || c.Detection.MinPoints <= 0 {
		return fmt.Errorf("detection windowSize and minPoints must be positive")
	}
	if c.Detection.Threshold < 0 || c.Detection.Threshold > 100 {
		return fmt.Errorf("detection threshold must be within [0, 100]")
	}
	if c.Detection.Interval < 0 {
		return fmt.Errorf("detection interval must not be negative")
	}
	if c.Postmortem.ExportDir == "" {
		return fmt.Errorf("postmortem.exportDir is required")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "data/sentry.db",
		},
		Clients: ClientsConfig{
			Signals: SignalsClientConfig{
				SeriesPath:  "/api/v1/signals/series",
				WindowPath:  "/api/v1/signals/window",
				LogsPath:    "/api/v1/signals/logs",
				CatalogPath: "/api/v1/signals/catalog",
				Timeout:     5 * time.Second,
				MaxRetries:  2,
			},
		},
		Archive: ArchiveConfig{Timeout: 5 * time.Second, MaxRetries: 2},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:    true,
			Size:       256,
			CatalogTTL: 30 * time.Second,
		},
		Detection: DetectionConfig{
			WindowSize:  5,
			MinPoints:   20,
			Threshold:   55,
			SeriesLimit: 240,
			Interval:    0,
			Workers:     4,
		},
		Analysis: AnalysisConfig{
			Padding:        10 * time.Minute,
			MetricLimit:    240,
			LogLimit:       200,
			MinCorrelation: 0.65,
			MaxHypotheses:  3,
		},
		Stream:     StreamConfig{KeepAlive: 15 * time.Second},
		Postmortem: PostmortemConfig{ExportDir: "data/postmortems"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_SENTRY_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("MIRADOR_SENTRY_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_SENTRY_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_SIGNALS_BASE_URL"); v != "" {
		cfg.Clients.Signals.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_SIGNALS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Clients.Signals.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_SIGNALS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Clients.Signals.MaxRetries = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_ARCHIVE_URL"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_ARCHIVE_API_KEY"); v != "" {
		cfg.Archive.APIKey = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_SENTRY_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MIRADOR_SENTRY_CACHE_CATALOG_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.CatalogTTL = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_DETECTION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.Threshold = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_DETECTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.Interval = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_DETECTION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.Workers = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_ANALYSIS_PADDING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analysis.Padding = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_STREAM_KEEPALIVE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stream.KeepAlive = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_POSTMORTEM_DIR"); v != "" {
		cfg.Postmortem.ExportDir = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
