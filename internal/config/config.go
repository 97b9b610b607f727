// Package config provides configuration loading for ctxrouter.
//
// Configuration is read from an optional YAML file and overridden by
// CTXROUTER_* environment variables. Every section has a usable default so
// the router runs with no configuration at all.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete ctxrouter configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Analyzer    AnalyzerConfig    `koanf:"analyzer"`
	Router      RouterConfig      `koanf:"router"`
	Compression CompressionConfig `koanf:"compression"`
	Cache       CacheConfig       `koanf:"cache"`
	Learning    LearningConfig    `koanf:"learning"`
	Registry    RegistryConfig    `koanf:"registry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RateLimit is the sustained requests/second allowed per session (0 disables).
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// AnalyzerConfig holds Context Analyzer settings.
type AnalyzerConfig struct {
	Budget Duration `koanf:"budget"`
}

// RouterConfig holds Capability Router settings.
type RouterConfig struct {
	Budget       Duration `koanf:"budget"`
	MaxProviders int      `koanf:"max_providers"`
	LightCostMS  int      `koanf:"light_cost_ms"`
	StdCostMS    int      `koanf:"standard_cost_ms"`
	HeavyCostMS  int      `koanf:"intensive_cost_ms"`
}

// CompressionConfig holds Compression Engine settings.
type CompressionConfig struct {
	Budget          Duration `koanf:"budget"`
	AdaptationFloor float64  `koanf:"adaptation_floor"`
	DetectSecrets   bool     `koanf:"detect_secrets"`
}

// CacheConfig holds Intelligence Cache settings.
type CacheConfig struct {
	HotCapacity          int      `koanf:"hot_capacity"`
	WarmCapacity         int      `koanf:"warm_capacity"`
	ColdPath             string   `koanf:"cold_path"`
	DocumentationTTL     Duration `koanf:"documentation_ttl"`
	PatternTTL           Duration `koanf:"pattern_ttl"`
	IntelligenceTTL      Duration `koanf:"intelligence_ttl"`
	PromotionAccessCount int      `koanf:"promotion_access_count"`
}

// LearningConfig holds Learning Store settings.
type LearningConfig struct {
	LogPath     string  `koanf:"log_path"`
	Window      int     `koanf:"window"`
	MinEvents   int     `koanf:"min_events"`
	Alpha       float64 `koanf:"alpha"`
	QueueSize   int     `koanf:"queue_size"`
	NATSURL     string  `koanf:"nats_url"`
	NATSSubject string  `koanf:"nats_subject"`
}

// RegistryConfig locates the capability provider registry file.
type RegistryConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server rate_limit cannot be negative")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}
	if c.Analyzer.Budget.Duration() <= 0 {
		return errors.New("analyzer budget must be positive")
	}
	if c.Router.Budget.Duration() <= 0 {
		return errors.New("router budget must be positive")
	}
	if c.Router.MaxProviders < 1 {
		return fmt.Errorf("router max_providers must be >= 1, got %d", c.Router.MaxProviders)
	}
	if c.Compression.Budget.Duration() <= 0 {
		return errors.New("compression budget must be positive")
	}
	if c.Compression.AdaptationFloor < 0 || c.Compression.AdaptationFloor > 1 {
		return fmt.Errorf("compression adaptation_floor must be between 0 and 1, got %f", c.Compression.AdaptationFloor)
	}
	if c.Cache.HotCapacity < 1 || c.Cache.WarmCapacity < 1 {
		return errors.New("cache tier capacities must be >= 1")
	}
	if c.Learning.Window < 1 {
		return fmt.Errorf("learning window must be >= 1, got %d", c.Learning.Window)
	}
	if c.Learning.MinEvents < 1 {
		return fmt.Errorf("learning min_events must be >= 1, got %d", c.Learning.MinEvents)
	}
	if c.Learning.Alpha <= 0 || c.Learning.Alpha > 1 {
		return fmt.Errorf("learning alpha must be in (0,1], got %f", c.Learning.Alpha)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	// Stage budgets: 15ms analyzer, 150ms router, 150ms compression.
	if cfg.Analyzer.Budget == 0 {
		cfg.Analyzer.Budget = Duration(15 * time.Millisecond)
	}
	if cfg.Router.Budget == 0 {
		cfg.Router.Budget = Duration(150 * time.Millisecond)
	}
	if cfg.Router.MaxProviders == 0 {
		cfg.Router.MaxProviders = 3
	}
	if cfg.Router.LightCostMS == 0 {
		cfg.Router.LightCostMS = 50
	}
	if cfg.Router.StdCostMS == 0 {
		cfg.Router.StdCostMS = 150
	}
	if cfg.Router.HeavyCostMS == 0 {
		cfg.Router.HeavyCostMS = 400
	}
	if cfg.Compression.Budget == 0 {
		cfg.Compression.Budget = Duration(150 * time.Millisecond)
	}
	if cfg.Compression.AdaptationFloor == 0 {
		cfg.Compression.AdaptationFloor = 0.4
	}

	if cfg.Cache.HotCapacity == 0 {
		cfg.Cache.HotCapacity = 20
	}
	if cfg.Cache.WarmCapacity == 0 {
		cfg.Cache.WarmCapacity = 100
	}
	if cfg.Cache.ColdPath == "" {
		cfg.Cache.ColdPath = "~/.local/share/ctxrouter/cache.db"
	}
	if cfg.Cache.DocumentationTTL == 0 {
		cfg.Cache.DocumentationTTL = Duration(30 * time.Minute)
	}
	if cfg.Cache.PatternTTL == 0 {
		cfg.Cache.PatternTTL = Duration(60 * time.Minute)
	}
	if cfg.Cache.IntelligenceTTL == 0 {
		cfg.Cache.IntelligenceTTL = Duration(15 * time.Minute)
	}
	if cfg.Cache.PromotionAccessCount == 0 {
		cfg.Cache.PromotionAccessCount = 3
	}

	if cfg.Learning.LogPath == "" {
		cfg.Learning.LogPath = "~/.local/share/ctxrouter/learning.jsonl"
	}
	if cfg.Learning.Window == 0 {
		cfg.Learning.Window = 50
	}
	if cfg.Learning.MinEvents == 0 {
		cfg.Learning.MinEvents = 5
	}
	if cfg.Learning.Alpha == 0 {
		cfg.Learning.Alpha = 0.3
	}
	if cfg.Learning.QueueSize == 0 {
		cfg.Learning.QueueSize = 256
	}
	if cfg.Learning.NATSSubject == "" {
		cfg.Learning.NATSSubject = "ctxrouter.learning"
	}
}
