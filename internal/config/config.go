// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	StaticGC StaticGCConfig `mapstructure:"static_gc"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScrapeConfig governs outbound fetching and the thumbnail heuristics.
type ScrapeConfig struct {
	TimeoutSeconds       int     `mapstructure:"timeout_seconds"`
	FetchTimeoutSeconds  int     `mapstructure:"fetch_timeout_seconds"`
	UserAgent            string  `mapstructure:"user_agent"`
	OEmbedEndpoint       string  `mapstructure:"oembed_endpoint"`
	OEmbedMaxWidth       int     `mapstructure:"oembed_max_width"`
	MinArea              int     `mapstructure:"min_area"`
	MaxAspectRatio       float64 `mapstructure:"max_aspect_ratio"`
	SpritePenaltyDivisor float64 `mapstructure:"sprite_penalty_divisor"`
	ProbeChunkBytes      int     `mapstructure:"probe_chunk_bytes"`
	ProbeMaxBytes        int     `mapstructure:"probe_max_bytes"`
}

// CacheConfig bounds the in-process result caches.
type CacheConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StaticGCConfig configures the static-bucket garbage collector.
type StaticGCConfig struct {
	Bucket          string   `mapstructure:"bucket"`
	Prefix          string   `mapstructure:"prefix"`
	MinAgeHours     int      `mapstructure:"min_age_hours"`
	IgnoredPrefixes []string `mapstructure:"ignored_prefixes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("THUMBFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scrape.timeout_seconds", 30)
	v.SetDefault("scrape.fetch_timeout_seconds", 15)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (Windows NT 6.3; Win64; x64) Gecko/20100101 Firefox/53.0")
	v.SetDefault("scrape.oembed_endpoint", "https://www.youtube.com/oembed")
	v.SetDefault("scrape.oembed_max_width", 600)
	v.SetDefault("scrape.min_area", 5000)
	v.SetDefault("scrape.max_aspect_ratio", 2.0)
	v.SetDefault("scrape.sprite_penalty_divisor", 10.0)
	v.SetDefault("scrape.probe_chunk_bytes", 1024)
	v.SetDefault("scrape.probe_max_bytes", 1<<20)
	v.SetDefault("cache.max_entries", 4096)
	v.SetDefault("logging.development", true)
	v.SetDefault("static_gc.prefix", "static")
	v.SetDefault("static_gc.min_age_hours", 24)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Scrape.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.fetch_timeout_seconds must be > 0")
	}
	if c.Scrape.OEmbedEndpoint == "" {
		return fmt.Errorf("scrape.oembed_endpoint must be set")
	}
	if c.Scrape.MinArea < 0 {
		return fmt.Errorf("scrape.min_area must be >= 0")
	}
	if c.Scrape.MaxAspectRatio <= 0 {
		return fmt.Errorf("scrape.max_aspect_ratio must be > 0")
	}
	if c.Scrape.SpritePenaltyDivisor <= 0 {
		return fmt.Errorf("scrape.sprite_penalty_divisor must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0")
	}
	if c.StaticGC.MinAgeHours < 0 {
		return fmt.Errorf("static_gc.min_age_hours must be >= 0")
	}
	return nil
}

// ScrapeTimeout returns the whole-scrape budget as a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// FetchTimeout returns the per-request budget as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scrape.FetchTimeoutSeconds) * time.Second
}

// MinObjectAge returns the static GC age gate as a duration.
func (c Config) MinObjectAge() time.Duration {
	return time.Duration(c.StaticGC.MinAgeHours) * time.Hour
}
