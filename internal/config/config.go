// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fliupa/cni-scrapy/internal/ratelimit"
	chromerender "github.com/fliupa/cni-scrapy/internal/render/chromedp"
	"github.com/fliupa/cni-scrapy/internal/render/static"
	"github.com/fliupa/cni-scrapy/internal/retry"
	"github.com/fliupa/cni-scrapy/internal/scheduler"
)

// EnvPrefix is prepended to every environment override, e.g. HARVEST_RETRY_ATTEMPTS.
const EnvPrefix = "HARVEST"

// Rendering backends.
const (
	BackendChromedp = "chromedp"
	BackendStatic   = "static"
)

// Checkpoint backends.
const (
	CheckpointFile  = "file"
	CheckpointRedis = "redis"
)

// Export backends.
const (
	ExportLocal  = "local"
	ExportGCS    = "gcs"
	ExportMemory = "memory"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Render     RenderConfig     `mapstructure:"render"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Export     ExportConfig     `mapstructure:"export"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// HarvestConfig governs the scheduler.
type HarvestConfig struct {
	SeedFile        string `mapstructure:"seed_file"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
	CheckpointEvery int    `mapstructure:"checkpoint_every"`
	// RequestsPerSecond paces requests per site; 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RetryConfig bounds attempts per URL.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// RenderConfig selects and tunes the rendering backend.
type RenderConfig struct {
	Backend           string        `mapstructure:"backend"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// CheckpointConfig selects where partial progress is kept.
type CheckpointConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// ExportConfig selects where the final table goes.
type ExportConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	Prefix        string `mapstructure:"prefix"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// PubSubConfig holds the completion notice topic. Empty disables notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the status server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional YAML file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("harvest.seed_file", "metadatos_links.txt")
	v.SetDefault("harvest.max_concurrent", 10)
	v.SetDefault("harvest.checkpoint_every", 10)
	v.SetDefault("harvest.requests_per_second", 0)
	v.SetDefault("harvest.burst", 1)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 5*time.Second)
	v.SetDefault("render.backend", BackendChromedp)
	v.SetDefault("render.navigation_timeout", 45*time.Second)
	v.SetDefault("render.operation_timeout", 60*time.Second)
	v.SetDefault("render.user_agent", "")
	v.SetDefault("render.viewport_width", 1280)
	v.SetDefault("render.viewport_height", 720)
	v.SetDefault("render.headless", true)
	v.SetDefault("render.exec_path", "")
	v.SetDefault("checkpoint.backend", CheckpointFile)
	v.SetDefault("checkpoint.path", "resultados/progreso_parcial.csv")
	v.SetDefault("checkpoint.redis_addr", "")
	v.SetDefault("checkpoint.redis_key", "cni:harvest:checkpoint")
	v.SetDefault("export.backend", ExportLocal)
	v.SetDefault("export.dir", "resultados")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.prefix", "metadatos_indicadores")
	v.SetDefault("export.postgres_dsn", "")
	v.SetDefault("export.postgres_table", "indicator_metadata")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvest.MaxConcurrent <= 0 {
		return fmt.Errorf("harvest.max_concurrent must be > 0")
	}
	if c.Harvest.CheckpointEvery <= 0 {
		return fmt.Errorf("harvest.checkpoint_every must be > 0")
	}
	if c.Harvest.RequestsPerSecond < 0 {
		return fmt.Errorf("harvest.requests_per_second must be >= 0")
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be > 0")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must be >= 0")
	}
	if c.Render.NavigationTimeout <= 0 {
		return fmt.Errorf("render.navigation_timeout must be > 0")
	}
	switch c.Render.Backend {
	case BackendChromedp:
		if c.Render.OperationTimeout <= 0 {
			return fmt.Errorf("render.operation_timeout must be > 0")
		}
		if c.Render.ViewportWidth <= 0 || c.Render.ViewportHeight <= 0 {
			return fmt.Errorf("render.viewport_width and render.viewport_height must be > 0")
		}
	case BackendStatic:
	default:
		return fmt.Errorf("render.backend must be %q or %q, got %q", BackendChromedp, BackendStatic, c.Render.Backend)
	}
	switch c.Checkpoint.Backend {
	case CheckpointFile:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path is required for the file backend")
		}
	case CheckpointRedis:
		if c.Checkpoint.RedisAddr == "" || c.Checkpoint.RedisKey == "" {
			return fmt.Errorf("checkpoint.redis_addr and checkpoint.redis_key are required for the redis backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be %q or %q, got %q", CheckpointFile, CheckpointRedis, c.Checkpoint.Backend)
	}
	switch c.Export.Backend {
	case ExportLocal:
		if c.Export.Dir == "" {
			return fmt.Errorf("export.dir is required for the local backend")
		}
	case ExportGCS:
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket is required for the gcs backend")
		}
	case ExportMemory:
	default:
		return fmt.Errorf("export.backend must be one of local, gcs, memory, got %q", c.Export.Backend)
	}
	if c.Export.Prefix == "" {
		return fmt.Errorf("export.prefix is required")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	return nil
}

// SchedulerConfig returns the immutable run configuration.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		MaxConcurrent:     c.Harvest.MaxConcurrent,
		CheckpointEvery:   c.Harvest.CheckpointEvery,
		Retry:             c.RetryPolicy(),
		NavigationTimeout: c.Render.NavigationTimeout,
		RateLimit:         ratelimit.Config{RPS: c.Harvest.RequestsPerSecond, Burst: c.Harvest.Burst},
	}
}

// RetryPolicy converts the retry section.
func (c Config) RetryPolicy() retry.Config {
	return retry.Config{Attempts: c.Retry.Attempts, Delay: c.Retry.Delay}
}

// ChromeConfig converts the render section for the chromedp backend.
func (c Config) ChromeConfig() chromerender.Config {
	cfg := chromerender.DefaultConfig()
	cfg.UserAgent = c.Render.UserAgent
	cfg.NavigationTimeout = c.Render.NavigationTimeout
	cfg.OperationTimeout = c.Render.OperationTimeout
	cfg.ViewportWidth = c.Render.ViewportWidth
	cfg.ViewportHeight = c.Render.ViewportHeight
	cfg.Headless = c.Render.Headless
	cfg.ExecPath = c.Render.ExecPath
	return cfg
}

// StaticConfig converts the render section for the static backend.
func (c Config) StaticConfig() static.Config {
	return static.Config{UserAgent: c.Render.UserAgent, Timeout: c.Render.NavigationTimeout}
}
