package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research run engine.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// EngineConfig controls workflow graph execution.
type EngineConfig struct {
	RunCeiling         time.Duration `mapstructure:"run_ceiling"`         // wall-clock budget per run
	InvocationTimeout  time.Duration `mapstructure:"invocation_timeout"`  // per sub-agent call
	MaxRetries         int           `mapstructure:"max_retries"`         // transient retries per invocation
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`       // base backoff, doubled per attempt
	MaxConcurrentRuns  int           `mapstructure:"max_concurrent_runs"` // 0 = unbounded
	RelevanceThreshold float64       `mapstructure:"relevance_threshold"` // below this, extraction escalates to the crawler
	MinDocumentChars   int           `mapstructure:"min_document_chars"`  // extracted text shorter than this is unusable
	MaxSearchResults   int           `mapstructure:"max_search_results"`  // cap per run after dedup
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai-compatible
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SearchConfig contains web search provider settings.
type SearchConfig struct {
	BraveAPIKey  string `mapstructure:"brave_api_key"`
	SerperAPIKey string `mapstructure:"serper_api_key"`
	MaxResults   int    `mapstructure:"max_results"` // per provider call
}

// FetchConfig controls page fetching for content extraction.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxChars      int           `mapstructure:"max_chars"`
	EnableCrawler bool          `mapstructure:"enable_crawler"` // chromedp fallback for thin pages
	UserAgent     string        `mapstructure:"user_agent"`
}

// StreamConfig controls the per-run event buffer.
type StreamConfig struct {
	BufferCapacity   int `mapstructure:"buffer_capacity"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// StorageConfig contains persistence collaborator settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the history store connection.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string from either the URL or the parts.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the artifact blob store connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port must be >= 0 when telemetry is enabled")
	}
	return nil
}

// Validate checks invariants that would otherwise surface mid-run.
func (c *Config) Validate() error {
	if c.Engine.RunCeiling <= 0 {
		return fmt.Errorf("engine.run_ceiling must be > 0")
	}
	if c.Engine.InvocationTimeout <= 0 {
		return fmt.Errorf("engine.invocation_timeout must be > 0")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0")
	}
	if c.Stream.BufferCapacity <= 0 {
		return fmt.Errorf("stream.buffer_capacity must be > 0")
	}
	return c.Telemetry.Validate()
}

// LoadConfig reads configuration from file and environment. A missing config
// file is tolerated; defaults plus COGCORE_* env vars must be enough to start.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10080")
	v.SetDefault("engine.run_ceiling", "3m")
	v.SetDefault("engine.invocation_timeout", "20s")
	v.SetDefault("engine.max_retries", 2)
	v.SetDefault("engine.retry_backoff", "300ms")
	v.SetDefault("engine.max_concurrent_runs", 16)
	v.SetDefault("engine.relevance_threshold", 0.4)
	v.SetDefault("engine.min_document_chars", 200)
	v.SetDefault("engine.max_search_results", 30)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", "45s")
	v.SetDefault("search.max_results", 10)
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.max_chars", 20000)
	v.SetDefault("fetch.enable_crawler", false)
	v.SetDefault("stream.buffer_capacity", 256)
	v.SetDefault("stream.subscriber_buffer", 32)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("telemetry.enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("COGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
