// Package config loads the process-wide settings once at startup.
//
// Sources, lowest to highest precedence:
//  1. defaults set in setDefaults
//  2. an optional config file (yaml, json or toml; path from --config)
//  3. a .env file in the working directory, loaded into the environment
//  4. environment variables prefixed REPO_ANALYSER_, with "." replaced by "_"
//     (server.port -> REPO_ANALYSER_SERVER_PORT)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "REPO_ANALYSER"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Sync      SyncConfig      `mapstructure:"sync"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // text | json
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	SessionSecret string        `mapstructure:"session_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

type GitHubConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url"`
	// BaseURL points the client at a GitHub Enterprise API. Empty means github.com.
	BaseURL      string `mapstructure:"base_url"`
	MaxBlobBytes int    `mapstructure:"max_blob_bytes"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type LLMConfig struct {
	Provider string `mapstructure:"provider"` // groq | openai | anthropic
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
}

type AnalysisConfig struct {
	MaxFiles        int           `mapstructure:"max_files"`
	Extensions      []string      `mapstructure:"extensions"`
	FileCharLimit   int           `mapstructure:"file_char_limit"`
	ReadmeLimit     int           `mapstructure:"readme_limit"`
	BlobConcurrency int           `mapstructure:"blob_concurrency"`
	BlobTimeout     time.Duration `mapstructure:"blob_timeout"`
	LLMTimeout      time.Duration `mapstructure:"llm_timeout"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
}

type QueueConfig struct {
	Driver   string `mapstructure:"driver"` // memory | redis
	Workers  int    `mapstructure:"workers"`
	RedisURL string `mapstructure:"redis_url"`
}

type SyncConfig struct {
	// Schedule is a cron expression for the background repository resync.
	// Empty disables it.
	Schedule string `mapstructure:"schedule"`
}

type RateLimitConfig struct {
	AnalysePerMinute int `mapstructure:"analyse_per_minute"`
}

// Load resolves the configuration. configPath may be empty.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Analysis.Extensions = splitList(cfg.Analysis.Extensions)

	if cfg.GitHub.CallbackURL == "" && cfg.Server.PublicBaseURL != "" {
		cfg.GitHub.CallbackURL = strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/auth/github/callback"
	}
	return &cfg, nil
}

// setDefaults registers every key, which also makes AutomaticEnv pick up
// environment overrides for keys absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_base_url", "http://localhost:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/analyser.db")

	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)

	v.SetDefault("github.client_id", "")
	v.SetDefault("github.client_secret", "")
	v.SetDefault("github.callback_url", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.max_blob_bytes", 1<<20)

	v.SetDefault("webhook.secret", "")

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")

	v.SetDefault("analysis.max_files", 15)
	v.SetDefault("analysis.extensions", []string{".js", ".ts", ".jsx", ".tsx", ".py", ".java", ".go", ".rs", ".php"})
	v.SetDefault("analysis.file_char_limit", 2000)
	v.SetDefault("analysis.readme_limit", 4000)
	v.SetDefault("analysis.blob_concurrency", 8)
	v.SetDefault("analysis.blob_timeout", 10*time.Second)
	v.SetDefault("analysis.llm_timeout", 60*time.Second)
	v.SetDefault("analysis.run_timeout", 180*time.Second)

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.redis_url", "")

	v.SetDefault("sync.schedule", "")

	v.SetDefault("ratelimit.analyse_per_minute", 6)
}

// splitList accepts both a real list and a single comma-separated value, which
// is what an environment variable produces.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.PublicBaseURL == "" {
		errs = append(errs, errors.New("server.public_base_url is required"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be sqlite or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if len(c.Auth.SessionSecret) < 16 {
		errs = append(errs, errors.New("auth.session_secret must be at least 16 characters"))
	}
	if c.GitHub.ClientID == "" || c.GitHub.ClientSecret == "" {
		errs = append(errs, errors.New("github.client_id and github.client_secret are required"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	switch c.LLM.Provider {
	case "groq", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q must be groq, openai or anthropic", c.LLM.Provider))
	}
	if c.Analysis.MaxFiles <= 0 {
		errs = append(errs, errors.New("analysis.max_files must be positive"))
	}
	if len(c.Analysis.Extensions) == 0 {
		errs = append(errs, errors.New("analysis.extensions must not be empty"))
	}
	if c.Analysis.BlobConcurrency <= 0 {
		errs = append(errs, errors.New("analysis.blob_concurrency must be positive"))
	}
	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Queue.RedisURL == "" {
			errs = append(errs, errors.New("queue.redis_url is required for the redis queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.driver %q must be memory or redis", c.Queue.Driver))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the log settings.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.LevelVar
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: &level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
