package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Provider  ProviderConfig
	Gemini    GeminiConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Log       LogConfig
	Retrieval RetrievalConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Backfill  BackfillConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type ProviderConfig struct {
	Name string
}

type GeminiConfig struct {
	APIKey     string
	ChatModel  string
	EmbedModel string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type RetrievalConfig struct {
	DefaultDepth int
	FallbackTerm string
}

type CacheConfig struct {
	Backend  string
	Capacity int
	TTL      time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type BackfillConfig struct {
	BatchSize    int
	Delay        time.Duration
	EmbedTimeout time.Duration
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

func defaults() Config {
	return Config{
		Server:   ServerConfig{Port: 4000},
		Provider: ProviderConfig{Name: "gemini"},
		Gemini: GeminiConfig{
			ChatModel:  "gemini-2.0-flash-exp",
			EmbedModel: "text-embedding-004",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Retrieval: RetrievalConfig{
			DefaultDepth: 15,
			FallbackTerm: "medical",
		},
		Cache: CacheConfig{
			Backend:  CacheMemory,
			Capacity: 1000,
			TTL:      5 * time.Minute,
		},
		Redis: RedisConfig{Address: "localhost:6379"},
		Backfill: BackfillConfig{
			BatchSize:    20,
			Delay:        200 * time.Millisecond,
			EmbedTimeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from the YAML file at FilePath, then applies
// TUTOR_* environment overrides, then validates. Secrets are only read from
// the environment.
func Load() (Config, error) {
	return loadFromPath(FilePath())
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting in one error.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Provider.Name {
	case "gemini":
		if c.Gemini.APIKey == "" {
			errs = append(errs, errors.New("missing required config: Gemini API key. Set it via environment variable TUTOR_GEMINI_API_KEY"))
		}
	case "ollama":
		if c.Ollama.BaseURL == "" {
			errs = append(errs, errors.New("ollama.base_url is required when provider.name is ollama"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.name %q must be gemini or ollama", c.Provider.Name))
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Redis.Address == "" {
			errs = append(errs, errors.New("redis.address is required when cache.backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be memory or redis", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must be positive", c.Cache.TTL))
	}
	if c.Retrieval.DefaultDepth <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.default_depth %d must be positive", c.Retrieval.DefaultDepth))
	}
	if c.Backfill.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("backfill.batch_size %d must be positive", c.Backfill.BatchSize))
	}
	if c.Backfill.EmbedTimeout <= 0 {
		errs = append(errs, fmt.Errorf("backfill.embed_timeout %s must be positive", c.Backfill.EmbedTimeout))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}
