// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Watch, Tokenizer, Index, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/errors"
)

// Lexer names accepted by TokenizerConfig.Lexer.
const (
	LexerNaive     = "naive"
	LexerAnalyzing = "analyzing"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Index     IndexConfig     `yaml:"index"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Journal   JournalConfig   `yaml:"journal"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is requests per second allowed per client address; zero
	// disables limiting.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

// WatchConfig controls which roots are tracked and how often pending
// changes are reconciled into the index.
type WatchConfig struct {
	Roots          []string      `yaml:"roots"`
	Exclude        []string      `yaml:"exclude"`
	TickInterval   time.Duration `yaml:"tickInterval"`
	Workers        int           `yaml:"workers"`
	FollowSymlinks bool          `yaml:"followSymlinks"`
}

// TokenizerConfig selects the lexer used both for indexing and for
// normalizing lookup queries.
type TokenizerConfig struct {
	Lexer         string `yaml:"lexer"`
	MaxWordLength int    `yaml:"maxWordLength"`
	Stem          bool   `yaml:"stem"`
	StopWords     bool   `yaml:"stopWords"`
}

// IndexConfig controls the in-memory store layout.
type IndexConfig struct {
	Shards int `yaml:"shards"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled bool        `yaml:"enabled"`
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ReconcileEvents string `yaml:"reconcileEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// JournalConfig controls batching of reconciliation events sent to the
// configured sinks.
type JournalConfig struct {
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	BufferLimit   int           `yaml:"bufferLimit"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging around reconciliation ticks.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local use.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Watch: WatchConfig{
			Exclude:      []string{"**/.git", "**/node_modules"},
			TickInterval: 250 * time.Millisecond,
			Workers:      8,
		},
		Tokenizer: TokenizerConfig{
			Lexer:         LexerNaive,
			MaxWordLength: 200,
			Stem:          true,
			StopWords:     true,
		},
		Index: IndexConfig{
			Shards: 64,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "fileindex",
			User:            "fileindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				ReconcileEvents: "index.reconcile",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Journal: JournalConfig{
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
			BufferLimit:   10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate reports the first setting that would make the indexer unusable.
func (c *Config) Validate() error {
	switch {
	case c.Watch.TickInterval <= 0:
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "watch.tickInterval must be positive, got %v", c.Watch.TickInterval)
	case c.Watch.Workers <= 0:
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "watch.workers must be positive, got %d", c.Watch.Workers)
	case c.Tokenizer.MaxWordLength <= 0:
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "tokenizer.maxWordLength must be positive, got %d", c.Tokenizer.MaxWordLength)
	case c.Server.RateLimit < 0:
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "server.rateLimit must not be negative, got %v", c.Server.RateLimit)
	case c.Index.Shards <= 0:
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "index.shards must be positive, got %d", c.Index.Shards)
	}
	switch c.Tokenizer.Lexer {
	case LexerNaive, LexerAnalyzing:
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "unknown tokenizer.lexer %q", c.Tokenizer.Lexer)
	}
	return nil
}

// applyEnvOverrides reads LFI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LFI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LFI_SERVER_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit = f
		}
	}
	if v := os.Getenv("LFI_WATCH_ROOTS"); v != "" {
		cfg.Watch.Roots = splitList(v)
	}
	if v := os.Getenv("LFI_WATCH_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.TickInterval = d
		}
	}
	if v := os.Getenv("LFI_WATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.Workers = n
		}
	}
	if v := os.Getenv("LFI_TOKENIZER_LEXER"); v != "" {
		cfg.Tokenizer.Lexer = v
	}
	if v := os.Getenv("LFI_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("LFI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LFI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LFI_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("LFI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("LFI_POSTGRES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = b
		}
	}
	if v := os.Getenv("LFI_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("LFI_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("LFI_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("LFI_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("LFI_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LFI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LFI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LFI_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
