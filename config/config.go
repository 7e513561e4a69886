package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the route engine.
type Config struct {
	Server      ServerConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Routing     RoutingConfig
	Breaker     BreakerConfig
	Backoff     BackoffConfig
	MatrixCache MatrixCacheConfig
	Breakdown   BreakdownConfig
	Preview     PreviewConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// RoutingConfig selects and tunes the provider adapters.
type RoutingConfig struct {
	Mode            string // cloud | selfhost | cloud_with_selfhost_fallback
	UseCloudMatrix  bool   // steer matrix calls to cloud regardless of Mode
	CloudBaseURL    string
	CloudAPIKey     string
	CloudTimeout    time.Duration
	SelfHostBaseURL string
	SelfHostTimeout time.Duration
}

// BreakerConfig tunes the per-adapter circuit breaker.
type BreakerConfig struct {
	Failures int
	Window   time.Duration
	Cooldown time.Duration
}

// BackoffConfig tunes the retry policy.
type BackoffConfig struct {
	Base        time.Duration
	Factor      float64
	Jitter      float64
	MaxAttempts int
	CapTotal    time.Duration
}

// MatrixCacheConfig tunes the in-memory matrix cache.
type MatrixCacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// BreakdownConfig tunes day-breakdown parallelism and deadlines.
type BreakdownConfig struct {
	MaxConcurrency int
	SoftDeadline   time.Duration
}

// PreviewConfig tunes preview-token expiry.
type PreviewConfig struct {
	TTL time.Duration
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("SERVER_READ_TIMEOUT", "5s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "65s") // must outlive the breakdown soft deadline
	viper.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", 5432)
	viper.SetDefault("POSTGRES_USER", "routes")
	viper.SetDefault("POSTGRES_PASSWORD", "routes_secret")
	viper.SetDefault("POSTGRES_DB", "routes_db")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 50)
	viper.SetDefault("POSTGRES_MIN_CONNS", 10)

	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", 6379)
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 100)

	viper.SetDefault("ROUTING_MODE", "cloud_with_selfhost_fallback")
	viper.SetDefault("ROUTING_USE_CLOUD_MATRIX", false)
	viper.SetDefault("ROUTING_CLOUD_BASE_URL", "https://graphhopper.com/api/1")
	viper.SetDefault("ROUTING_CLOUD_API_KEY", "")
	viper.SetDefault("ROUTING_CLOUD_TIMEOUT", "30s")
	viper.SetDefault("ROUTING_SELFHOST_BASE_URL", "http://localhost:8989")
	viper.SetDefault("ROUTING_SELFHOST_TIMEOUT", "30s")

	viper.SetDefault("BREAKER_FAILURES", 5)
	viper.SetDefault("BREAKER_WINDOW", "60s")
	viper.SetDefault("BREAKER_COOLDOWN", "30s")

	viper.SetDefault("BACKOFF_BASE", "500ms")
	viper.SetDefault("BACKOFF_FACTOR", 2.0)
	viper.SetDefault("BACKOFF_JITTER", 0.2)
	viper.SetDefault("BACKOFF_MAX_ATTEMPTS", 3)
	viper.SetDefault("BACKOFF_CAP_TOTAL", "10s")

	viper.SetDefault("MATRIX_CACHE_TTL", "5m")
	viper.SetDefault("MATRIX_CACHE_MAX_ENTRIES", 256)

	viper.SetDefault("BREAKDOWN_MAX_CONCURRENCY", 8)
	viper.SetDefault("BREAKDOWN_SOFT_DEADLINE", "60s")

	viper.SetDefault("PREVIEW_TTL", "15m")

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = viper.ReadInConfig()

	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         viper.GetString("SERVER_HOST"),
		Port:         viper.GetInt("SERVER_PORT"),
		ReadTimeout:  viper.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: viper.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  viper.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     viper.GetString("POSTGRES_HOST"),
		Port:     viper.GetInt("POSTGRES_PORT"),
		User:     viper.GetString("POSTGRES_USER"),
		Password: viper.GetString("POSTGRES_PASSWORD"),
		DBName:   viper.GetString("POSTGRES_DB"),
		SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: viper.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:     viper.GetString("REDIS_HOST"),
		Port:     viper.GetInt("REDIS_PORT"),
		Password: viper.GetString("REDIS_PASSWORD"),
		DB:       viper.GetInt("REDIS_DB"),
		PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
	}

	// ── Routing providers ───────────────────────────────
	cfg.Routing = RoutingConfig{
		Mode:            viper.GetString("ROUTING_MODE"),
		UseCloudMatrix:  viper.GetBool("ROUTING_USE_CLOUD_MATRIX"),
		CloudBaseURL:    viper.GetString("ROUTING_CLOUD_BASE_URL"),
		CloudAPIKey:     viper.GetString("ROUTING_CLOUD_API_KEY"),
		CloudTimeout:    viper.GetDuration("ROUTING_CLOUD_TIMEOUT"),
		SelfHostBaseURL: viper.GetString("ROUTING_SELFHOST_BASE_URL"),
		SelfHostTimeout: viper.GetDuration("ROUTING_SELFHOST_TIMEOUT"),
	}

	cfg.Breaker = BreakerConfig{
		Failures: viper.GetInt("BREAKER_FAILURES"),
		Window:   viper.GetDuration("BREAKER_WINDOW"),
		Cooldown: viper.GetDuration("BREAKER_COOLDOWN"),
	}

	cfg.Backoff = BackoffConfig{
		Base:        viper.GetDuration("BACKOFF_BASE"),
		Factor:      viper.GetFloat64("BACKOFF_FACTOR"),
		Jitter:      viper.GetFloat64("BACKOFF_JITTER"),
		MaxAttempts: viper.GetInt("BACKOFF_MAX_ATTEMPTS"),
		CapTotal:    viper.GetDuration("BACKOFF_CAP_TOTAL"),
	}

	cfg.MatrixCache = MatrixCacheConfig{
		TTL:        viper.GetDuration("MATRIX_CACHE_TTL"),
		MaxEntries: viper.GetInt("MATRIX_CACHE_MAX_ENTRIES"),
	}

	cfg.Breakdown = BreakdownConfig{
		MaxConcurrency: viper.GetInt("BREAKDOWN_MAX_CONCURRENCY"),
		SoftDeadline:   viper.GetDuration("BREAKDOWN_SOFT_DEADLINE"),
	}

	cfg.Preview = PreviewConfig{
		TTL: viper.GetDuration("PREVIEW_TTL"),
	}

	return cfg, nil
}
