package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Worker    WorkerConfig
	Redis     RedisConfig
	AI        AIConfig
	Billing   BillingConfig
	Usage     UsageConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host      string
	Port      int
	PublicURL string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret   string
	TokenTTL time.Duration
}

type StorageConfig struct {
	Provider string // local, s3, r2
	S3       S3Config
}

type S3Config struct {
	BucketName string `env:"S3_BUCKET_NAME" required:"true"`
	Endpoint   string `env:"S3_ENDPOINT"`
	Region     string `env:"S3_REGION" required:"true"`
	AccessKey  string `env:"S3_ACCESS_KEY" required:"true"`
	SecretKey  string `env:"S3_SECRET_KEY" required:"true"`
}

// Enabled reports whether enough S3 settings are present to build a client.
func (c S3Config) Enabled() bool {
	return c.BucketName != "" && c.AccessKey != "" && c.SecretKey != ""
}

type WorkerConfig struct {
	Concurrency int
}

type RedisConfig struct {
	Addr     string
	Password string
	Username string
	DB       int
}

// AIConfig configures the Cloudflare Workers AI client.
type AIConfig struct {
	AccountID       string
	APIToken        string
	GatewayID       string
	DefaultModel    string
	StructuredModel string
	RequestTimeout  time.Duration
	FlushBytes      int
	FlushInterval   time.Duration
}

// BillingConfig configures the metered-billing provider. An empty
// SecretKey means billing is not configured and free quota is a hard cap.
type BillingConfig struct {
	SecretKey  string
	BaseURL    string
	FeatureID  string
	ProductID  string
	TrackAsync bool
}

func (c BillingConfig) Enabled() bool {
	return c.SecretKey != ""
}

type UsageConfig struct {
	FreeMessageLimit int
	// StaleReservationTTL of zero disables the pending-reservation sweep.
	// Otherwise it must be longer than AIConfig.RequestTimeout.
	StaleReservationTTL time.Duration
	SweepSpec           string
}

type RateLimitConfig struct {
	RequestsPerSecond int
	GenerateWindow    time.Duration
	GenerateMax       int
}

var (
	config *Config
	once   sync.Once
)

// GetConfig returns the singleton config instance
func GetConfig() *Config {
	once.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = &Config{}
		}
		config = cfg
	})
	return config
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:      getEnv("SERVER_HOST", "localhost"),
			Port:      getEnvAsInt("SERVER_PORT", 8080),
			PublicURL: getEnv("PUBLIC_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Name:     getEnv("POSTGRES_DB", "medfinder"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:   getEnv("JWT_SECRET", ""),
			TokenTTL: getEnvAsDuration("JWT_TOKEN_TTL", 24*time.Hour),
		},
		Storage: StorageConfig{
			Provider: getEnv("STORAGE_PROVIDER", "s3"),
			S3: S3Config{
				BucketName: getEnv("S3_BUCKET_NAME", ""),
				Endpoint:   getEnv("S3_ENDPOINT", ""),
				Region:     getEnv("S3_REGION", ""),
				AccessKey:  getEnv("S3_ACCESS_KEY", ""),
				SecretKey:  getEnv("S3_SECRET_KEY", ""),
			},
		},
		Worker: WorkerConfig{
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 10),
		},
		Redis: RedisConfig{
			Addr:     fmt.Sprintf("%s:%d", getEnv("REDIS_HOST", "localhost"), getEnvAsInt("REDIS_PORT", 6379)),
			Password: getEnv("REDIS_PASSWORD", ""),
			Username: getEnv("REDIS_USERNAME", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AI: AIConfig{
			AccountID:       getEnv("CLOUDFLARE_ACCOUNT_ID", ""),
			APIToken:        getEnv("CLOUDFLARE_API_TOKEN", ""),
			GatewayID:       getEnv("CLOUDFLARE_AI_GATEWAY_ID", ""),
			DefaultModel:    getEnv("AI_DEFAULT_MODEL", "@cf/meta/llama-3.1-8b-instruct"),
			StructuredModel: getEnv("AI_STRUCTURED_MODEL", "@cf/meta/llama-3.3-70b-instruct-fp8-fast"),
			RequestTimeout:  getEnvAsDuration("AI_REQUEST_TIMEOUT", 2*time.Minute),
			FlushBytes:      getEnvAsInt("AI_FLUSH_BYTES", 512),
			FlushInterval:   getEnvAsDuration("AI_FLUSH_INTERVAL", 250*time.Millisecond),
		},
		Billing: BillingConfig{
			SecretKey:  getEnv("AUTUMN_SECRET_KEY", ""),
			BaseURL:    getEnv("AUTUMN_BASE_URL", "https://api.useautumn.com/v1"),
			FeatureID:  getEnv("AUTUMN_FEATURE_ID", "messages"),
			ProductID:  getEnv("AUTUMN_PRODUCT_ID", "pro"),
			TrackAsync: getEnvAsBool("BILLING_TRACK_ASYNC", false),
		},
		Usage: UsageConfig{
			FreeMessageLimit:    getEnvAsInt("FREE_MESSAGE_LIMIT", 10),
			StaleReservationTTL: getEnvAsDuration("USAGE_STALE_RESERVATION_TTL", 0),
			SweepSpec:           getEnv("USAGE_SWEEP_SPEC", "*/15 * * * *"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			GenerateWindow:    getEnvAsDuration("RATE_LIMIT_GENERATE_WINDOW", time.Minute),
			GenerateMax:       getEnvAsInt("RATE_LIMIT_GENERATE_MAX", 10),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Usage.FreeMessageLimit < 0 {
		return fmt.Errorf("FREE_MESSAGE_LIMIT must not be negative, got %d", c.Usage.FreeMessageLimit)
	}
	if c.AI.FlushBytes <= 0 {
		return fmt.Errorf("AI_FLUSH_BYTES must be positive, got %d", c.AI.FlushBytes)
	}
	if c.Usage.StaleReservationTTL < 0 {
		return fmt.Errorf("USAGE_STALE_RESERVATION_TTL must not be negative")
	}
	// A sweep shorter than the longest generation would clear reservations
	// that are still streaming.
	if ttl := c.Usage.StaleReservationTTL; ttl > 0 && (c.AI.RequestTimeout <= 0 || ttl <= c.AI.RequestTimeout) {
		return fmt.Errorf("USAGE_STALE_RESERVATION_TTL (%s) must exceed a positive AI_REQUEST_TIMEOUT (%s)", ttl, c.AI.RequestTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
