package config

import "time"

func LoadTestConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8081,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "medfinder_test",
			User:     "test_user",
			Password: "test_password",
		},
		JWT: JWTConfig{
			Secret:   "test-secret",
			TokenTTL: time.Hour,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		},
		AI: AIConfig{
			DefaultModel:    "@cf/meta/llama-3.1-8b-instruct",
			StructuredModel: "@cf/meta/llama-3.1-8b-instruct",
			RequestTimeout:  10 * time.Second,
			FlushBytes:      64,
			FlushInterval:   50 * time.Millisecond,
		},
		Billing: BillingConfig{
			FeatureID: "messages",
			ProductID: "pro",
		},
		Usage: UsageConfig{
			FreeMessageLimit: 10,
			SweepSpec:        "*/15 * * * *",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			GenerateWindow:    time.Minute,
			GenerateMax:       10,
		},
	}
}
