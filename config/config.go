// config/config.go
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

type StoreConfig struct {
	Type            string         `yaml:"type"`
	Redis           RedisConfig    `yaml:"redis"`
	Postgres        PostgresConfig `yaml:"postgres"`
	CleanupInterval time.Duration  `yaml:"cleanup_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// CryptoConfig holds the two server-side secrets. Both are required, come
// only from config or environment, and must never appear in logs or
// responses.
type CryptoConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // 32 bytes, hex encoded
	TokenSecret   string `yaml:"token_secret"`
}

type SecretsConfig struct {
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	MaxTTL           time.Duration `yaml:"max_ttl"`
	MaxContentLength int           `yaml:"max_content_length"`
	MaxPinAttempts   int           `yaml:"max_pin_attempts"`
	PinHashCost      int           `yaml:"pin_hash_cost"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	RevealPerMin   int  `yaml:"reveal_per_min"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Password: "",
				DB:       0,
			},
			Postgres: PostgresConfig{
				DSN: "",
			},
			CleanupInterval: 30 * time.Second,
		},
		Crypto: CryptoConfig{
			// No defaults: both must be supplied explicitly.
			EncryptionKey: "",
			TokenSecret:   "",
		},
		Secrets: SecretsConfig{
			DefaultTTL:       24 * time.Hour,
			MaxTTL:           7 * 24 * time.Hour,
			MaxContentLength: 10000,
			MaxPinAttempts:   5,
			PinHashCost:      12,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 100,
			RevealPerMin:   20,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}

	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Store.Postgres.DSN = v
	}
	if v := os.Getenv("CLEANUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Store.CleanupInterval = d
		}
	}

	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		c.Crypto.EncryptionKey = v
	}
	if v := os.Getenv("TOKEN_SECRET"); v != "" {
		c.Crypto.TokenSecret = v
	}

	if v := os.Getenv("DEFAULT_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.Secrets.DefaultTTL = ttl
		}
	}
	if v := os.Getenv("MAX_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.Secrets.MaxTTL = ttl
		}
	}
	if v := os.Getenv("MAX_CONTENT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Secrets.MaxContentLength = n
		}
	}
	if v := os.Getenv("MAX_PIN_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Secrets.MaxPinAttempts = n
		}
	}
	if v := os.Getenv("PIN_HASH_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Secrets.PinHashCost = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_REVEAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RevealPerMin = n
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	switch c.Store.Type {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("invalid store type: %s (must be 'memory', 'redis' or 'postgres')", c.Store.Type)
	}

	if c.Store.Type == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when store type is 'redis'")
	}

	if c.Store.Type == "postgres" && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("postgres dsn is required when store type is 'postgres'")
	}

	if c.Store.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}

	key, err := hex.DecodeString(c.Crypto.EncryptionKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("encryption_key must be 32 bytes (64 hex characters)")
	}

	if c.Crypto.TokenSecret == "" {
		return fmt.Errorf("token_secret is required")
	}

	if c.Secrets.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive")
	}

	if c.Secrets.MaxTTL < c.Secrets.DefaultTTL {
		return fmt.Errorf("max_ttl must be >= default_ttl")
	}

	if c.Secrets.MaxContentLength < 1 {
		return fmt.Errorf("max_content_length must be at least 1")
	}

	if c.Secrets.MaxPinAttempts < 1 {
		return fmt.Errorf("max_pin_attempts must be at least 1")
	}

	if c.Secrets.PinHashCost < bcrypt.MinCost || c.Secrets.PinHashCost > bcrypt.MaxCost {
		return fmt.Errorf("pin_hash_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
