package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`

	// Database
	DatabaseDriver string `mapstructure:"database_driver"` // postgres | sqlite
	DatabaseURL    string `mapstructure:"database_url"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	DBMaxConns     int    `mapstructure:"db_max_conns"`
	RedisURL       string `mapstructure:"redis_url"`
	MongoDBURL     string `mapstructure:"mongodb_url"`
	MongoDBName    string `mapstructure:"mongodb_name"`

	// Auth
	JWTSecret     string `mapstructure:"jwt_secret"`
	EncryptionKey string `mapstructure:"encryption_key"`

	// Zoho
	ZohoClientID     string `mapstructure:"zoho_client_id"`
	ZohoClientSecret string `mapstructure:"zoho_client_secret"`
	ZohoRedirectURL  string `mapstructure:"zoho_redirect_url"`
	ZohoAccountsURL  string `mapstructure:"zoho_accounts_url"`
	ZohoAPIURL       string `mapstructure:"zoho_api_url"`

	// Sync
	SyncWorkers       int           `mapstructure:"sync_workers"`
	SyncPageSize      int           `mapstructure:"sync_page_size"`
	SyncMinBodyLength int           `mapstructure:"sync_min_body_length"`
	SyncInterval      time.Duration `mapstructure:"sync_interval"`
	SyncLeaseTTL      time.Duration `mapstructure:"sync_lease_ttl"`
	SyncLogRetention  time.Duration `mapstructure:"sync_log_retention"`

	// Resilience
	BreakerThreshold  int           `mapstructure:"breaker_threshold"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
	BreakerStateTTL   time.Duration `mapstructure:"breaker_state_ttl"`
	RetryMaxAttempts  int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	DegradeThreshold  int           `mapstructure:"degrade_threshold"`
	DegradeDisableFor time.Duration `mapstructure:"degrade_disable_for"`
	APIRateLimit      int           `mapstructure:"api_rate_limit"` // requests per minute per user

	// AI
	AIProvider   string `mapstructure:"ai_provider"` // openai | ollama | none
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	OpenAIModel  string `mapstructure:"openai_model"`
	OllamaURL    string `mapstructure:"ollama_url"`
	OllamaModel  string `mapstructure:"ollama_model"`

	FrontendURL         string   `mapstructure:"frontend_url"`
	DefaultGroupingMode string   `mapstructure:"default_grouping_mode"`
	AllowedOrigins      []string `mapstructure:"allowed_origins"`

	// WorkerID names this process in the stream consumer group.
	WorkerID string `mapstructure:"worker_id"`
}

var defaults = map[string]any{
	"port":                  "8080",
	"env":                   "development",
	"log_level":             "info",
	"database_driver":       "postgres",
	"sqlite_path":           "mail_worker.db",
	"db_max_conns":          25,
	"mongodb_name":          "mail_worker",
	"zoho_accounts_url":     "https://accounts.zoho.com",
	"zoho_api_url":          "https://mail.zoho.com/api",
	"sync_workers":          4,
	"sync_page_size":        200,
	"sync_min_body_length":  1000,
	"sync_interval":         "15m",
	"sync_lease_ttl":        "30m",
	"sync_log_retention":    "2160h",
	"breaker_threshold":     5,
	"breaker_cooldown":      "60s",
	"breaker_state_ttl":     "1h",
	"retry_max_attempts":    3,
	"retry_base_delay":      "1s",
	"degrade_threshold":     5,
	"degrade_disable_for":   "10m",
	"api_rate_limit":        120,
	"ai_provider":           "",
	"openai_model":          "gpt-4o-mini",
	"ollama_url":            "http://localhost:11434",
	"ollama_model":          "llama3",
	"default_grouping_mode": "sender_subject",
	"allowed_origins":       "http://localhost:3000,http://localhost:5173",
}

// Load reads environment variables, optionally layered over the YAML file
// named by CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetDefault("worker_id", generateWorkerID())

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees env values for keys viper already knows.
	for _, k := range []string{
		"database_url", "redis_url", "mongodb_url", "jwt_secret", "encryption_key",
		"zoho_client_id", "zoho_client_secret", "zoho_redirect_url",
		"openai_api_key", "frontend_url",
	} {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.AllowedOrigins) == 1 && strings.Contains(cfg.AllowedOrigins[0], ",") {
		cfg.AllowedOrigins = strings.Split(cfg.AllowedOrigins[0], ",")
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations that cannot start.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required in production")
		}
	}
	return nil
}

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
