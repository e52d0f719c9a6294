package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Provider  ProviderConfig  `yaml:"provider"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the shared key-value store settings used by the
// rate limiter, campaign locks, and the job queue
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderConfig holds messaging gateway credentials
type ProviderConfig struct {
	Kind           string `yaml:"kind"` // "twilio", "sns", or "log"
	AccountSID     string `yaml:"account_sid"`
	AuthToken      string `yaml:"auth_token"`
	FromNumber     string `yaml:"from_number"`
	BaseURL        string `yaml:"base_url"`
	StatusCallback string `yaml:"status_callback"`
	AWSRegion      string `yaml:"aws_region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured provider timeout as a duration
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SchedulerConfig holds campaign sweep settings
type SchedulerConfig struct {
	SweepIntervalSeconds     int `yaml:"sweep_interval_seconds"`
	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds"`
}

// SweepInterval returns the scheduler period as a duration
func (c SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ReconcileInterval returns the orphan-receipt sweep period as a duration
func (c SchedulerConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

// WorkerConfig holds orchestrator pool settings
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueKey    string `yaml:"queue_key"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Provider.Kind == "" {
		c.Provider.Kind = "log"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.twilio.com"
	}
	if c.Provider.AWSRegion == "" {
		c.Provider.AWSRegion = "us-east-1"
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 10
	}
	if c.Scheduler.SweepIntervalSeconds == 0 {
		c.Scheduler.SweepIntervalSeconds = 30
	}
	if c.Scheduler.ReconcileIntervalSeconds == 0 {
		c.Scheduler.ReconcileIntervalSeconds = 300
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.QueueKey == "" {
		c.Worker.QueueKey = "jobs:campaigns"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env
// vars, so secrets can live in .env locally and in real env vars on
// the deployment host. A missing config file is not an error; env
// vars alone can fully configure the process.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PROVIDER_KIND"); v != "" {
		cfg.Provider.Kind = v
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Provider.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Provider.AuthToken = v
	}
	if v := os.Getenv("TWILIO_FROM_NUMBER"); v != "" {
		cfg.Provider.FromNumber = v
	}
	if v := os.Getenv("TWILIO_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("STATUS_CALLBACK_URL"); v != "" {
		cfg.Provider.StatusCallback = v
	}
	if v := os.Getenv("AWS_SNS_REGION"); v != "" {
		cfg.Provider.AWSRegion = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}

	return cfg, nil
}
