package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Encryption  EncryptionConfig
	RateLimit   RateLimitConfig
	Scan        ScanConfig
	Remediation RemediationConfig
	AWS         AWSConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// ScanConfig bounds how hard a scan may push a single provider account.
type ScanConfig struct {
	Concurrency             int
	InspectorTimeoutSeconds int
	AccountRPS              float64
	AccountBurst            int
	DefaultRegions          []string
}

type RemediationConfig struct {
	ExecutorTimeoutSeconds int
	LockTTLSeconds         int
	LockBackend            string // memory or redis
}

// AWSConfig holds the base identity used to assume customer roles.
// Empty keys fall back to the default credential chain.
type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	DefaultRegion   string
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (j *JWTConfig) Expiry() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (s *ScanConfig) InspectorTimeout() time.Duration {
	return time.Duration(s.InspectorTimeoutSeconds) * time.Second
}

func (r *RemediationConfig) ExecutorTimeout() time.Duration {
	return time.Duration(r.ExecutorTimeoutSeconds) * time.Second
}

func (r *RemediationConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSeconds) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "reclaim")
	v.SetDefault("DATABASE_PASSWORD", "reclaim_secret")
	v.SetDefault("DATABASE_NAME", "reclaim")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("SCAN_CONCURRENCY", 4)
	v.SetDefault("SCAN_INSPECTOR_TIMEOUT_SECONDS", 120)
	v.SetDefault("SCAN_ACCOUNT_RPS", 5.0)
	v.SetDefault("SCAN_ACCOUNT_BURST", 2)
	v.SetDefault("SCAN_DEFAULT_REGIONS", "us-east-1,us-west-2")
	v.SetDefault("REMEDIATION_EXECUTOR_TIMEOUT_SECONDS", 60)
	v.SetDefault("REMEDIATION_LOCK_TTL_SECONDS", 900)
	v.SetDefault("REMEDIATION_LOCK_BACKEND", "redis")
	v.SetDefault("AWS_DEFAULT_REGION", "us-east-1")

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host:     v.GetString("SERVER_HOST"),
			Port:     v.GetInt("SERVER_PORT"),
			Env:      v.GetString("SERVER_ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Encryption: EncryptionConfig{
			Key: v.GetString("ENCRYPTION_KEY"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Scan: ScanConfig{
			Concurrency:             v.GetInt("SCAN_CONCURRENCY"),
			InspectorTimeoutSeconds: v.GetInt("SCAN_INSPECTOR_TIMEOUT_SECONDS"),
			AccountRPS:              v.GetFloat64("SCAN_ACCOUNT_RPS"),
			AccountBurst:            v.GetInt("SCAN_ACCOUNT_BURST"),
			DefaultRegions:          splitList(v.GetString("SCAN_DEFAULT_REGIONS")),
		},
		Remediation: RemediationConfig{
			ExecutorTimeoutSeconds: v.GetInt("REMEDIATION_EXECUTOR_TIMEOUT_SECONDS"),
			LockTTLSeconds:         v.GetInt("REMEDIATION_LOCK_TTL_SECONDS"),
			LockBackend:            strings.ToLower(v.GetString("REMEDIATION_LOCK_BACKEND")),
		},
		AWS: AWSConfig{
			AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
			DefaultRegion:   v.GetString("AWS_DEFAULT_REGION"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("SCAN_CONCURRENCY must be positive, got %d", c.Scan.Concurrency)
	}
	if c.Scan.InspectorTimeoutSeconds <= 0 {
		return fmt.Errorf("SCAN_INSPECTOR_TIMEOUT_SECONDS must be positive")
	}
	if c.Remediation.ExecutorTimeoutSeconds <= 0 {
		return fmt.Errorf("REMEDIATION_EXECUTOR_TIMEOUT_SECONDS must be positive")
	}
	switch c.Remediation.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("REMEDIATION_LOCK_BACKEND must be memory or redis, got %q", c.Remediation.LockBackend)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
