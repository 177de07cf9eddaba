package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bulwark-auth/bulwark/internal/models"
	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// RedisConfig configures the shared counter store. Redis is the single
// source of truth for distributed rate-limit and alert-escalation counters
// across process instances.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string // CIDR ranges whose forwarding headers are believed
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// SecurityConfig holds the tunables of the abuse-detection subsystem.
type SecurityConfig struct {
	RateLimitPolicies models.RateLimitPolicies
	CodeExpiry        time.Duration // device step-up code lifetime
	MaxVerifyAttempts int           // wrong-code budget per (email, device)
	DefaultBlockHours int           // IP block duration when none given
	AlertThreshold    int64         // exact malicious-hit count that fires an alert
	AlertWindow       time.Duration // TTL of the escalation counter
	GeoIPTimeout      time.Duration // cap on the external geolocation lookup
	GeoIPEndpoint     string
	SweepInterval     time.Duration // background expired-code sweep
	EventQueueSize    int           // bounded async event pipeline
	EventWorkers      int
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	AlertEmail  string // operator address for escalated alerts
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	policies, err := parseRateLimitPolicies(getEnv("RATE_LIMIT_POLICIES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bulwark"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
		},
		Security: SecurityConfig{
			RateLimitPolicies: policies,
			CodeExpiry:        getEnvAsDuration("DEVICE_CODE_EXPIRY", 5*time.Minute),
			MaxVerifyAttempts: getEnvAsInt("MAX_VERIFY_ATTEMPTS", 5),
			DefaultBlockHours: getEnvAsInt("DEFAULT_BLOCK_HOURS", 24),
			AlertThreshold:    int64(getEnvAsInt("ALERT_THRESHOLD", 10)),
			AlertWindow:       getEnvAsDuration("ALERT_WINDOW", 30*time.Minute),
			GeoIPTimeout:      getEnvAsDuration("GEOIP_TIMEOUT", 3*time.Second),
			GeoIPEndpoint:     getEnv("GEOIP_ENDPOINT", "http://ip-api.com/json"),
			SweepInterval:     getEnvAsDuration("CODE_SWEEP_INTERVAL", 10*time.Minute),
			EventQueueSize:    getEnvAsInt("EVENT_QUEUE_SIZE", 1024),
			EventWorkers:      getEnvAsInt("EVENT_WORKERS", 4),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM", "no-reply@localhost"),
			AlertEmail:  getEnv("ALERT_EMAIL", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseRateLimitPolicies parses "ACTION:maxAttempts:window" triples separated
// by commas, e.g. "LOGIN:5:30m,PASSWORD_RESET:3:15m". An empty value yields
// the stock table. A "DEFAULT" action overrides the fallback policy.
func parseRateLimitPolicies(raw string) (models.RateLimitPolicies, error) {
	policies := models.DefaultRateLimitPolicies()
	if raw == "" {
		return policies, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return policies, fmt.Errorf("invalid rate limit policy %q, want ACTION:max:window", entry)
		}

		max, err := strconv.Atoi(parts[1])
		if err != nil || max <= 0 {
			return policies, fmt.Errorf("invalid max attempts in policy %q", entry)
		}

		window, err := time.ParseDuration(parts[2])
		if err != nil || window <= 0 {
			return policies, fmt.Errorf("invalid window in policy %q", entry)
		}

		action := strings.ToUpper(parts[0])
		policy := models.RateLimitPolicy{MaxAttempts: max, Window: window}
		if action == "DEFAULT" {
			policies.Default = policy
		} else {
			policies.ByAction[action] = policy
		}
	}

	return policies, nil
}

// validateJWTSecret enforces minimum security standards for the JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
