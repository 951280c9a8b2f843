package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// HTTP / WebSocket endpoint
	HTTPPort    int      `env:"HTTP_PORT" default:"8080"`
	WSPath      string   `env:"WS_PATH" default:"/ws"`
	RealtimeURL string   `env:"REALTIME_URL" default:"ws://localhost:8080/ws"`
	CORSOrigins []string `env:"CORS_ORIGINS" default:"http://localhost:3000"`

	// Authentication
	JWTSecret      string `env:"JWT_SECRET" required:"true"`
	InternalAPIKey string `env:"INTERNAL_API_KEY"`

	// Heartbeat
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`

	// Client reconnection
	ReconnectInitial     time.Duration `env:"RECONNECT_INITIAL" default:"1s"`
	ReconnectMax         time.Duration `env:"RECONNECT_MAX" default:"30s"`
	ReconnectFactor      float64       `env:"RECONNECT_FACTOR" default:"2"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" default:"10"`

	// Per-connection limits
	WSMaxMessageSize int           `env:"WS_MAX_MESSAGE_SIZE" default:"65536"`
	WSWriteWait      time.Duration `env:"WS_WRITE_WAIT" default:"10s"`
	WSRateLimit      float64       `env:"WS_RATE_LIMIT" default:"10"`
	WSRateBurst      int           `env:"WS_RATE_BURST" default:"20"`

	// Storage
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// Monitoring
	MetricsEnabled bool   `env:"METRICS_ENABLED" default:"true"`
	LogLevel       string `env:"LOG_LEVEL" default:"info"`
	LogFormat      string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	// A missing .env is fine outside development.
	_ = godotenv.Load(".env")

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Endpoint
	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.WSPath, "WS_PATH", "/ws"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RealtimeURL, "REALTIME_URL", "ws://localhost:8080/ws"); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.CORSOrigins, "CORS_ORIGINS", []string{"http://localhost:3000"}); err != nil {
		return nil, err
	}

	// Authentication
	if err := loadEnvStringRequired(&config.JWTSecret, "JWT_SECRET"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.InternalAPIKey, "INTERNAL_API_KEY", ""); err != nil {
		return nil, err
	}

	if err := loadEnvDuration(&config.HeartbeatInterval, "HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}

	// Reconnection
	if err := loadEnvDuration(&config.ReconnectInitial, "RECONNECT_INITIAL", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReconnectMax, "RECONNECT_MAX", 30*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.ReconnectFactor, "RECONNECT_FACTOR", 2); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ReconnectMaxAttempts, "RECONNECT_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}

	// Limits
	if err := loadEnvInt(&config.WSMaxMessageSize, "WS_MAX_MESSAGE_SIZE", 64*1024); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.WSWriteWait, "WS_WRITE_WAIT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.WSRateLimit, "WS_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.WSRateBurst, "WS_RATE_BURST", 20); err != nil {
		return nil, err
	}

	// Storage
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}

	// Monitoring
	if err := loadEnvBool(&config.MetricsEnabled, "METRICS_ENABLED", true); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	return config, nil
}

func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringRequired(target *string, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return fmt.Errorf("required environment variable %s is not set", key)
	}
	*target = value
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	if value := os.Getenv(key); value != "" {
		*target = strings.Split(value, ",")
		for i, v := range *target {
			(*target)[i] = strings.TrimSpace(v)
		}
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errors []string

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		errors = append(errors, "WS_PATH must start with /")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET should be at least 32 characters long")
	}

	if c.HeartbeatInterval <= 0 {
		errors = append(errors, "HEARTBEAT_INTERVAL must be positive")
	}
	if c.ReconnectInitial <= 0 {
		errors = append(errors, "RECONNECT_INITIAL must be positive")
	}
	if c.ReconnectMax < c.ReconnectInitial {
		errors = append(errors, "RECONNECT_MAX must not be below RECONNECT_INITIAL")
	}
	if c.ReconnectFactor < 1 {
		errors = append(errors, "RECONNECT_FACTOR must be at least 1")
	}
	if c.ReconnectMaxAttempts < 0 {
		errors = append(errors, "RECONNECT_MAX_ATTEMPTS must not be negative")
	}

	if c.WSMaxMessageSize <= 0 {
		errors = append(errors, "WS_MAX_MESSAGE_SIZE must be positive")
	}
	if c.WSRateLimit <= 0 || c.WSRateBurst < 1 {
		errors = append(errors, "WS_RATE_LIMIT and WS_RATE_BURST must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
