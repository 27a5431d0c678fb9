// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// MetricsAddr is the address of the Prometheus /metrics listener; empty disables it.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseURL is the Postgres DSN. Empty selects the in-memory stores (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr enables the advisory session-list cache when set.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// SessionListCacheTTL is the lifetime of a cached session list (e.g. "30s").
	SessionListCacheTTL string `mapstructure:"SESSION_LIST_CACHE_TTL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// PasswordHasher selects the password hash: "bcrypt" or "argon2id".
	PasswordHasher string `mapstructure:"PASSWORD_HASHER"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	MaxConcurrentSessions int `mapstructure:"MAX_CONCURRENT_SESSIONS"`
	// FingerprintEnabled false collapses every device of a user into one fingerprint.
	FingerprintEnabled bool   `mapstructure:"DEVICE_FINGERPRINT_ENABLED"`
	FingerprintSalt    string `mapstructure:"DEVICE_FINGERPRINT_SALT"`

	OTPLength int `mapstructure:"OTP_LENGTH"`
	// SMSFixedOTP is the development SMS code. Must be empty in production, which selects the random generator.
	SMSFixedOTP           string `mapstructure:"SMS_FIXED_OTP"`
	SMSExpiryMinutes      int    `mapstructure:"SMS_EXPIRY_MINUTES"`
	EmailExpiryMinutes    int    `mapstructure:"EMAIL_EXPIRY_MINUTES"`
	MaxAttempts           int    `mapstructure:"MAX_ATTEMPTS"`
	MaxResends            int    `mapstructure:"MAX_RESENDS"`
	ResendCooldownSeconds int    `mapstructure:"RESEND_COOLDOWN_SECONDS"`
	// OTPReturnToClient when true keeps plaintext OTPs in the dev OTP store. Must not be true in production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`

	ReapIntervalSeconds   int `mapstructure:"REAP_INTERVAL_SECONDS"`
	ReapBatchSize         int `mapstructure:"REAP_BATCH_SIZE"`
	InactiveRetentionDays int `mapstructure:"INACTIVE_RETENTION_DAYS"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses; empty disables the Kafka notifier.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// NotifyKafkaTopic is the topic OTP and session-security messages are published to.
	NotifyKafkaTopic string `mapstructure:"NOTIFY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the notification worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// SMSLocalAPIKey is the API key for SMS Local, used by the notification worker.
	SMSLocalAPIKey  string `mapstructure:"SMS_LOCAL_API_KEY"`
	SMSLocalSender  string `mapstructure:"SMS_LOCAL_SENDER"`
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`

	// OTelEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("SESSION_LIST_CACHE_TTL", "30s")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "authgate")
	v.SetDefault("JWT_AUDIENCE", "authgate-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("PASSWORD_HASHER", "bcrypt")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("MAX_CONCURRENT_SESSIONS", 5)
	v.SetDefault("DEVICE_FINGERPRINT_ENABLED", true)
	v.SetDefault("DEVICE_FINGERPRINT_SALT", "")
	v.SetDefault("OTP_LENGTH", 6)
	// Production never defaults to the fixed development SMS code.
	if v.GetString("APP_ENV") == "production" {
		v.SetDefault("SMS_FIXED_OTP", "")
	} else {
		v.SetDefault("SMS_FIXED_OTP", "123456")
	}
	v.SetDefault("SMS_EXPIRY_MINUTES", 10)
	v.SetDefault("EMAIL_EXPIRY_MINUTES", 15)
	v.SetDefault("MAX_ATTEMPTS", 5)
	v.SetDefault("MAX_RESENDS", 3)
	v.SetDefault("RESEND_COOLDOWN_SECONDS", 30)
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("REAP_INTERVAL_SECONDS", 3600)
	v.SetDefault("REAP_BATCH_SIZE", 500)
	v.SetDefault("INACTIVE_RETENTION_DAYS", 7)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("NOTIFY_KAFKA_TOPIC", "authgate-notifications")
	v.SetDefault("KAFKA_GROUP_ID", "authgate-notify-worker")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "authgate")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	production := c.Env == "production"
	if c.OTPReturnToClient && production {
		return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}

	switch strings.ToLower(c.PasswordHasher) {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("config: PASSWORD_HASHER must be bcrypt or argon2id, got %q", c.PasswordHasher)
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if c.OTPLength < 4 || c.OTPLength > 10 {
		return errors.New("config: OTP_LENGTH must be between 4 and 10")
	}
	if c.SMSFixedOTP != "" {
		if production {
			return errors.New("config: SMS_FIXED_OTP must be empty when APP_ENV=production")
		}
		if len(c.SMSFixedOTP) != c.OTPLength || !allDigits(c.SMSFixedOTP) {
			return fmt.Errorf("config: SMS_FIXED_OTP must be %d digits", c.OTPLength)
		}
	}

	positive := []struct {
		name string
		v    int
	}{
		{"MAX_CONCURRENT_SESSIONS", c.MaxConcurrentSessions},
		{"SMS_EXPIRY_MINUTES", c.SMSExpiryMinutes},
		{"EMAIL_EXPIRY_MINUTES", c.EmailExpiryMinutes},
		{"MAX_ATTEMPTS", c.MaxAttempts},
		{"REAP_INTERVAL_SECONDS", c.ReapIntervalSeconds},
		{"REAP_BATCH_SIZE", c.ReapBatchSize},
		{"INACTIVE_RETENTION_DAYS", c.InactiveRetentionDays},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("config: %s must be positive", p.name)
		}
	}
	if c.MaxResends < 0 || c.ResendCooldownSeconds < 0 {
		return errors.New("config: MAX_RESENDS and RESEND_COOLDOWN_SECONDS must not be negative")
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// SessionListTTL parses SessionListCacheTTL. Returns 30s if unset or invalid.
func (c *Config) SessionListTTL() time.Duration {
	return parseDuration(c.SessionListCacheTTL, 30*time.Second)
}

func (c *Config) SMSExpiry() time.Duration {
	return time.Duration(c.SMSExpiryMinutes) * time.Minute
}

func (c *Config) EmailExpiry() time.Duration {
	return time.Duration(c.EmailExpiryMinutes) * time.Minute
}

func (c *Config) ResendCooldown() time.Duration {
	return time.Duration(c.ResendCooldownSeconds) * time.Second
}

func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

func (c *Config) InactiveRetention() time.Duration {
	return time.Duration(c.InactiveRetentionDays) * 24 * time.Hour
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka notifier is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
