package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Admin     AdminConfig
	Payment   PaymentConfig
	Frontend  FrontendConfig
	Locations LocationsConfig
	AWS       AWSConfig
	Tracing   TracingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string   `env:"PORT" envDefault:"8080"`
	ReadTimeout        int      `env:"READ_TIMEOUT_SEC" envDefault:"30"`
	WriteTimeout       int      `env:"WRITE_TIMEOUT_SEC" envDefault:"30"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"` // or "*"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"` // if set, used as-is
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName   string `env:"DB_NAME" envDefault:"etekaf"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	ExpireHours int    `env:"JWT_EXPIRE_HOURS" envDefault:"12"`
}

// AdminConfig is the bootstrap dashboard account upserted on startup. Empty password skips it.
type AdminConfig struct {
	Username string `env:"ADMIN_USERNAME" envDefault:"admin"`
	Password string `env:"ADMIN_PASSWORD"`
}

// PaymentConfig holds payment gateway and pricing settings.
type PaymentConfig struct {
	MerchantID     string        `env:"ZARINPAL_MERCHANT_ID"`
	Sandbox        bool          `env:"ZARINPAL_SANDBOX" envDefault:"true"`
	CallbackURL    string        `env:"ZARINPAL_CALLBACK_URL" envDefault:"http://localhost:8080/payments/verify"`
	Amount         int64         `env:"PAYMENT_AMOUNT" envDefault:"650000"` // Toman
	Description    string        `env:"PAYMENT_DESCRIPTION" envDefault:"Etekaf registration fee"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	LockTTL        time.Duration `env:"CALLBACK_LOCK_TTL" envDefault:"30s"`
}

// FrontendConfig holds the browser redirect targets after a gateway callback.
type FrontendConfig struct {
	SuccessURL string `env:"FRONTEND_SUCCESS_URL" envDefault:"http://localhost:3000/success"`
	FailureURL string `env:"FRONTEND_FAILURE_URL" envDefault:"http://localhost:3000/failed"`
}

// LocationsConfig points at the JSON location catalog. Empty uses the built-in single venue.
type LocationsConfig struct {
	File string `env:"LOCATIONS_FILE"`
}

// AWSConfig holds AWS credentials and the receipts bucket.
type AWSConfig struct {
	Region               string `env:"AWS_REGION"`
	AccessKeyID          string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey      string `env:"AWS_SECRET_ACCESS_KEY"`
	ReceiptsBucket       string `env:"AWS_S3_RECEIPTS_BUCKET" envDefault:"etekaf-receipts"`
	PresignExpireMinutes int    `env:"AWS_PRESIGN_EXPIRE_MINUTES" envDefault:"15"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Payment.Amount <= 0 {
		return fmt.Errorf("PAYMENT_AMOUNT must be positive, got %d", c.Payment.Amount)
	}
	if c.Payment.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.Payment.CallbackURL) == "" {
		return fmt.Errorf("ZARINPAL_CALLBACK_URL is required")
	}
	return nil
}
