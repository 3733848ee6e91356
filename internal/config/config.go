package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store backends accepted by CODE_STORE.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Delivery backends accepted by DELIVERY_PROVIDER.
const (
	ProviderSMS      = "sms"
	ProviderWhatsApp = "whatsapp"
)

// Config holds the application configuration
type Config struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	AppName   string `env:"APP_NAME" envDefault:"Signalix"`
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	OTPSalt        string        `env:"OTP_SALT,required,notEmpty"`
	OTPTTL         time.Duration `env:"OTP_TTL" envDefault:"10m"`
	OTPMaxAttempts int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	DevMode        bool          `env:"DEV_MODE" envDefault:"false"`

	CodeStore string `env:"CODE_STORE" envDefault:"postgres"`
	RedisURL  string `env:"REDIS_URL"`

	Delivery DeliveryConfig

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	AdminToken    string        `env:"ADMIN_TOKEN"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"otp-events"`

	IPRateLimit        int      `env:"IP_RATE_LIMIT" envDefault:"0"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// DeliveryConfig selects and configures the outbound messaging backend.
type DeliveryConfig struct {
	Provider string        `env:"DELIVERY_PROVIDER" envDefault:"sms"`
	Timeout  time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`

	SMSBaseURL string `env:"SMS_BASE_URL"`
	SMSAPIKey  string `env:"SMS_API_KEY"`
	SMSSender  string `env:"SMS_SENDER"`

	WhatsAppBaseURL     string `env:"WHATSAPP_BASE_URL"`
	WhatsAppInstanceKey string `env:"WHATSAPP_INSTANCE_KEY"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.CodeStore = strings.ToLower(strings.TrimSpace(c.CodeStore))
	switch c.CodeStore {
	case StorePostgres, StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL environment variable is required when CODE_STORE=redis")
		}
	default:
		return fmt.Errorf("unsupported CODE_STORE %q", c.CodeStore)
	}

	c.Delivery.Provider = strings.ToLower(strings.TrimSpace(c.Delivery.Provider))
	if c.Delivery.Provider != ProviderSMS && c.Delivery.Provider != ProviderWhatsApp {
		return fmt.Errorf("unsupported DELIVERY_PROVIDER %q", c.Delivery.Provider)
	}
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("DELIVERY_TIMEOUT must be positive")
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTPMaxAttempts < 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must not be negative")
	}
	if c.DevMode && c.IsProduction() {
		return fmt.Errorf("DEV_MODE cannot be enabled when APP_ENV=production")
	}
	return nil
}

// IsProduction reports whether error detail must be hidden from responses.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DeliveryConfigured reports whether the selected backend has its credentials.
func (c *Config) DeliveryConfigured() bool {
	return c.Delivery.Configured()
}

// Configured reports whether the selected backend has its credentials.
func (d DeliveryConfig) Configured() bool {
	if d.Provider == ProviderWhatsApp {
		return d.WhatsAppBaseURL != "" && d.WhatsAppInstanceKey != ""
	}
	return d.SMSBaseURL != "" && d.SMSAPIKey != "" && d.SMSSender != ""
}

// DatabaseTarget describes DATABASE_URL for startup logs without the password.
func (c *Config) DatabaseTarget() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, strings.TrimPrefix(u.Path, "/"), user)
}
