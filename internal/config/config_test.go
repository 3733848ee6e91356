package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://app:secret@db:5433/otp?sslmode=disable")
	t.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	t.Setenv("OTP_SALT", "test-otp-salt")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 5, cfg.OTPMaxAttempts)
	assert.False(t, cfg.DevMode, "dev mode must never be on by default")
	assert.Equal(t, StorePostgres, cfg.CodeStore)
	assert.Equal(t, ProviderSMS, cfg.Delivery.Provider)
	assert.Equal(t, 10*time.Second, cfg.Delivery.Timeout)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.DeliveryConfigured())
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("OTP_SALT", "y")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_RedisStoreNeedsURL(t *testing.T) {
	setRequired(t)
	t.Setenv("CODE_STORE", "Redis")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.CodeStore)
}

func TestLoad_DevModeRefusedInProduction(t *testing.T) {
	setRequired(t)
	t.Setenv("DEV_MODE", "true")
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEV_MODE")

	t.Setenv("APP_ENV", "development")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DevMode)
}

func TestLoad_UnknownProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("DELIVERY_PROVIDER", "pigeon")

	_, err := Load()
	require.Error(t, err)
}

func TestDeliveryConfigured(t *testing.T) {
	setRequired(t)
	t.Setenv("DELIVERY_PROVIDER", "whatsapp")
	t.Setenv("WHATSAPP_BASE_URL", "https://wa.example.com")
	t.Setenv("WHATSAPP_INSTANCE_KEY", "inst-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DeliveryConfigured())
}

func TestDatabaseTarget_HidesPassword(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)

	target := cfg.DatabaseTarget()
	assert.Equal(t, "host=db port=5433 db=otp user=app", target)
	assert.NotContains(t, target, "secret")
}

func TestLoad_KafkaBrokersList(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "otp-events", cfg.KafkaTopic)
}
