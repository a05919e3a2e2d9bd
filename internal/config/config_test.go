package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{Redis: RedisConfig{Addr: "localhost:6379"}}
	assert.EqualError(t, cnf.validateAndAddDefaults(), "database DSN is required")

	cnf = Configuration{Database: DatabaseConfig{DSN: "postgres://localhost/waqf"}}
	assert.EqualError(t, cnf.validateAndAddDefaults(), "redis address is required")

	cnf = Configuration{
		Database: DatabaseConfig{DSN: "postgres://localhost/waqf"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, "8080", cnf.Server.Port)
	assert.Equal(t, 0.95, cnf.Matching.AutoMatchThreshold)
	assert.Equal(t, 3, cnf.Matching.DateToleranceDays)
	assert.Equal(t, int64(1), cnf.Matching.EpsilonMinor)
	assert.Equal(t, 50, cnf.Distribution.BatchSize)
	assert.Equal(t, 2*time.Second, cnf.Distribution.RetryBackoff)
	assert.Equal(t, 1, *cnf.Distribution.AutoRetries)
	assert.Equal(t, 30*time.Second, cnf.Distribution.ItemTimeout)
	assert.Nil(t, cnf.RateLimit.RequestsPerSecond)

	cnf.Matching.AutoMatchThreshold = 1.5
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestValidateAndAddDefaults_KeepsExplicitZeroRetries(t *testing.T) {
	zero := 0
	rps := 10.0
	cnf := Configuration{
		Database:     DatabaseConfig{DSN: "dsn"},
		Redis:        RedisConfig{Addr: "addr"},
		RateLimit:    RateLimitConfig{RequestsPerSecond: &rps},
		Distribution: DistributionConfig{AutoRetries: &zero},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, 0, *cnf.Distribution.AutoRetries)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
	assert.Equal(t, 3600, *cnf.RateLimit.CleanupIntervalSec)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("WAQF_DATABASE_DSN", "postgres://db/waqf")
	t.Setenv("WAQF_REDIS_ADDR", "redis:6379")
	t.Setenv("WAQF_SERVER_PORT", "9090")
	t.Setenv("WAQF_SERVER_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("WAQF_MATCHING_AUTO_MATCH_THRESHOLD", "0.9")
	t.Setenv("WAQF_DISTRIBUTION_BATCH_SIZE", "25")
	t.Setenv("WAQF_DISTRIBUTION_RETRY_BACKOFF", "500ms")
	t.Setenv("WAQF_RATE_LIMIT_RPS", "5")

	cnf, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cnf.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cnf.Server.CORSOrigins)
	assert.Equal(t, 0.9, cnf.Matching.AutoMatchThreshold)
	assert.Equal(t, 25, cnf.Distribution.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cnf.Distribution.RetryBackoff)
	require.NotNil(t, cnf.RateLimit.RequestsPerSecond)
	assert.Equal(t, 5.0, *cnf.RateLimit.RequestsPerSecond)
}

func TestLoadOffline(t *testing.T) {
	t.Setenv("WAQF_DATABASE_DSN", "")
	t.Setenv("WAQF_REDIS_ADDR", "")
	t.Setenv("WAQF_GATEWAY_URL", "https://pay.example")

	_, err := Load()
	assert.Error(t, err)

	cnf, err := LoadOffline()
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example", cnf.Gateway.BaseURL)
	assert.Equal(t, 50, cnf.Distribution.BatchSize)
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetFormatter(&logrus.TextFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	})
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	var buf bytes.Buffer
	logrus.SetOutput(&buf)
	logrus.WithField("session_id", "s-1").Info("hello")
	assert.Contains(t, buf.String(), `"session_id":"s-1"`)

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
