package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type ServerConfig struct {
	Port        string   `envconfig:"PORT"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

type DatabaseConfig struct {
	DSN string `envconfig:"DSN"`
}

type RedisConfig struct {
	Addr     string `envconfig:"ADDR"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `envconfig:"RPS"`
	Burst              *int     `envconfig:"BURST"`
	CleanupIntervalSec *int     `envconfig:"CLEANUP_INTERVAL_SEC"`
}

type MatchingConfig struct {
	AutoMatchThreshold float64 `envconfig:"AUTO_MATCH_THRESHOLD"`
	DateToleranceDays  int     `envconfig:"DATE_TOLERANCE_DAYS"`
	EpsilonMinor       int64   `envconfig:"EPSILON_MINOR"`

	// CandidateWindowDays widens the ledger query around the statement dates.
	CandidateWindowDays int `envconfig:"CANDIDATE_WINDOW_DAYS"`
}

type DistributionConfig struct {
	BatchSize    int           `envconfig:"BATCH_SIZE"`
	RetryBackoff time.Duration `envconfig:"RETRY_BACKOFF"`
	AutoRetries  *int          `envconfig:"AUTO_RETRIES"`
	ItemTimeout  time.Duration `envconfig:"ITEM_TIMEOUT"`
	Concurrency  int           `envconfig:"CONCURRENCY"`
	PauseTTL     time.Duration `envconfig:"PAUSE_TTL"`
}

type GatewayConfig struct {
	BaseURL string        `envconfig:"URL"`
	APIKey  string        `envconfig:"API_KEY"`
	Timeout time.Duration `envconfig:"TIMEOUT"`
}

type LockConfig struct {
	TTL  time.Duration `envconfig:"TTL"`
	Wait time.Duration `envconfig:"WAIT"`
}

type QueueConfig struct {
	Concurrency int `envconfig:"CONCURRENCY"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL"`
	Format string `envconfig:"FORMAT"`
}

type Configuration struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig `envconfig:"RATE_LIMIT"`
	Matching     MatchingConfig
	Distribution DistributionConfig
	Gateway      GatewayConfig
	Lock         LockConfig
	Queue        QueueConfig
	Log          LogConfig
}

// Load reads the environment and fills defaults. Keys are prefixed with the
// section, e.g. WAQF_SERVER_PORT, WAQF_DATABASE_DSN, WAQF_RATE_LIMIT_RPS.
func Load() (*Configuration, error) {
	cnf, err := process()
	if err != nil {
		return nil, err
	}
	if err := cnf.validateAndAddDefaults(); err != nil {
		return nil, err
	}
	return cnf, nil
}

// LoadOffline is Load for commands that run without the database and redis.
func LoadOffline() (*Configuration, error) {
	cnf, err := process()
	if err != nil {
		return nil, err
	}
	if err := cnf.addDefaults(); err != nil {
		return nil, err
	}
	return cnf, nil
}

func process() (*Configuration, error) {
	var cnf Configuration
	if err := envconfig.Process("waqf", &cnf); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return &cnf, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.Database.DSN == "" {
		return errors.New("database DSN is required")
	}
	if cnf.Redis.Addr == "" {
		return errors.New("redis address is required")
	}
	return cnf.addDefaults()
}

func (cnf *Configuration) addDefaults() error {
	if cnf.Server.Port == "" {
		cnf.Server.Port = "8080"
	}
	if len(cnf.Server.CORSOrigins) == 0 {
		cnf.Server.CORSOrigins = []string{"http://localhost:3000"}
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		burst := int(*cnf.RateLimit.RequestsPerSecond) * 2
		cnf.RateLimit.Burst = &burst
	}
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.CleanupIntervalSec == nil {
		cleanup := 3600
		cnf.RateLimit.CleanupIntervalSec = &cleanup
	}

	m := &cnf.Matching
	if m.AutoMatchThreshold == 0 {
		m.AutoMatchThreshold = 0.95
	}
	if m.AutoMatchThreshold < 0 || m.AutoMatchThreshold > 1 {
		return fmt.Errorf("auto match threshold %v is outside [0,1]", m.AutoMatchThreshold)
	}
	if m.DateToleranceDays <= 0 {
		m.DateToleranceDays = 3
	}
	if m.CandidateWindowDays <= 0 {
		m.CandidateWindowDays = 30
	}
	if m.EpsilonMinor <= 0 {
		m.EpsilonMinor = 1
	}

	d := &cnf.Distribution
	if d.BatchSize <= 0 {
		d.BatchSize = 50
	}
	if d.RetryBackoff <= 0 {
		d.RetryBackoff = 2 * time.Second
	}
	if d.AutoRetries == nil {
		one := 1
		d.AutoRetries = &one
	}
	if d.ItemTimeout <= 0 {
		d.ItemTimeout = 30 * time.Second
	}
	if d.Concurrency <= 0 {
		d.Concurrency = 1
	}
	if d.PauseTTL <= 0 {
		d.PauseTTL = 24 * time.Hour
	}

	if cnf.Gateway.Timeout <= 0 {
		cnf.Gateway.Timeout = 15 * time.Second
	}
	if cnf.Lock.TTL <= 0 {
		cnf.Lock.TTL = 30 * time.Second
	}
	if cnf.Lock.Wait <= 0 {
		cnf.Lock.Wait = 5 * time.Second
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 5
	}
	if cnf.Log.Level == "" {
		cnf.Log.Level = "info"
	}
	if cnf.Log.Format == "" {
		cnf.Log.Format = "text"
	}
	return nil
}

// InitLogger configures logrus and routes the standard logger through it.
func InitLogger(cnf LogConfig) error {
	level, err := logrus.ParseLevel(cnf.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	if strings.EqualFold(cnf.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	log.SetFlags(0)
	log.SetOutput(logrus.StandardLogger().Writer())
	return nil
}

func InitDB(cnf DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cnf.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

func InitRedis(cnf RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cnf.Addr,
		Password: cnf.Password,
		DB:       cnf.DB,
	})
}
