package configs

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
	Quota    QuotaConfig
	Window   WindowConfig
	Gate     GateConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	DSN      string
	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Pool and timeout settings
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

// QuotaConfig controls the per-identity daily quota.
type QuotaConfig struct {
	DailyLimit int
	// Timezone used to compute calendar-day boundaries (IANA name).
	Timezone string
	// FailOpen decides whether quota checks allow requests when the store is
	// unreachable. Fail closed is the safer choice for paid tiers.
	FailOpen bool
	// StoreTimeout bounds every round trip to the backing store so admission
	// checks never become the slowest part of the request path.
	StoreTimeout time.Duration
}

// WindowConfig controls fixed-window request counting.
type WindowConfig struct {
	// Store selects the window/block-state backend: postgres, redis or memory.
	Store string
	// Length of a counting window. Counters reset at window boundaries, so a
	// burst straddling a boundary can briefly see up to 2x the nominal rate.
	Length time.Duration
	// SkewTolerance is how far in the future a stored window may start before
	// it is treated as corrupt and ignored.
	SkewTolerance time.Duration
}

// GateConfig controls the adaptive escalation layer.
type GateConfig struct {
	BaseLimit           int
	HardLimit           int
	EscalationThreshold int
	BaseBlockDuration   time.Duration
	BackoffMultiplier   float64
	MaxBlockDuration    time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			TLSCertFile:  getEnv("TLS_CERT_FILE", ""),
			TLSKeyFile:   getEnv("TLS_KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "admission_db"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolTimeout:  getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			IdleTimeout:  getDurationEnv("REDIS_IDLE_TIMEOUT", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Quota: QuotaConfig{
			DailyLimit:   getIntEnv("QUOTA_DAILY_LIMIT", 5),
			Timezone:     getEnv("QUOTA_TIMEZONE", "UTC"),
			FailOpen:     getBoolEnv("QUOTA_FAIL_OPEN", true),
			StoreTimeout: getDurationEnv("STORE_TIMEOUT", 200*time.Millisecond),
		},
		Window: WindowConfig{
			Store:         getEnv("WINDOW_STORE", "postgres"),
			Length:        getDurationEnv("WINDOW_LENGTH", time.Hour),
			SkewTolerance: getDurationEnv("WINDOW_SKEW_TOLERANCE", 5*time.Minute),
		},
		Gate: GateConfig{
			BaseLimit:           getIntEnv("GATE_BASE_LIMIT", 100),
			HardLimit:           getIntEnv("GATE_HARD_LIMIT", 200),
			EscalationThreshold: getIntEnv("GATE_ESCALATION_THRESHOLD", 3),
			BaseBlockDuration:   getDurationEnv("GATE_BASE_BLOCK", 15*time.Minute),
			BackoffMultiplier:   getFloatEnv("GATE_BACKOFF_MULTIPLIER", 2.0),
			MaxBlockDuration:    getDurationEnv("GATE_MAX_BLOCK", 24*time.Hour),
		},
	}

	if cfg.Gate.HardLimit < cfg.Gate.BaseLimit {
		return nil, fmt.Errorf("GATE_HARD_LIMIT (%d) must be >= GATE_BASE_LIMIT (%d)", cfg.Gate.HardLimit, cfg.Gate.BaseLimit)
	}

	// Build database DSN
	cfg.Database.DSN = fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
