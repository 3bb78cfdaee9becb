package config

import (
	"log"
	"os"
	"time"

	"github.com/spf13/cast"
	"github.com/vaani-labs/voicemetrics/pkg/logger"
	"github.com/vaani-labs/voicemetrics/pkg/store"
	"github.com/vaani-labs/voicemetrics/pkg/utils"
)

// Config holds every tunable of the telemetry and sync processes.
type Config struct {
	ServerName string `env:"SERVER_NAME"`
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`

	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`

	Log logger.LogConfig

	// Ephemeral store connection
	Redis store.RedisConfig

	// Recorder TTL discipline
	CallTTL          time.Duration `env:"CALL_TTL"`
	CompletedTTL     time.Duration `env:"COMPLETED_TTL"`
	CompletedMaxLen  int64         `env:"COMPLETED_MAX_LEN"`
	LatencyWarnAbove float64       `env:"LATENCY_WARN_ABOVE"` // seconds

	// Reconciliation
	SyncInterval   time.Duration `env:"SYNC_INTERVAL"`
	SyncMaxRetries int           `env:"SYNC_MAX_RETRIES"`
	SyncRetryBase  time.Duration `env:"SYNC_RETRY_BASE"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT"`
	DBTimeout      time.Duration `env:"DB_TIMEOUT"`

	StatsCacheTTL time.Duration `env:"STATS_CACHE_TTL"`

	MonitorPrefix string `env:"MONITOR_PREFIX"`
	APIPrefix     string `env:"API_PREFIX"`
}

var GlobalConfig *Config

// Load reads the .env file (optional) and populates GlobalConfig. Every field
// has a default so the processes start with no environment at all.
func Load() error {
	env := os.Getenv("APP_ENV")
	if err := utils.LoadEnv(env); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	GlobalConfig = &Config{
		ServerName: getStringOrDefault("SERVER_NAME", "voicemetrics"),
		Addr:       getStringOrDefault("ADDR", ":7080"),
		Mode:       getStringOrDefault("MODE", "development"),
		DBDriver:   getStringOrDefault("DB_DRIVER", "sqlite"),
		DSN:        getStringOrDefault("DSN", "./voicemetrics.db"),
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/app.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		Redis: store.RedisConfig{
			Addr:         getStringOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     utils.GetEnv("REDIS_PASSWORD"),
			TranscriptDB: getIntOrDefault("REDIS_DB_TRANSCRIPTS", 0),
			MetricsDB:    getIntOrDefault("REDIS_DB_METRICS", 15),
			KeyPrefix:    getStringOrDefault("REDIS_KEY_PREFIX", "voicemetrics"),
			PoolSize:     getIntOrDefault("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntOrDefault("REDIS_MIN_IDLE_CONNS", 5),
			DialTimeout:  utils.GetDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  utils.GetDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: utils.GetDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		CallTTL:          utils.GetDurationEnv("CALL_TTL", 7*24*time.Hour),
		CompletedTTL:     utils.GetDurationEnv("COMPLETED_TTL", 30*24*time.Hour),
		CompletedMaxLen:  int64(getIntOrDefault("COMPLETED_MAX_LEN", 10000)),
		LatencyWarnAbove: getFloatOrDefault("LATENCY_WARN_ABOVE", 3.0),
		SyncInterval:     utils.GetDurationEnv("SYNC_INTERVAL", 5*time.Minute),
		SyncMaxRetries:   getIntOrDefault("SYNC_MAX_RETRIES", 3),
		SyncRetryBase:    utils.GetDurationEnv("SYNC_RETRY_BASE", time.Minute),
		StoreTimeout:     utils.GetDurationEnv("STORE_TIMEOUT", 3*time.Second),
		DBTimeout:        utils.GetDurationEnv("DB_TIMEOUT", 5*time.Second),
		StatsCacheTTL:    utils.GetDurationEnv("STATS_CACHE_TTL", 5*time.Second),
		MonitorPrefix:    getStringOrDefault("MONITOR_PREFIX", "/metrics"),
		APIPrefix:        getStringOrDefault("API_PREFIX", "/api"),
	}
	return nil
}

func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if utils.GetEnv(key) == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

func getIntOrDefault(key string, defaultValue int) int {
	// presence check first, an explicit "0" is a valid setting
	if utils.GetEnv(key) == "" {
		return defaultValue
	}
	return int(utils.GetIntEnv(key))
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return defaultValue
	}
	return f
}
