package utils

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads .env files for the given environment. The environment
// specific file (.env.production etc.) wins over the plain .env.
func LoadEnv(env string) error {
	if env != "" {
		candidate := fmt.Sprintf(".env.%s", env)
		if _, err := os.Stat(candidate); err == nil {
			return godotenv.Load(candidate, ".env")
		}
	}
	return godotenv.Load()
}

// GetEnv returns the raw value of an environment variable.
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetIntEnv returns the integer value of an environment variable, 0 if unset
// or unparseable.
func GetIntEnv(key string) int64 {
	return cast.ToInt64(os.Getenv(key))
}

// GetBoolEnv returns the boolean value of an environment variable.
// Accepts 1/t/true/yes/on (case insensitive).
func GetBoolEnv(key string) bool {
	switch os.Getenv(key) {
	case "yes", "YES", "on", "ON":
		return true
	}
	return cast.ToBool(os.Getenv(key))
}

// GetDurationEnv parses an environment variable as a time.Duration,
// falling back to defaultVal when unset or invalid.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultVal
	}
	return d
}
