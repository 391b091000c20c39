// Package config loads server settings from the environment. A .env file in
// the working directory is read first when present; command-line flags in
// cmd/server override whatever is loaded here.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Override backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds every setting the server reads at startup.
type Config struct {
	// http
	Port int

	// storage
	DBPath          string
	OverrideBackend string
	RedisAddr       string
	RedisUser       string
	RedisPassword   string

	// logger
	LogLevel    string
	LogFilePath string

	// compensation
	RulesPath      string
	PersistTimeout time.Duration
}

// Load reads the given env files (".env" when none are named) and builds a
// Config with defaults for anything unset. Missing env files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return &Config{
		Port:            getEnvInt("PORT", 8080),
		DBPath:          getEnvString("DB_PATH", "payroll.db"),
		OverrideBackend: strings.ToLower(getEnvString("OVERRIDE_BACKEND", BackendSQLite)),
		RedisAddr:       getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisUser:       getEnvString("REDIS_USER", ""),
		RedisPassword:   getEnvString("REDIS_PASSWORD", ""),
		LogLevel:        getEnvString("LOG_LEVEL", "info"),
		LogFilePath:     getEnvString("LOG_FILE_PATH", ""),
		RulesPath:       getEnvString("RULES_PATH", ""),
		PersistTimeout:  getEnvDuration("PERSIST_TIMEOUT", 10*time.Second),
	}, nil
}

func getEnvString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("5s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if i, err := strconv.Atoi(val); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}
