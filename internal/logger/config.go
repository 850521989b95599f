package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Environments recognised by NewFromEnv. Only EnvLocal skips the log file.
const (
	EnvLocal      = "local"
	EnvStaging    = "staging"
	EnvProduction = "production"
)

// EnvConfig is the logger configuration read from the process environment.
// Every variable may be given with a DMI_ prefix, which wins over the bare name.
type EnvConfig struct {
	Level       string
	Format      string
	Output      io.Writer // overrides every file/stdout decision when set
	ServiceName string
	Environment string

	LogFile     string
	LogFileOnly bool

	// Rotation (lumberjack): size in MB, age in days.
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// LoadFromEnv reads LOG_*, SERVICE_NAME and APP_ENV.
func LoadFromEnv() *EnvConfig {
	cfg := &EnvConfig{
		Level:       strings.ToLower(lookup("LOG_LEVEL", "info")),
		Format:      strings.ToLower(lookup("LOG_FORMAT", "json")),
		ServiceName: lookup("SERVICE_NAME", "dmi"),
		Environment: normalizeEnvironment(lookup("APP_ENV", EnvLocal)),
		LogFile:     lookup("LOG_FILE", ""),
		LogFileOnly: lookupBool("LOG_FILE_ONLY", false),
		MaxSize:     lookupInt("LOG_MAX_SIZE", 100),
		MaxBackups:  lookupInt("LOG_MAX_BACKUPS", 7),
		MaxAge:      lookupInt("LOG_MAX_AGE", 30),
		Compress:    lookupBool("LOG_COMPRESS", true),
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join("/var/log", cfg.ServiceName, cfg.ServiceName+".log")
	}
	return cfg
}

func normalizeEnvironment(env string) string {
	switch strings.ToLower(env) {
	case "", "dev", "development", EnvLocal:
		return EnvLocal
	case "prod", EnvProduction:
		return EnvProduction
	default:
		return strings.ToLower(env)
	}
}

func lookup(key, def string) string {
	for _, k := range []string{"DMI_" + key, key} {
		if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return def
}

func lookupBool(key string, def bool) bool {
	b, err := strconv.ParseBool(lookup(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return b
}

func lookupInt(key string, def int) int {
	i, err := strconv.Atoi(lookup(key, strconv.Itoa(def)))
	if err != nil || i < 0 {
		return def
	}
	return i
}
