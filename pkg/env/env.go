// Package env consolidates all environment variable reading for the
// application. Values are read once at startup.
package env

import (
	"os"
	"strconv"
)

// Environment variable names (single source of truth)
const (
	LOGLevel     = "LOG_LEVEL"
	CacheEntries = "STREAMARC_CACHE_ENTRIES"
)

// LogLevel returns LOG_LEVEL with default "INFO" (for early logger init).
func LogLevel() string {
	if v := os.Getenv(LOGLevel); v != "" {
		return v
	}
	return "INFO"
}

// FSCacheEntries returns the archive FS entry-cache capacity, 0 meaning
// "use the library default".
func FSCacheEntries() int {
	return getEnvInt(CacheEntries, 0)
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
