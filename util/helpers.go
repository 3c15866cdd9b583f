// Package util provides utility functions for reading the environment, normalizing NVD timestamps
// and writing files into the mirror repository.
//
//revive:disable-next-line:var-naming
package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// GetEnvInt returns the env var parsed as an int, or the default when unset or unparsable
func GetEnvInt(key string, defVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defVal
}

// GetEnvBool returns the env var parsed as a bool, or the default when unset or unparsable
func GetEnvBool(key string, defVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defVal
}

// GetEnvDuration returns the env var parsed with time.ParseDuration.
// A bare integer is read as seconds.
func GetEnvDuration(key string, defVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defVal
	}
	val = strings.TrimSpace(val)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defVal
}

// IsEmpty checks if a string is empty or contains only whitespace
func IsEmpty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// IsNotEmpty checks if a string is not empty
func IsNotEmpty(s string) bool {
	return !IsEmpty(s)
}

// SplitList splits a comma separated list, dropping blank entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
