package config

import (
	"os"
	"strconv"
	"strings"
)

// String returns the value of key, or def when it is unset or empty.
func String(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Int returns key parsed as an int, or def when it is unset or unparsable.
func Int(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

// Float32 returns key parsed as a float32, or def when it is unset or unparsable.
func Float32(key string, def float32) float32 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 32)
	if err != nil {
		return def
	}
	return float32(v)
}

// List returns key split on commas with blanks dropped.
func List(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
