package config

import (
	"fmt"
	"os"
	"strconv"
)

// GetEnv retrieves an environment variable or returns a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntEnv retrieves an integer environment variable or returns a default value
func GetIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// MustGetEnv retrieves an environment variable or exits with code 1.
// Used for secrets the services refuse to run without.
func MustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Fprintf(os.Stderr, "FATAL: required environment variable %s is not set\n", key)
		os.Exit(1)
	}
	return value
}
