package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// CLIConfig holds command-line configuration shared by every subcommand
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
}

// bindFlags registers the persistent flags with environment variable fallback
func bindFlags(cmd *cobra.Command, cfg *CLIConfig) {
	flags := cmd.PersistentFlags()

	flags.StringVarP(&cfg.ConfigPath, "config", "c",
		getEnv("SENSORSTREAM_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: SENSORSTREAM_CONFIG)")

	flags.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SENSORSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SENSORSTREAM_LOG_LEVEL)")

	flags.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SENSORSTREAM_LOG_FORMAT", "json"),
		"Log format: json, text (env: SENSORSTREAM_LOG_FORMAT)")

	flags.BoolVar(&cfg.Debug, "debug",
		getEnvBool("SENSORSTREAM_DEBUG", false),
		"Enable debug logging, including the MQTT client (env: SENSORSTREAM_DEBUG)")

	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SENSORSTREAM_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: SENSORSTREAM_SHUTDOWN_TIMEOUT)")
}

func validateFlags(cfg *CLIConfig) error {
	// Override log level if debug is set
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	// The file is optional; configuration may come from the environment alone
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !slices.Contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
