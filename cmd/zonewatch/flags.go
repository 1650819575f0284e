package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	Validate    bool
}

// parseFlags reads args with ZONEWATCH_* environment fallbacks. An empty
// log level or format defers to the configuration file.
func parseFlags(args []string, getenv func(string) string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&cfg.ConfigPath, "config", "c",
		envOr(getenv, "ZONEWATCH_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: ZONEWATCH_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level",
		envOr(getenv, "ZONEWATCH_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: ZONEWATCH_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		envOr(getenv, "ZONEWATCH_LOG_FORMAT", ""),
		"Log format: json, text (env: ZONEWATCH_LOG_FORMAT)")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printHelp(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := validateFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	return nil
}

func printHelp(fs *pflag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - HVAC zone telemetry dashboard

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run against a broker described in a config file
  %s --config=/etc/zonewatch/config.yaml

  # Debug logging in text format
  %s -c config.yaml --log-level=debug --log-format=text

  # Validate configuration only
  %s -c config.yaml --validate

Version: %s
`, appName, appName, appName, Version)
}

func envOr(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}
