package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/glmlink/internal/glm"
	"gopkg.in/yaml.v3"
)

// Output formats for CLI event printing.
const (
	OutputAuto = "auto" // text on a terminal, JSON lines otherwise
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"12s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`

	BackoffFloor   time.Duration `yaml:"backoff_floor" default:"1s"`
	BackoffFactor  float64       `yaml:"backoff_factor" default:"1.7"`
	BackoffCeiling time.Duration `yaml:"backoff_ceiling" default:"10s"`

	// Case-insensitive substrings of the advertised name. Defaults to the vendor hints.
	NameHints     []string `yaml:"name_hints"`
	AddressPrefix string   `yaml:"address_prefix" default:"00:13:43"`

	HistoryLimit     int           `yaml:"history_limit" default:"0"`
	NotifyBuffer     uint32        `yaml:"notify_buffer" default:"128"`
	SubscriberBuffer int           `yaml:"subscriber_buffer" default:"64"`
	StatusInterval   time.Duration `yaml:"status_interval" default:"2s"`

	ListenAddr   string `yaml:"listen_addr" default:"127.0.0.1:8000"`
	OutputFormat string `yaml:"output_format" default:"auto"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.NameHints = append([]string(nil), glm.DefaultNameHints...)
	return cfg
}

// Load returns the defaults overlaid with the YAML file at path. An empty path
// yields the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, errors.New("scan_timeout must be positive"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect_timeout must be positive"))
	}
	if c.BackoffFloor <= 0 {
		errs = append(errs, errors.New("backoff_floor must be positive"))
	}
	if c.BackoffFactor < 1 {
		errs = append(errs, errors.New("backoff_factor must be at least 1"))
	}
	if c.BackoffCeiling < c.BackoffFloor {
		errs = append(errs, errors.New("backoff_ceiling must not be below backoff_floor"))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, errors.New("history_limit must not be negative"))
	}
	if c.NotifyBuffer == 0 {
		errs = append(errs, errors.New("notify_buffer must be positive"))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("subscriber_buffer must be positive"))
	}
	if c.StatusInterval < 0 {
		errs = append(errs, errors.New("status_interval must not be negative"))
	}
	if len(c.NameHints) == 0 && strings.TrimSpace(c.AddressPrefix) == "" {
		errs = append(errs, errors.New("name_hints or address_prefix is required to locate the device"))
	}
	switch c.OutputFormat {
	case OutputAuto, OutputText, OutputJSON:
	default:
		errs = append(errs, fmt.Errorf("output_format %q is not one of auto, text, json", c.OutputFormat))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
