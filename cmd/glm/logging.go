package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/glmlink/pkg/config"
)

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level wins over --verbose, which wins over the configured log_level.
// Returns a configured logger or error if the log-level is invalid.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config) (*logrus.Logger, error) {
	logLevel := cfg.Level()

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	} else if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		logLevel = logrus.DebugLevel
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
