package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleuart/pkg/config"
)

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level takes precedence over --verbose; without either the level comes
// from the config file when one was given and the tool stays silent otherwise.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	// Default to panic level (essentially silent for normal operations)
	logLevel := logrus.PanicLevel

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	configPath, _ := cmd.Flags().GetString("config")
	switch {
	case logLevelStr != "":
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
	case flagBool(cmd, "verbose"):
		logLevel = logrus.DebugLevel
	case configPath != "" && cfg != nil:
		return cfg.NewLogger(), nil
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}

func flagBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}
