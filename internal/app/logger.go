package app

import (
	"strings"

	"github.com/zeh237/taskly/pkg/logger"
)

// LoggerOptions converts ServerConfig into logger options, defaulting the level to info.
func (c ServerConfig) LoggerOptions() logger.Options {
	level := strings.TrimSpace(c.LogLevel)
	if level == "" {
		level = "info"
	}
	return logger.Options{
		Level:       level,
		Development: c.Development,
		File: logger.FileOptions{
			Path:       strings.TrimSpace(c.LogFile.Path),
			MaxSizeMB:  c.LogFile.MaxSizeMB,
			MaxBackups: c.LogFile.MaxBackups,
			MaxAgeDays: c.LogFile.MaxAgeDays,
			Compress:   c.LogFile.Compress,
		},
	}
}

// ConfigureLogging initialises the global logger from the server section.
func ConfigureLogging(cfg ServerConfig) error {
	return logger.Configure(cfg.LoggerOptions())
}
