package conf

import "github.com/patchgraph/ingen/internal/logger"

// GetLogger returns the config package logger. It is fetched from the
// global logger on each call because configuration loads before the
// central logger is installed.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
