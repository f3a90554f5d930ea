package engine

import "github.com/patchgraph/ingen/internal/logger"

// defaultLogger is used when Options carry no logger
func defaultLogger() logger.Logger {
	return logger.Global().Module(component)
}
