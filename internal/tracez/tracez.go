// Package tracez centralizes the no-op-by-default zap logger every JIT
// package wants, a sync.Once-guarded *zap.Logger shared across call sites
// instead of copy-pasted per package.
package tracez

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the process-wide JIT logger, defaulting to a no-op logger.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the JIT logger. Must be called before compilation
// begins; it is not safe to call concurrently with an in-flight Compile.
func SetLogger(l *zap.Logger) {
	logger = l
	loggerOnce.Do(func() {})
}

// Named returns a child logger scoped to the given component name, e.g.
// tracez.Named("stack") for the abstract interpreter.
func Named(component string) *zap.Logger {
	return Logger().Named(component)
}
