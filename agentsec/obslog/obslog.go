// Package obslog gives every package in this module a named
// *zap.Logger without forcing an import-time logging decision: until
// SetGlobal is called (normally from agentsec.Protect), For returns a
// no-op logger.
package obslog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	global *zap.Logger = zap.NewNop()
)

// SetGlobal installs the process-wide base logger. Safe to call
// before or after For has already vended component loggers, since
// For always reads the current global.
func SetGlobal(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	global = l
}

// For returns a logger named for component, e.g. "inspectors.llm" or
// "patchers.bedrock".
func For(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global.Named(component)
}
