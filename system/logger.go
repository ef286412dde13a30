package system

import (
	"sync"

	"go.uber.org/zap"
)

var (
	loggerMu  sync.RWMutex
	sysLogger = zap.NewNop()
)

// logger returns the package logger. No-op by default.
func logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return sysLogger
}

// SetLogger installs a logger for coordinator diagnostics, including the
// implicit-shutdown warning. Passing nil restores the no-op default.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	sysLogger = l
}
