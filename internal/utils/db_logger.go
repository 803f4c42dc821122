package utils

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"gorm.io/gorm/logger"
)

// QuietQueryLogger wraps a GORM logger and drops trace lines for queries the
// scheduler repeats every tick, which would otherwise drown the log.
type QuietQueryLogger struct {
	logger.Interface
	mutedPatterns []string
}

// NewQuietQueryLogger creates a logger that suppresses traces whose SQL
// contains any of the given patterns
func NewQuietQueryLogger(l logger.Interface, mutedPatterns ...string) *QuietQueryLogger {
	return &QuietQueryLogger{
		Interface:     l,
		mutedPatterns: mutedPatterns,
	}
}

// LogMode implements logger.Interface
func (l *QuietQueryLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &QuietQueryLogger{
		Interface:     l.Interface.LogMode(level),
		mutedPatterns: l.mutedPatterns,
	}
}

// Trace implements logger.Interface, dropping muted queries and annotating
// the rest with the application-level caller.
func (l *QuietQueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	sql, rows := fc()

	for _, pattern := range l.mutedPatterns {
		if strings.Contains(sql, pattern) {
			return
		}
	}

	caller := appCaller()
	l.Interface.Trace(ctx, begin, func() (string, int64) {
		if caller != "" {
			return fmt.Sprintf("[Caller: %s] %s", caller, sql), rows
		}
		return sql, rows
	}, err)
}

// appCaller walks the stack past GORM and the database layer to the first
// application frame
func appCaller() string {
	for i := 2; i < 10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "gorm.io") ||
			strings.Contains(file, "internal/database") ||
			strings.Contains(file, "internal/utils/db_logger.go") {
			continue
		}

		if fn := runtime.FuncForPC(pc); fn != nil {
			name := fn.Name()
			if idx := strings.LastIndexByte(name, '.'); idx != -1 {
				name = name[idx+1:]
			}
			return fmt.Sprintf("%s() at %s:%d", name, file, line)
		}
		return fmt.Sprintf("%s:%d", file, line)
	}
	return ""
}
