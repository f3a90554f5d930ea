package logger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLLogger routes gorm's logging into a module logger. Statements log at
// trace, failed and slow statements at warn.
type SQLLogger struct {
	log  Logger
	slow time.Duration
}

var _ gormlogger.Interface = (*SQLLogger)(nil)

// NewSQLLogger returns a gorm logger writing to log. slow of zero disables
// slow statement warnings.
func NewSQLLogger(log Logger, slow time.Duration) *SQLLogger {
	if log == nil {
		log = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &SQLLogger{log: log, slow: slow}
}

// LogMode is a no-op; levels come from the module configuration
func (l *SQLLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *SQLLogger) Info(_ context.Context, msg string, args ...any) {
	l.log.Debug(fmt.Sprintf(msg, args...))
}

func (l *SQLLogger) Warn(_ context.Context, msg string, args ...any) {
	l.log.Warn(fmt.Sprintf(msg, args...))
}

func (l *SQLLogger) Error(_ context.Context, msg string, args ...any) {
	l.log.Error(fmt.Sprintf(msg, args...))
}

func (l *SQLLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	took := time.Since(begin)
	stmt, rows := fc()
	fields := []Field{
		String("sql", stmt),
		Int64("rows", rows),
		Duration("took", took),
	}

	if err != nil && err != gorm.ErrRecordNotFound { //nolint:errorlint // gorm returns the sentinel unwrapped
		l.log.Warn("statement failed", append(fields, Error(err))...)
		return
	}
	if l.slow > 0 && took > l.slow {
		l.log.Warn("slow statement", fields...)
		return
	}
	l.log.Trace("statement", fields...)
}
