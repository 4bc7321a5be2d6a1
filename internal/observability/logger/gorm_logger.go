package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// QueryErrorKind tells the GORM logger how loudly to report a failed statement.
type QueryErrorKind int

const (
	// QueryErrorFatal is an unexpected failure.
	QueryErrorFatal QueryErrorKind = iota
	// QueryErrorRetryable is a lock or serialization conflict the caller retries.
	QueryErrorRetryable
	// QueryErrorExpected is a failure the caller turns into a result, such as a
	// duplicate webhook event insert.
	QueryErrorExpected
)

type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// ClassifyError maps a statement error to a QueryErrorKind. Nil treats
	// every error except record-not-found as fatal.
	ClassifyError func(error) QueryErrorKind
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

// GormLogger routes GORM output through the request-scoped zap logger so SQL
// lines carry the same request and actor fields as the handler that issued them.
type GormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	classify      func(error) QueryErrorKind
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{
		level:         cfg.Level,
		slowThreshold: cfg.SlowThreshold,
		classify:      cfg.ClassifyError,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zap.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zap.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zap.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, floor gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.level < floor {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace reports failed and slow statements. Retryable conflicts are logged at
// warn and expected failures at debug, so the reconciliation retry loop does
// not flood the error stream.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	if err != nil && l.level >= gormlogger.Error {
		switch l.kindOf(err) {
		case QueryErrorRetryable:
			l.logQuery(ctx, fc, elapsed, err, zap.WarnLevel, "retryable")
			return
		case QueryErrorExpected:
			l.logQuery(ctx, fc, elapsed, err, zap.DebugLevel, "expected")
			return
		default:
			if !errors.Is(err, gormlogger.ErrRecordNotFound) {
				l.logQuery(ctx, fc, elapsed, err, zap.ErrorLevel, "fatal")
				return
			}
		}
	}

	switch {
	case l.slowThreshold != 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		l.logQuery(ctx, fc, elapsed, nil, zap.WarnLevel, "")
	case l.level >= gormlogger.Info:
		l.logQuery(ctx, fc, elapsed, nil, zap.DebugLevel, "")
	}
}

// ParamsFilter drops bound values. Payment rows carry gateway payloads and
// customer contacts that must not reach the log pipeline.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) kindOf(err error) QueryErrorKind {
	if l.classify == nil {
		return QueryErrorFatal
	}
	return l.classify(err)
}

func (l *GormLogger) logQuery(ctx context.Context, fc func() (string, int64), elapsed time.Duration, err error, level zapcore.Level, errKind string) {
	ce := FromContext(ctx).Check(level, "gorm.query")
	if ce == nil {
		return
	}

	sql, rows := fc()
	op, table := describeSQL(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", op),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if table != "" {
		fields = append(fields, zap.String("table", table))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err), zap.String("error_kind", errKind))
	}
	ce.Write(fields...)
}

// describeSQL returns the statement verb and the first table it targets.
func describeSQL(sql string) (string, string) {
	tokens := strings.Fields(sql)
	op := "UNKNOWN"
	for i, raw := range tokens {
		token := strings.ToUpper(strings.Trim(raw, "();"))
		switch token {
		case "SELECT", "DELETE":
			if op == "UNKNOWN" {
				op = token
			}
			if token == "DELETE" {
				return op, tableAfter(tokens, i, "FROM")
			}
		case "INSERT":
			return token, tableAfter(tokens, i, "INTO")
		case "UPDATE":
			return token, cleanTable(tokenAt(tokens, i+1))
		case "FROM":
			if op == "SELECT" {
				return op, cleanTable(tokenAt(tokens, i+1))
			}
		}
	}
	return op, ""
}

func tableAfter(tokens []string, from int, keyword string) string {
	for i := from + 1; i < len(tokens); i++ {
		if strings.EqualFold(tokens[i], keyword) {
			return cleanTable(tokenAt(tokens, i+1))
		}
	}
	return ""
}

func tokenAt(tokens []string, i int) string {
	if i < 0 || i >= len(tokens) {
		return ""
	}
	return tokens[i]
}

func cleanTable(token string) string {
	token = strings.Trim(token, "();`\"")
	if idx := strings.LastIndex(token, "."); idx >= 0 {
		token = token[idx+1:]
	}
	return strings.Trim(token, "`\"")
}

var _ gormlogger.Interface = (*GormLogger)(nil)
