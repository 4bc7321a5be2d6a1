package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{`SELECT * FROM "payments" WHERE "payments"."id" = $1`, "SELECT", "payments"},
		{`INSERT INTO "payment_events" ("id","gateway") VALUES ($1,$2)`, "INSERT", "payment_events"},
		{`UPDATE "orders" SET "status"=$1 WHERE id = $2`, "UPDATE", "orders"},
		{`DELETE FROM public.refunds WHERE id = $1`, "DELETE", "refunds"},
		{`WITH recent AS (SELECT 1) SELECT * FROM recent`, "SELECT", "recent"},
		{``, "UNKNOWN", ""},
	}

	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestGormLoggerErrorKinds(t *testing.T) {
	retryable := errors.New("database is locked")
	duplicate := errors.New("UNIQUE constraint failed")
	broken := errors.New("connection reset")

	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(GormLoggerConfig{
		Level: gormlogger.Warn,
		ClassifyError: func(err error) QueryErrorKind {
			switch err {
			case retryable:
				return QueryErrorRetryable
			case duplicate:
				return QueryErrorExpected
			default:
				return QueryErrorFatal
			}
		},
	})

	query := func() (string, int64) { return `UPDATE "payments" SET status = $1`, 0 }
	ctx := context.Background()
	l.Trace(ctx, time.Now(), query, retryable)
	l.Trace(ctx, time.Now(), query, duplicate)
	l.Trace(ctx, time.Now(), query, broken)
	l.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "retryable", entries[0].ContextMap()["error_kind"])
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "payments", entries[2].ContextMap()["table"])
}

func TestGormLoggerDropsParams(t *testing.T) {
	l := NewGormLogger(DefaultGormLoggerConfig())
	sql, params := l.ParamsFilter(context.Background(), "SELECT 1", "4111111111111111")
	assert.Equal(t, "SELECT 1", sql)
	assert.Nil(t, params)
}
