package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/audit/repository"
	"github.com/smallbiznis/storefront/internal/clock"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/internal/testutil/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewService(Params{
		DB:    dbtest.Open(t),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	}), clk
}

func TestAuditLogMasksMetadataAndTakesActorFromContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "admin", "a-7")
	ctx = obscontext.WithClient(ctx, "10.0.0.1", "curl/8")

	target := "ord_1"
	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionOrderCancelled, "order", &target, map[string]any{
		"customer_email": "alice@example.com",
		"signature":      "deadbeefcafe",
		"reason":         "changed mind",
	}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TargetID: "ord_1"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "admin", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "a-7", *entry.ActorID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.1", *entry.IPAddress)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "changed mind", entry.Metadata["reason"])
	assert.NotEqual(t, "alice@example.com", entry.Metadata["customer_email"])
	assert.NotEqual(t, "deadbeefcafe", entry.Metadata["signature"])
}

func TestAuditLogRejectsBlankAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.AuditLog(context.Background(), "system", nil, "  ", "order", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListFilters(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.AuditLog(ctx, "gateway", nil, auditdomain.ActionSignatureRejected, "webhook", nil, nil))
	clk.Advance(time.Hour)
	require.NoError(t, svc.AuditLog(ctx, "admin", nil, auditdomain.ActionRefundResolved, "refund", nil, nil))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: auditdomain.ActionRefundResolved})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "refund", resp.AuditLogs[0].TargetType)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "order.deleted"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	start := clk.Now()
	end := start.Add(-time.Minute)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
