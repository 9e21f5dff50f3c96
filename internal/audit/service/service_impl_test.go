package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	auditrepository "github.com/smallbiznis/casebill/internal/audit/repository"
	"github.com/smallbiznis/casebill/internal/clock"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	"github.com/smallbiznis/casebill/internal/testutil"
	"github.com/smallbiznis/casebill/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuditLogPaging(t *testing.T) {
	db := testutil.NewDB(t, &auditdomain.AuditLog{})
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepository.Provide(), Clock: clk})

	orgID := node.Generate()
	userID := node.Generate()
	ctx := orgcontext.WithUserID(orgcontext.WithOrgID(context.Background(), orgID.Int64()), userID.Int64())

	for _, action := range []string{"billing_item.submitted", "billing_item.approved", "invoice.generated"} {
		target := node.Generate().String()
		require.NoError(t, svc.AuditLog(ctx, nil, "", nil, action, "billing_item", &target, map[string]any{"k": "v"}))
		clk.Advance(time.Minute)
	}
	other := snowflake.ID(orgID.Int64() + 1)
	require.NoError(t, svc.AuditLog(ctx, &other, "", nil, "invoice.generated", "invoice", nil, nil))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.Equal(t, "invoice.generated", first.AuditLogs[0].Action)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)
	require.NotNil(t, first.AuditLogs[0].ActorID)
	assert.Equal(t, userID.String(), *first.AuditLogs[0].ActorID)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Equal(t, "billing_item.submitted", second.AuditLogs[0].Action)
	assert.False(t, second.HasMore)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "garbage"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	_, err = svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)
}
