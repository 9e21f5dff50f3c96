package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	auditrepository "github.com/smallbiznis/casebill/internal/audit/repository"
	auditservice "github.com/smallbiznis/casebill/internal/audit/service"
	"github.com/smallbiznis/casebill/internal/casefile/domain"
	"github.com/smallbiznis/casebill/internal/casefile/repository"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/casebill/internal/catalog/repository"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	"github.com/smallbiznis/casebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	svc   domain.Service
	orgID snowflake.ID
	ctx   context.Context
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t, &catalogdomain.Service{}, &domain.ServiceInstance{}, &auditdomain.AuditLog{})
	node := testutil.NewNode(t)
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepository.Provide()})
	svc := NewService(ServiceParam{
		Log:      zap.NewNop(),
		Repo:     repository.Provide(db),
		Catalog:  catalogrepository.Provide(db),
		AuditSvc: audit,
	})
	orgID := node.Generate()
	return fixture{
		db:    db,
		node:  node,
		svc:   svc,
		orgID: orgID,
		ctx:   orgcontext.WithOrgID(context.Background(), orgID.Int64()),
	}
}

func (f fixture) seedInstance(t *testing.T, locked bool) *domain.ServiceInstance {
	t.Helper()
	svc := catalogdomain.Service{ID: f.node.Generate(), OrgID: f.orgID, Name: "Surveillance", PricingModel: catalogdomain.PricingModelHourly, IsBillable: true, Active: true}
	require.NoError(t, f.db.Create(&svc).Error)
	instance := domain.ServiceInstance{
		ID:             f.node.Generate(),
		OrgID:          f.orgID,
		CaseID:         f.node.Generate(),
		ServiceID:      svc.ID,
		ScheduleStatus: domain.ScheduleStatusUnscheduled,
	}
	if locked {
		now := time.Now().UTC()
		instance.LockedAt = &now
	}
	require.NoError(t, f.db.Create(&instance).Error)
	return &instance
}

func TestUpdateServiceInstanceQuantity(t *testing.T) {
	f := newFixture(t)
	instance := f.seedInstance(t, false)

	qty := decimal.RequireFromString("3.5")
	updated, err := f.svc.UpdateServiceInstance(f.ctx, instance.ID, domain.UpdateServiceInstanceRequest{QuantityActual: &qty})
	require.NoError(t, err)

	got, ok := updated.ManualQuantity()
	require.True(t, ok)
	assert.Equal(t, "3.5", got.String())

	var count int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionServiceInstanceEdited).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpdateLockedServiceInstanceRejectsQuantity(t *testing.T) {
	f := newFixture(t)
	instance := f.seedInstance(t, true)

	qty := decimal.NewFromInt(9)
	_, err := f.svc.UpdateServiceInstance(f.ctx, instance.ID, domain.UpdateServiceInstanceRequest{QuantityActual: &qty})
	assert.ErrorIs(t, err, domain.ErrServiceInstanceLocked)

	serviceID := f.node.Generate().String()
	_, err = f.svc.UpdateServiceInstance(f.ctx, instance.ID, domain.UpdateServiceInstanceRequest{ServiceID: &serviceID})
	assert.ErrorIs(t, err, domain.ErrServiceInstanceLocked)

	status := domain.ScheduleStatusScheduled
	updated, err := f.svc.UpdateServiceInstance(f.ctx, instance.ID, domain.UpdateServiceInstanceRequest{ScheduleStatus: &status})
	require.NoError(t, err)
	assert.Equal(t, domain.ScheduleStatusScheduled, updated.ScheduleStatus)
	assert.False(t, updated.QuantityActual.Valid)
}

func TestUpdateServiceInstanceScopedToOrg(t *testing.T) {
	f := newFixture(t)
	instance := f.seedInstance(t, false)

	other := orgcontext.WithOrgID(context.Background(), f.node.Generate().Int64())
	status := domain.ScheduleStatusScheduled
	_, err := f.svc.UpdateServiceInstance(other, instance.ID, domain.UpdateServiceInstanceRequest{ScheduleStatus: &status})
	assert.ErrorIs(t, err, domain.ErrServiceInstanceNotFound)

	_, err = f.svc.UpdateServiceInstance(context.Background(), instance.ID, domain.UpdateServiceInstanceRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}
