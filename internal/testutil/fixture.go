package testutil

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	pricingdomain "github.com/smallbiznis/casebill/internal/pricing/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// CaseModels are the tables every billing service reads.
func CaseModels() []any {
	return []any{
		&catalogdomain.Service{},
		&casefiledomain.Case{},
		&casefiledomain.Account{},
		&casefiledomain.ServiceInstance{},
		&casefiledomain.Activity{},
		&casefiledomain.StaffMember{},
		&pricingdomain.Profile{},
		&pricingdomain.Rule{},
		&auditdomain.AuditLog{},
	}
}

// Fixture seeds one organization's case data.
type Fixture struct {
	DB     *gorm.DB
	Node   *snowflake.Node
	OrgID  snowflake.ID
	UserID snowflake.ID
	Ctx    context.Context
}

func NewFixture(t testing.TB, extra ...any) *Fixture {
	t.Helper()
	db := NewDB(t, append(CaseModels(), extra...)...)
	node := NewNode(t)
	orgID := node.Generate()
	userID := node.Generate()

	ctx := orgcontext.WithOrgID(context.Background(), orgID.Int64())
	ctx = orgcontext.WithUserID(ctx, userID.Int64())
	return &Fixture{DB: db, Node: node, OrgID: orgID, UserID: userID, Ctx: ctx}
}

// Service creates a billable catalog service. An empty rate leaves it unpriced.
func (f *Fixture) Service(t testing.TB, name string, model catalogdomain.PricingModel, rate string) *catalogdomain.Service {
	t.Helper()
	svc := &catalogdomain.Service{
		ID:           f.Node.Generate(),
		OrgID:        f.OrgID,
		Name:         name,
		PricingModel: model,
		IsBillable:   true,
		Active:       true,
	}
	if rate != "" {
		svc.DefaultRate = decimal.NewNullDecimal(decimal.RequireFromString(rate))
	}
	require.NoError(t, f.DB.Create(svc).Error)
	return svc
}

func (f *Fixture) Case(t testing.TB) *casefiledomain.Case {
	t.Helper()
	c := &casefiledomain.Case{ID: f.Node.Generate(), OrgID: f.OrgID, CaseNumber: "C-" + f.Node.Generate().String(), Status: "open"}
	require.NoError(t, f.DB.Create(c).Error)
	return c
}

func (f *Fixture) Instance(t testing.TB, caseID, serviceID snowflake.ID) *casefiledomain.ServiceInstance {
	t.Helper()
	inst := &casefiledomain.ServiceInstance{
		ID:             f.Node.Generate(),
		OrgID:          f.OrgID,
		CaseID:         caseID,
		ServiceID:      serviceID,
		ScheduleStatus: casefiledomain.ScheduleStatusScheduled,
	}
	require.NoError(t, f.DB.Create(inst).Error)
	return inst
}

// Event creates a completed event on one day between the given clock times.
func (f *Fixture) Event(t testing.TB, caseID snowflake.ID, instanceID *snowflake.ID, date, start, end string) *casefiledomain.Activity {
	t.Helper()
	a := &casefiledomain.Activity{
		ID:                f.Node.Generate(),
		OrgID:             f.OrgID,
		CaseID:            caseID,
		ActivityType:      casefiledomain.ActivityTypeEvent,
		Title:             "Event",
		Completed:         true,
		StartDate:         date,
		StartTime:         start,
		EndDate:           date,
		EndTime:           end,
		ServiceInstanceID: instanceID,
	}
	require.NoError(t, f.DB.Create(a).Error)
	return a
}

// Task creates a completed task. Empty hours leaves billed_hours null.
func (f *Fixture) Task(t testing.TB, caseID snowflake.ID, instanceID *snowflake.ID, hours string) *casefiledomain.Activity {
	t.Helper()
	a := &casefiledomain.Activity{
		ID:                f.Node.Generate(),
		OrgID:             f.OrgID,
		CaseID:            caseID,
		ActivityType:      casefiledomain.ActivityTypeTask,
		Title:             "Task",
		Completed:         true,
		ServiceInstanceID: instanceID,
	}
	if hours != "" {
		a.BilledHours = decimal.NewNullDecimal(decimal.RequireFromString(hours))
	}
	require.NoError(t, f.DB.Create(a).Error)
	return a
}

// DefaultProfile creates the organization default profile with one rule.
func (f *Fixture) DefaultProfile(t testing.TB, serviceID snowflake.ID, rate string) *pricingdomain.Rule {
	t.Helper()
	profile := &pricingdomain.Profile{ID: f.Node.Generate(), OrgID: f.OrgID, Name: "Standard", IsDefault: true}
	require.NoError(t, f.DB.Create(profile).Error)
	rule := &pricingdomain.Rule{
		ID:         f.Node.Generate(),
		OrgID:      f.OrgID,
		ProfileID:  profile.ID,
		ServiceID:  serviceID,
		Rate:       decimal.RequireFromString(rate),
		IsBillable: true,
	}
	require.NoError(t, f.DB.Create(rule).Error)
	return rule
}
