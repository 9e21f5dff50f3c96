package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	auditrepository "github.com/smallbiznis/casebill/internal/audit/repository"
	auditservice "github.com/smallbiznis/casebill/internal/audit/service"
	"github.com/smallbiznis/casebill/internal/billingitem/domain"
	"github.com/smallbiznis/casebill/internal/billingitem/repository"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	casefilerepository "github.com/smallbiznis/casebill/internal/casefile/repository"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/casebill/internal/catalog/repository"
	"github.com/smallbiznis/casebill/internal/clock"
	eligibilitydomain "github.com/smallbiznis/casebill/internal/eligibility/domain"
	eligibilityservice "github.com/smallbiznis/casebill/internal/eligibility/service"
	invoicedomain "github.com/smallbiznis/casebill/internal/invoice/domain"
	pricingrepository "github.com/smallbiznis/casebill/internal/pricing/repository"
	pricingservice "github.com/smallbiznis/casebill/internal/pricing/service"
	"github.com/smallbiznis/casebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBillingItems(t *testing.T) (*testutil.Fixture, domain.Service) {
	t.Helper()
	f := testutil.NewFixture(t,
		&domain.BillingItem{},
		&invoicedomain.InvoiceLineItem{},
		&invoicedomain.InvoiceLineActivity{},
	)
	log := zap.NewNop()
	cases := casefilerepository.Provide(f.DB)
	catalog := catalogrepository.Provide(f.DB)
	audit := auditservice.NewService(auditservice.Params{DB: f.DB, Log: log, GenID: f.Node, Repo: auditrepository.Provide()})
	pricing := pricingservice.NewService(pricingservice.ServiceParam{
		Log:     log,
		Repo:    pricingrepository.Provide(f.DB),
		Cases:   cases,
		Catalog: catalog,
	})
	eligibility := eligibilityservice.NewService(eligibilityservice.ServiceParam{
		Log:      log,
		Cases:    cases,
		Catalog:  catalog,
		Pricing:  pricing,
		AuditSvc: audit,
	})

	return f, NewService(ServiceParam{
		DB:          f.DB,
		Log:         log,
		GenID:       f.Node,
		Repo:        repository.Provide(f.DB),
		Cases:       cases,
		Catalog:     catalog,
		Pricing:     pricing,
		Eligibility: eligibility,
		AuditSvc:    audit,
		Clock:       clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)),
	})
}

func byID(entries []domain.TimeEntry) map[string]domain.TimeEntry {
	out := make(map[string]domain.TimeEntry, len(entries))
	for _, entry := range entries {
		out[entry.ID] = entry
	}
	return out
}

func TestDeriveTimeEntries(t *testing.T) {
	f, svc := newBillingItems(t)
	service := f.Service(t, "Surveillance", catalogdomain.PricingModelHourly, "")
	f.DefaultProfile(t, service.ID, "100")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, service.ID)

	short := f.Event(t, c.ID, &inst.ID, "2024-03-01", "09:00", "09:10")
	long := f.Event(t, c.ID, &inst.ID, "2024-03-01", "10:00", "11:30")
	broken := f.Event(t, c.ID, &inst.ID, "2024-03-01", "12:00", "11:00")
	withHours := f.Task(t, c.ID, &inst.ID, "2")
	f.Task(t, c.ID, &inst.ID, "")

	entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	got := byID(entries)
	assert.NotContains(t, got, domain.ActivitySourceKey(broken.ID))

	e := got[domain.ActivitySourceKey(short.ID)]
	assert.Equal(t, "0.25", e.Quantity.String())
	assert.Equal(t, "25", e.Amount.String())
	assert.Equal(t, domain.EntryStatusUnbilled, e.Status)
	assert.True(t, e.Priced)

	e = got[domain.ActivitySourceKey(long.ID)]
	assert.Equal(t, "1.5", e.Quantity.String())
	assert.Equal(t, "150", e.Amount.String())

	e = got[domain.ActivitySourceKey(withHours.ID)]
	assert.Equal(t, "200", e.Amount.String())

	again, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, entries, again)
}

func TestDeriveInstanceQuantityAndLock(t *testing.T) {
	f, svc := newBillingItems(t)
	service := f.Service(t, "Report", catalogdomain.PricingModelPerUnit, "40")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, service.ID)
	require.NoError(t, f.DB.Model(inst).Update("quantity_actual", decimal.NewFromInt(3)).Error)

	entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.InstanceSourceKey(inst.ID), entries[0].ID)
	assert.Nil(t, entries[0].ActivityID)
	assert.Equal(t, "120", entries[0].Amount.String())
	assert.Equal(t, domain.EntryStatusUnbilled, entries[0].Status)

	require.NoError(t, f.DB.Model(inst).Update("locked_at", time.Now().UTC()).Error)
	entries, err = svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusPending, entries[0].Status)
}

func TestDeriveSkipsUnlinkedAndIncomplete(t *testing.T) {
	f, svc := newBillingItems(t)
	service := f.Service(t, "Surveillance", catalogdomain.PricingModelHourly, "60")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, service.ID)
	f.Event(t, c.ID, nil, "2024-03-01", "09:00", "10:00")
	open := f.Event(t, c.ID, &inst.ID, "2024-03-01", "09:00", "10:00")
	require.NoError(t, f.DB.Model(open).Update("completed", false).Error)

	entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeriveActivitiesOwnTheInstance(t *testing.T) {
	f, svc := newBillingItems(t)
	service := f.Service(t, "Surveillance", catalogdomain.PricingModelHourly, "100")
	c := f.Case(t)

	t.Run("broken interval does not fall back to quantity_actual", func(t *testing.T) {
		inst := f.Instance(t, c.ID, service.ID)
		require.NoError(t, f.DB.Model(inst).Update("quantity_actual", decimal.NewFromInt(3)).Error)
		f.Event(t, c.ID, &inst.ID, "2024-03-01", "12:00", "11:00")

		entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
		require.NoError(t, err)
		assert.NotContains(t, byID(entries), domain.InstanceSourceKey(inst.ID))
	})

	t.Run("task waiting on hours does not fall back to quantity_actual", func(t *testing.T) {
		inst := f.Instance(t, c.ID, service.ID)
		require.NoError(t, f.DB.Model(inst).Update("quantity_actual", decimal.NewFromInt(2)).Error)
		f.Task(t, c.ID, &inst.ID, "")

		entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
		require.NoError(t, err)
		assert.NotContains(t, byID(entries), domain.InstanceSourceKey(inst.ID))
	})

	entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeriveIgnoresTaskHoursBelowMinimum(t *testing.T) {
	f, svc := newBillingItems(t)
	service := f.Service(t, "Interview", catalogdomain.PricingModelHourly, "80")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, service.ID)
	short := f.Task(t, c.ID, &inst.ID, "0.1")
	exact := f.Task(t, c.ID, &inst.ID, "0.25")

	entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	got := byID(entries)
	assert.NotContains(t, got, domain.ActivitySourceKey(short.ID))
	require.Contains(t, got, domain.ActivitySourceKey(exact.ID))
	assert.Equal(t, "20", got[domain.ActivitySourceKey(exact.ID)].Amount.String())

	_, err = svc.ConfirmActivity(f.Ctx, short.ID, nil)
	assert.ErrorIs(t, err, domain.ErrHoursRequired)
}

func TestRecordAfterInstanceLocked(t *testing.T) {
	f, svc := newBillingItems(t)
	service := f.Service(t, "Surveillance", catalogdomain.PricingModelHourly, "60")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, service.ID)
	f.Event(t, c.ID, &inst.ID, "2024-03-01", "09:00", "10:00")

	first, err := svc.Record(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	_, err = svc.Submit(f.Ctx, first[0].ID)
	require.NoError(t, err)

	later := f.Event(t, c.ID, &inst.ID, "2024-03-02", "09:00", "11:00")
	key := domain.ActivitySourceKey(later.ID)

	entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	entry := byID(entries)[key]
	assert.Equal(t, domain.EntryStatusPending, entry.Status)
	assert.Nil(t, entry.BillingItemID)

	second, err := svc.Record(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, key, second[0].SourceKey)
	assert.Equal(t, domain.StatusUnbilled, second[0].Status)
	assert.Equal(t, "120", second[0].Amount.String())

	entries, err = svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, byID(entries)[key].BillingItemID)
	assert.Equal(t, second[0].ID, *byID(entries)[key].BillingItemID)
}

func TestDeclineReleasesInstanceLock(t *testing.T) {
	f, svc := newBillingItems(t)
	service := f.Service(t, "Surveillance", catalogdomain.PricingModelHourly, "60")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, service.ID)
	f.Event(t, c.ID, &inst.ID, "2024-03-01", "09:00", "10:00")
	f.Event(t, c.ID, &inst.ID, "2024-03-02", "09:00", "10:00")

	items, err := svc.Record(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		_, err := svc.Submit(f.Ctx, item.ID)
		require.NoError(t, err)
	}

	lockedAt := func() *time.Time {
		var stored casefiledomain.ServiceInstance
		require.NoError(t, f.DB.First(&stored, "id = ?", inst.ID).Error)
		return stored.LockedAt
	}

	_, err = svc.Decline(f.Ctx, items[0].ID, "wrong day")
	require.NoError(t, err)
	assert.NotNil(t, lockedAt(), "other item still awaits approval")

	_, err = svc.Decline(f.Ctx, items[1].ID, "duplicate")
	require.NoError(t, err)
	assert.Nil(t, lockedAt())

	entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, domain.EntryStatusUnbilled, entry.Status)
	}

	_, err = svc.Resubmit(f.Ctx, items[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, lockedAt())
}

func TestRecordIsIdempotent(t *testing.T) {
	f, svc := newBillingItems(t)
	priced := f.Service(t, "Surveillance", catalogdomain.PricingModelHourly, "60")
	unpriced := f.Service(t, "Research", catalogdomain.PricingModelHourly, "")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, priced.ID)
	other := f.Instance(t, c.ID, unpriced.ID)
	f.Event(t, c.ID, &inst.ID, "2024-03-01", "09:00", "10:00")
	f.Event(t, c.ID, &inst.ID, "2024-03-02", "09:00", "10:00")
	f.Event(t, c.ID, &other.ID, "2024-03-02", "09:00", "10:00")

	first, err := svc.Record(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := svc.Record(f.Ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, second)

	var count int64
	require.NoError(t, f.DB.Model(&domain.BillingItem{}).Where("case_id = ?", c.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	entries, err := svc.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	recorded := 0
	for _, entry := range entries {
		if entry.BillingItemID != nil {
			recorded++
		}
	}
	assert.Equal(t, 2, recorded)
}

func TestItemLifecycle(t *testing.T) {
	f, svc := newBillingItems(t)
	service := f.Service(t, "Interview", catalogdomain.PricingModelHourly, "80")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, service.ID)
	task := f.Task(t, c.ID, &inst.ID, "")

	_, err := svc.ConfirmActivity(f.Ctx, task.ID, nil)
	assert.ErrorIs(t, err, domain.ErrHoursRequired)

	hours := decimal.RequireFromString("1.5")
	item, err := svc.ConfirmActivity(f.Ctx, task.ID, &hours)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnbilled, item.Status)
	assert.Equal(t, "120", item.Amount.String())

	again, err := svc.ConfirmActivity(f.Ctx, task.ID, &hours)
	require.NoError(t, err)
	assert.Equal(t, item.ID, again.ID)

	item, err = svc.Submit(f.Ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, item.Status)
	assert.NotNil(t, item.LockedAt)
	assert.NotNil(t, item.SubmittedAt)

	var stored casefiledomain.ServiceInstance
	require.NoError(t, f.DB.First(&stored, "id = ?", inst.ID).Error)
	assert.NotNil(t, stored.LockedAt)

	_, err = svc.Edit(f.Ctx, item.ID, domain.EditRequest{Quantity: &hours})
	assert.ErrorIs(t, err, domain.ErrItemLocked)

	item, err = svc.Approve(f.Ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, item.Status)

	item, err = svc.Approve(f.Ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, item.Status)

	_, err = svc.Submit(f.Ctx, item.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.Decline(f.Ctx, item.ID, " ")
	assert.ErrorIs(t, err, domain.ErrDeclineReasonRequired)

	item, err = svc.Decline(f.Ctx, item.ID, "hours look high")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, item.Status)
	require.NotNil(t, item.DeclineReason)
	assert.Equal(t, "hours look high", *item.DeclineReason)

	rate := decimal.NewFromInt(70)
	item, err = svc.Edit(f.Ctx, item.ID, domain.EditRequest{Rate: &rate})
	require.NoError(t, err)
	assert.Equal(t, "105", item.Amount.String())

	item, err = svc.Resubmit(f.Ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, item.Status)
	assert.Nil(t, item.DeclineReason)

	var transitions int64
	require.NoError(t, f.DB.Model(&auditdomain.AuditLog{}).
		Where("target_id = ? AND action IN ?", item.ID.String(), []string{
			auditdomain.ActionItemSubmitted,
			auditdomain.ActionItemApproved,
			auditdomain.ActionItemDeclined,
			auditdomain.ActionItemResubmitted,
		}).Count(&transitions).Error)
	assert.Equal(t, int64(4), transitions)
}

func TestConfirmActivityRejections(t *testing.T) {
	f, svc := newBillingItems(t)
	priced := f.Service(t, "Surveillance", catalogdomain.PricingModelHourly, "60")
	unpriced := f.Service(t, "Research", catalogdomain.PricingModelHourly, "")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, priced.ID)
	other := f.Instance(t, c.ID, unpriced.ID)

	open := f.Event(t, c.ID, &inst.ID, "2024-03-01", "09:00", "10:00")
	require.NoError(t, f.DB.Model(open).Update("completed", false).Error)
	_, err := svc.ConfirmActivity(f.Ctx, open.ID, nil)
	assert.ErrorIs(t, err, domain.ErrActivityNotCompleted)

	unlinked := f.Event(t, c.ID, nil, "2024-03-01", "09:00", "10:00")
	_, err = svc.ConfirmActivity(f.Ctx, unlinked.ID, nil)
	assert.ErrorIs(t, err, eligibilitydomain.ErrNotEligible)

	free := f.Event(t, c.ID, &other.ID, "2024-03-01", "09:00", "10:00")
	_, err = svc.ConfirmActivity(f.Ctx, free.ID, nil)
	assert.ErrorIs(t, err, domain.ErrUnpriced)

	task := f.Task(t, c.ID, &inst.ID, "")
	tooShort := decimal.RequireFromString("0.1")
	_, err = svc.ConfirmActivity(f.Ctx, task.ID, &tooShort)
	assert.ErrorIs(t, err, eligibilitydomain.ErrHoursBelowMinimum)

	_, err = svc.ConfirmActivity(f.Ctx, snowflake.ID(42), nil)
	assert.ErrorIs(t, err, casefiledomain.ErrActivityNotFound)
}

func TestExpenses(t *testing.T) {
	f, svc := newBillingItems(t)
	service := f.Service(t, "Mileage", catalogdomain.PricingModelPerUnit, "0.65")
	c := f.Case(t)
	require.NoError(t, f.DB.Create(&casefiledomain.StaffMember{
		ID: f.Node.Generate(), OrgID: f.OrgID, UserID: f.UserID, DisplayName: "Dana Reyes",
	}).Error)

	serviceID := service.ID.String()
	item, err := svc.RecordExpense(f.Ctx, c.ID, domain.RecordExpenseRequest{
		ServiceID:   &serviceID,
		Description: "Drive to site",
		Quantity:    decimal.NewFromInt(120),
		UnitCost:    decimal.RequireFromString("0.65"),
		IncurredOn:  "2024-03-02",
	})
	require.NoError(t, err)
	assert.Equal(t, "78", item.Amount.String())
	assert.Equal(t, domain.KindExpense, item.Kind)

	_, err = svc.RecordExpense(f.Ctx, c.ID, domain.RecordExpenseRequest{Description: "x", Quantity: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.RecordExpense(f.Ctx, c.ID, domain.RecordExpenseRequest{Description: "x", Quantity: decimal.NewFromInt(1), IncurredOn: "03/02/2024"})
	assert.ErrorIs(t, err, domain.ErrInvalidIncurredOn)

	expenses, err := svc.ListExpenses(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, "Dana Reyes", expenses[0].SubmitterName)
	assert.Equal(t, "Mileage", expenses[0].ServiceName)
	assert.Equal(t, domain.EntryStatusUnbilled, expenses[0].Status)

	lineID := f.Node.Generate()
	require.NoError(t, f.DB.Model(&domain.BillingItem{}).Where("id = ?", item.ID).
		Updates(map[string]any{"status": domain.StatusBilled, "invoice_line_item_id": lineID}).Error)

	expenses, err = svc.ListExpenses(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, domain.EntryStatusInvoiced, expenses[0].Status)

	var entry domain.Entry = expenses[0]
	assert.Equal(t, domain.KindExpense, entry.EntryKind())
}
