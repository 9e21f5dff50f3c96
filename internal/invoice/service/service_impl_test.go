package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	auditrepository "github.com/smallbiznis/casebill/internal/audit/repository"
	auditservice "github.com/smallbiznis/casebill/internal/audit/service"
	billingitemdomain "github.com/smallbiznis/casebill/internal/billingitem/domain"
	billingitemrepository "github.com/smallbiznis/casebill/internal/billingitem/repository"
	billingitemservice "github.com/smallbiznis/casebill/internal/billingitem/service"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	casefilerepository "github.com/smallbiznis/casebill/internal/casefile/repository"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/casebill/internal/catalog/repository"
	"github.com/smallbiznis/casebill/internal/clock"
	"github.com/smallbiznis/casebill/internal/config"
	eligibilityservice "github.com/smallbiznis/casebill/internal/eligibility/service"
	invoicedomain "github.com/smallbiznis/casebill/internal/invoice/domain"
	"github.com/smallbiznis/casebill/internal/locking"
	pricingdomain "github.com/smallbiznis/casebill/internal/pricing/domain"
	pricingrepository "github.com/smallbiznis/casebill/internal/pricing/repository"
	pricingservice "github.com/smallbiznis/casebill/internal/pricing/service"
	retainerdomain "github.com/smallbiznis/casebill/internal/retainer/domain"
	retainerrepository "github.com/smallbiznis/casebill/internal/retainer/repository"
	"github.com/smallbiznis/casebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type invoiceFixture struct {
	*testutil.Fixture
	svc   invoicedomain.Service
	items billingitemdomain.Service
	audit auditdomain.Service
}

type invoiceOptions struct {
	cfg    config.BillingConfig
	locker *locking.Locker
}

func newInvoiceFixture(t *testing.T, opts invoiceOptions) *invoiceFixture {
	t.Helper()
	f := testutil.NewFixture(t,
		&billingitemdomain.BillingItem{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLineItem{},
		&invoicedomain.InvoiceLineActivity{},
		&retainerdomain.Fund{},
	)
	if opts.cfg.RetainerOverflow == "" {
		opts.cfg = config.DefaultBillingConfig()
	}
	billingCfg := config.NewStaticBillingConfig(opts.cfg)
	clk := clock.NewFakeClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	log := zap.NewNop()
	cases := casefilerepository.Provide(f.DB)
	catalog := catalogrepository.Provide(f.DB)
	itemRepo := billingitemrepository.Provide(f.DB)
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

	return &invoiceFixture{
		Fixture: f,
		audit:   audit,
		items: billingitemservice.NewService(billingitemservice.ServiceParam{
			DB:          f.DB,
			Log:         log,
			GenID:       f.Node,
			Repo:        itemRepo,
			Cases:       cases,
			Catalog:     catalog,
			Pricing:     pricing,
			Eligibility: eligibility,
			AuditSvc:    audit,
			Clock:       clk,
		}),
		svc: NewService(ServiceParam{
			DB:         f.DB,
			Log:        log,
			GenID:      f.Node,
			Items:      itemRepo,
			Retainer:   retainerrepository.Provide(f.DB),
			AuditSvc:   audit,
			Locker:     opts.locker,
			BillingCfg: billingCfg,
			Clock:      clk,
		}),
	}
}

// approved inserts an approved time item worth amount.
func (f *invoiceFixture) approved(t *testing.T, caseID snowflake.ID, instanceID, activityID *snowflake.ID, amount string) *billingitemdomain.BillingItem {
	t.Helper()
	id := f.Node.Generate()
	value := decimal.RequireFromString(amount)
	item := &billingitemdomain.BillingItem{
		ID:                id,
		OrgID:             f.OrgID,
		CaseID:            caseID,
		Kind:              billingitemdomain.KindTime,
		SourceKey:         "test:" + id.String(),
		ServiceInstanceID: instanceID,
		ActivityID:        activityID,
		Description:       "Work",
		Quantity:          decimal.NewFromInt(1),
		Rate:              value,
		Amount:            value,
		Status:            billingitemdomain.StatusApproved,
	}
	require.NoError(t, f.DB.Create(item).Error)
	return item
}

func (f *invoiceFixture) deposit(t *testing.T, caseID snowflake.ID, amount string) {
	t.Helper()
	require.NoError(t, f.DB.Create(&retainerdomain.Fund{
		ID:         f.Node.Generate(),
		OrgID:      f.OrgID,
		CaseID:     caseID,
		Amount:     decimal.RequireFromString(amount),
		ReceivedAt: time.Now().UTC(),
	}).Error)
}

func (f *invoiceFixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.DB.Model(model).Count(&n).Error)
	return n
}

func ids(items ...*billingitemdomain.BillingItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID.String())
	}
	return out
}

func TestGenerateAppliesRetainer(t *testing.T) {
	f := newInvoiceFixture(t, invoiceOptions{})
	service := f.Service(t, "Surveillance", catalogdomain.PricingModelHourly, "100")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, service.ID)
	a := f.approved(t, c.ID, &inst.ID, nil, "150")
	b := f.approved(t, c.ID, nil, nil, "100")
	f.deposit(t, c.ID, "100")

	res, err := f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{
		CaseID:          c.ID,
		BillingItemIDs:  ids(a, b),
		RetainerToApply: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	inv := res.Invoice
	assert.Equal(t, "250", inv.SubtotalAmount.String())
	assert.Equal(t, "100", inv.RetainerApplied.String())
	assert.Equal(t, "150", inv.BalanceDue.String())
	assert.Equal(t, "INV-00001", inv.InvoiceNumber)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, inv.Status)
	require.Len(t, inv.LineItems, 2)
	assert.Empty(t, res.Warnings)

	var items []billingitemdomain.BillingItem
	require.NoError(t, f.DB.Where("id IN ?", []snowflake.ID{a.ID, b.ID}).Find(&items).Error)
	for _, item := range items {
		assert.Equal(t, billingitemdomain.StatusBilled, item.Status)
		assert.NotNil(t, item.InvoiceLineItemID)
		assert.NotNil(t, item.BilledAt)
	}

	var stored casefiledomain.ServiceInstance
	require.NoError(t, f.DB.First(&stored, "id = ?", inst.ID).Error)
	assert.NotNil(t, stored.BilledAt)
	assert.NotNil(t, stored.LockedAt)

	var audits int64
	require.NoError(t, f.DB.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionInvoiceGenerated).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)

	got, err := f.svc.GetByID(f.Ctx, inv.ID.String())
	require.NoError(t, err)
	require.Len(t, got.LineItems, 2)
	assert.Equal(t, a.ID, got.LineItems[0].BillingItemID)
	assert.Equal(t, 1, got.LineItems[0].Position)

	// the retainer is used up, so the next invoice cannot apply any.
	next := f.approved(t, c.ID, nil, nil, "40")
	_, err = f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{
		CaseID:          c.ID,
		BillingItemIDs:  ids(next),
		RetainerToApply: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrRetainerExceedsAvailable)

	res, err = f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(next)})
	require.NoError(t, err)
	assert.Equal(t, "INV-00002", res.Invoice.InvoiceNumber)

	list, err := f.svc.List(f.Ctx, invoicedomain.ListInvoiceRequest{CaseID: &c.ID})
	require.NoError(t, err)
	assert.Len(t, list.Invoices, 2)
}

func TestGenerateRejectsDoubleBilling(t *testing.T) {
	f := newInvoiceFixture(t, invoiceOptions{})
	c := f.Case(t)
	a := f.approved(t, c.ID, nil, nil, "80")

	_, err := f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(a)})
	require.NoError(t, err)

	_, err = f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(a)})
	var conflict *invoicedomain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{a.ID.String()}, conflict.ItemIDs)
	assert.ErrorIs(t, err, invoicedomain.ErrItemAlreadyBilled)

	assert.Equal(t, int64(1), f.count(t, &invoicedomain.Invoice{}))
	assert.Equal(t, int64(1), f.count(t, &invoicedomain.InvoiceLineItem{}))
}

func TestGenerateRollsBackOnActivityConflict(t *testing.T) {
	f := newInvoiceFixture(t, invoiceOptions{})
	c := f.Case(t)
	activityID := f.Node.Generate()
	a := f.approved(t, c.ID, nil, nil, "80")
	b := f.approved(t, c.ID, nil, &activityID, "60")

	// another line already billed the same activity.
	require.NoError(t, f.DB.Create(&invoicedomain.InvoiceLineActivity{
		ID:                f.Node.Generate(),
		OrgID:             f.OrgID,
		InvoiceLineItemID: f.Node.Generate(),
		ActivityID:        activityID,
	}).Error)

	_, err := f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(a, b)})
	var conflict *invoicedomain.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)

	assert.Equal(t, int64(0), f.count(t, &invoicedomain.Invoice{}))
	assert.Equal(t, int64(0), f.count(t, &invoicedomain.InvoiceLineItem{}))

	var stored billingitemdomain.BillingItem
	require.NoError(t, f.DB.First(&stored, "id = ?", a.ID).Error)
	assert.Equal(t, billingitemdomain.StatusApproved, stored.Status)
	assert.Nil(t, stored.InvoiceLineItemID)
}

func TestGenerateValidation(t *testing.T) {
	f := newInvoiceFixture(t, invoiceOptions{})
	c := f.Case(t)
	other := f.Case(t)
	ok := f.approved(t, c.ID, nil, nil, "10")
	foreign := f.approved(t, other.ID, nil, nil, "10")
	pending := f.approved(t, c.ID, nil, nil, "10")
	require.NoError(t, f.DB.Model(pending).Update("status", billingitemdomain.StatusPending).Error)

	tests := []struct {
		name string
		req  invoicedomain.GenerateRequest
		want error
	}{
		{"empty selection", invoicedomain.GenerateRequest{CaseID: c.ID}, invoicedomain.ErrNothingToInvoice},
		{"duplicate ids", invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(ok, ok)}, invoicedomain.ErrDuplicateBillingItem},
		{"malformed id", invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: []string{"abc"}}, invoicedomain.ErrInvalidBillingItemID},
		{"negative retainer", invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(ok), RetainerToApply: decimal.NewFromInt(-1)}, invoicedomain.ErrInvalidRetainerAmount},
		{"unknown item", invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: []string{f.Node.Generate().String()}}, invoicedomain.ErrBillingItemNotFound},
		{"item of another case", invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(ok, foreign)}, invoicedomain.ErrItemCaseMismatch},
		{"item not approved", invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(ok, pending)}, invoicedomain.ErrItemNotApproved},
		{"unknown case", invoicedomain.GenerateRequest{CaseID: f.Node.Generate(), BillingItemIDs: ids(ok)}, casefiledomain.ErrCaseNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Generate(f.Ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(ok, pending)})
	var itemsErr *invoicedomain.ItemsError
	require.True(t, errors.As(err, &itemsErr))
	assert.Equal(t, []string{pending.ID.String()}, itemsErr.ItemIDs)

	_, err = f.svc.Generate(context.Background(), invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(ok)})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidOrganization)

	assert.Equal(t, int64(0), f.count(t, &invoicedomain.Invoice{}))
}

func TestGenerateClampsRetainer(t *testing.T) {
	cfg := config.DefaultBillingConfig()
	cfg.RetainerOverflow = config.RetainerOverflowClamp
	f := newInvoiceFixture(t, invoiceOptions{cfg: cfg})
	c := f.Case(t)
	a := f.approved(t, c.ID, nil, nil, "250")
	f.deposit(t, c.ID, "300")

	preview, err := f.svc.Preview(f.Ctx, invoicedomain.GenerateRequest{
		CaseID:          c.ID,
		BillingItemIDs:  ids(a),
		RetainerToApply: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.Equal(t, "300", preview.RetainerAvailable.String())
	assert.Equal(t, "250", preview.RetainerApplied.String())
	assert.True(t, preview.BalanceDue.IsZero())
	assert.Equal(t, int64(0), f.count(t, &invoicedomain.Invoice{}))

	res, err := f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{
		CaseID:          c.ID,
		BillingItemIDs:  ids(a),
		RetainerToApply: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.Equal(t, "250", res.Invoice.RetainerApplied.String())
	assert.True(t, res.Invoice.BalanceDue.IsZero())
	require.Len(t, res.Warnings, 1)
}

func TestGenerateFreezesPricing(t *testing.T) {
	f := newInvoiceFixture(t, invoiceOptions{})
	service := f.Service(t, "Surveillance", catalogdomain.PricingModelHourly, "")
	rule := f.DefaultProfile(t, service.ID, "100")
	c := f.Case(t)
	inst := f.Instance(t, c.ID, service.ID)
	event := f.Event(t, c.ID, &inst.ID, "2024-03-01", "09:00", "10:30")

	recorded, err := f.items.Record(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	item := recorded[0]
	_, err = f.items.Submit(f.Ctx, item.ID)
	require.NoError(t, err)
	_, err = f.items.Approve(f.Ctx, item.ID)
	require.NoError(t, err)

	res, err := f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(item)})
	require.NoError(t, err)
	require.Len(t, res.Invoice.LineItems, 1)
	line := res.Invoice.LineItems[0]
	assert.Equal(t, "150", line.Amount.String())
	assert.Equal(t, "Surveillance", line.ServiceName)
	assert.Equal(t, []snowflake.ID{event.ID}, line.ActivityIDs)

	require.NoError(t, f.DB.Model(&pricingdomain.Rule{}).Where("id = ?", rule.ID).Update("rate", decimal.NewFromInt(300)).Error)

	entries, err := f.items.DeriveTimeEntries(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, billingitemdomain.EntryStatusBilled, entries[0].Status)
	assert.Equal(t, "150", entries[0].Amount.String())
	assert.Equal(t, "100", entries[0].Rate.String())
	assert.Equal(t, string(pricingdomain.SourceInvoice), entries[0].PricingSource)
	require.NotNil(t, entries[0].InvoiceLineItemID)
	assert.Equal(t, line.ID, *entries[0].InvoiceLineItemID)

	got, err := f.svc.GetByID(f.Ctx, res.Invoice.ID.String())
	require.NoError(t, err)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "150", got.LineItems[0].Amount.String())
	assert.Equal(t, []snowflake.ID{event.ID}, got.LineItems[0].ActivityIDs)
}

func TestGenerateLockContention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := locking.NewLocker(client)

	f := newInvoiceFixture(t, invoiceOptions{locker: locker})
	c := f.Case(t)
	a := f.approved(t, c.ID, nil, nil, "80")

	token, ok, err := locker.TryLock(f.Ctx, locking.InvoiceGenerationKey(f.OrgID, c.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(a)})
	assert.ErrorIs(t, err, invoicedomain.ErrGenerationInProgress)
	assert.Equal(t, int64(0), f.count(t, &invoicedomain.Invoice{}))

	require.NoError(t, locker.Release(f.Ctx, locking.InvoiceGenerationKey(f.OrgID, c.ID), token))
	_, err = f.svc.Generate(f.Ctx, invoicedomain.GenerateRequest{CaseID: c.ID, BillingItemIDs: ids(a)})
	require.NoError(t, err)
}

func TestGetByIDNotFound(t *testing.T) {
	f := newInvoiceFixture(t, invoiceOptions{})

	_, err := f.svc.GetByID(f.Ctx, "nope")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoiceID)

	_, err = f.svc.GetByID(f.Ctx, f.Node.Generate().String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}
