package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	billingitemdomain "github.com/smallbiznis/casebill/internal/billingitem/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	invoicedomain "github.com/smallbiznis/casebill/internal/invoice/domain"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	pricingdomain "github.com/smallbiznis/casebill/internal/pricing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOrgID  = "1001"
	testUserID = "2002"
)

type fakeInvoiceService struct {
	invoicedomain.Service
	lastReq   invoicedomain.GenerateRequest
	lastOrgID snowflake.ID
	generate  func(req invoicedomain.GenerateRequest) (invoicedomain.GenerateResult, error)
	getByID   func(id string) (invoicedomain.Invoice, error)
}

func (f *fakeInvoiceService) Generate(ctx context.Context, req invoicedomain.GenerateRequest) (invoicedomain.GenerateResult, error) {
	f.lastReq = req
	f.lastOrgID, _ = orgcontext.OrgIDFromContext(ctx)
	return f.generate(req)
}

func (f *fakeInvoiceService) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	_ = ctx
	return f.getByID(id)
}

func (f *fakeInvoiceService) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	_ = ctx
	_ = req
	return invoicedomain.ListInvoiceResponse{Invoices: []invoicedomain.Invoice{}}, nil
}

type fakeBillingItemService struct {
	billingitemdomain.Service
	err error
}

func (f *fakeBillingItemService) RecordExpense(ctx context.Context, caseID snowflake.ID, req billingitemdomain.RecordExpenseRequest) (*billingitemdomain.BillingItem, error) {
	_ = ctx
	_ = caseID
	_ = req
	return nil, f.err
}

func (f *fakeBillingItemService) Submit(ctx context.Context, id snowflake.ID) (*billingitemdomain.BillingItem, error) {
	_ = ctx
	_ = id
	return nil, f.err
}

type fakePricingService struct {
	pricingdomain.Service
}

func (f *fakePricingService) ResolveRate(ctx context.Context, caseID, serviceID snowflake.ID) (pricingdomain.Resolution, error) {
	_ = ctx
	_ = caseID
	return pricingdomain.Unpriced(catalogdomain.Service{ID: serviceID}), nil
}

func newTestServer(p ServerParams) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	p.Gin = r
	NewServer(p)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body any, tenant bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tenant {
		req.Header.Set(HeaderOrg, testOrgID)
		req.Header.Set(HeaderUser, testUserID)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func errorOf(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	errPayload, ok := payload["error"].(map[string]any)
	require.True(t, ok, "missing error payload: %v", payload)
	return errPayload
}

func TestTenantHeadersRequired(t *testing.T) {
	r := newTestServer(ServerParams{InvoiceSvc: &fakeInvoiceService{}})

	rec, payload := doRequest(t, r, http.MethodGet, "/api/v1/invoices", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorOf(t, payload)["type"])

	rec, _ = doRequest(t, r, http.MethodGet, "/api/v1/invoices", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateInvoiceResponses(t *testing.T) {
	invoices := &fakeInvoiceService{}
	r := newTestServer(ServerParams{InvoiceSvc: invoices})
	body := map[string]any{"billing_item_ids": []string{"42"}, "retainer_to_apply": "10.50"}

	invoices.generate = func(req invoicedomain.GenerateRequest) (invoicedomain.GenerateResult, error) {
		return invoicedomain.GenerateResult{Invoice: invoicedomain.Invoice{InvoiceNumber: "INV-00001"}}, nil
	}
	rec, payload := doRequest(t, r, http.MethodPost, "/api/v1/cases/77/invoices", body, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := payload["data"].(map[string]any)
	assert.Equal(t, "INV-00001", data["invoice_number"])
	assert.Equal(t, snowflake.ID(77), invoices.lastReq.CaseID)
	assert.Equal(t, []string{"42"}, invoices.lastReq.BillingItemIDs)
	assert.True(t, decimal.RequireFromString("10.5").Equal(invoices.lastReq.RetainerToApply))
	assert.Equal(t, snowflake.ID(1001), invoices.lastOrgID)

	invoices.generate = func(req invoicedomain.GenerateRequest) (invoicedomain.GenerateResult, error) {
		return invoicedomain.GenerateResult{}, invoicedomain.NewConflictError([]snowflake.ID{42})
	}
	rec, payload = doRequest(t, r, http.MethodPost, "/api/v1/cases/77/invoices", body, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	errPayload := errorOf(t, payload)
	assert.Equal(t, "conflict", errPayload["type"])
	assert.Equal(t, []any{"42"}, errPayload["item_ids"])

	invoices.generate = func(req invoicedomain.GenerateRequest) (invoicedomain.GenerateResult, error) {
		return invoicedomain.GenerateResult{}, invoicedomain.NewItemsError(invoicedomain.ErrItemNotApproved, []snowflake.ID{42})
	}
	rec, payload = doRequest(t, r, http.MethodPost, "/api/v1/cases/77/invoices", body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errPayload = errorOf(t, payload)
	assert.Equal(t, "validation_error", errPayload["type"])
	assert.Equal(t, []any{"42"}, errPayload["item_ids"])
	details := errPayload["errors"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "billing_item_not_approved", details[0].(map[string]any)["code"])

	invoices.generate = func(req invoicedomain.GenerateRequest) (invoicedomain.GenerateResult, error) {
		return invoicedomain.GenerateResult{}, invoicedomain.ErrGenerationInProgress
	}
	rec, payload = doRequest(t, r, http.MethodPost, "/api/v1/cases/77/invoices", body, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invoice_generation_in_progress", errorOf(t, payload)["code"])
}

func TestGetInvoiceNotFound(t *testing.T) {
	invoices := &fakeInvoiceService{
		getByID: func(id string) (invoicedomain.Invoice, error) {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
		},
	}
	r := newTestServer(ServerParams{InvoiceSvc: invoices})

	rec, payload := doRequest(t, r, http.MethodGet, "/api/v1/invoices/123", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "invoice_not_found", errorOf(t, payload)["code"])

	rec, _ = doRequest(t, r, http.MethodGet, "/api/v1/invoices/abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBillingItemErrors(t *testing.T) {
	items := &fakeBillingItemService{}
	r := newTestServer(ServerParams{BillingItemSvc: items})

	items.err = billingitemdomain.ErrInvalidQuantity
	rec, payload := doRequest(t, r, http.MethodPost, "/api/v1/cases/77/expenses", map[string]any{
		"description": "Mileage",
		"quantity":    "0",
		"unit_cost":   "0.65",
		"incurred_on": "2024-03-01",
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	details := errorOf(t, payload)["errors"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "quantity", details[0].(map[string]any)["field"])

	items.err = billingitemdomain.ErrInvalidTransition
	rec, _ = doRequest(t, r, http.MethodPost, "/api/v1/billing-items/9/submit", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	items.err = billingitemdomain.ErrBillingItemNotFound
	rec, _ = doRequest(t, r, http.MethodPost, "/api/v1/billing-items/9/submit", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, payload = doRequest(t, r, http.MethodGet, "/api/v1/cases/abc/time-entries", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	details = errorOf(t, payload)["errors"].([]any)
	assert.Equal(t, "invalid_case_id", details[0].(map[string]any)["code"])
}

func TestResolveRateReportsUnpriced(t *testing.T) {
	r := newTestServer(ServerParams{PricingSvc: &fakePricingService{}})

	rec, payload := doRequest(t, r, http.MethodGet, "/api/v1/cases/1/services/2/rate", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, payload["priced"])
	data := payload["data"].(map[string]any)
	assert.Equal(t, string(pricingdomain.SourceUnpriced), data["source"])
}

func TestUnknownRoute(t *testing.T) {
	r := newTestServer(ServerParams{})

	rec, payload := doRequest(t, r, http.MethodGet, "/nope", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorOf(t, payload)["type"])
}
