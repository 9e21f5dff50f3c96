package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type GenerateRequest struct {
	CaseID          snowflake.ID    `json:"-"`
	BillingItemIDs  []string        `json:"billing_item_ids"`
	RetainerToApply decimal.Decimal `json:"retainer_to_apply"`
}

type GenerateResult struct {
	Invoice  Invoice  `json:"invoice"`
	Warnings []string `json:"warnings,omitempty"`
}

type PreviewItem struct {
	BillingItemID snowflake.ID    `json:"billing_item_id"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	Rate          decimal.Decimal `json:"rate"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
}

// Preview is a read-only generation dry run. The retainer is clamped for display.
type Preview struct {
	Subtotal          decimal.Decimal `json:"subtotal"`
	RetainerAvailable decimal.Decimal `json:"retainer_available"`
	RetainerApplied   decimal.Decimal `json:"retainer_applied"`
	BalanceDue        decimal.Decimal `json:"balance_due"`
	Items             []PreviewItem   `json:"items"`
	Warnings          []string        `json:"warnings,omitempty"`
}

type ListInvoiceRequest struct {
	CaseID *snowflake.ID
}

type ListInvoiceResponse struct {
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	Preview(ctx context.Context, req GenerateRequest) (Preview, error)
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
}

var (
	ErrInvalidOrganization      = errors.New("invalid_organization")
	ErrInvalidInvoiceID         = errors.New("invalid_invoice_id")
	ErrInvoiceNotFound          = errors.New("invoice_not_found")
	ErrNothingToInvoice         = errors.New("nothing_to_invoice")
	ErrInvalidBillingItemID     = errors.New("invalid_billing_item_id")
	ErrDuplicateBillingItem     = errors.New("duplicate_billing_item")
	ErrInvalidRetainerAmount    = errors.New("invalid_retainer_amount")
	ErrBillingItemNotFound      = errors.New("billing_item_not_found")
	ErrItemCaseMismatch         = errors.New("billing_item_case_mismatch")
	ErrItemNotApproved          = errors.New("billing_item_not_approved")
	ErrItemAlreadyBilled        = errors.New("billing_item_already_billed")
	ErrRetainerExceedsAvailable = errors.New("retainer_exceeds_available")
	ErrGenerationInProgress     = errors.New("invoice_generation_in_progress")
)

// ItemsError names the billing items a validation failure applies to.
type ItemsError struct {
	Err     error
	ItemIDs []string
}

func (e *ItemsError) Error() string {
	return e.Err.Error() + ": " + strings.Join(e.ItemIDs, ",")
}

func (e *ItemsError) Unwrap() error { return e.Err }

// ConflictError reports items that another invoice already claimed.
type ConflictError struct {
	ItemIDs []string
}

func (e *ConflictError) Error() string {
	if len(e.ItemIDs) == 0 {
		return ErrItemAlreadyBilled.Error()
	}
	return ErrItemAlreadyBilled.Error() + ": " + strings.Join(e.ItemIDs, ",")
}

func (e *ConflictError) Unwrap() error { return ErrItemAlreadyBilled }

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func NewItemsError(err error, ids []snowflake.ID) *ItemsError {
	return &ItemsError{Err: err, ItemIDs: idStrings(ids)}
}

func NewConflictError(ids []snowflake.ID) *ConflictError {
	return &ConflictError{ItemIDs: idStrings(ids)}
}
