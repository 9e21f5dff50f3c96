package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type EntryStatus string

const (
	EntryStatusUnbilled EntryStatus = "unbilled"
	EntryStatusPending  EntryStatus = "pending"
	EntryStatusBilled   EntryStatus = "billed"
	EntryStatusInvoiced EntryStatus = "invoiced"
)

// Entry is the shared view over derived time entries and expense entries.
type Entry interface {
	EntryID() string
	EntryKind() Kind
	EntryStatus() EntryStatus
	EntryAmount() decimal.Decimal
}

// TimeEntry is derived from activities or instance quantities on every read.
type TimeEntry struct {
	ID                string          `json:"id"`
	CaseID            snowflake.ID    `json:"case_id"`
	ServiceInstanceID snowflake.ID    `json:"service_instance_id"`
	ServiceID         snowflake.ID    `json:"service_id"`
	ServiceName       string          `json:"service_name"`
	ServiceCode       string          `json:"service_code,omitempty"`
	ActivityID        *snowflake.ID   `json:"activity_id,omitempty"`
	Title             string          `json:"title,omitempty"`
	StartsAt          *time.Time      `json:"starts_at,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	Rate              decimal.Decimal `json:"rate"`
	Amount            decimal.Decimal `json:"amount"`
	PricingModel      string          `json:"pricing_model"`
	PricingSource     string          `json:"pricing_source"`
	PricingScope      string          `json:"pricing_scope,omitempty"`
	Priced            bool            `json:"priced"`
	Status            EntryStatus     `json:"status"`
	BillingItemID     *snowflake.ID   `json:"billing_item_id,omitempty"`
	InvoiceLineItemID *snowflake.ID   `json:"invoice_line_item_id,omitempty"`
}

func (e TimeEntry) EntryID() string              { return e.ID }
func (e TimeEntry) EntryKind() Kind              { return KindTime }
func (e TimeEntry) EntryStatus() EntryStatus     { return e.Status }
func (e TimeEntry) EntryAmount() decimal.Decimal { return e.Amount }

// ExpenseEntry is a persisted expense item enriched for display.
type ExpenseEntry struct {
	ID                string          `json:"id"`
	BillingItemID     snowflake.ID    `json:"billing_item_id"`
	CaseID            snowflake.ID    `json:"case_id"`
	ServiceID         *snowflake.ID   `json:"service_id,omitempty"`
	ServiceName       string          `json:"service_name,omitempty"`
	ServiceCode       string          `json:"service_code,omitempty"`
	Description       string          `json:"description"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	Amount            decimal.Decimal `json:"amount"`
	IncurredOn        string          `json:"incurred_on,omitempty"`
	SubmittedBy       *snowflake.ID   `json:"submitted_by,omitempty"`
	SubmitterName     string          `json:"submitter_name,omitempty"`
	Status            EntryStatus     `json:"status"`
	ItemStatus        Status          `json:"item_status"`
	InvoiceLineItemID *snowflake.ID   `json:"invoice_line_item_id,omitempty"`
}

func (e ExpenseEntry) EntryID() string              { return e.ID }
func (e ExpenseEntry) EntryKind() Kind              { return KindExpense }
func (e ExpenseEntry) EntryStatus() EntryStatus     { return e.Status }
func (e ExpenseEntry) EntryAmount() decimal.Decimal { return e.Amount }

var (
	_ Entry = TimeEntry{}
	_ Entry = ExpenseEntry{}
)

// FrozenLine is the part of an issued invoice line the deriver mirrors.
type FrozenLine struct {
	ID                snowflake.ID
	InvoiceID         snowflake.ID
	BillingItemID     snowflake.ID
	ServiceInstanceID *snowflake.ID
	Quantity          decimal.Decimal
	Rate              decimal.Decimal
	Amount            decimal.Decimal
	PricingModel      string
	ActivityIDs       []snowflake.ID
}
