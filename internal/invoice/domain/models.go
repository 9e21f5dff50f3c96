// Package domain contains persistence models for case invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const InvoiceStatusIssued InvoiceStatus = "issued"

// Invoice is immutable once generated.
type Invoice struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_invoices_org_number;uniqueIndex:ux_invoices_org_seq" json:"org_id"`
	CaseID          snowflake.ID      `gorm:"not null;index" json:"case_id"`
	InvoiceSeq      int64             `gorm:"not null;uniqueIndex:ux_invoices_org_seq" json:"-"`
	InvoiceNumber   string            `gorm:"type:text;not null;uniqueIndex:ux_invoices_org_number" json:"invoice_number"`
	Status          InvoiceStatus     `gorm:"type:text;not null" json:"status"`
	SubtotalAmount  decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"subtotal_amount"`
	RetainerApplied decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"retainer_applied"`
	BalanceDue      decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"balance_due"`
	GeneratedAt     time.Time         `gorm:"not null" json:"generated_at"`
	GeneratedBy     *snowflake.ID     `json:"generated_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	LineItems       []InvoiceLineItem `gorm:"-" json:"line_items,omitempty"`
}

func (Invoice) TableName() string { return "invoices" }

// InvoiceLineItem is the frozen pricing of one billing item at generation time.
type InvoiceLineItem struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID    `gorm:"not null;index" json:"org_id"`
	InvoiceID         snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	BillingItemID     snowflake.ID    `gorm:"not null;uniqueIndex:ux_invoice_line_items_billing_item" json:"billing_item_id"`
	Kind              string          `gorm:"type:text;not null" json:"kind"`
	ServiceID         *snowflake.ID   `json:"service_id,omitempty"`
	ServiceInstanceID *snowflake.ID   `gorm:"index" json:"service_instance_id,omitempty"`
	ServiceName       string          `gorm:"type:text" json:"service_name,omitempty"`
	ServiceCode       string          `gorm:"type:text" json:"service_code,omitempty"`
	PricingModel      string          `gorm:"type:text" json:"pricing_model,omitempty"`
	PricingSource     string          `gorm:"type:text" json:"pricing_source,omitempty"`
	Description       string          `gorm:"type:text" json:"description"`
	Quantity          decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"quantity"`
	Rate              decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"rate"`
	Amount            decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Position          int             `gorm:"not null" json:"position"`
	CreatedAt         time.Time       `json:"created_at"`
	ActivityIDs       []snowflake.ID  `gorm:"-" json:"activity_ids,omitempty"`
}

func (InvoiceLineItem) TableName() string { return "invoice_line_items" }

// InvoiceLineActivity records which activity a line billed. An activity is billed at most once.
type InvoiceLineActivity struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID `gorm:"not null;index" json:"org_id"`
	InvoiceLineItemID snowflake.ID `gorm:"not null;index" json:"invoice_line_item_id"`
	ActivityID        snowflake.ID `gorm:"not null;uniqueIndex:ux_invoice_line_activities_activity" json:"activity_id"`
	CreatedAt         time.Time    `json:"created_at"`
}

func (InvoiceLineActivity) TableName() string { return "invoice_line_activities" }
