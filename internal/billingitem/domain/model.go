package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindTime    Kind = "time"
	KindExpense Kind = "expense"
)

// BillingItem is a persisted time or expense entry. SourceKey ties a time item to the
// derived entry it was recorded from and is unique per organization.
type BillingItem struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID    `gorm:"not null;uniqueIndex:ux_billing_items_org_source" json:"org_id"`
	CaseID            snowflake.ID    `gorm:"not null;index" json:"case_id"`
	Kind              Kind            `gorm:"type:text;not null" json:"kind"`
	SourceKey         string          `gorm:"type:text;not null;uniqueIndex:ux_billing_items_org_source" json:"source_key"`
	ServiceID         *snowflake.ID   `json:"service_id,omitempty"`
	ServiceInstanceID *snowflake.ID   `gorm:"index" json:"service_instance_id,omitempty"`
	ActivityID        *snowflake.ID   `json:"activity_id,omitempty"`
	Description       string          `gorm:"type:text" json:"description"`
	Quantity          decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"quantity"`
	Rate              decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"rate"`
	Amount            decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Status            Status          `gorm:"type:text;not null;index" json:"status"`
	PricingModel      string          `gorm:"type:text" json:"pricing_model,omitempty"`
	PricingSource     string          `gorm:"type:text" json:"pricing_source,omitempty"`
	PricingScope      string          `gorm:"type:text" json:"pricing_scope,omitempty"`
	IncurredOn        *string         `gorm:"type:text" json:"incurred_on,omitempty"`
	CreatedBy         *snowflake.ID   `json:"created_by,omitempty"`
	SubmittedBy       *snowflake.ID   `json:"submitted_by,omitempty"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	LockedAt          *time.Time      `json:"locked_at,omitempty"`
	ApprovedBy        *snowflake.ID   `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	DeclinedAt        *time.Time      `json:"declined_at,omitempty"`
	DeclineReason     *string         `gorm:"type:text" json:"decline_reason,omitempty"`
	BilledAt          *time.Time      `json:"billed_at,omitempty"`
	InvoiceLineItemID *snowflake.ID   `json:"invoice_line_item_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (BillingItem) TableName() string { return "billing_items" }

// Editable reports whether quantity, rate and description may still change.
func (b BillingItem) Editable() bool {
	return b.Status == StatusUnbilled || b.Status == StatusDeclined
}

// ComputeAmount returns quantity × rate rounded to cents.
func ComputeAmount(quantity, rate decimal.Decimal) decimal.Decimal {
	return quantity.Mul(rate).Round(2)
}

// ActivitySourceKey and InstanceSourceKey are the ids of derived time entries.
func ActivitySourceKey(activityID snowflake.ID) string {
	return "activity:" + activityID.String()
}

func InstanceSourceKey(instanceID snowflake.ID) string {
	return "instance:" + instanceID.String()
}

func ExpenseSourceKey(itemID snowflake.ID) string {
	return "expense:" + itemID.String()
}
