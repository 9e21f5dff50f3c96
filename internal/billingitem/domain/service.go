package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, orgID, id snowflake.ID) (*BillingItem, error)
	FindForUpdate(ctx context.Context, orgID, id snowflake.ID) (*BillingItem, error)
	FindBySourceKeys(ctx context.Context, orgID snowflake.ID, keys []string) (map[string]*BillingItem, error)
	ListByCase(ctx context.Context, orgID, caseID snowflake.ID, kind Kind) ([]*BillingItem, error)
	ListByIDs(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]*BillingItem, error)
	ListForUpdate(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]*BillingItem, error)
	Insert(ctx context.Context, item *BillingItem) error
	InsertIgnore(ctx context.Context, items []*BillingItem) error
	// UpdateGuarded applies fields only while the item is still in status from.
	UpdateGuarded(ctx context.Context, orgID, id snowflake.ID, from Status, fields map[string]any) (int64, error)
	// CountAwaiting counts the pending or approved items on an instance, ignoring exclude.
	CountAwaiting(ctx context.Context, orgID, instanceID, exclude snowflake.ID) (int64, error)
	ListFrozenLines(ctx context.Context, orgID snowflake.ID, instanceIDs []snowflake.ID) ([]FrozenLine, error)
}

type RecordExpenseRequest struct {
	ServiceID   *string         `json:"service_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	IncurredOn  string          `json:"incurred_on"`
}

type EditRequest struct {
	Description *string          `json:"description"`
	Quantity    *decimal.Decimal `json:"quantity"`
	Rate        *decimal.Decimal `json:"rate"`
}

type Service interface {
	DeriveTimeEntries(ctx context.Context, caseID snowflake.ID) ([]TimeEntry, error)
	ListExpenses(ctx context.Context, caseID snowflake.ID) ([]ExpenseEntry, error)
	// Record persists the case's unbilled, priced time entries. Safe to repeat.
	Record(ctx context.Context, caseID snowflake.ID) ([]*BillingItem, error)
	ConfirmActivity(ctx context.Context, activityID snowflake.ID, hours *decimal.Decimal) (*BillingItem, error)
	RecordExpense(ctx context.Context, caseID snowflake.ID, req RecordExpenseRequest) (*BillingItem, error)

	Get(ctx context.Context, id snowflake.ID) (*BillingItem, error)
	Submit(ctx context.Context, id snowflake.ID) (*BillingItem, error)
	Approve(ctx context.Context, id snowflake.ID) (*BillingItem, error)
	Decline(ctx context.Context, id snowflake.ID, reason string) (*BillingItem, error)
	Resubmit(ctx context.Context, id snowflake.ID) (*BillingItem, error)
	Edit(ctx context.Context, id snowflake.ID, req EditRequest) (*BillingItem, error)
}

var (
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrBillingItemNotFound   = errors.New("billing_item_not_found")
	ErrItemLocked            = errors.New("billing_item_locked")
	ErrDeclineReasonRequired = errors.New("decline_reason_required")
	ErrInvalidQuantity       = errors.New("invalid_quantity")
	ErrInvalidRate           = errors.New("invalid_rate")
	ErrInvalidDescription    = errors.New("invalid_description")
	ErrInvalidIncurredOn     = errors.New("invalid_incurred_on")
	ErrInvalidServiceID      = errors.New("invalid_service_id")
	ErrActivityNotCompleted  = errors.New("activity_not_completed")
	ErrHoursRequired         = errors.New("hours_required")
	ErrUnpriced              = errors.New("service_unpriced")
)
