package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	pricingdomain "github.com/smallbiznis/casebill/internal/pricing/domain"
)

// Result is a read-only billing preview for one activity.
type Result struct {
	ActivityID        snowflake.ID                `json:"activity_id"`
	ActivityType      casefiledomain.ActivityType `json:"activity_type"`
	CaseID            snowflake.ID                `json:"case_id"`
	ServiceInstanceID snowflake.ID                `json:"service_instance_id"`
	ServiceID         snowflake.ID                `json:"service_id"`
	ServiceName       string                      `json:"service_name"`
	ServiceCode       string                      `json:"service_code,omitempty"`
	Rate              decimal.Decimal             `json:"rate"`
	PricingModel      catalogdomain.PricingModel  `json:"pricing_model"`
	PricingSource     pricingdomain.Source        `json:"pricing_source"`
	PricingScope      pricingdomain.Scope         `json:"pricing_scope"`
	Quantity          decimal.Decimal             `json:"quantity"`
	Estimate          decimal.Decimal             `json:"estimate"`
	Priced            bool                        `json:"priced"`
	NeedsHours        bool                        `json:"needs_hours"`
}

type Service interface {
	// Evaluate returns nil when the activity is not linked to a billable service.
	Evaluate(ctx context.Context, activityID snowflake.ID) (*Result, error)
	// PreviewTask prices a task with caller supplied hours.
	PreviewTask(ctx context.Context, activityID snowflake.ID, hours decimal.Decimal) (*Result, error)
	// Skip logs that billing was declined for the activity. Nothing about the activity changes.
	Skip(ctx context.Context, activityID snowflake.ID, reason string) (auditdomain.Event, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrNotATask            = errors.New("activity_not_task")
	ErrHoursBelowMinimum   = errors.New("hours_below_minimum")
	ErrNotEligible         = errors.New("activity_not_billable")
)
