package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PricingModel string

const (
	PricingModelHourly      PricingModel = "hourly"
	PricingModelDaily       PricingModel = "daily"
	PricingModelFlat        PricingModel = "flat"
	PricingModelPerActivity PricingModel = "per_activity"
	PricingModelPerUnit     PricingModel = "per_unit"
)

func (m PricingModel) Valid() bool {
	switch m {
	case PricingModelHourly, PricingModelDaily, PricingModelFlat, PricingModelPerActivity, PricingModelPerUnit:
		return true
	}
	return false
}

// TimeBased reports whether quantity is measured from the activity's duration.
func (m PricingModel) TimeBased() bool {
	return m == PricingModelHourly || m == PricingModelDaily
}

// Service is a billable offering owned by an organization.
type Service struct {
	ID           snowflake.ID        `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID        `gorm:"not null;index" json:"org_id"`
	Name         string              `gorm:"type:text;not null" json:"name"`
	Code         string              `gorm:"type:text" json:"code,omitempty"`
	DefaultRate  decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"default_rate"`
	PricingModel PricingModel        `gorm:"type:text;not null;default:'hourly'" json:"pricing_model"`
	BudgetUnit   string              `gorm:"type:text" json:"budget_unit,omitempty"`
	IsBillable   bool                `gorm:"not null" json:"is_billable"`
	Active       bool                `gorm:"not null" json:"active"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (Service) TableName() string { return "services" }

// Model returns the service pricing model, defaulting to hourly.
func (s Service) Model() PricingModel {
	if s.PricingModel.Valid() {
		return s.PricingModel
	}
	return PricingModelHourly
}

type Repository interface {
	FindByID(ctx context.Context, orgID, id snowflake.ID) (*Service, error)
	FindByIDs(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]*Service, error)
}

var ErrServiceNotFound = errors.New("service_not_found")
