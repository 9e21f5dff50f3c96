package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
)

// Profile is a named bundle of per-service rate rules.
type Profile struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	IsDefault bool         `gorm:"not null" json:"is_default"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (Profile) TableName() string { return "pricing_profiles" }

type Rule struct {
	ID           snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID                `gorm:"not null;index" json:"org_id"`
	ProfileID    snowflake.ID                `gorm:"not null;uniqueIndex:ux_pricing_rules_profile_service" json:"profile_id"`
	ServiceID    snowflake.ID                `gorm:"not null;uniqueIndex:ux_pricing_rules_profile_service" json:"service_id"`
	Rate         decimal.Decimal             `gorm:"type:numeric(18,4);not null" json:"rate"`
	PricingModel *catalogdomain.PricingModel `gorm:"type:text" json:"pricing_model,omitempty"`
	IsBillable   bool                        `gorm:"not null" json:"is_billable"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func (Rule) TableName() string { return "pricing_rules" }

type Source string

const (
	SourcePricingProfile Source = "pricing_profile"
	SourceServiceDefault Source = "service_default"
	SourceInvoice        Source = "invoice"
	SourceUnpriced       Source = "unpriced"
)

// Scope names the waterfall stage a rate came from.
type Scope string

const (
	ScopeCase         Scope = "case"
	ScopeAccount      Scope = "account"
	ScopeOrganization Scope = "organization"
	ScopeService      Scope = "service"
	ScopeNone         Scope = "none"
)

type Resolution struct {
	ServiceID    snowflake.ID               `json:"service_id"`
	Rate         decimal.Decimal            `json:"rate"`
	PricingModel catalogdomain.PricingModel `json:"pricing_model"`
	Source       Source                     `json:"source"`
	Scope        Scope                      `json:"scope"`
	ProfileID    *snowflake.ID              `json:"profile_id,omitempty"`
	RuleID       *snowflake.ID              `json:"rule_id,omitempty"`
	Billable     bool                       `json:"billable"`
}

// Priced is false when no stage of the waterfall configured a rate. A zero rate from an
// explicit rule is still priced.
func (r Resolution) Priced() bool {
	return r.Source != SourceUnpriced
}

// Unpriced is the resolution returned when nothing matched.
func Unpriced(service catalogdomain.Service) Resolution {
	return Resolution{
		ServiceID:    service.ID,
		Rate:         decimal.Zero,
		PricingModel: service.Model(),
		Source:       SourceUnpriced,
		Scope:        ScopeNone,
		Billable:     service.IsBillable,
	}
}
