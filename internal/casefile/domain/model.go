package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type ActivityType string

const (
	ActivityTypeTask  ActivityType = "task"
	ActivityTypeEvent ActivityType = "event"
)

type ScheduleStatus string

const (
	ScheduleStatusScheduled   ScheduleStatus = "scheduled"
	ScheduleStatusUnscheduled ScheduleStatus = "unscheduled"
)

type Case struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID  `gorm:"not null;index" json:"org_id"`
	AccountID        *snowflake.ID `json:"account_id,omitempty"`
	PricingProfileID *snowflake.ID `json:"pricing_profile_id,omitempty"`
	CaseNumber       string        `gorm:"type:text" json:"case_number"`
	Title            string        `gorm:"type:text" json:"title"`
	Status           string        `gorm:"type:text;not null;default:'open'" json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func (Case) TableName() string { return "cases" }

type Account struct {
	ID                      snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID                   snowflake.ID  `gorm:"not null;index" json:"org_id"`
	Name                    string        `gorm:"type:text;not null" json:"name"`
	DefaultPricingProfileID *snowflake.ID `json:"default_pricing_profile_id,omitempty"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// ServiceInstance is a catalog service attached to a case.
type ServiceInstance struct {
	ID             snowflake.ID        `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID        `gorm:"not null;index" json:"org_id"`
	CaseID         snowflake.ID        `gorm:"not null;index" json:"case_id"`
	ServiceID      snowflake.ID        `gorm:"not null" json:"service_id"`
	ScheduleStatus ScheduleStatus      `gorm:"type:text;not null;default:'unscheduled'" json:"schedule_status"`
	QuantityActual decimal.NullDecimal `gorm:"type:numeric(18,2)" json:"quantity_actual"`
	BilledAt       *time.Time          `json:"billed_at,omitempty"`
	LockedAt       *time.Time          `json:"locked_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (ServiceInstance) TableName() string { return "case_service_instances" }

// Locked reports whether quantity and service linkage are frozen.
func (s ServiceInstance) Locked() bool {
	return s.LockedAt != nil || s.BilledAt != nil
}

// ManualQuantity returns quantity_actual when it was recorded as a positive number.
func (s ServiceInstance) ManualQuantity() (decimal.Decimal, bool) {
	if !s.QuantityActual.Valid || !s.QuantityActual.Decimal.IsPositive() {
		return decimal.Zero, false
	}
	return s.QuantityActual.Decimal, true
}

// Activity is a task or event on a case. Dates are YYYY-MM-DD, times HH:MM or HH:MM:SS.
type Activity struct {
	ID                snowflake.ID        `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID        `gorm:"not null;index" json:"org_id"`
	CaseID            snowflake.ID        `gorm:"not null;index" json:"case_id"`
	ActivityType      ActivityType        `gorm:"type:text;not null" json:"activity_type"`
	Title             string              `gorm:"type:text" json:"title"`
	Completed         bool                `gorm:"not null;default:false" json:"completed"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	StartDate         string              `gorm:"type:text" json:"start_date,omitempty"`
	StartTime         string              `gorm:"type:text" json:"start_time,omitempty"`
	EndDate           string              `gorm:"type:text" json:"end_date,omitempty"`
	EndTime           string              `gorm:"type:text" json:"end_time,omitempty"`
	BilledHours       decimal.NullDecimal `gorm:"type:numeric(18,2)" json:"billed_hours"`
	ServiceInstanceID *snowflake.ID       `gorm:"index" json:"service_instance_id,omitempty"`
	AssignedUserID    *snowflake.ID       `json:"assigned_user_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func (Activity) TableName() string { return "case_activities" }

func (a Activity) IsEvent() bool { return a.ActivityType == ActivityTypeEvent }

func (a Activity) IsTask() bool { return a.ActivityType == ActivityTypeTask }

// ExplicitHours returns the hours entered for a task, if any.
func (a Activity) ExplicitHours() (decimal.Decimal, bool) {
	if !a.BilledHours.Valid || !a.BilledHours.Decimal.IsPositive() {
		return decimal.Zero, false
	}
	return a.BilledHours.Decimal, true
}

type StaffMember struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"org_id"`
	UserID      snowflake.ID `gorm:"not null;index" json:"user_id"`
	DisplayName string       `gorm:"type:text;not null" json:"display_name"`
	Email       string       `gorm:"type:text" json:"email,omitempty"`
}

func (StaffMember) TableName() string { return "staff_members" }
