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
	FindCase(ctx context.Context, orgID, id snowflake.ID) (*Case, error)
	FindAccount(ctx context.Context, orgID, id snowflake.ID) (*Account, error)
	FindActivity(ctx context.Context, orgID, id snowflake.ID) (*Activity, error)
	FindServiceInstance(ctx context.Context, orgID, id snowflake.ID) (*ServiceInstance, error)
	ListServiceInstances(ctx context.Context, orgID, caseID snowflake.ID) ([]*ServiceInstance, error)
	ListCompletedActivities(ctx context.Context, orgID snowflake.ID, instanceIDs []snowflake.ID) ([]*Activity, error)
	FindStaffByUserIDs(ctx context.Context, orgID snowflake.ID, userIDs []snowflake.ID) (map[snowflake.ID]*StaffMember, error)
	UpdateServiceInstance(ctx context.Context, orgID, id snowflake.ID, fields map[string]any) error
	UpdateActivity(ctx context.Context, orgID, id snowflake.ID, fields map[string]any) error
}

type UpdateServiceInstanceRequest struct {
	ScheduleStatus *ScheduleStatus  `json:"schedule_status"`
	QuantityActual *decimal.Decimal `json:"quantity_actual"`
	ServiceID      *string          `json:"service_id"`
}

type Service interface {
	GetCase(ctx context.Context, id snowflake.ID) (*Case, error)
	GetActivity(ctx context.Context, id snowflake.ID) (*Activity, error)
	UpdateServiceInstance(ctx context.Context, id snowflake.ID, req UpdateServiceInstanceRequest) (*ServiceInstance, error)
}

var (
	ErrInvalidOrganization     = errors.New("invalid_organization")
	ErrCaseNotFound            = errors.New("case_not_found")
	ErrActivityNotFound        = errors.New("activity_not_found")
	ErrServiceInstanceNotFound = errors.New("service_instance_not_found")
	ErrServiceInstanceLocked   = errors.New("service_instance_locked")
	ErrInvalidTimeRange        = errors.New("invalid_time_range")
	ErrInvalidQuantity         = errors.New("invalid_quantity")
	ErrInvalidScheduleStatus   = errors.New("invalid_schedule_status")
	ErrInvalidServiceID        = errors.New("invalid_service_id")
)
