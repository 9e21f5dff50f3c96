package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

const (
	ActionActivitySkipped       = "billing.activity_skipped"
	ActionActivityBilled        = "billing.activity_billed"
	ActionTimeEntriesRecorded   = "billing.time_entries_recorded"
	ActionExpenseRecorded       = "billing.expense_recorded"
	ActionItemSubmitted         = "billing_item.submitted"
	ActionItemApproved          = "billing_item.approved"
	ActionItemDeclined          = "billing_item.declined"
	ActionItemResubmitted       = "billing_item.resubmitted"
	ActionItemEdited            = "billing_item.edited"
	ActionServiceInstanceEdited = "service_instance.updated"
	ActionInvoiceGenerated      = "invoice.generated"
)

// AuditLog is an append-only record of a billing action.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      *snowflake.ID     `gorm:"index" json:"org_id,omitempty"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	IPAddress  *string           `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Event is an audit entry produced by a billing operation before it reaches the sink.
// Operations return it so callers can inspect what was logged.
type Event struct {
	OrgID      snowflake.ID   `json:"org_id,string"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID      snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
