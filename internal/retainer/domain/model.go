package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Fund is a retainer deposit received for a case.
type Fund struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID    `gorm:"not null;index" json:"org_id"`
	CaseID     snowflake.ID    `gorm:"not null;index" json:"case_id"`
	Amount     decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Note       string          `gorm:"type:text" json:"note,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (Fund) TableName() string { return "retainer_funds" }

type Summary struct {
	CaseID    snowflake.ID    `json:"case_id"`
	Deposits  decimal.Decimal `json:"deposits"`
	Applied   decimal.Decimal `json:"applied"`
	Remaining decimal.Decimal `json:"remaining"`
}
