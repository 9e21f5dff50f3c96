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
	DepositAmounts(ctx context.Context, orgID, caseID snowflake.ID) ([]decimal.Decimal, error)
	AppliedAmounts(ctx context.Context, orgID, caseID snowflake.ID) ([]decimal.Decimal, error)
}

type Service interface {
	// AvailableBalance is the sum of deposits. Amounts applied to invoices are not subtracted.
	AvailableBalance(ctx context.Context, caseID snowflake.ID) (decimal.Decimal, error)
	AppliedTotal(ctx context.Context, caseID snowflake.ID) (decimal.Decimal, error)
	Summary(ctx context.Context, caseID snowflake.ID) (Summary, error)
}

var ErrInvalidOrganization = errors.New("invalid_organization")

// Sum adds amounts exactly.
func Sum(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total
}
