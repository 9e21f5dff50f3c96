package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/casebill/internal/retainer/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) WithTx(tx *gorm.DB) domain.Repository {
	return &repo{db: tx}
}

type amountRow struct {
	Amount decimal.Decimal
}

func (r *repo) DepositAmounts(ctx context.Context, orgID, caseID snowflake.ID) ([]decimal.Decimal, error) {
	return r.amounts(ctx,
		`SELECT amount FROM retainer_funds WHERE org_id = ? AND case_id = ?`,
		orgID, caseID,
	)
}

func (r *repo) AppliedAmounts(ctx context.Context, orgID, caseID snowflake.ID) ([]decimal.Decimal, error) {
	return r.amounts(ctx,
		`SELECT retainer_applied AS amount FROM invoices WHERE org_id = ? AND case_id = ?`,
		orgID, caseID,
	)
}

func (r *repo) amounts(ctx context.Context, query string, args ...any) ([]decimal.Decimal, error) {
	var rows []amountRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Amount)
	}
	return out, nil
}
