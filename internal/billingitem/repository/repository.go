package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/casebill/internal/billingitem/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
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

func (r *repo) FindByID(ctx context.Context, orgID, id snowflake.ID) (*domain.BillingItem, error) {
	return r.first(r.db.WithContext(ctx), orgID, id)
}

func (r *repo) FindForUpdate(ctx context.Context, orgID, id snowflake.ID) (*domain.BillingItem, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), orgID, id)
}

func (r *repo) first(stmt *gorm.DB, orgID, id snowflake.ID) (*domain.BillingItem, error) {
	var item domain.BillingItem
	err := stmt.Where("org_id = ? AND id = ?", orgID, id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindBySourceKeys(ctx context.Context, orgID snowflake.ID, keys []string) (map[string]*domain.BillingItem, error) {
	out := make(map[string]*domain.BillingItem, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var items []*domain.BillingItem
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND source_key IN ?", orgID, keys).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.SourceKey] = item
	}
	return out, nil
}

func (r *repo) ListByCase(ctx context.Context, orgID, caseID snowflake.ID, kind domain.Kind) ([]*domain.BillingItem, error) {
	var items []*domain.BillingItem
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND case_id = ? AND kind = ?", orgID, caseID, kind).
		Order("created_at asc, id asc").
		Find(&items).Error
	return items, err
}

func (r *repo) ListByIDs(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]*domain.BillingItem, error) {
	return r.listByIDs(r.db.WithContext(ctx), orgID, ids)
}

func (r *repo) ListForUpdate(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]*domain.BillingItem, error) {
	return r.listByIDs(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), orgID, ids)
}

func (r *repo) listByIDs(stmt *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]*domain.BillingItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []*domain.BillingItem
	err := stmt.
		Where("org_id = ? AND id IN ?", orgID, ids).
		Order("id asc").
		Find(&items).Error
	return items, err
}

func (r *repo) Insert(ctx context.Context, item *domain.BillingItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repo) InsertIgnore(ctx context.Context, items []*domain.BillingItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "source_key"}},
			DoNothing: true,
		}).
		Create(items).Error
}

func (r *repo) UpdateGuarded(ctx context.Context, orgID, id snowflake.ID, from domain.Status, fields map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.BillingItem{}).
		Where("org_id = ? AND id = ? AND status = ?", orgID, id, from).
		Updates(fields)
	return res.RowsAffected, res.Error
}

func (r *repo) CountAwaiting(ctx context.Context, orgID, instanceID, exclude snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.BillingItem{}).
		Where("org_id = ? AND service_instance_id = ? AND id <> ?", orgID, instanceID, exclude).
		Where("status IN ?", []domain.Status{domain.StatusPending, domain.StatusApproved}).
		Count(&count).Error
	return count, err
}

type frozenLineRow struct {
	ID                snowflake.ID
	InvoiceID         snowflake.ID
	BillingItemID     snowflake.ID
	ServiceInstanceID *snowflake.ID
	Quantity          decimal.Decimal
	Rate              decimal.Decimal
	Amount            decimal.Decimal
	PricingModel      string
}

type lineActivityRow struct {
	InvoiceLineItemID snowflake.ID
	ActivityID        snowflake.ID
}

func (r *repo) ListFrozenLines(ctx context.Context, orgID snowflake.ID, instanceIDs []snowflake.ID) ([]domain.FrozenLine, error) {
	if len(instanceIDs) == 0 {
		return nil, nil
	}

	var rows []frozenLineRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, billing_item_id, service_instance_id, quantity, rate, amount, pricing_model
		 FROM invoice_line_items
		 WHERE org_id = ? AND service_instance_id IN ?
		 ORDER BY invoice_id ASC, position ASC, id ASC`,
		orgID,
		instanceIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	lineIDs := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		lineIDs = append(lineIDs, row.ID)
	}
	var links []lineActivityRow
	err = r.db.WithContext(ctx).Raw(
		`SELECT invoice_line_item_id, activity_id
		 FROM invoice_line_activities
		 WHERE org_id = ? AND invoice_line_item_id IN ?
		 ORDER BY activity_id ASC`,
		orgID,
		lineIDs,
	).Scan(&links).Error
	if err != nil {
		return nil, err
	}
	activities := make(map[snowflake.ID][]snowflake.ID, len(rows))
	for _, link := range links {
		activities[link.InvoiceLineItemID] = append(activities[link.InvoiceLineItemID], link.ActivityID)
	}

	lines := make([]domain.FrozenLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, domain.FrozenLine{
			ID:                row.ID,
			InvoiceID:         row.InvoiceID,
			BillingItemID:     row.BillingItemID,
			ServiceInstanceID: row.ServiceInstanceID,
			Quantity:          row.Quantity,
			Rate:              row.Rate,
			Amount:            row.Amount,
			PricingModel:      row.PricingModel,
			ActivityIDs:       activities[row.ID],
		})
	}
	return lines, nil
}
