package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	billingitemdomain "github.com/smallbiznis/casebill/internal/billingitem/domain"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	invoicedomain "github.com/smallbiznis/casebill/internal/invoice/domain"
	"github.com/smallbiznis/casebill/internal/invoice/format"
	"github.com/smallbiznis/casebill/internal/locking"
	"github.com/smallbiznis/casebill/internal/observability/tracing"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	retainerdomain "github.com/smallbiznis/casebill/internal/retainer/domain"
	"github.com/smallbiznis/casebill/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultGenerationLockTTL = 30 * time.Second

// selection is a validated set of approved items and the retainer that may be applied to them.
type selection struct {
	items     []*billingitemdomain.BillingItem
	subtotal  decimal.Decimal
	available decimal.Decimal
	retainer  decimal.Decimal
	warnings  []string
}

func (s *Service) Preview(ctx context.Context, req invoicedomain.GenerateRequest) (invoicedomain.Preview, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Preview{}, err
	}
	ids, err := parseRequest(req)
	if err != nil {
		return invoicedomain.Preview{}, err
	}

	if err := s.findCase(ctx, s.db, orgID, req.CaseID, false); err != nil {
		return invoicedomain.Preview{}, err
	}
	items, err := s.items.ListByIDs(ctx, orgID, ids)
	if err != nil {
		return invoicedomain.Preview{}, err
	}
	sel, err := s.selectItems(ctx, s.retainer, orgID, req, ids, items, true)
	if err != nil {
		return invoicedomain.Preview{}, err
	}

	preview := invoicedomain.Preview{
		Subtotal:          sel.subtotal,
		RetainerAvailable: sel.available,
		RetainerApplied:   sel.retainer,
		BalanceDue:        sel.subtotal.Sub(sel.retainer),
		Items:             make([]invoicedomain.PreviewItem, 0, len(sel.items)),
		Warnings:          sel.warnings,
	}
	for _, item := range sel.items {
		preview.Items = append(preview.Items, invoicedomain.PreviewItem{
			BillingItemID: item.ID,
			Description:   item.Description,
			Quantity:      item.Quantity,
			Rate:          item.Rate,
			Amount:        item.Amount,
			Status:        string(item.Status),
		})
	}
	return preview, nil
}

// Generate turns approved billing items into one immutable invoice. Everything happens in
// a single transaction; any failure leaves no trace.
func (s *Service) Generate(ctx context.Context, req invoicedomain.GenerateRequest) (result invoicedomain.GenerateResult, err error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.GenerateResult{}, err
	}
	ids, err := parseRequest(req)
	if err != nil {
		return invoicedomain.GenerateResult{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "invoice.generate",
		attribute.String("org_id", orgID.String()),
		attribute.String("case_id", req.CaseID.String()),
		attribute.Int("billing_items", len(ids)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	cfg := s.billingCfg.Get()
	ttl := cfg.GenerationLockTTL
	if ttl <= 0 {
		ttl = defaultGenerationLockTTL
	}

	var created *invoicedomain.Invoice
	var warnings []string
	err = s.locker.WithLock(ctx, locking.InvoiceGenerationKey(orgID, req.CaseID), ttl, func(ctx context.Context) error {
		var genErr error
		created, warnings, genErr = s.generate(ctx, orgID, req, ids)
		return genErr
	})
	if err != nil {
		if errors.Is(err, locking.ErrLockHeld) {
			err = invoicedomain.ErrGenerationInProgress
			s.metrics.RecordInvoiceConflict(ctx, "lock_held")
		} else if db.IsDuplicateKeyErr(err) {
			err = invoicedomain.NewConflictError(ids)
			s.metrics.RecordInvoiceConflict(ctx, "duplicate_key")
		} else if errors.Is(err, invoicedomain.ErrItemAlreadyBilled) {
			s.metrics.RecordInvoiceConflict(ctx, "already_billed")
		}
		return invoicedomain.GenerateResult{}, err
	}

	metadata := map[string]any{}
	if len(warnings) > 0 {
		metadata["warnings"] = strings.Join(warnings, "; ")
	}
	s.emitAudit(ctx, auditdomain.ActionInvoiceGenerated, created, metadata)
	subtotal, _ := created.SubtotalAmount.Float64()
	s.metrics.RecordInvoiceGenerated(ctx, orgID.String(), subtotal)
	s.log.Info("invoice generated",
		zap.String("invoice_id", created.ID.String()),
		zap.String("invoice_number", created.InvoiceNumber),
		zap.String("case_id", created.CaseID.String()),
		zap.Int("line_items", len(created.LineItems)),
	)

	return invoicedomain.GenerateResult{Invoice: *created, Warnings: warnings}, nil
}

func (s *Service) generate(ctx context.Context, orgID snowflake.ID, req invoicedomain.GenerateRequest, ids []snowflake.ID) (*invoicedomain.Invoice, []string, error) {
	var created *invoicedomain.Invoice
	var warnings []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.findCase(ctx, tx, orgID, req.CaseID, true); err != nil {
			return err
		}
		items, err := s.items.WithTx(tx).ListForUpdate(ctx, orgID, ids)
		if err != nil {
			return err
		}
		sel, err := s.selectItems(ctx, s.retainer.WithTx(tx), orgID, req, ids, items, s.billingCfg.Get().ClampRetainer())
		if err != nil {
			return err
		}
		warnings = sel.warnings

		now := s.clock.Now()
		seq, err := s.nextInvoiceSeq(ctx, tx, orgID)
		if err != nil {
			return err
		}
		number, err := format.InvoiceNumber(format.Template(s.billingCfg.Get().InvoiceNumberPrefix), now, seq)
		if err != nil {
			return err
		}

		invoice := invoicedomain.Invoice{
			ID:              s.genID.Generate(),
			OrgID:           orgID,
			CaseID:          req.CaseID,
			InvoiceSeq:      seq,
			InvoiceNumber:   number,
			Status:          invoicedomain.InvoiceStatusIssued,
			SubtotalAmount:  sel.subtotal,
			RetainerApplied: sel.retainer,
			BalanceDue:      sel.subtotal.Sub(sel.retainer),
			GeneratedAt:     now,
			GeneratedBy:     userIDFromContext(ctx),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
			return err
		}

		services, err := s.serviceNames(ctx, tx, orgID, sel.items)
		if err != nil {
			return err
		}

		billed, err := billingitemdomain.Transition(billingitemdomain.StatusApproved, billingitemdomain.EventInvoice)
		if err != nil {
			return err
		}

		var instanceIDs []snowflake.ID
		for position, item := range sel.items {
			line := freeze(item, services, invoice, position+1, now)
			line.ID = s.genID.Generate()
			if err := tx.WithContext(ctx).Create(&line).Error; err != nil {
				return err
			}
			if item.ActivityID != nil {
				link := invoicedomain.InvoiceLineActivity{
					ID:                s.genID.Generate(),
					OrgID:             orgID,
					InvoiceLineItemID: line.ID,
					ActivityID:        *item.ActivityID,
					CreatedAt:         now,
				}
				if err := tx.WithContext(ctx).Create(&link).Error; err != nil {
					return err
				}
				line.ActivityIDs = []snowflake.ID{link.ActivityID}
			}

			res := tx.WithContext(ctx).Exec(
				`UPDATE billing_items
				 SET status = ?, invoice_line_item_id = ?, billed_at = ?, updated_at = ?
				 WHERE org_id = ? AND id = ? AND status = ? AND invoice_line_item_id IS NULL`,
				billed,
				line.ID,
				now,
				now,
				orgID,
				item.ID,
				billingitemdomain.StatusApproved,
			)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return invoicedomain.NewConflictError([]snowflake.ID{item.ID})
			}

			if item.ServiceInstanceID != nil {
				instanceIDs = append(instanceIDs, *item.ServiceInstanceID)
			}
			invoice.LineItems = append(invoice.LineItems, line)
		}

		if len(instanceIDs) > 0 {
			if err := tx.WithContext(ctx).Exec(
				`UPDATE case_service_instances
				 SET billed_at = ?, locked_at = COALESCE(locked_at, ?), updated_at = ?
				 WHERE org_id = ? AND id IN ? AND billed_at IS NULL`,
				now,
				now,
				now,
				orgID,
				instanceIDs,
			).Error; err != nil {
				return err
			}
		}

		created = &invoice
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, warnings, nil
}

// selectItems validates the selection and sizes the retainer. With clamp unset an
// over-sized retainer is rejected.
func (s *Service) selectItems(
	ctx context.Context,
	retainer retainerdomain.Repository,
	orgID snowflake.ID,
	req invoicedomain.GenerateRequest,
	ids []snowflake.ID,
	items []*billingitemdomain.BillingItem,
	clamp bool,
) (*selection, error) {
	byID := make(map[snowflake.ID]*billingitemdomain.BillingItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	var missing, foreign, billed, unapproved []snowflake.ID
	ordered := make([]*billingitemdomain.BillingItem, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case item.CaseID != req.CaseID:
			foreign = append(foreign, id)
		case item.Status == billingitemdomain.StatusBilled || item.InvoiceLineItemID != nil:
			billed = append(billed, id)
		case item.Status != billingitemdomain.StatusApproved:
			unapproved = append(unapproved, id)
		default:
			ordered = append(ordered, item)
		}
	}
	if len(missing) > 0 {
		return nil, invoicedomain.NewItemsError(invoicedomain.ErrBillingItemNotFound, missing)
	}
	if len(foreign) > 0 {
		return nil, invoicedomain.NewItemsError(invoicedomain.ErrItemCaseMismatch, foreign)
	}
	if len(billed) > 0 {
		return nil, invoicedomain.NewConflictError(billed)
	}
	if len(unapproved) > 0 {
		return nil, invoicedomain.NewItemsError(invoicedomain.ErrItemNotApproved, unapproved)
	}

	sel := &selection{items: ordered, subtotal: decimal.Zero}
	for _, item := range ordered {
		sel.subtotal = sel.subtotal.Add(item.Amount)
	}

	deposits, err := retainer.DepositAmounts(ctx, orgID, req.CaseID)
	if err != nil {
		return nil, err
	}
	applied, err := retainer.AppliedAmounts(ctx, orgID, req.CaseID)
	if err != nil {
		return nil, err
	}
	sel.available = decimal.Max(decimal.Zero, retainerdomain.Sum(deposits).Sub(retainerdomain.Sum(applied)))

	limit := decimal.Min(sel.subtotal, sel.available)
	sel.retainer = req.RetainerToApply.Round(2)
	if sel.retainer.GreaterThan(limit) {
		if !clamp {
			return nil, invoicedomain.ErrRetainerExceedsAvailable
		}
		sel.warnings = append(sel.warnings, fmt.Sprintf(
			"retainer reduced from %s to %s", sel.retainer.StringFixed(2), limit.StringFixed(2),
		))
		sel.retainer = limit
	}
	return sel, nil
}

func freeze(item *billingitemdomain.BillingItem, services map[snowflake.ID]serviceRow, invoice invoicedomain.Invoice, position int, now time.Time) invoicedomain.InvoiceLineItem {
	line := invoicedomain.InvoiceLineItem{
		OrgID:             invoice.OrgID,
		InvoiceID:         invoice.ID,
		BillingItemID:     item.ID,
		Kind:              string(item.Kind),
		ServiceID:         item.ServiceID,
		ServiceInstanceID: item.ServiceInstanceID,
		PricingModel:      item.PricingModel,
		PricingSource:     item.PricingSource,
		Description:       item.Description,
		Quantity:          item.Quantity,
		Rate:              item.Rate,
		Amount:            item.Amount,
		Position:          position,
		CreatedAt:         now,
	}
	if item.ServiceID != nil {
		if service, ok := services[*item.ServiceID]; ok {
			line.ServiceName = service.Name
			line.ServiceCode = service.Code
		}
	}
	return line
}

type serviceRow struct {
	ID   snowflake.ID
	Name string
	Code string
}

func (s *Service) serviceNames(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, items []*billingitemdomain.BillingItem) (map[snowflake.ID]serviceRow, error) {
	out := map[snowflake.ID]serviceRow{}
	var ids []snowflake.ID
	for _, item := range items {
		if item.ServiceID != nil {
			ids = append(ids, *item.ServiceID)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}
	var rows []serviceRow
	err := tx.WithContext(ctx).Raw(
		`SELECT id, name, code
		 FROM services
		 WHERE org_id = ? AND id IN ?`,
		orgID,
		ids,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (s *Service) findCase(ctx context.Context, tx *gorm.DB, orgID, caseID snowflake.ID, forUpdate bool) error {
	stmt := tx.WithContext(ctx)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []casefiledomain.Case
	if err := stmt.Where("org_id = ? AND id = ?", orgID, caseID).Limit(1).Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return casefiledomain.ErrCaseNotFound
	}
	return nil
}

func (s *Service) nextInvoiceSeq(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(invoice_seq), 0) + 1
		 FROM invoices
		 WHERE org_id = ?`,
		orgID,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func parseRequest(req invoicedomain.GenerateRequest) ([]snowflake.ID, error) {
	if len(req.BillingItemIDs) == 0 {
		return nil, invoicedomain.ErrNothingToInvoice
	}
	if req.RetainerToApply.IsNegative() {
		return nil, invoicedomain.ErrInvalidRetainerAmount
	}
	seen := make(map[snowflake.ID]struct{}, len(req.BillingItemIDs))
	ids := make([]snowflake.ID, 0, len(req.BillingItemIDs))
	for _, raw := range req.BillingItemIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			return nil, invoicedomain.ErrInvalidBillingItemID
		}
		if _, dup := seen[id]; dup {
			return nil, invoicedomain.ErrDuplicateBillingItem
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func userIDFromContext(ctx context.Context) *snowflake.ID {
	userID, ok := orgcontext.UserIDFromContext(ctx)
	if !ok {
		return nil
	}
	return &userID
}
