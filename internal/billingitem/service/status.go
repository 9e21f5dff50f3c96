package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	"github.com/smallbiznis/casebill/internal/billingitem/domain"
	"gorm.io/gorm"
)

// stamp adds the event specific columns to a status update.
type stamp func(item *domain.BillingItem, now time.Time, fields map[string]any)

func (s *Service) Submit(ctx context.Context, id snowflake.ID) (*domain.BillingItem, error) {
	return s.apply(ctx, id, domain.EventSubmit, auditdomain.ActionItemSubmitted, nil, s.stampSubmitted(ctx))
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID) (*domain.BillingItem, error) {
	userID := s.userID(ctx)
	return s.apply(ctx, id, domain.EventApprove, auditdomain.ActionItemApproved, nil,
		func(_ *domain.BillingItem, now time.Time, fields map[string]any) {
			fields["approved_at"] = now
			fields["approved_by"] = userID
		})
}

func (s *Service) Decline(ctx context.Context, id snowflake.ID, reason string) (*domain.BillingItem, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrDeclineReasonRequired
	}
	return s.apply(ctx, id, domain.EventDecline, auditdomain.ActionItemDeclined, map[string]any{"reason": reason},
		func(_ *domain.BillingItem, now time.Time, fields map[string]any) {
			fields["declined_at"] = now
			fields["decline_reason"] = reason
			fields["approved_at"] = nil
			fields["approved_by"] = nil
			fields["locked_at"] = nil
		})
}

func (s *Service) Resubmit(ctx context.Context, id snowflake.ID) (*domain.BillingItem, error) {
	submitted := s.stampSubmitted(ctx)
	return s.apply(ctx, id, domain.EventResubmit, auditdomain.ActionItemResubmitted, nil,
		func(item *domain.BillingItem, now time.Time, fields map[string]any) {
			submitted(item, now, fields)
			fields["declined_at"] = nil
			fields["decline_reason"] = nil
		})
}

func (s *Service) stampSubmitted(ctx context.Context) stamp {
	userID := s.userID(ctx)
	return func(_ *domain.BillingItem, now time.Time, fields map[string]any) {
		fields["submitted_at"] = now
		fields["submitted_by"] = userID
		fields["locked_at"] = now
	}
}

// apply runs one status machine event under a row lock. Events that leave the item where
// it already is succeed without writing.
func (s *Service) apply(ctx context.Context, id snowflake.ID, event domain.Event, action string, extra map[string]any, stampFn stamp) (*domain.BillingItem, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if event == domain.EventInvoice {
		return nil, domain.ErrInvalidTransition
	}

	var (
		updated *domain.BillingItem
		from    domain.Status
		changed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := repo.FindForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrBillingItemNotFound
		}

		next, err := domain.Transition(item.Status, event)
		if err != nil {
			return err
		}
		if next == item.Status {
			updated = item
			return nil
		}

		now := s.clock.Now()
		fields := map[string]any{"status": next, "updated_at": now}
		if stampFn != nil {
			stampFn(item, now, fields)
		}
		rows, err := repo.UpdateGuarded(ctx, orgID, item.ID, item.Status, fields)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrInvalidTransition
		}

		if item.ServiceInstanceID != nil {
			switch next {
			case domain.StatusPending:
				err = s.lockInstance(ctx, tx, orgID, *item.ServiceInstanceID, now)
			case domain.StatusDeclined:
				err = s.releaseInstance(ctx, tx, orgID, *item.ServiceInstanceID, item.ID, now)
			}
			if err != nil {
				return err
			}
		}

		updated, err = repo.FindByID(ctx, orgID, item.ID)
		if err != nil {
			return err
		}
		from = item.Status
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metadata := map[string]any{"from": string(from), "to": string(updated.Status)}
		for key, value := range extra {
			metadata[key] = value
		}
		s.audit(ctx, orgID, action, updated, metadata)
		s.metrics.RecordItemTransition(ctx, string(event), string(updated.Status))
	}
	return updated, nil
}

func (s *Service) lockInstance(ctx context.Context, tx *gorm.DB, orgID, instanceID snowflake.ID, now time.Time) error {
	cases := s.cases.WithTx(tx)
	inst, err := cases.FindServiceInstance(ctx, orgID, instanceID)
	if err != nil || inst == nil || inst.LockedAt != nil {
		return err
	}
	return cases.UpdateServiceInstance(ctx, orgID, instanceID, map[string]any{
		"locked_at":  now,
		"updated_at": now,
	})
}

// releaseInstance drops the submission lock once nothing else on the instance awaits
// approval. Invoiced instances stay locked.
func (s *Service) releaseInstance(ctx context.Context, tx *gorm.DB, orgID, instanceID, itemID snowflake.ID, now time.Time) error {
	cases := s.cases.WithTx(tx)
	inst, err := cases.FindServiceInstance(ctx, orgID, instanceID)
	if err != nil || inst == nil || inst.LockedAt == nil || inst.BilledAt != nil {
		return err
	}
	awaiting, err := s.repo.WithTx(tx).CountAwaiting(ctx, orgID, instanceID, itemID)
	if err != nil || awaiting > 0 {
		return err
	}
	return cases.UpdateServiceInstance(ctx, orgID, instanceID, map[string]any{
		"locked_at":  nil,
		"updated_at": now,
	})
}

func (s *Service) Edit(ctx context.Context, id snowflake.ID, req domain.EditRequest) (*domain.BillingItem, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if req.Description != nil && strings.TrimSpace(*req.Description) == "" {
		return nil, domain.ErrInvalidDescription
	}
	if req.Quantity != nil && !req.Quantity.IsPositive() {
		return nil, domain.ErrInvalidQuantity
	}
	if req.Rate != nil && req.Rate.IsNegative() {
		return nil, domain.ErrInvalidRate
	}

	var (
		updated *domain.BillingItem
		changes map[string]any
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := repo.FindForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrBillingItemNotFound
		}
		if !item.Editable() || item.InvoiceLineItemID != nil {
			return domain.ErrItemLocked
		}

		quantity, rate := item.Quantity, item.Rate
		fields := map[string]any{}
		changes = map[string]any{}
		if req.Description != nil {
			fields["description"] = strings.TrimSpace(*req.Description)
			changes["description"] = fields["description"]
		}
		if req.Quantity != nil {
			quantity = req.Quantity.Round(2)
			fields["quantity"] = quantity
			changes["quantity"] = quantity.String()
		}
		if req.Rate != nil {
			rate = req.Rate.Round(4)
			fields["rate"] = rate
			changes["rate"] = rate.String()
		}
		if len(fields) == 0 {
			updated = item
			return nil
		}
		amount := domain.ComputeAmount(quantity, rate)
		fields["amount"] = amount
		fields["updated_at"] = s.clock.Now()
		changes["amount"] = amount.String()

		rows, err := repo.UpdateGuarded(ctx, orgID, item.ID, item.Status, fields)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrItemLocked
		}
		updated, err = repo.FindByID(ctx, orgID, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(changes) > 0 {
		s.audit(ctx, orgID, auditdomain.ActionItemEdited, updated, changes)
	}
	return updated, nil
}
