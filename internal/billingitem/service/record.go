package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	"github.com/smallbiznis/casebill/internal/billingitem/domain"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	"go.uber.org/zap"
)

func (s *Service) Record(ctx context.Context, caseID snowflake.ID) ([]*domain.BillingItem, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := s.DeriveTimeEntries(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	createdBy := s.userID(ctx)
	keys := make([]string, 0, len(entries))
	candidates := make([]*domain.BillingItem, 0, len(entries))
	unpriced := 0
	for _, entry := range entries {
		// A locked instance shows new work as pending, but it still needs an item.
		if entry.BillingItemID != nil || entry.Status == domain.EntryStatusBilled {
			continue
		}
		if !entry.Priced {
			unpriced++
			continue
		}
		keys = append(keys, entry.ID)

		serviceID := entry.ServiceID
		instanceID := entry.ServiceInstanceID
		candidates = append(candidates, &domain.BillingItem{
			ID:                s.genID.Generate(),
			OrgID:             orgID,
			CaseID:            entry.CaseID,
			Kind:              domain.KindTime,
			SourceKey:         entry.ID,
			ServiceID:         &serviceID,
			ServiceInstanceID: &instanceID,
			ActivityID:        entry.ActivityID,
			Description:       describe(entry.Title, entry.ServiceName),
			Quantity:          entry.Quantity,
			Rate:              entry.Rate,
			Amount:            entry.Amount,
			Status:            domain.StatusUnbilled,
			PricingModel:      entry.PricingModel,
			PricingSource:     entry.PricingSource,
			PricingScope:      entry.PricingScope,
			CreatedBy:         createdBy,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	if unpriced > 0 {
		s.log.Warn("unpriced time entries were not recorded",
			zap.String("case_id", caseID.String()),
			zap.Int("count", unpriced),
		)
	}
	if len(candidates) == 0 {
		return []*domain.BillingItem{}, nil
	}

	if err := s.repo.InsertIgnore(ctx, candidates); err != nil {
		return nil, err
	}
	stored, err := s.repo.FindBySourceKeys(ctx, orgID, keys)
	if err != nil {
		return nil, err
	}

	items := make([]*domain.BillingItem, 0, len(keys))
	created := 0
	for _, candidate := range candidates {
		item, ok := stored[candidate.SourceKey]
		if !ok {
			continue
		}
		if item.ID == candidate.ID {
			created++
		}
		items = append(items, item)
	}

	if created > 0 && s.auditSvc != nil {
		targetID := caseID.String()
		if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionTimeEntriesRecorded, "case", &targetID, map[string]any{
			"created": created,
		}); err != nil {
			s.log.Warn("failed to audit recorded time entries", zap.Error(err))
		}
	}
	return items, nil
}

func (s *Service) ListExpenses(ctx context.Context, caseID snowflake.ID) ([]domain.ExpenseEntry, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	caseRow, err := s.cases.FindCase(ctx, orgID, caseID)
	if err != nil {
		return nil, err
	}
	if caseRow == nil {
		return nil, casefiledomain.ErrCaseNotFound
	}

	items, err := s.repo.ListByCase(ctx, orgID, caseID, domain.KindExpense)
	if err != nil {
		return nil, err
	}

	var serviceIDs, userIDs []snowflake.ID
	for _, item := range items {
		if item.ServiceID != nil {
			serviceIDs = append(serviceIDs, *item.ServiceID)
		}
		if submitter := submitterOf(item); submitter != nil {
			userIDs = append(userIDs, *submitter)
		}
	}
	services, err := s.catalog.FindByIDs(ctx, orgID, serviceIDs)
	if err != nil {
		return nil, err
	}
	staff, err := s.cases.FindStaffByUserIDs(ctx, orgID, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ExpenseEntry, 0, len(items))
	for _, item := range items {
		entry := domain.ExpenseEntry{
			ID:                item.SourceKey,
			BillingItemID:     item.ID,
			CaseID:            item.CaseID,
			ServiceID:         item.ServiceID,
			Description:       item.Description,
			Quantity:          item.Quantity,
			UnitCost:          item.Rate,
			Amount:            item.Amount,
			SubmittedBy:       submitterOf(item),
			ItemStatus:        item.Status,
			Status:            domain.EntryStatus(item.Status),
			InvoiceLineItemID: item.InvoiceLineItemID,
		}
		if item.IncurredOn != nil {
			entry.IncurredOn = *item.IncurredOn
		}
		if item.InvoiceLineItemID != nil {
			entry.Status = domain.EntryStatusInvoiced
		}
		if item.ServiceID != nil {
			if service, ok := services[*item.ServiceID]; ok {
				entry.ServiceName = service.Name
				entry.ServiceCode = service.Code
			}
		}
		if entry.SubmittedBy != nil {
			if member, ok := staff[*entry.SubmittedBy]; ok {
				entry.SubmitterName = member.DisplayName
			}
		}
		out = append(out, entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IncurredOn != out[j].IncurredOn {
			return out[i].IncurredOn < out[j].IncurredOn
		}
		return out[i].BillingItemID < out[j].BillingItemID
	})
	return out, nil
}

func submitterOf(item *domain.BillingItem) *snowflake.ID {
	if item.SubmittedBy != nil {
		return item.SubmittedBy
	}
	return item.CreatedBy
}
