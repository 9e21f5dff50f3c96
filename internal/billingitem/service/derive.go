package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/casebill/internal/billingitem/domain"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	eligibilitydomain "github.com/smallbiznis/casebill/internal/eligibility/domain"
	"github.com/smallbiznis/casebill/internal/observability/tracing"
	pricingdomain "github.com/smallbiznis/casebill/internal/pricing/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// caseBook is everything derivation reads for one case, loaded up front.
type caseBook struct {
	caseRow        *casefiledomain.Case
	instances      []*casefiledomain.ServiceInstance
	services       map[snowflake.ID]*catalogdomain.Service
	activities     map[snowflake.ID][]*casefiledomain.Activity
	billedActivity map[snowflake.ID]domain.FrozenLine
	instanceLines  map[snowflake.ID][]domain.FrozenLine
	items          map[string]*domain.BillingItem
}

func (s *Service) DeriveTimeEntries(ctx context.Context, caseID snowflake.ID) (entries []domain.TimeEntry, err error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "billingitem.derive_time_entries",
		attribute.String("org_id", orgID.String()),
		attribute.String("case_id", caseID.String()),
	)
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.Int("entries", len(entries)))
		}
		tracing.EndSpan(span, err)
	}()

	book, err := s.loadCaseBook(ctx, orgID, caseID)
	if err != nil {
		return nil, err
	}

	minimum := s.billingCfg.Get().MinimumHoursDecimal()
	resolutions := map[snowflake.ID]pricingdomain.Resolution{}
	resolve := func(service *catalogdomain.Service) (pricingdomain.Resolution, error) {
		if res, ok := resolutions[service.ID]; ok {
			return res, nil
		}
		res, err := s.pricing.Resolve(ctx, pricingdomain.Subject{OrgID: orgID, Case: book.caseRow, Service: service})
		if err != nil {
			return pricingdomain.Resolution{}, err
		}
		resolutions[service.ID] = res
		return res, nil
	}

	entries = make([]domain.TimeEntry, 0)
	for _, inst := range book.instances {
		service := book.services[inst.ServiceID]
		if service == nil {
			s.log.Debug("service instance references unknown service",
				zap.String("service_instance_id", inst.ID.String()),
				zap.String("service_id", inst.ServiceID.String()),
			)
			continue
		}
		derived, err := s.deriveInstance(book, inst, service, minimum, resolve)
		if err != nil {
			return nil, err
		}
		entries = append(entries, derived...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.ServiceInstanceID != b.ServiceInstanceID {
			return a.ServiceInstanceID < b.ServiceInstanceID
		}
		as, bs := startOf(a), startOf(b)
		if !as.Equal(bs) {
			return as.Before(bs)
		}
		return a.ID < b.ID
	})

	s.metrics.RecordEntriesDerived(ctx, len(entries))
	return entries, nil
}

func (s *Service) deriveInstance(
	book *caseBook,
	inst *casefiledomain.ServiceInstance,
	service *catalogdomain.Service,
	minimum decimal.Decimal,
	resolve func(*catalogdomain.Service) (pricingdomain.Resolution, error),
) ([]domain.TimeEntry, error) {
	var res pricingdomain.Resolution
	billable := false
	if service.IsBillable {
		var err error
		res, err = resolve(service)
		if err != nil {
			return nil, err
		}
		billable = res.Billable
	}

	base := domain.TimeEntry{
		CaseID:            inst.CaseID,
		ServiceInstanceID: inst.ID,
		ServiceID:         service.ID,
		ServiceName:       service.Name,
		ServiceCode:       service.Code,
	}

	var out []domain.TimeEntry
	for _, activity := range book.activities[inst.ID] {
		entry := base
		entry.ID = domain.ActivitySourceKey(activity.ID)
		activityID := activity.ID
		entry.ActivityID = &activityID
		entry.Title = activity.Title
		if start := activity.StartsAt(); !start.IsZero() {
			entry.StartsAt = &start
		}

		if line, ok := book.billedActivity[activity.ID]; ok {
			out = append(out, mirror(entry, line))
			continue
		}
		if !billable {
			continue
		}

		quantity, needsHours, err := eligibilitydomain.Quantity(activity, res.PricingModel, minimum, nil)
		if err != nil {
			s.log.Debug("skipping activity with unusable interval",
				zap.String("activity_id", activity.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if needsHours {
			continue
		}
		out = append(out, s.priced(book, inst, entry, quantity, res))
	}
	// Completed activities own the instance even when none of them priced, so
	// quantity_actual is never billed on top of them.
	if len(book.activities[inst.ID]) > 0 {
		if line, ok := instanceLevelLine(book.instanceLines[inst.ID]); ok {
			out = append(out, mirror(withInstanceKey(base, inst), line))
		}
		return out, nil
	}

	entry := withInstanceKey(base, inst)
	if quantity, ok := inst.ManualQuantity(); ok {
		if line, ok := instanceLevelLine(book.instanceLines[inst.ID]); ok {
			return []domain.TimeEntry{mirror(entry, line)}, nil
		}
		if !billable {
			return nil, nil
		}
		return []domain.TimeEntry{s.priced(book, inst, entry, quantity.Round(2), res)}, nil
	}

	if lines := book.instanceLines[inst.ID]; len(lines) > 0 {
		return []domain.TimeEntry{mirror(entry, lines[0])}, nil
	}
	return nil, nil
}

func (s *Service) priced(book *caseBook, inst *casefiledomain.ServiceInstance, entry domain.TimeEntry, quantity decimal.Decimal, res pricingdomain.Resolution) domain.TimeEntry {
	entry.Quantity = quantity
	entry.Rate = res.Rate
	entry.Amount = domain.ComputeAmount(quantity, res.Rate)
	entry.PricingModel = string(res.PricingModel)
	entry.PricingSource = string(res.Source)
	entry.PricingScope = string(res.Scope)
	entry.Priced = res.Priced()

	entry.Status = domain.EntryStatusUnbilled
	if inst.Locked() {
		entry.Status = domain.EntryStatusPending
	}
	if item, ok := book.items[entry.ID]; ok {
		itemID := item.ID
		entry.BillingItemID = &itemID
		if entry.Status == domain.EntryStatusUnbilled {
			entry.Status = item.Status.ViewStatus()
		}
	}
	return entry
}

// mirror copies the frozen line so billed entries never change with later pricing edits.
func mirror(entry domain.TimeEntry, line domain.FrozenLine) domain.TimeEntry {
	lineID := line.ID
	itemID := line.BillingItemID
	entry.Quantity = line.Quantity
	entry.Rate = line.Rate
	entry.Amount = line.Amount
	entry.PricingModel = line.PricingModel
	entry.PricingSource = string(pricingdomain.SourceInvoice)
	entry.Priced = true
	entry.Status = domain.EntryStatusBilled
	entry.InvoiceLineItemID = &lineID
	entry.BillingItemID = &itemID
	return entry
}

func withInstanceKey(entry domain.TimeEntry, inst *casefiledomain.ServiceInstance) domain.TimeEntry {
	entry.ID = domain.InstanceSourceKey(inst.ID)
	return entry
}

func instanceLevelLine(lines []domain.FrozenLine) (domain.FrozenLine, bool) {
	for _, line := range lines {
		if len(line.ActivityIDs) == 0 {
			return line, true
		}
	}
	return domain.FrozenLine{}, false
}

func startOf(e domain.TimeEntry) time.Time {
	if e.StartsAt == nil {
		return time.Time{}
	}
	return *e.StartsAt
}

func (s *Service) loadCaseBook(ctx context.Context, orgID, caseID snowflake.ID) (*caseBook, error) {
	caseRow, err := s.cases.FindCase(ctx, orgID, caseID)
	if err != nil {
		return nil, err
	}
	if caseRow == nil {
		return nil, casefiledomain.ErrCaseNotFound
	}

	book := &caseBook{
		caseRow:        caseRow,
		activities:     map[snowflake.ID][]*casefiledomain.Activity{},
		billedActivity: map[snowflake.ID]domain.FrozenLine{},
		instanceLines:  map[snowflake.ID][]domain.FrozenLine{},
		items:          map[string]*domain.BillingItem{},
	}

	book.instances, err = s.cases.ListServiceInstances(ctx, orgID, caseID)
	if err != nil {
		return nil, err
	}
	if len(book.instances) == 0 {
		return book, nil
	}

	instanceIDs := make([]snowflake.ID, 0, len(book.instances))
	serviceIDs := make([]snowflake.ID, 0, len(book.instances))
	for _, inst := range book.instances {
		instanceIDs = append(instanceIDs, inst.ID)
		serviceIDs = append(serviceIDs, inst.ServiceID)
	}

	book.services, err = s.catalog.FindByIDs(ctx, orgID, serviceIDs)
	if err != nil {
		return nil, err
	}

	activities, err := s.cases.ListCompletedActivities(ctx, orgID, instanceIDs)
	if err != nil {
		return nil, err
	}
	for _, activity := range activities {
		if activity.ServiceInstanceID == nil {
			continue
		}
		book.activities[*activity.ServiceInstanceID] = append(book.activities[*activity.ServiceInstanceID], activity)
	}

	lines, err := s.repo.ListFrozenLines(ctx, orgID, instanceIDs)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		for _, activityID := range line.ActivityIDs {
			if _, ok := book.billedActivity[activityID]; !ok {
				book.billedActivity[activityID] = line
			}
		}
		if line.ServiceInstanceID != nil {
			book.instanceLines[*line.ServiceInstanceID] = append(book.instanceLines[*line.ServiceInstanceID], line)
		}
	}

	items, err := s.repo.ListByCase(ctx, orgID, caseID, domain.KindTime)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		book.items[item.SourceKey] = item
	}
	return book, nil
}
