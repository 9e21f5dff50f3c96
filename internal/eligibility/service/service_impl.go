package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	"github.com/smallbiznis/casebill/internal/clock"
	"github.com/smallbiznis/casebill/internal/config"
	"github.com/smallbiznis/casebill/internal/eligibility/domain"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	pricingdomain "github.com/smallbiznis/casebill/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Cases      casefiledomain.Repository
	Catalog    catalogdomain.Repository
	Pricing    pricingdomain.Service
	AuditSvc   auditdomain.Service
	BillingCfg *config.BillingConfigHolder `optional:"true"`
	Clock      clock.Clock                 `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	cases      casefiledomain.Repository
	catalog    catalogdomain.Repository
	pricing    pricingdomain.Service
	auditSvc   auditdomain.Service
	billingCfg *config.BillingConfigHolder
	clock      clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:        p.Log.Named("eligibility.service"),
		cases:      p.Cases,
		catalog:    p.Catalog,
		pricing:    p.Pricing,
		auditSvc:   p.AuditSvc,
		billingCfg: p.BillingCfg,
		clock:      clk,
	}
}

func (s *Service) Evaluate(ctx context.Context, activityID snowflake.ID) (*domain.Result, error) {
	return s.evaluate(ctx, activityID, nil)
}

func (s *Service) PreviewTask(ctx context.Context, activityID snowflake.ID, hours decimal.Decimal) (*domain.Result, error) {
	if hours.LessThan(s.billingCfg.Get().MinimumHoursDecimal()) {
		return nil, domain.ErrHoursBelowMinimum
	}
	return s.evaluate(ctx, activityID, &hours)
}

func (s *Service) Skip(ctx context.Context, activityID snowflake.ID, reason string) (auditdomain.Event, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return auditdomain.Event{}, err
	}

	activity, err := s.cases.FindActivity(ctx, orgID, activityID)
	if err != nil {
		return auditdomain.Event{}, err
	}
	if activity == nil {
		return auditdomain.Event{}, casefiledomain.ErrActivityNotFound
	}

	event := auditdomain.Event{
		OrgID:      orgID,
		Action:     auditdomain.ActionActivitySkipped,
		TargetType: "activity",
		TargetID:   activity.ID.String(),
		Metadata: map[string]any{
			"case_id":       activity.CaseID.String(),
			"activity_type": string(activity.ActivityType),
		},
		OccurredAt: s.clock.Now(),
	}
	if userID, ok := orgcontext.UserIDFromContext(ctx); ok {
		event.ActorID = userID.String()
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		event.Metadata["reason"] = reason
	}
	if activity.ServiceInstanceID != nil {
		event.Metadata["service_instance_id"] = activity.ServiceInstanceID.String()
	}

	if err := s.auditSvc.Record(ctx, event); err != nil {
		return auditdomain.Event{}, err
	}
	return event, nil
}

func (s *Service) evaluate(ctx context.Context, activityID snowflake.ID, taskHours *decimal.Decimal) (*domain.Result, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	activity, err := s.cases.FindActivity(ctx, orgID, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, casefiledomain.ErrActivityNotFound
	}
	if taskHours != nil && !activity.IsTask() {
		return nil, domain.ErrNotATask
	}
	if activity.ServiceInstanceID == nil {
		return nil, nil
	}

	instance, err := s.cases.FindServiceInstance(ctx, orgID, *activity.ServiceInstanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, nil
	}

	service, err := s.catalog.FindByID(ctx, orgID, instance.ServiceID)
	if err != nil {
		return nil, err
	}
	if service == nil || !service.IsBillable {
		return nil, nil
	}

	caseRow, err := s.cases.FindCase(ctx, orgID, activity.CaseID)
	if err != nil {
		return nil, err
	}
	if caseRow == nil {
		return nil, casefiledomain.ErrCaseNotFound
	}

	resolution, err := s.pricing.Resolve(ctx, pricingdomain.Subject{OrgID: orgID, Case: caseRow, Service: service})
	if err != nil {
		return nil, err
	}
	if !resolution.Billable {
		return nil, nil
	}

	quantity, needsHours, err := domain.Quantity(activity, resolution.PricingModel, s.billingCfg.Get().MinimumHoursDecimal(), taskHours)
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		ActivityID:        activity.ID,
		ActivityType:      activity.ActivityType,
		CaseID:            activity.CaseID,
		ServiceInstanceID: instance.ID,
		ServiceID:         service.ID,
		ServiceName:       service.Name,
		ServiceCode:       service.Code,
		Rate:              resolution.Rate,
		PricingModel:      resolution.PricingModel,
		PricingSource:     resolution.Source,
		PricingScope:      resolution.Scope,
		Quantity:          quantity,
		Estimate:          quantity.Mul(resolution.Rate).Round(2),
		Priced:            resolution.Priced(),
		NeedsHours:        needsHours,
	}, nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}
