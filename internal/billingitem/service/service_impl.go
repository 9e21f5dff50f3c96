package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	"github.com/smallbiznis/casebill/internal/billingitem/domain"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	"github.com/smallbiznis/casebill/internal/clock"
	"github.com/smallbiznis/casebill/internal/config"
	eligibilitydomain "github.com/smallbiznis/casebill/internal/eligibility/domain"
	"github.com/smallbiznis/casebill/internal/observability/metrics"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	pricingdomain "github.com/smallbiznis/casebill/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	Cases       casefiledomain.Repository
	Catalog     catalogdomain.Repository
	Pricing     pricingdomain.Service
	Eligibility eligibilitydomain.Service
	AuditSvc    auditdomain.Service
	Metrics     *metrics.Metrics            `optional:"true"`
	BillingCfg  *config.BillingConfigHolder `optional:"true"`
	Clock       clock.Clock                 `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	cases       casefiledomain.Repository
	catalog     catalogdomain.Repository
	pricing     pricingdomain.Service
	eligibility eligibilitydomain.Service
	auditSvc    auditdomain.Service
	metrics     *metrics.Metrics
	billingCfg  *config.BillingConfigHolder
	clock       clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("billingitem.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		cases:       p.Cases,
		catalog:     p.Catalog,
		pricing:     p.Pricing,
		eligibility: p.Eligibility,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
		billingCfg:  p.BillingCfg,
		clock:       clk,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.BillingItem, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrBillingItemNotFound
	}
	return item, nil
}

// ConfirmActivity persists the billing item for one completed activity. Confirming the
// same activity again returns the item recorded the first time.
func (s *Service) ConfirmActivity(ctx context.Context, activityID snowflake.ID, hours *decimal.Decimal) (*domain.BillingItem, error) {
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
	if !activity.Completed {
		return nil, domain.ErrActivityNotCompleted
	}

	sourceKey := domain.ActivitySourceKey(activity.ID)
	existing, err := s.repo.FindBySourceKeys(ctx, orgID, []string{sourceKey})
	if err != nil {
		return nil, err
	}
	if item, ok := existing[sourceKey]; ok {
		return item, nil
	}

	var result *eligibilitydomain.Result
	if activity.IsTask() && hours != nil {
		result, err = s.eligibility.PreviewTask(ctx, activity.ID, *hours)
	} else {
		result, err = s.eligibility.Evaluate(ctx, activity.ID)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, eligibilitydomain.ErrNotEligible
	}
	if result.NeedsHours {
		return nil, domain.ErrHoursRequired
	}
	if !result.Priced {
		return nil, domain.ErrUnpriced
	}

	now := s.clock.Now()
	serviceID := result.ServiceID
	instanceID := result.ServiceInstanceID
	item := &domain.BillingItem{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		CaseID:            activity.CaseID,
		Kind:              domain.KindTime,
		SourceKey:         sourceKey,
		ServiceID:         &serviceID,
		ServiceInstanceID: &instanceID,
		ActivityID:        &activity.ID,
		Description:       describe(activity.Title, result.ServiceName),
		Quantity:          result.Quantity,
		Rate:              result.Rate,
		Amount:            domain.ComputeAmount(result.Quantity, result.Rate),
		Status:            domain.StatusUnbilled,
		PricingModel:      string(result.PricingModel),
		PricingSource:     string(result.PricingSource),
		PricingScope:      string(result.PricingScope),
		CreatedBy:         s.userID(ctx),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var stored *domain.BillingItem
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if activity.IsTask() && hours != nil {
			if err := s.cases.WithTx(tx).UpdateActivity(ctx, orgID, activity.ID, map[string]any{
				"billed_hours": result.Quantity,
				"updated_at":   now,
			}); err != nil {
				return err
			}
		}
		if err := repo.InsertIgnore(ctx, []*domain.BillingItem{item}); err != nil {
			return err
		}
		found, err := repo.FindBySourceKeys(ctx, orgID, []string{sourceKey})
		if err != nil {
			return err
		}
		stored = found[sourceKey]
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrBillingItemNotFound
	}

	if stored.ID == item.ID {
		s.audit(ctx, orgID, auditdomain.ActionActivityBilled, stored, map[string]any{
			"activity_id": activity.ID.String(),
			"quantity":    stored.Quantity.String(),
			"rate":        stored.Rate.String(),
			"amount":      stored.Amount.String(),
		})
	}
	return stored, nil
}

func (s *Service) RecordExpense(ctx context.Context, caseID snowflake.ID, req domain.RecordExpenseRequest) (*domain.BillingItem, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, domain.ErrInvalidDescription
	}
	if !req.Quantity.IsPositive() {
		return nil, domain.ErrInvalidQuantity
	}
	if req.UnitCost.IsNegative() {
		return nil, domain.ErrInvalidRate
	}
	var incurredOn *string
	if raw := strings.TrimSpace(req.IncurredOn); raw != "" {
		if _, err := time.Parse(dateLayout, raw); err != nil {
			return nil, domain.ErrInvalidIncurredOn
		}
		incurredOn = &raw
	}

	caseRow, err := s.cases.FindCase(ctx, orgID, caseID)
	if err != nil {
		return nil, err
	}
	if caseRow == nil {
		return nil, casefiledomain.ErrCaseNotFound
	}

	var serviceID *snowflake.ID
	if req.ServiceID != nil && strings.TrimSpace(*req.ServiceID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(*req.ServiceID))
		if err != nil {
			return nil, domain.ErrInvalidServiceID
		}
		service, err := s.catalog.FindByID(ctx, orgID, parsed)
		if err != nil {
			return nil, err
		}
		if service == nil {
			return nil, catalogdomain.ErrServiceNotFound
		}
		serviceID = &service.ID
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	quantity := req.Quantity.Round(2)
	rate := req.UnitCost.Round(4)
	item := &domain.BillingItem{
		ID:          id,
		OrgID:       orgID,
		CaseID:      caseRow.ID,
		Kind:        domain.KindExpense,
		SourceKey:   domain.ExpenseSourceKey(id),
		ServiceID:   serviceID,
		Description: description,
		Quantity:    quantity,
		Rate:        rate,
		Amount:      domain.ComputeAmount(quantity, rate),
		Status:      domain.StatusUnbilled,
		IncurredOn:  incurredOn,
		CreatedBy:   s.userID(ctx),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, item); err != nil {
		return nil, err
	}

	s.audit(ctx, orgID, auditdomain.ActionExpenseRecorded, item, map[string]any{
		"amount": item.Amount.String(),
	})
	return item, nil
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, action string, item *domain.BillingItem, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"case_id": item.CaseID.String(),
		"kind":    string(item.Kind),
		"status":  string(item.Status),
	}
	for key, value := range extra {
		metadata[key] = value
	}
	targetID := item.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "billing_item", &targetID, metadata); err != nil {
		s.log.Warn("failed to audit billing item", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) userID(ctx context.Context) *snowflake.ID {
	userID, ok := orgcontext.UserIDFromContext(ctx)
	if !ok {
		return nil
	}
	return &userID
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}

func describe(title, serviceName string) string {
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	return serviceName
}
