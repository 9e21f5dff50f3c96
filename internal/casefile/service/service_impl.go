package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/casebill/internal/audit/domain"
	"github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	"github.com/smallbiznis/casebill/internal/clock"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Repo     domain.Repository
	Catalog  catalogdomain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
	Clock    clock.Clock         `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	repo     domain.Repository
	catalog  catalogdomain.Repository
	auditSvc auditdomain.Service
	clock    clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:      p.Log.Named("casefile.service"),
		repo:     p.Repo,
		catalog:  p.Catalog,
		auditSvc: p.AuditSvc,
		clock:    clk,
	}
}

func (s *Service) GetCase(ctx context.Context, id snowflake.ID) (*domain.Case, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindCase(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrCaseNotFound
	}
	return item, nil
}

func (s *Service) GetActivity(ctx context.Context, id snowflake.ID) (*domain.Activity, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindActivity(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrActivityNotFound
	}
	return item, nil
}

// UpdateServiceInstance edits an instance. Quantity and service linkage are frozen once
// the instance is locked or billed; schedule status stays editable.
func (s *Service) UpdateServiceInstance(ctx context.Context, id snowflake.ID, req domain.UpdateServiceInstanceRequest) (*domain.ServiceInstance, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	instance, err := s.repo.FindServiceInstance(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, domain.ErrServiceInstanceNotFound
	}

	fields := map[string]any{}
	changed := []string{}

	if req.QuantityActual != nil || req.ServiceID != nil {
		if instance.Locked() {
			return nil, domain.ErrServiceInstanceLocked
		}
	}

	if req.ScheduleStatus != nil {
		switch *req.ScheduleStatus {
		case domain.ScheduleStatusScheduled, domain.ScheduleStatusUnscheduled:
		default:
			return nil, domain.ErrInvalidScheduleStatus
		}
		fields["schedule_status"] = *req.ScheduleStatus
		changed = append(changed, "schedule_status")
	}
	if req.QuantityActual != nil {
		if req.QuantityActual.IsNegative() {
			return nil, domain.ErrInvalidQuantity
		}
		fields["quantity_actual"] = req.QuantityActual.Round(2)
		changed = append(changed, "quantity_actual")
	}
	if req.ServiceID != nil {
		serviceID, err := snowflake.ParseString(strings.TrimSpace(*req.ServiceID))
		if err != nil || serviceID == 0 {
			return nil, domain.ErrInvalidServiceID
		}
		svc, err := s.catalog.FindByID(ctx, orgID, serviceID)
		if err != nil {
			return nil, err
		}
		if svc == nil {
			return nil, catalogdomain.ErrServiceNotFound
		}
		fields["service_id"] = serviceID
		changed = append(changed, "service_id")
	}

	if len(fields) == 0 {
		return instance, nil
	}
	fields["updated_at"] = s.clock.Now()

	if err := s.repo.UpdateServiceInstance(ctx, orgID, id, fields); err != nil {
		return nil, err
	}

	updated, err := s.repo.FindServiceInstance(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, orgID, updated, changed)
	return updated, nil
}

func (s *Service) emitAudit(ctx context.Context, orgID snowflake.ID, instance *domain.ServiceInstance, changed []string) {
	if s.auditSvc == nil || instance == nil {
		return
	}
	targetID := instance.ID.String()
	_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, auditdomain.ActionServiceInstanceEdited, "service_instance", &targetID, map[string]any{
		"case_id":        instance.CaseID.String(),
		"changed_fields": changed,
		"updated_at":     s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}
