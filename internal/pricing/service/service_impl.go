package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
	"github.com/smallbiznis/casebill/internal/observability/metrics"
	"github.com/smallbiznis/casebill/internal/observability/tracing"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	"github.com/smallbiznis/casebill/internal/pricing/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// AccountLookup is the slice of the case store the account stage needs.
type AccountLookup interface {
	FindAccount(ctx context.Context, orgID, id snowflake.ID) (*casefiledomain.Account, error)
}

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Repo    domain.Repository
	Cases   casefiledomain.Repository
	Catalog catalogdomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	cases      casefiledomain.Repository
	catalog    catalogdomain.Repository
	metrics    *metrics.Metrics
	strategies []domain.Strategy
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:        p.Log.Named("pricing.service"),
		cases:      p.Cases,
		catalog:    p.Catalog,
		metrics:    p.Metrics,
		strategies: DefaultStrategies(p.Repo, p.Cases),
	}
}

// ResolveRate loads the case and service for the current organization and runs the waterfall.
func (s *Service) ResolveRate(ctx context.Context, caseID, serviceID snowflake.ID) (domain.Resolution, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Resolution{}, domain.ErrInvalidOrganization
	}

	caseRow, err := s.cases.FindCase(ctx, orgID, caseID)
	if err != nil {
		return domain.Resolution{}, err
	}
	if caseRow == nil {
		return domain.Resolution{}, casefiledomain.ErrCaseNotFound
	}

	service, err := s.catalog.FindByID(ctx, orgID, serviceID)
	if err != nil {
		return domain.Resolution{}, err
	}
	if service == nil {
		return domain.Resolution{}, catalogdomain.ErrServiceNotFound
	}

	return s.Resolve(ctx, domain.Subject{OrgID: orgID, Case: caseRow, Service: service})
}

// Resolve runs the waterfall for an already loaded case and service. First hit wins;
// no hit yields an unpriced resolution rather than an error.
func (s *Service) Resolve(ctx context.Context, subject domain.Subject) (res domain.Resolution, err error) {
	if subject.Case == nil || subject.Service == nil || subject.OrgID == 0 {
		return domain.Resolution{}, domain.ErrInvalidSubject
	}

	ctx, span := tracing.StartSpan(ctx, "pricing.resolve",
		attribute.String("case_id", subject.Case.ID.String()),
		attribute.String("service_id", subject.Service.ID.String()),
	)
	defer func() {
		span.SetAttributes(attribute.String("pricing.source", string(res.Source)))
		tracing.EndSpan(span, err)
	}()

	for _, strategy := range s.strategies {
		hit, ok, resolveErr := strategy.Resolve(ctx, subject)
		if resolveErr != nil {
			return domain.Resolution{}, resolveErr
		}
		if ok {
			s.metrics.RecordPricingResolution(ctx, string(hit.Source), string(hit.Scope))
			return hit, nil
		}
	}

	res = domain.Unpriced(*subject.Service)
	s.log.Debug("no pricing configured",
		zap.String("case_id", subject.Case.ID.String()),
		zap.String("service_id", subject.Service.ID.String()),
	)
	s.metrics.RecordPricingResolution(ctx, string(res.Source), string(res.Scope))
	return res, nil
}
