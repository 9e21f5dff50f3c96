package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	"github.com/smallbiznis/casebill/internal/orgcontext"
	"github.com/smallbiznis/casebill/internal/retainer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log   *zap.Logger
	Repo  domain.Repository
	Cases casefiledomain.Repository
}

type Service struct {
	log   *zap.Logger
	repo  domain.Repository
	cases casefiledomain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:   p.Log.Named("retainer.service"),
		repo:  p.Repo,
		cases: p.Cases,
	}
}

func (s *Service) AvailableBalance(ctx context.Context, caseID snowflake.ID) (decimal.Decimal, error) {
	orgID, err := s.scope(ctx, caseID)
	if err != nil {
		return decimal.Zero, err
	}
	amounts, err := s.repo.DepositAmounts(ctx, orgID, caseID)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.Sum(amounts), nil
}

func (s *Service) AppliedTotal(ctx context.Context, caseID snowflake.ID) (decimal.Decimal, error) {
	orgID, err := s.scope(ctx, caseID)
	if err != nil {
		return decimal.Zero, err
	}
	amounts, err := s.repo.AppliedAmounts(ctx, orgID, caseID)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.Sum(amounts), nil
}

func (s *Service) Summary(ctx context.Context, caseID snowflake.ID) (domain.Summary, error) {
	deposits, err := s.AvailableBalance(ctx, caseID)
	if err != nil {
		return domain.Summary{}, err
	}
	applied, err := s.AppliedTotal(ctx, caseID)
	if err != nil {
		return domain.Summary{}, err
	}
	return domain.Summary{
		CaseID:    caseID,
		Deposits:  deposits,
		Applied:   applied,
		Remaining: deposits.Sub(applied),
	}, nil
}

func (s *Service) scope(ctx context.Context, caseID snowflake.ID) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrInvalidOrganization
	}
	caseRow, err := s.cases.FindCase(ctx, orgID, caseID)
	if err != nil {
		return 0, err
	}
	if caseRow == nil {
		return 0, casefiledomain.ErrCaseNotFound
	}
	return orgID, nil
}
