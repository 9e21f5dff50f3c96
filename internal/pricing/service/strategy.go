package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/casebill/internal/pricing/domain"
)

// profileStrategy looks up a rule for the service under a profile chosen by pick.
type profileStrategy struct {
	scope domain.Scope
	repo  domain.Repository
	pick  func(ctx context.Context, subject domain.Subject) (*snowflake.ID, error)
}

func (p profileStrategy) Scope() domain.Scope { return p.scope }

func (p profileStrategy) Resolve(ctx context.Context, subject domain.Subject) (domain.Resolution, bool, error) {
	profileID, err := p.pick(ctx, subject)
	if err != nil || profileID == nil || *profileID == 0 {
		return domain.Resolution{}, false, err
	}

	rule, err := p.repo.FindRule(ctx, subject.OrgID, *profileID, subject.Service.ID)
	if err != nil || rule == nil {
		return domain.Resolution{}, false, err
	}

	model := subject.Service.Model()
	if rule.PricingModel != nil && rule.PricingModel.Valid() {
		model = *rule.PricingModel
	}
	ruleID := rule.ID
	return domain.Resolution{
		ServiceID:    subject.Service.ID,
		Rate:         rule.Rate,
		PricingModel: model,
		Source:       domain.SourcePricingProfile,
		Scope:        p.scope,
		ProfileID:    profileID,
		RuleID:       &ruleID,
		Billable:     rule.IsBillable && subject.Service.IsBillable,
	}, true, nil
}

type serviceDefaultStrategy struct{}

func (serviceDefaultStrategy) Scope() domain.Scope { return domain.ScopeService }

func (serviceDefaultStrategy) Resolve(_ context.Context, subject domain.Subject) (domain.Resolution, bool, error) {
	if !subject.Service.DefaultRate.Valid {
		return domain.Resolution{}, false, nil
	}
	return domain.Resolution{
		ServiceID:    subject.Service.ID,
		Rate:         subject.Service.DefaultRate.Decimal,
		PricingModel: subject.Service.Model(),
		Source:       domain.SourceServiceDefault,
		Scope:        domain.ScopeService,
		Billable:     subject.Service.IsBillable,
	}, true, nil
}

// DefaultStrategies returns the waterfall in priority order:
// case profile, account default profile, organization default profile, service default rate.
func DefaultStrategies(repo domain.Repository, accounts AccountLookup) []domain.Strategy {
	return []domain.Strategy{
		profileStrategy{
			scope: domain.ScopeCase,
			repo:  repo,
			pick: func(_ context.Context, subject domain.Subject) (*snowflake.ID, error) {
				return subject.Case.PricingProfileID, nil
			},
		},
		profileStrategy{
			scope: domain.ScopeAccount,
			repo:  repo,
			pick: func(ctx context.Context, subject domain.Subject) (*snowflake.ID, error) {
				if subject.Case.AccountID == nil {
					return nil, nil
				}
				account, err := accounts.FindAccount(ctx, subject.OrgID, *subject.Case.AccountID)
				if err != nil || account == nil {
					return nil, err
				}
				return account.DefaultPricingProfileID, nil
			},
		},
		profileStrategy{
			scope: domain.ScopeOrganization,
			repo:  repo,
			pick: func(ctx context.Context, subject domain.Subject) (*snowflake.ID, error) {
				profile, err := repo.FindDefaultProfile(ctx, subject.OrgID)
				if err != nil || profile == nil {
					return nil, err
				}
				return &profile.ID, nil
			},
		},
		serviceDefaultStrategy{},
	}
}
