package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	casefiledomain "github.com/smallbiznis/casebill/internal/casefile/domain"
	catalogdomain "github.com/smallbiznis/casebill/internal/catalog/domain"
)

// Subject is what a strategy prices: a service on a case.
type Subject struct {
	OrgID   snowflake.ID
	Case    *casefiledomain.Case
	Service *catalogdomain.Service
}

// Strategy is one stage of the rate waterfall. ok=false passes to the next stage.
type Strategy interface {
	Scope() Scope
	Resolve(ctx context.Context, subject Subject) (Resolution, bool, error)
}

type Repository interface {
	FindProfile(ctx context.Context, orgID, id snowflake.ID) (*Profile, error)
	FindDefaultProfile(ctx context.Context, orgID snowflake.ID) (*Profile, error)
	FindRule(ctx context.Context, orgID, profileID, serviceID snowflake.ID) (*Rule, error)
}

type Service interface {
	ResolveRate(ctx context.Context, caseID, serviceID snowflake.ID) (Resolution, error)
	Resolve(ctx context.Context, subject Subject) (Resolution, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSubject      = errors.New("invalid_pricing_subject")
)
