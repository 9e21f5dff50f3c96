package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/casebill/internal/pricing/domain"
	"github.com/smallbiznis/casebill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	profiles repository.Repository[domain.Profile]
	rules    repository.Repository[domain.Rule]
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{
		profiles: repository.ProvideStore[domain.Profile](db),
		rules:    repository.ProvideStore[domain.Rule](db),
	}
}

func (r *repo) FindProfile(ctx context.Context, orgID, id snowflake.ID) (*domain.Profile, error) {
	return r.profiles.FindOne(ctx, &domain.Profile{ID: id, OrgID: orgID})
}

// FindDefaultProfile returns the oldest profile flagged is_default.
func (r *repo) FindDefaultProfile(ctx context.Context, orgID snowflake.ID) (*domain.Profile, error) {
	return r.profiles.FindOne(ctx, &domain.Profile{OrgID: orgID, IsDefault: true})
}

func (r *repo) FindRule(ctx context.Context, orgID, profileID, serviceID snowflake.ID) (*domain.Rule, error) {
	return r.rules.FindOne(ctx, &domain.Rule{OrgID: orgID, ProfileID: profileID, ServiceID: serviceID})
}
