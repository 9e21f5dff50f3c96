package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/casebill/internal/catalog/domain"
	"github.com/smallbiznis/casebill/pkg/db/option"
	"github.com/smallbiznis/casebill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	store repository.Repository[domain.Service]
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{store: repository.ProvideStore[domain.Service](db)}
}

// FindByID returns nil when the service does not belong to orgID.
func (r *repo) FindByID(ctx context.Context, orgID, id snowflake.ID) (*domain.Service, error) {
	return r.store.FindOne(ctx, &domain.Service{ID: id, OrgID: orgID})
}

func (r *repo) FindByIDs(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]*domain.Service, error) {
	out := make(map[snowflake.ID]*domain.Service, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	items, err := r.store.Find(ctx, &domain.Service{OrgID: orgID}, option.WithIn("id", ids))
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}
