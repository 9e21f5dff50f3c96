package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/casebill/internal/casefile/domain"
	"github.com/smallbiznis/casebill/pkg/db/option"
	"github.com/smallbiznis/casebill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	db         *gorm.DB
	cases      repository.Repository[domain.Case]
	accounts   repository.Repository[domain.Account]
	activities repository.Repository[domain.Activity]
	instances  repository.Repository[domain.ServiceInstance]
	staff      repository.Repository[domain.StaffMember]
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{
		db:         db,
		cases:      repository.ProvideStore[domain.Case](db),
		accounts:   repository.ProvideStore[domain.Account](db),
		activities: repository.ProvideStore[domain.Activity](db),
		instances:  repository.ProvideStore[domain.ServiceInstance](db),
		staff:      repository.ProvideStore[domain.StaffMember](db),
	}
}

func (r *repo) WithTx(tx *gorm.DB) domain.Repository {
	return Provide(tx)
}

func (r *repo) FindCase(ctx context.Context, orgID, id snowflake.ID) (*domain.Case, error) {
	return r.cases.FindOne(ctx, &domain.Case{ID: id, OrgID: orgID})
}

func (r *repo) FindAccount(ctx context.Context, orgID, id snowflake.ID) (*domain.Account, error) {
	return r.accounts.FindOne(ctx, &domain.Account{ID: id, OrgID: orgID})
}

func (r *repo) FindActivity(ctx context.Context, orgID, id snowflake.ID) (*domain.Activity, error) {
	return r.activities.FindOne(ctx, &domain.Activity{ID: id, OrgID: orgID})
}

func (r *repo) FindServiceInstance(ctx context.Context, orgID, id snowflake.ID) (*domain.ServiceInstance, error) {
	return r.instances.FindOne(ctx, &domain.ServiceInstance{ID: id, OrgID: orgID})
}

func (r *repo) ListServiceInstances(ctx context.Context, orgID, caseID snowflake.ID) ([]*domain.ServiceInstance, error) {
	return r.instances.Find(ctx, &domain.ServiceInstance{OrgID: orgID, CaseID: caseID},
		option.WithSortBy(option.QuerySortBy{Field: "id", Allow: map[string]bool{"id": true}}),
	)
}

func (r *repo) ListCompletedActivities(ctx context.Context, orgID snowflake.ID, instanceIDs []snowflake.ID) ([]*domain.Activity, error) {
	if len(instanceIDs) == 0 {
		return nil, nil
	}
	return r.activities.Find(ctx, &domain.Activity{OrgID: orgID, Completed: true},
		option.WithIn("service_instance_id", instanceIDs),
		option.WithSortBy(option.QuerySortBy{Field: "id", Allow: map[string]bool{"id": true}}),
	)
}

func (r *repo) FindStaffByUserIDs(ctx context.Context, orgID snowflake.ID, userIDs []snowflake.ID) (map[snowflake.ID]*domain.StaffMember, error) {
	out := make(map[snowflake.ID]*domain.StaffMember, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	members, err := r.staff.Find(ctx, &domain.StaffMember{OrgID: orgID}, option.WithIn("user_id", userIDs))
	if err != nil {
		return nil, err
	}
	for _, member := range members {
		out[member.UserID] = member
	}
	return out, nil
}

func (r *repo) UpdateServiceInstance(ctx context.Context, orgID, id snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&domain.ServiceInstance{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Updates(fields).Error
}

func (r *repo) UpdateActivity(ctx context.Context, orgID, id snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&domain.Activity{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Updates(fields).Error
}
