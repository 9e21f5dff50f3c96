package repository

import (
	"context"

	"github.com/smallbiznis/casebill/pkg/db/option"
	"gorm.io/gorm"
)

// Repository reads one gorm model by example. The non-zero fields of query become
// equality filters, so callers always set OrgID to stay inside a tenant.
//
// Writes are not part of this interface. Billing rows change through guarded updates
// owned by each domain repository.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
}
