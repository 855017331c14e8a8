package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TenantListItem is a tenant joined with the caller's role in it.
type TenantListItem struct {
	ID        snowflake.ID
	Name      string
	Slug      string
	Role      string
	CreatedAt time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, tenant *Tenant) error
	FindByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)
	ListByAccount(ctx context.Context, accountID snowflake.ID) ([]TenantListItem, error)
}
