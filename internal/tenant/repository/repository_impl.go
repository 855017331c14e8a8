package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	atriumdb "github.com/smallbiznis/atrium/pkg/db"

	"github.com/smallbiznis/atrium/internal/tenant/domain"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, tenant *domain.Tenant) error {
	if err := r.db.WithContext(ctx).Create(tenant).Error; err != nil {
		if atriumdb.IsDuplicateKeyErr(err) {
			return domain.ErrSlugTaken
		}
		return err
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) FindBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountID snowflake.ID) ([]domain.TenantListItem, error) {
	var items []domain.TenantListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT t.id, t.name, t.slug, m.role, t.created_at
		 FROM tenants t
		 JOIN memberships m ON m.tenant_id = t.id
		 WHERE m.account_id = ?
		 ORDER BY t.created_at ASC`,
		accountID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
