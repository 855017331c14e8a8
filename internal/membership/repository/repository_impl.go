package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	atriumdb "github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/db/pagination"

	"github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/role"
)

type repository struct {
	db *gorm.DB
}

// NewRepository constructs the membership repository backed by gorm.
func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, membership *domain.Membership) error {
	if err := r.db.WithContext(ctx).Create(membership).Error; err != nil {
		if atriumdb.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateMembership
		}
		return err
	}
	return nil
}

func (r *repository) Find(ctx context.Context, tenantID, accountID snowflake.ID) (*domain.Membership, error) {
	var membership domain.Membership
	err := r.db.WithContext(ctx).
		First(&membership, "tenant_id = ? AND account_id = ?", tenantID, accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}
	return &membership, nil
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Membership, error) {
	var membership domain.Membership
	if err := r.db.WithContext(ctx).First(&membership, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}
	return &membership, nil
}

func (r *repository) List(ctx context.Context, tenantID snowflake.ID, page pagination.Pagination) ([]domain.MemberView, *pagination.PageInfo, error) {
	size := page.PageSize
	if size <= 0 {
		size = 20
	}

	q := r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Select("memberships.*, accounts.email AS email, accounts.display_name AS display_name").
		Joins("JOIN accounts ON accounts.id = memberships.account_id").
		Where("memberships.tenant_id = ?", tenantID).
		Order("memberships.id ASC").
		Limit(size + 1)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		q = q.Where("memberships.id > ?", cursor.ID)
	}

	var rows []struct {
		domain.Membership
		Email       string `gorm:"column:email"`
		DisplayName string `gorm:"column:display_name"`
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, nil, err
	}

	views := make([]domain.MemberView, 0, len(rows))
	for _, row := range rows {
		views = append(views, domain.MemberView{
			Membership:  row.Membership,
			Email:       row.Email,
			DisplayName: row.DisplayName,
		})
	}

	info := &pagination.PageInfo{}
	if len(views) > size {
		views = views[:size]
		info.HasMore = true
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID: views[len(views)-1].Membership.ID.String(),
		})
		if err != nil {
			return nil, nil, err
		}
		info.NextPageToken = token
	}
	return views, info, nil
}

func (r *repository) UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrMembershipNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id snowflake.ID) error {
	res := r.db.WithContext(ctx).Delete(&domain.Membership{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrMembershipNotFound
	}
	return nil
}

func (r *repository) CountManagers(ctx context.Context, tenantID snowflake.ID) (int64, error) {
	managers := make([]role.Role, 0, 3)
	for _, rr := range role.All() {
		if rr.CanManageMembers() {
			managers = append(managers, rr)
		}
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("tenant_id = ? AND role IN ?", tenantID, managers).
		Count(&count).Error
	return count, err
}
