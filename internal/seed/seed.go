// Package seed provisions first-run state: the operator tenant that marks
// platform staff, and a bootstrap administrator account.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/atrium/internal/config"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
	"github.com/smallbiznis/atrium/internal/identity/password"
	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/role"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
)

const defaultOperatorTenantName = "Operator"

// EnsureOperatorTenant creates the system tenant whose members are platform
// staff, plus the bootstrap administrator when credentials are configured.
// It is idempotent and safe to run on every startup.
func EnsureOperatorTenant(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(cfg.Bootstrap.OperatorTenantName)
	if name == "" {
		name = defaultOperatorTenantName
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := ensureTenantTx(ctx, tx, node, name)
		if err != nil {
			return err
		}

		adminEmail := strings.ToLower(strings.TrimSpace(cfg.Bootstrap.AdminEmail))
		if adminEmail == "" {
			return nil
		}

		account, err := ensureAdminAccountTx(ctx, tx, node, adminEmail, cfg.Bootstrap.AdminPassword)
		if err != nil {
			return err
		}
		return ensureMembershipTx(ctx, tx, node, tenant.ID, account.ID)
	})
}

func ensureTenantTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, name string) (*tenantdomain.Tenant, error) {
	tenantSlug := slug.Make(name)

	var tenant tenantdomain.Tenant
	err := tx.WithContext(ctx).Where("slug = ?", tenantSlug).First(&tenant).Error
	if err == nil {
		return &tenant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	tenant = tenantdomain.Tenant{
		ID:        node.Generate(),
		Name:      name,
		Slug:      tenantSlug,
		IsSystem:  true,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func ensureAdminAccountTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, email, rawPassword string) (*identitydomain.Account, error) {
	var account identitydomain.Account
	err := tx.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	account = identitydomain.Account{
		ID:          node.Generate(),
		ExternalID:  uuid.NewString(),
		Email:       email,
		DisplayName: "Atrium Admin",
		Metadata:    datatypes.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if raw := strings.TrimSpace(rawPassword); raw != "" {
		hashed, err := password.Hash(raw)
		if err != nil {
			return nil, err
		}
		account.PasswordHash = &hashed
	}
	if err := tx.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func ensureMembershipTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, tenantID, accountID snowflake.ID) error {
	var membership membershipdomain.Membership
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND account_id = ?", tenantID, accountID).
		First(&membership).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	membership = membershipdomain.Membership{
		ID:        node.Generate(),
		TenantID:  tenantID,
		AccountID: accountID,
		Role:      role.SuperAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := membership.SetPermissions(role.DefaultPermissions(role.SuperAdmin)); err != nil {
		return err
	}
	return tx.WithContext(ctx).Create(&membership).Error
}
