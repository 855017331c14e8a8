package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/role"
	"github.com/smallbiznis/atrium/pkg/db"
)

type authzTestEnv struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  Service
}

func newAuthzTestEnv(t *testing.T) *authzTestEnv {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(&membershipdomain.Membership{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	enforcer, err := NewEnforcer(dbConn)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:       dbConn,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
	})

	return &authzTestEnv{db: dbConn, node: node, svc: svc}
}

func (e *authzTestEnv) enroll(t *testing.T, tenantID, accountID snowflake.ID, r role.Role, perms role.Set) {
	t.Helper()

	member := membershipdomain.Membership{
		ID:        e.node.Generate(),
		TenantID:  tenantID,
		AccountID: accountID,
		Role:      r,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, member.SetPermissions(perms))
	require.NoError(t, e.db.Create(&member).Error)
}

func (e *authzTestEnv) setPermissions(t *testing.T, tenantID, accountID snowflake.ID, perms role.Set) {
	t.Helper()

	var member membershipdomain.Membership
	require.NoError(t, e.db.Where("tenant_id = ? AND account_id = ?", tenantID, accountID).First(&member).Error)
	require.NoError(t, member.SetPermissions(perms))
	require.NoError(t, e.db.Save(&member).Error)
}

func TestAuthorizeGrantedPermission(t *testing.T) {
	env := newAuthzTestEnv(t)
	tenantID := env.node.Generate()
	accountID := env.node.Generate()

	env.enroll(t, tenantID, accountID, role.Manager, role.DefaultPermissions(role.Manager))

	require.NoError(t, env.svc.Authorize(context.Background(), accountID, tenantID, role.PermViewDashboard))
}

func TestAuthorizeDeniesMissingPermission(t *testing.T) {
	env := newAuthzTestEnv(t)
	tenantID := env.node.Generate()
	accountID := env.node.Generate()

	env.enroll(t, tenantID, accountID, role.Viewer, role.DefaultPermissions(role.Viewer))

	err := env.svc.Authorize(context.Background(), accountID, tenantID, role.PermManageUsers)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeDeniesNonMember(t *testing.T) {
	env := newAuthzTestEnv(t)

	err := env.svc.Authorize(context.Background(), env.node.Generate(), env.node.Generate(), role.PermViewDashboard)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeTracksPermissionEdits(t *testing.T) {
	env := newAuthzTestEnv(t)
	tenantID := env.node.Generate()
	accountID := env.node.Generate()

	env.enroll(t, tenantID, accountID, role.Manager, role.DefaultPermissions(role.Manager))
	require.NoError(t, env.svc.Authorize(context.Background(), accountID, tenantID, role.PermViewReports))

	// Revoking the permission on the membership row denies on the next check.
	trimmed := role.DefaultPermissions(role.Manager)
	trimmed.Remove(role.PermViewReports)
	env.setPermissions(t, tenantID, accountID, trimmed)

	err := env.svc.Authorize(context.Background(), accountID, tenantID, role.PermViewReports)
	require.ErrorIs(t, err, ErrForbidden)

	// Granting it back restores access.
	env.setPermissions(t, tenantID, accountID, role.DefaultPermissions(role.Manager))
	require.NoError(t, env.svc.Authorize(context.Background(), accountID, tenantID, role.PermViewReports))
}

func TestLockedPermissionFlowsFromRole(t *testing.T) {
	env := newAuthzTestEnv(t)
	tenantID := env.node.Generate()
	accountID := env.node.Generate()

	// Even with an empty override set, the role grant carries every locked
	// permission for the role.
	env.enroll(t, tenantID, accountID, role.Admin, role.NewSet())

	for _, p := range role.Catalog() {
		if !role.IsLocked(role.Admin, p) {
			continue
		}
		require.NoError(t, env.svc.Authorize(context.Background(), accountID, tenantID, p))
	}
}

func TestAuthorizeScopedToTenant(t *testing.T) {
	env := newAuthzTestEnv(t)
	tenantA := env.node.Generate()
	tenantB := env.node.Generate()
	accountID := env.node.Generate()

	env.enroll(t, tenantA, accountID, role.Owner, role.DefaultPermissions(role.Owner))

	require.NoError(t, env.svc.Authorize(context.Background(), accountID, tenantA, role.PermManageUsers))
	require.ErrorIs(t, env.svc.Authorize(context.Background(), accountID, tenantB, role.PermManageUsers), ErrForbidden)
}

func TestDropMemberRevokesAccess(t *testing.T) {
	env := newAuthzTestEnv(t)
	tenantID := env.node.Generate()
	accountID := env.node.Generate()

	env.enroll(t, tenantID, accountID, role.Owner, role.DefaultPermissions(role.Owner))
	require.NoError(t, env.svc.Authorize(context.Background(), accountID, tenantID, role.PermManageUsers))

	require.NoError(t, env.db.Where("tenant_id = ? AND account_id = ?", tenantID, accountID).Delete(&membershipdomain.Membership{}).Error)
	require.NoError(t, env.svc.DropMember(tenantID, accountID))

	require.ErrorIs(t, env.svc.Authorize(context.Background(), accountID, tenantID, role.PermManageUsers), ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	env := newAuthzTestEnv(t)

	require.ErrorIs(t, env.svc.Authorize(context.Background(), 0, env.node.Generate(), role.PermViewDashboard), ErrInvalidActor)
	require.ErrorIs(t, env.svc.Authorize(context.Background(), env.node.Generate(), 0, role.PermViewDashboard), ErrInvalidTenant)
	require.ErrorIs(t, env.svc.Authorize(context.Background(), env.node.Generate(), env.node.Generate(), role.Permission("no-such")), ErrForbidden)
}
