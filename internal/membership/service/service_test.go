package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/authorization"
	"github.com/smallbiznis/atrium/internal/clock"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
	identityrepo "github.com/smallbiznis/atrium/internal/identity/repository"
	identityservice "github.com/smallbiznis/atrium/internal/identity/service"
	"github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/membership/repository"
	"github.com/smallbiznis/atrium/internal/role"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/atrium/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/atrium/internal/tenant/service"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

type testEnv struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	identity identitydomain.Service
	tenants  tenantdomain.Service
	svc      domain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&identitydomain.Account{},
		&identitydomain.Session{},
		&tenantdomain.Tenant{},
		&domain.Membership{},
		&domain.Invite{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	accountRepo, sessionRepo := identityrepo.New(dbConn)
	identitySvc := identityservice.New(log, accountRepo, sessionRepo, node, clk)

	enforcer, err := authorization.NewEnforcer(dbConn)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{
		DB:       dbConn,
		Log:      log,
		Enforcer: enforcer,
	})

	memberRepo := repository.NewRepository(dbConn)
	ledger := repository.NewInviteLedger(dbConn)
	tenantRepo := tenantrepo.NewRepository(dbConn)
	tenantSvc := tenantservice.NewService(dbConn, log, tenantRepo, memberRepo, authzSvc, node, clk)

	svc := NewService(Params{
		DB:       dbConn,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     memberRepo,
		Ledger:   ledger,
		Identity: identitySvc,
		Tenants:  tenantRepo,
		Authz:    authzSvc,
	})

	return &testEnv{
		db:       dbConn,
		clock:    clk,
		identity: identitySvc,
		tenants:  tenantSvc,
		svc:      svc,
	}
}

func (e *testEnv) newAccount(t *testing.T, email string) *identitydomain.Account {
	t.Helper()
	account, err := e.identity.Provision(context.Background(), email, "")
	require.NoError(t, err)
	return account
}

func (e *testEnv) newTenant(t *testing.T, name string, ownerID snowflake.ID) snowflake.ID {
	t.Helper()
	resp, err := e.tenants.Create(context.Background(), ownerID, tenantdomain.CreateTenantRequest{Name: name})
	require.NoError(t, err)
	id, err := snowflake.ParseString(resp.ID)
	require.NoError(t, err)
	return id
}

func TestInviteAndAccept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "ia-owner@example.com")
	tenantID := env.newTenant(t, "Invite Accept Co", owner.ID)

	result, err := env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  owner.ID,
		Email:    "ia-invitee@example.com",
		Role:     role.Manager,
	})
	require.NoError(t, err)
	require.True(t, result.IsNewAccount)
	require.NotEmpty(t, result.Token)

	invitee, err := env.identity.FindByEmail(ctx, "ia-invitee@example.com")
	require.NoError(t, err)

	membership, err := env.svc.AcceptInvite(ctx, invitee.ID, result.Token)
	require.NoError(t, err)
	require.Equal(t, role.Manager, membership.Role)

	perms, err := membership.PermissionSet()
	require.NoError(t, err)
	require.True(t, perms.Equal(role.DefaultPermissions(role.Manager)))

	// The pending invite is gone.
	invites, _, err := env.svc.ListInvites(ctx, tenantID, owner.ID, pagination.Pagination{})
	require.NoError(t, err)
	require.Empty(t, invites)
}

func TestInviteKnownAccountJoinsDirectly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "ka-owner@example.com")
	tenantID := env.newTenant(t, "Known Account Co", owner.ID)

	existing := env.newAccount(t, "ka-existing@example.com")

	result, err := env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  owner.ID,
		Email:    "ka-existing@example.com",
		Role:     role.Manager,
	})
	require.NoError(t, err)
	require.False(t, result.IsNewAccount)
	require.Empty(t, result.Token)
	require.Nil(t, result.Invite)
	require.NotNil(t, result.Membership)

	membership, err := env.svc.GetMember(ctx, tenantID, existing.ID)
	require.NoError(t, err)
	require.Equal(t, role.Manager, membership.Role)

	perms, err := membership.PermissionSet()
	require.NoError(t, err)
	require.True(t, perms.Equal(role.DefaultPermissions(role.Manager)))

	// The account joined directly; nothing is pending.
	invites, _, err := env.svc.ListInvites(ctx, tenantID, owner.ID, pagination.Pagination{})
	require.NoError(t, err)
	require.Empty(t, invites)
}

func TestInviteExistingMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "iem-owner@example.com")
	tenantID := env.newTenant(t, "Existing Member Co", owner.ID)

	_, err := env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  owner.ID,
		Email:    "iem-owner@example.com",
		Role:     role.Viewer,
	})
	require.ErrorIs(t, err, domain.ErrAlreadyMember)
}

func TestDuplicatePendingInvite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "dup-owner@example.com")
	tenantID := env.newTenant(t, "Duplicate Invite Co", owner.ID)

	_, err := env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  owner.ID,
		Email:    "dup-invitee@example.com",
		Role:     role.Employee,
	})
	require.NoError(t, err)

	_, err = env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  owner.ID,
		Email:    "dup-invitee@example.com",
		Role:     role.Manager,
	})
	require.ErrorIs(t, err, domain.ErrDuplicateInvite)

	// The ledger exposes the outstanding invite for resend decisions.
	ledger := repository.NewInviteLedger(env.db)
	pending, err := ledger.FindOutstanding(ctx, tenantID, "dup-invitee@example.com")
	require.NoError(t, err)
	require.Equal(t, role.Employee, pending.Role)

	_, err = ledger.FindOutstanding(ctx, tenantID, "nobody@example.com")
	require.ErrorIs(t, err, domain.ErrInviteNotFound)
}

func TestInviteRequiresManageUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "auth-owner@example.com")
	tenantID := env.newTenant(t, "Authz Invite Co", owner.ID)

	viewer := env.newAccount(t, "auth-viewer@example.com")
	_, err := env.svc.Enroll(ctx, tenantID, viewer.ID, role.Viewer, nil)
	require.NoError(t, err)

	_, err = env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  viewer.ID,
		Email:    "auth-other@example.com",
		Role:     role.Viewer,
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAcceptInviteTokenSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "su-owner@example.com")
	tenantID := env.newTenant(t, "Single Use Co", owner.ID)

	result, err := env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  owner.ID,
		Email:    "su-invitee@example.com",
		Role:     role.Employee,
	})
	require.NoError(t, err)

	invitee, err := env.identity.FindByEmail(ctx, "su-invitee@example.com")
	require.NoError(t, err)

	_, err = env.svc.AcceptInvite(ctx, invitee.ID, result.Token)
	require.NoError(t, err)

	_, err = env.svc.AcceptInvite(ctx, invitee.ID, result.Token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestAcceptInviteWrongAccountConsumesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "wa-owner@example.com")
	tenantID := env.newTenant(t, "Wrong Account Co", owner.ID)

	result, err := env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  owner.ID,
		Email:    "wa-invitee@example.com",
		Role:     role.Employee,
	})
	require.NoError(t, err)

	stranger := env.newAccount(t, "wa-stranger@example.com")
	_, err = env.svc.AcceptInvite(ctx, stranger.ID, result.Token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	// The token was spent by the failed attempt.
	invitee, err := env.identity.FindByEmail(ctx, "wa-invitee@example.com")
	require.NoError(t, err)
	_, err = env.svc.AcceptInvite(ctx, invitee.ID, result.Token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestAcceptExpiredInvite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "exp-owner@example.com")
	tenantID := env.newTenant(t, "Expired Invite Co", owner.ID)

	result, err := env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  owner.ID,
		Email:    "exp-invitee@example.com",
		Role:     role.Employee,
	})
	require.NoError(t, err)

	env.clock.Advance(domain.InviteTTL + time.Hour)

	invitee, err := env.identity.FindByEmail(ctx, "exp-invitee@example.com")
	require.NoError(t, err)
	_, err = env.svc.AcceptInvite(ctx, invitee.ID, result.Token)
	require.ErrorIs(t, err, domain.ErrInviteExpired)
}

func TestCancelInvite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "ci-owner@example.com")
	tenantID := env.newTenant(t, "Cancel Invite Co", owner.ID)

	result, err := env.svc.Invite(ctx, domain.InviteInput{
		TenantID: tenantID,
		ActorID:  owner.ID,
		Email:    "ci-invitee@example.com",
		Role:     role.Employee,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.CancelInvite(ctx, tenantID, owner.ID, result.Invite.ID))

	invitee, err := env.identity.FindByEmail(ctx, "ci-invitee@example.com")
	require.NoError(t, err)
	_, err = env.svc.AcceptInvite(ctx, invitee.ID, result.Token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestChangeRoleResetsPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "crr-owner@example.com")
	tenantID := env.newTenant(t, "Role Reset Co", owner.ID)

	member := env.newAccount(t, "crr-member@example.com")
	enrolled, err := env.svc.Enroll(ctx, tenantID, member.ID, role.Manager, nil)
	require.NoError(t, err)

	// Narrow the member's permissions, then change the role.
	custom := role.NewSet(role.PermViewDashboard)
	_, err = env.svc.UpdatePermissions(ctx, tenantID, owner.ID, member.ID, custom)
	require.NoError(t, err)

	updated, err := env.svc.ChangeRole(ctx, tenantID, owner.ID, member.ID, role.Viewer)
	require.NoError(t, err)
	require.Equal(t, role.Viewer, updated.Role)

	perms, err := updated.PermissionSet()
	require.NoError(t, err)
	require.True(t, perms.Equal(role.DefaultPermissions(role.Viewer)))
	require.Equal(t, enrolled.ID, updated.ID)
}

func TestChangeRoleSelfDemotion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "sd-owner@example.com")
	tenantID := env.newTenant(t, "Self Demotion Co", owner.ID)

	admin := env.newAccount(t, "sd-admin@example.com")
	_, err := env.svc.Enroll(ctx, tenantID, admin.ID, role.Admin, nil)
	require.NoError(t, err)

	// With the owner still managing, the admin may step down.
	updated, err := env.svc.ChangeRole(ctx, tenantID, admin.ID, admin.ID, role.Viewer)
	require.NoError(t, err)
	require.Equal(t, role.Viewer, updated.Role)

	// The owner is now the sole manager and cannot demote themself.
	_, err = env.svc.ChangeRole(ctx, tenantID, owner.ID, owner.ID, role.Employee)
	require.ErrorIs(t, err, domain.ErrSelfDemotion)
}

func TestChangeRoleLastManager(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "lm-owner@example.com")
	tenantID := env.newTenant(t, "Last Manager Co", owner.ID)

	admin := env.newAccount(t, "lm-admin@example.com")
	_, err := env.svc.Enroll(ctx, tenantID, admin.ID, role.Admin, nil)
	require.NoError(t, err)

	// Two managers: demoting one is fine.
	_, err = env.svc.ChangeRole(ctx, tenantID, owner.ID, admin.ID, role.Viewer)
	require.NoError(t, err)

	// Grant the demoted member manage-users so they can act without
	// counting as a manager, then have them demote the sole manager.
	perms := role.DefaultPermissions(role.Viewer)
	perms.Add(role.PermManageUsers)
	_, err = env.svc.UpdatePermissions(ctx, tenantID, owner.ID, admin.ID, perms)
	require.NoError(t, err)

	_, err = env.svc.ChangeRole(ctx, tenantID, admin.ID, owner.ID, role.Viewer)
	require.ErrorIs(t, err, domain.ErrLastManager)
}

func TestRemoveMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "rm-owner@example.com")
	tenantID := env.newTenant(t, "Remove Member Co", owner.ID)

	member := env.newAccount(t, "rm-member@example.com")
	_, err := env.svc.Enroll(ctx, tenantID, member.ID, role.Employee, nil)
	require.NoError(t, err)

	require.NoError(t, env.svc.RemoveMember(ctx, tenantID, owner.ID, member.ID))

	_, err = env.svc.GetMember(ctx, tenantID, member.ID)
	require.ErrorIs(t, err, domain.ErrMembershipNotFound)
}

func TestRemoveMemberSelf(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "rms-owner@example.com")
	tenantID := env.newTenant(t, "Remove Self Co", owner.ID)

	err := env.svc.RemoveMember(ctx, tenantID, owner.ID, owner.ID)
	require.ErrorIs(t, err, domain.ErrSelfRemoval)
}

func TestRemoveLastManager(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "rlm-owner@example.com")
	tenantID := env.newTenant(t, "Remove Last Manager Co", owner.ID)

	admin := env.newAccount(t, "rlm-admin@example.com")
	_, err := env.svc.Enroll(ctx, tenantID, admin.ID, role.Admin, nil)
	require.NoError(t, err)

	// Two managers; removing one works.
	require.NoError(t, env.svc.RemoveMember(ctx, tenantID, admin.ID, owner.ID))

	// A plain member cannot remove anyone.
	viewer := env.newAccount(t, "rlm-viewer@example.com")
	_, err = env.svc.Enroll(ctx, tenantID, viewer.ID, role.Viewer, nil)
	require.NoError(t, err)
	err = env.svc.RemoveMember(ctx, tenantID, viewer.ID, admin.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	// A member granted manage-users can, but not when the target is the
	// sole remaining manager.
	perms := role.DefaultPermissions(role.Viewer)
	perms.Add(role.PermManageUsers)
	_, err = env.svc.UpdatePermissions(ctx, tenantID, admin.ID, viewer.ID, perms)
	require.NoError(t, err)

	err = env.svc.RemoveMember(ctx, tenantID, viewer.ID, admin.ID)
	require.ErrorIs(t, err, domain.ErrLastManager)
}

func TestUpdatePermissionsLocked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "lp-owner@example.com")
	tenantID := env.newTenant(t, "Locked Perm Co", owner.ID)

	admin := env.newAccount(t, "lp-admin@example.com")
	_, err := env.svc.Enroll(ctx, tenantID, admin.ID, role.Admin, nil)
	require.NoError(t, err)

	// Dropping manage-users from an Admin is rejected.
	perms := role.DefaultPermissions(role.Admin)
	perms.Remove(role.PermManageUsers)
	_, err = env.svc.UpdatePermissions(ctx, tenantID, owner.ID, admin.ID, perms)
	require.ErrorIs(t, err, role.ErrPermissionLocked)

	var lockedErr *role.LockedPermissionError
	require.ErrorAs(t, err, &lockedErr)
	require.Equal(t, role.PermManageUsers, lockedErr.Permission)

	// The membership is unchanged.
	member, err := env.svc.GetMember(ctx, tenantID, admin.ID)
	require.NoError(t, err)
	stored, err := member.PermissionSet()
	require.NoError(t, err)
	require.True(t, stored.Contains(role.PermManageUsers))
}

func TestUpdatePermissionsGrantAndRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "up-owner@example.com")
	tenantID := env.newTenant(t, "Update Perms Co", owner.ID)

	member := env.newAccount(t, "up-member@example.com")
	_, err := env.svc.Enroll(ctx, tenantID, member.ID, role.Viewer, nil)
	require.NoError(t, err)

	perms := role.DefaultPermissions(role.Viewer)
	perms.Add(role.PermViewReports)
	updated, err := env.svc.UpdatePermissions(ctx, tenantID, owner.ID, member.ID, perms)
	require.NoError(t, err)

	stored, err := updated.PermissionSet()
	require.NoError(t, err)
	require.True(t, stored.Contains(role.PermViewReports))
}

func TestListMembersRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newAccount(t, "list-owner@example.com")
	tenantID := env.newTenant(t, "List Members Co", owner.ID)

	outsider := env.newAccount(t, "list-outsider@example.com")
	_, _, err := env.svc.ListMembers(ctx, tenantID, outsider.ID, pagination.Pagination{})
	require.ErrorIs(t, err, domain.ErrForbidden)

	views, _, err := env.svc.ListMembers(ctx, tenantID, owner.ID, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "list-owner@example.com", views[0].Email)
}
