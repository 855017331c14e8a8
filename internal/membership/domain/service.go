package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/atrium/internal/role"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

// InviteInput carries an invite request from an acting member.
type InviteInput struct {
	TenantID snowflake.ID
	ActorID  snowflake.ID
	Email    string
	Role     role.Role
}

// InviteResult reports the outcome of issuing an invite. When the email
// belongs to a known account the membership is created directly and
// Membership is set; otherwise Invite holds the pending record and Token the
// raw redemption token, which is never persisted and never surfaced again.
type InviteResult struct {
	Invite       *Invite
	Membership   *Membership
	Token        string
	IsNewAccount bool
}

// MemberView is a membership joined with its account for listing.
type MemberView struct {
	Membership  Membership
	Email       string
	DisplayName string
}

// Service is the membership service surface. Every mutating operation
// authorizes the actor against the tenant before touching state.
type Service interface {
	// Invite links a known account as a member directly, or provisions an
	// account and issues a pending invite when the email is unknown.
	Invite(ctx context.Context, in InviteInput) (*InviteResult, error)
	// AcceptInvite consumes a redemption token and enrolls the account.
	// The token is spent even when enrollment finds an existing membership.
	AcceptInvite(ctx context.Context, accountID snowflake.ID, token string) (*Membership, error)
	CancelInvite(ctx context.Context, tenantID, actorID, inviteID snowflake.ID) error
	ListInvites(ctx context.Context, tenantID, actorID snowflake.ID, page pagination.Pagination) ([]Invite, *pagination.PageInfo, error)

	// Enroll creates a membership directly with the role's default
	// permissions, bypassing the invite flow. Used for tenant bootstrap.
	Enroll(ctx context.Context, tenantID, accountID snowflake.ID, r role.Role, invitedBy *snowflake.ID) (*Membership, error)
	// ChangeRole moves a member to a new role and resets their permissions
	// to the new role's defaults.
	ChangeRole(ctx context.Context, tenantID, actorID, accountID snowflake.ID, newRole role.Role) (*Membership, error)
	// UpdatePermissions replaces a member's permission set. Locked
	// permissions for the member's role cannot be cleared.
	UpdatePermissions(ctx context.Context, tenantID, actorID, accountID snowflake.ID, perms role.Set) (*Membership, error)
	RemoveMember(ctx context.Context, tenantID, actorID, accountID snowflake.ID) error
	GetMember(ctx context.Context, tenantID, accountID snowflake.ID) (*Membership, error)
	ListMembers(ctx context.Context, tenantID, actorID snowflake.ID, page pagination.Pagination) ([]MemberView, *pagination.PageInfo, error)
}

// InviteTTL is how long a pending invite stays redeemable.
const InviteTTL = 14 * 24 * time.Hour
