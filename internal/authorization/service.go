// Package authorization answers "may this account exercise this permission
// in this tenant". Role grants are seeded from the role registry; per-member
// overrides are synced from the membership row on each check.
package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/atrium/internal/role"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrForbidden     = errors.New("authorization_forbidden")
)

type Service interface {
	// Authorize checks the account's permission within the tenant. A nil
	// return means allowed; ErrForbidden means the membership exists but
	// lacks the permission, or no membership exists at all.
	Authorize(ctx context.Context, accountID, tenantID snowflake.ID, perm role.Permission) error
	// ResyncMember refreshes the enforcer's grouping and override policies
	// for one member after a role or permission change.
	ResyncMember(ctx context.Context, tenantID, accountID snowflake.ID) error
	// DropMember removes all enforcer state for a member of a tenant.
	DropMember(tenantID, accountID snowflake.ID) error
}
