// Package domain contains persistence models and the service surface for
// tenant membership.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	"github.com/smallbiznis/atrium/internal/role"
)

// Membership binds an account to a tenant with a role and an explicit
// permission set. The (tenant_id, account_id) unique index is the final
// arbiter against concurrent enrollment.
type Membership struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	TenantID    snowflake.ID   `gorm:"column:tenant_id;not null;index;uniqueIndex:ux_memberships_tenant_account,priority:1" json:"tenant_id"`
	AccountID   snowflake.ID   `gorm:"column:account_id;not null;index;uniqueIndex:ux_memberships_tenant_account,priority:2" json:"account_id"`
	Role        role.Role      `gorm:"type:text;not null" json:"role"`
	Permissions datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"permissions"`
	InvitedBy   *snowflake.ID  `gorm:"column:invited_by" json:"invited_by,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "memberships" }

// PermissionSet decodes the stored permission list.
func (m *Membership) PermissionSet() (role.Set, error) {
	var raw []string
	if len(m.Permissions) > 0 {
		if err := json.Unmarshal(m.Permissions, &raw); err != nil {
			return nil, err
		}
	}
	return role.FromStrings(raw), nil
}

// SetPermissions encodes a permission set into the stored column.
func (m *Membership) SetPermissions(set role.Set) error {
	data, err := json.Marshal(set.Strings())
	if err != nil {
		return err
	}
	m.Permissions = datatypes.JSON(data)
	return nil
}

// Invite tracks a pending invitation. Only the hash of the redemption token
// is stored; the raw token is surfaced once, at issue time. The
// (tenant_id, email) unique index rejects duplicate pending invites.
type Invite struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"column:tenant_id;not null;index;uniqueIndex:ux_invites_tenant_email,priority:1" json:"tenant_id"`
	Email     string       `gorm:"type:text;not null;uniqueIndex:ux_invites_tenant_email,priority:2" json:"email"`
	Role      role.Role    `gorm:"type:text;not null" json:"role"`
	TokenHash string       `gorm:"column:token_hash;type:text;not null;uniqueIndex" json:"-"`
	InvitedBy snowflake.ID `gorm:"column:invited_by;not null;index" json:"invited_by"`
	ExpiresAt time.Time    `gorm:"column:expires_at;not null" json:"expires_at"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Invite) TableName() string { return "invites" }

// Expired reports whether the invite is past its expiry at the given time.
func (i *Invite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
