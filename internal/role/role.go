// Package role holds the static role and permission catalog shared by the
// membership and authorization services.
package role

import (
	"errors"
	"strings"
)

// Role names a bundle of default permissions within a tenant.
type Role string

const (
	Owner      Role = "OWNER"
	Admin      Role = "ADMIN"
	Manager    Role = "MANAGER"
	Employee   Role = "EMPLOYEE"
	BPOPartner Role = "BPO_PARTNER"
	Consultant Role = "CONSULTANT"
	Viewer     Role = "VIEWER"
	SuperAdmin Role = "SUPER_ADMIN"
)

var ErrInvalidRole = errors.New("invalid_role")

var all = []Role{Owner, Admin, Manager, Employee, BPOPartner, Consultant, Viewer, SuperAdmin}

// All returns every known role.
func All() []Role {
	out := make([]Role, len(all))
	copy(out, all)
	return out
}

// Parse normalizes a raw role name. It accepts the wire spelling used by the
// API (case-insensitive, dashes or underscores).
func Parse(raw string) (Role, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_"))
	for _, r := range all {
		if string(r) == normalized {
			return r, nil
		}
	}
	return "", ErrInvalidRole
}

func (r Role) Valid() bool {
	for _, known := range all {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// CanManageMembers reports whether the role counts toward the tenant's
// last-admin constraint. A tenant must always retain at least one member
// holding one of these roles.
func (r Role) CanManageMembers() bool {
	switch r {
	case Owner, Admin, SuperAdmin:
		return true
	}
	return false
}
