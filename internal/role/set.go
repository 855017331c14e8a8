package role

import (
	"errors"
	"fmt"
	"sort"
)

// ErrPermissionLocked is the sentinel matched by errors.Is for any
// LockedPermissionError.
var ErrPermissionLocked = errors.New("permission_locked")

// LockedPermissionError reports an attempt to clear a permission the role is
// forbidden to drop.
type LockedPermissionError struct {
	Role       Role
	Permission Permission
}

func (e *LockedPermissionError) Error() string {
	return fmt.Sprintf("permission %s is locked for role %s", e.Permission, e.Role)
}

func (e *LockedPermissionError) Is(target error) bool {
	return target == ErrPermissionLocked
}

// Set is a value set of permissions. Outside a role context it is an
// unrestricted set; RemoveFor enforces the registry's locked permissions.
type Set map[Permission]struct{}

func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s Set) Add(p Permission) { s[p] = struct{}{} }

func (s Set) Remove(p Permission) { delete(s, p) }

// RemoveFor removes the permission in the context of a role, rejecting the
// removal when the registry marks it locked.
func (s Set) RemoveFor(r Role, p Permission) error {
	if IsLocked(r, p) {
		return &LockedPermissionError{Role: r, Permission: p}
	}
	delete(s, p)
	return nil
}

func (s Set) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if !other.Contains(p) {
			return false
		}
	}
	return true
}

func (s Set) Len() int { return len(s) }

// List returns the permissions in catalog order, with any unknown entries
// appended alphabetically.
func (s Set) List() []Permission {
	out := make([]Permission, 0, len(s))
	for _, p := range catalog {
		if s.Contains(p) {
			out = append(out, p)
		}
	}
	var extra []Permission
	for p := range s {
		if !p.Valid() {
			extra = append(extra, p)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Strings returns List as plain strings for persistence.
func (s Set) Strings() []string {
	perms := s.List()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// FromStrings rebuilds a Set from its persisted form.
func FromStrings(raw []string) Set {
	s := make(Set, len(raw))
	for _, p := range raw {
		s[Permission(p)] = struct{}{}
	}
	return s
}
