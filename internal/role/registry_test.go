package role

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPermissionsFullCatalogForAdmins(t *testing.T) {
	full := NewSet(Catalog()...)
	for _, r := range []Role{Admin, SuperAdmin, Owner} {
		assert.True(t, DefaultPermissions(r).Equal(full), "role %s", r)
	}
}

func TestDefaultPermissionsDeterministic(t *testing.T) {
	for _, r := range All() {
		first := DefaultPermissions(r)
		second := DefaultPermissions(r)
		assert.True(t, first.Equal(second), "role %s", r)
	}
}

func TestDefaultPermissionsManager(t *testing.T) {
	perms := DefaultPermissions(Manager)
	assert.True(t, perms.Contains(PermEditTransactions))
	assert.True(t, perms.Contains(PermUseAI))
	assert.True(t, perms.Contains(PermManageCostCenters))
	assert.False(t, perms.Contains(PermManageUsers))
	assert.False(t, perms.Contains(PermViewCRM))
}

func TestDefaultPermissionsConsultantLacksManageUsers(t *testing.T) {
	partner := DefaultPermissions(BPOPartner)
	consultant := DefaultPermissions(Consultant)

	assert.True(t, partner.Contains(PermManageUsers))
	assert.False(t, consultant.Contains(PermManageUsers))

	partner.Remove(PermManageUsers)
	assert.True(t, partner.Equal(consultant))
}

func TestViewerIsReadOnly(t *testing.T) {
	perms := DefaultPermissions(Viewer)
	assert.True(t, perms.Contains(PermViewTransactions))
	assert.False(t, perms.Contains(PermEditTransactions))
}

func TestIsLocked(t *testing.T) {
	assert.True(t, IsLocked(Admin, PermManageUsers))
	assert.True(t, IsLocked(SuperAdmin, PermManageUsers))
	assert.False(t, IsLocked(Owner, PermManageUsers))
	assert.False(t, IsLocked(Admin, PermViewDashboard))
	assert.False(t, IsLocked(Manager, PermManageUsers))
}

func TestRemoveForLockedPermission(t *testing.T) {
	perms := DefaultPermissions(Admin)

	err := perms.RemoveFor(Admin, PermManageUsers)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionLocked))

	var locked *LockedPermissionError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, Admin, locked.Role)
	assert.Equal(t, PermManageUsers, locked.Permission)

	// the set is unchanged after the rejected removal
	assert.True(t, perms.Contains(PermManageUsers))

	require.NoError(t, perms.RemoveFor(Admin, PermUseAI))
	assert.False(t, perms.Contains(PermUseAI))
}

func TestParseRole(t *testing.T) {
	r, err := Parse("bpo-partner")
	require.NoError(t, err)
	assert.Equal(t, BPOPartner, r)

	r, err = Parse("super_admin")
	require.NoError(t, err)
	assert.Equal(t, SuperAdmin, r)

	_, err = Parse("mastermind")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestSetRoundTrip(t *testing.T) {
	perms := DefaultPermissions(Employee)
	rebuilt := FromStrings(perms.Strings())
	assert.True(t, perms.Equal(rebuilt))
}
