package role

// defaults maps each role to its canonical permission grant. Kept as pure
// data so the table is trivially unit-testable; Admin and SuperAdmin are
// resolved to the full catalog at lookup time.
var defaults = map[Role][]Permission{
	Owner: nil, // full catalog
	Admin: nil, // full catalog
	Manager: {
		PermViewDashboard,
		PermViewTransactions,
		PermEditTransactions,
		PermViewReports,
		PermUseAI,
		PermManageGoals,
		PermManageAssets,
		PermManageCostCenters,
	},
	BPOPartner: {
		PermViewDashboard,
		PermViewCRM,
		PermManageTasks,
		PermManageLeads,
		PermManageCompanies,
		PermManageUsers,
		PermManageSettings,
	},
	Consultant: {
		PermViewDashboard,
		PermViewCRM,
		PermManageTasks,
		PermManageLeads,
		PermManageCompanies,
		PermManageSettings,
	},
	Employee: {
		PermViewDashboard,
		PermViewTransactions,
		PermEditTransactions,
	},
	Viewer: {
		PermViewDashboard,
		PermViewTransactions,
	},
	SuperAdmin: nil, // full catalog
}

// locked lists permissions a role may never drop, regardless of
// customization.
var locked = map[Role][]Permission{
	Admin:      {PermManageUsers},
	SuperAdmin: {PermManageUsers},
}

// DefaultPermissions returns the canonical permission set a freshly assigned
// role receives. The result is a fresh set; callers may mutate it.
func DefaultPermissions(r Role) Set {
	grants, ok := defaults[r]
	if !ok {
		return NewSet()
	}
	if grants == nil {
		return NewSet(catalog...)
	}
	return NewSet(grants...)
}

// IsLocked reports whether the permission must remain granted for the role.
func IsLocked(r Role, p Permission) bool {
	for _, lp := range locked[r] {
		if lp == p {
			return true
		}
	}
	return false
}
