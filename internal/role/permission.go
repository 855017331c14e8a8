package role

// Permission is an atomic capability flag. The catalog is opaque to this
// package; downstream features interpret the flags.
type Permission string

const (
	PermViewDashboard     Permission = "view-dashboard"
	PermViewTransactions  Permission = "view-transactions"
	PermEditTransactions  Permission = "edit-transactions"
	PermViewReports       Permission = "view-reports"
	PermUseAI             Permission = "use-ai"
	PermManageGoals       Permission = "manage-goals"
	PermManageAssets      Permission = "manage-assets"
	PermManageCostCenters Permission = "manage-cost-centers"
	PermViewCRM           Permission = "view-crm"
	PermManageTasks       Permission = "manage-tasks"
	PermManageLeads       Permission = "manage-leads"
	PermManageCompanies   Permission = "manage-companies"
	PermManageUsers       Permission = "manage-users"
	PermManageSettings    Permission = "manage-settings"
)

var catalog = []Permission{
	PermViewDashboard,
	PermViewTransactions,
	PermEditTransactions,
	PermViewReports,
	PermUseAI,
	PermManageGoals,
	PermManageAssets,
	PermManageCostCenters,
	PermViewCRM,
	PermManageTasks,
	PermManageLeads,
	PermManageCompanies,
	PermManageUsers,
	PermManageSettings,
}

// Catalog returns the full permission catalog in declaration order.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	return out
}

func (p Permission) Valid() bool {
	for _, known := range catalog {
		if p == known {
			return true
		}
	}
	return false
}

func (p Permission) String() string { return string(p) }
