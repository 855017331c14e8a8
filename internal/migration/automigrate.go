package migration

import (
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
)

// AutoMigrate builds the schema from the gorm models for databases the
// embedded SQL migrations do not target.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&identitydomain.Account{},
		&identitydomain.Session{},
		&tenantdomain.Tenant{},
		&membershipdomain.Membership{},
		&membershipdomain.Invite{},
		&auditdomain.AuditLog{},
	)
}
