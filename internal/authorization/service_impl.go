package authorization

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/observability/metrics"
	"github.com/smallbiznis/atrium/internal/role"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

// NewEnforcer opens the casbin enforcer over the shared gorm connection and
// seeds role grants for locked permissions.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedLockedGrants(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, accountID, tenantID snowflake.ID, perm role.Permission) error {
	if accountID == 0 {
		return ErrInvalidActor
	}
	if tenantID == 0 {
		return ErrInvalidTenant
	}
	if !perm.Valid() {
		return ErrForbidden
	}

	if err := s.ResyncMember(ctx, tenantID, accountID); err != nil {
		if errors.Is(err, ErrForbidden) {
			s.denied(ctx, accountID, tenantID, perm)
			return ErrForbidden
		}
		return err
	}

	subject := accountSubject(accountID)
	dom := tenantDomain(tenantID)
	allowed, err := s.enforcer.Enforce(subject, dom, string(perm))
	if err != nil {
		return err
	}
	if !allowed {
		s.denied(ctx, accountID, tenantID, perm)
		return ErrForbidden
	}
	return nil
}

// ResyncMember rebuilds the member's enforcer state from the membership row:
// one grouping into the role and one direct policy per granted permission.
func (s *ServiceImpl) ResyncMember(ctx context.Context, tenantID, accountID snowflake.ID) error {
	memberRole, perms, err := s.memberGrants(ctx, tenantID, accountID)
	if err != nil {
		return err
	}

	subject := accountSubject(accountID)
	dom := tenantDomain(tenantID)
	roleName := roleSubject(memberRole)

	if err := s.ensureGrouping(subject, roleName, dom); err != nil {
		return err
	}

	if _, err := s.enforcer.RemoveFilteredPolicy(0, subject, dom); err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := s.enforcer.AddPolicy(subject, dom, string(p)); err != nil {
			return err
		}
	}
	return nil
}

func (s *ServiceImpl) DropMember(tenantID, accountID snowflake.ID) error {
	subject := accountSubject(accountID)
	dom := tenantDomain(tenantID)
	if _, err := s.enforcer.RemoveFilteredPolicy(0, subject, dom); err != nil {
		return err
	}
	_, err := s.enforcer.RemoveFilteredGroupingPolicy(0, subject, "", dom)
	return err
}

func (s *ServiceImpl) memberGrants(ctx context.Context, tenantID, accountID snowflake.ID) (role.Role, []role.Permission, error) {
	var row struct {
		Role        string `gorm:"column:role"`
		Permissions []byte `gorm:"column:permissions"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role, permissions
		 FROM memberships
		 WHERE tenant_id = ? AND account_id = ?
		 LIMIT 1`,
		tenantID,
		accountID,
	).Scan(&row).Error; err != nil {
		return "", nil, err
	}

	r, err := role.Parse(row.Role)
	if err != nil {
		return "", nil, ErrForbidden
	}

	var raw []string
	if len(row.Permissions) > 0 {
		if err := json.Unmarshal(row.Permissions, &raw); err != nil {
			return "", nil, err
		}
	}
	perms := make([]role.Permission, 0, len(raw))
	for _, p := range raw {
		perms = append(perms, role.Permission(p))
	}
	return r, perms, nil
}

func (s *ServiceImpl) ensureGrouping(subject, roleName, dom string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", dom)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, dom)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, dom)
	return err
}

func (s *ServiceImpl) denied(ctx context.Context, accountID, tenantID snowflake.ID, perm role.Permission) {
	if s.metrics != nil {
		s.metrics.RecordAuthorizationDenied(ctx, tenantID.String(), string(perm))
	}
	if s.auditSvc == nil {
		return
	}
	actorID := accountID.String()
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &tenantID, "account", &actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"permission": string(perm),
		"subject":    accountSubject(accountID),
	})
}

func accountSubject(accountID snowflake.ID) string {
	return fmt.Sprintf("account:%s", accountID.String())
}

func tenantDomain(tenantID snowflake.ID) string {
	return fmt.Sprintf("tenant:%s", tenantID.String())
}

func roleSubject(r role.Role) string {
	return fmt.Sprintf("role:%s", strings.ToLower(string(r)))
}

// seedLockedGrants installs role grants for permissions the registry marks
// locked. Locked permissions hold regardless of per-member edits, so the
// role path may grant them unconditionally across every tenant domain.
func seedLockedGrants(enforcer *casbin.SyncedEnforcer) error {
	for _, r := range role.All() {
		for _, p := range role.Catalog() {
			if !role.IsLocked(r, p) {
				continue
			}
			if _, err := enforcer.AddPolicy(roleSubject(r), "*", string(p)); err != nil {
				return err
			}
		}
	}
	return nil
}
