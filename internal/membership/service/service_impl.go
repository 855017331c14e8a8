package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/atrium/internal/audit/domain"
	"github.com/smallbiznis/atrium/internal/audit/masking"
	"github.com/smallbiznis/atrium/internal/authorization"
	"github.com/smallbiznis/atrium/internal/clock"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
	"github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/observability/metrics"
	"github.com/smallbiznis/atrium/internal/providers/email"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	"github.com/smallbiznis/atrium/internal/role"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

const inviteTokenBytes = 32

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Ledger   domain.InviteLedger
	Identity identitydomain.Service
	Tenants  tenantdomain.Repository
	Authz    authorization.Service
	Email    email.Provider      `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
	Limiter  *ratelimit.Limiter  `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	ledger   domain.InviteLedger
	identity identitydomain.Service
	tenants  tenantdomain.Repository
	authz    authorization.Service
	email    email.Provider
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("membership.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		ledger:   p.Ledger,
		identity: p.Identity,
		tenants:  p.Tenants,
		authz:    p.Authz,
		email:    p.Email,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
		limiter:  p.Limiter,
	}
}

func (s *Service) Invite(ctx context.Context, in domain.InviteInput) (*domain.InviteResult, error) {
	emailAddr, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	if !in.Role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	if err := s.authorize(ctx, in.TenantID, in.ActorID); err != nil {
		return nil, err
	}

	if s.limiter.Enabled() {
		allowed, err := s.limiter.AllowInvite(ctx, in.TenantID.String())
		if err != nil {
			s.log.Warn("invite rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			return nil, domain.ErrRateLimited
		}
	}

	isNewAccount := false
	account, err := s.identity.FindByEmail(ctx, emailAddr)
	if err != nil {
		if !errors.Is(err, identitydomain.ErrAccountNotFound) {
			return nil, err
		}
		isNewAccount = true
		account, err = s.identity.Provision(ctx, emailAddr, "")
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.repo.Find(ctx, in.TenantID, account.ID); err == nil {
		return nil, domain.ErrAlreadyMember
	} else if !errors.Is(err, domain.ErrMembershipNotFound) {
		return nil, err
	}

	// An email already in the PendingInvite state stays there. This also
	// covers accounts provisioned by an earlier invite, which would
	// otherwise look like known accounts below.
	if _, err := s.ledger.FindOutstanding(ctx, in.TenantID, emailAddr); err == nil {
		return nil, domain.ErrDuplicateInvite
	} else if !errors.Is(err, domain.ErrInviteNotFound) {
		return nil, err
	}

	// A known account joins immediately. No token round trip: there is no
	// out-of-band identity to confirm.
	if !isNewAccount {
		membership, err := s.enroll(ctx, in.TenantID, account.ID, in.Role, &in.ActorID)
		if err != nil {
			return nil, err
		}
		s.audit(ctx, in.TenantID, in.ActorID, auditdomain.ActionMemberEnrolled, "membership", membership.ID.String(), map[string]any{
			"account_id": account.ID.String(),
			"email":      emailAddr,
			"role":       string(in.Role),
		})
		return &domain.InviteResult{
			Membership:   membership,
			IsNewAccount: false,
		}, nil
	}

	rawToken, err := newInviteToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	invite := &domain.Invite{
		ID:        s.genID.Generate(),
		TenantID:  in.TenantID,
		Email:     emailAddr,
		Role:      in.Role,
		TokenHash: hashToken(rawToken),
		InvitedBy: in.ActorID,
		ExpiresAt: now.Add(domain.InviteTTL),
		CreatedAt: now,
	}
	if err := s.ledger.Create(ctx, invite); err != nil {
		return nil, err
	}

	s.deliverInvite(ctx, invite, rawToken)
	s.audit(ctx, invite.TenantID, in.ActorID, auditdomain.ActionMemberInvited, "invite", invite.ID.String(), map[string]any{
		"email": emailAddr,
		"role":  string(in.Role),
		"token": masking.MaskSecret(rawToken),
	})
	if s.metrics != nil {
		s.metrics.RecordInviteCreated(ctx, invite.TenantID.String(), string(in.Role))
	}

	return &domain.InviteResult{
		Invite:       invite,
		Token:        rawToken,
		IsNewAccount: isNewAccount,
	}, nil
}

// AcceptInvite spends the token first, in its own committed step, so a token
// is consumed exactly once even when enrollment fails afterwards.
func (s *Service) AcceptInvite(ctx context.Context, accountID snowflake.ID, token string) (*domain.Membership, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return nil, domain.ErrInvalidToken
	}

	account, err := s.identity.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	invite, err := s.ledger.Consume(ctx, hashToken(raw))
	if err != nil {
		if errors.Is(err, domain.ErrInviteNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}

	if invite.Expired(s.clock.Now().UTC()) {
		return nil, domain.ErrInviteExpired
	}
	if !strings.EqualFold(invite.Email, account.Email) {
		return nil, domain.ErrInvalidToken
	}

	membership, err := s.enroll(ctx, invite.TenantID, accountID, invite.Role, &invite.InvitedBy)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, invite.TenantID, accountID, auditdomain.ActionInviteAccepted, "membership", membership.ID.String(), map[string]any{
		"email": invite.Email,
		"role":  string(invite.Role),
	})
	if s.metrics != nil {
		s.metrics.RecordInviteAccepted(ctx, invite.TenantID.String(), string(invite.Role))
	}
	return membership, nil
}

func (s *Service) CancelInvite(ctx context.Context, tenantID, actorID, inviteID snowflake.ID) error {
	if err := s.authorize(ctx, tenantID, actorID); err != nil {
		return err
	}

	invite, err := s.ledger.FindByID(ctx, inviteID)
	if err != nil {
		return err
	}
	if invite.TenantID != tenantID {
		return domain.ErrInviteNotFound
	}

	if err := s.ledger.Delete(ctx, inviteID); err != nil {
		return err
	}

	s.audit(ctx, tenantID, actorID, auditdomain.ActionInviteCancelled, "invite", inviteID.String(), map[string]any{
		"email": invite.Email,
	})
	if s.metrics != nil {
		s.metrics.RecordInviteCancelled(ctx, tenantID.String())
	}
	return nil
}

func (s *Service) ListInvites(ctx context.Context, tenantID, actorID snowflake.ID, page pagination.Pagination) ([]domain.Invite, *pagination.PageInfo, error) {
	if err := s.authorize(ctx, tenantID, actorID); err != nil {
		return nil, nil, err
	}
	return s.ledger.List(ctx, tenantID, page)
}

func (s *Service) Enroll(ctx context.Context, tenantID, accountID snowflake.ID, r role.Role, invitedBy *snowflake.ID) (*domain.Membership, error) {
	if !r.Valid() {
		return nil, domain.ErrInvalidRole
	}
	membership, err := s.enroll(ctx, tenantID, accountID, r, invitedBy)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, tenantID, accountID, auditdomain.ActionMemberEnrolled, "membership", membership.ID.String(), map[string]any{
		"role": string(r),
	})
	return membership, nil
}

func (s *Service) ChangeRole(ctx context.Context, tenantID, actorID, accountID snowflake.ID, newRole role.Role) (*domain.Membership, error) {
	if !newRole.Valid() {
		return nil, domain.ErrInvalidRole
	}
	if err := s.authorize(ctx, tenantID, actorID); err != nil {
		return nil, err
	}

	var updated *domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		member, err := repo.Find(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if member.Role == newRole {
			updated = member
			return nil
		}

		// Self-demotion is only an error when it would leave the tenant
		// without a managing member; otherwise it is an ordinary change.
		losesManagement := member.Role.CanManageMembers() && !newRole.CanManageMembers()
		if losesManagement {
			managers, err := repo.CountManagers(ctx, tenantID)
			if err != nil {
				return err
			}
			if managers <= 1 {
				if actorID == accountID {
					return domain.ErrSelfDemotion
				}
				return domain.ErrLastManager
			}
		}

		member.Role = newRole
		if err := member.SetPermissions(role.DefaultPermissions(newRole)); err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		if err := repo.UpdateFields(ctx, member.ID, map[string]any{
			"role":        string(newRole),
			"permissions": member.Permissions,
			"updated_at":  now,
		}); err != nil {
			return err
		}
		member.UpdatedAt = now
		updated = member
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.authz.ResyncMember(ctx, tenantID, accountID); err != nil {
		s.log.Warn("failed to resync member grants", zap.Error(err))
	}
	s.audit(ctx, tenantID, actorID, auditdomain.ActionMemberRoleChanged, "membership", updated.ID.String(), map[string]any{
		"account_id": accountID.String(),
		"role":       string(newRole),
	})
	if s.metrics != nil {
		s.metrics.RecordRoleChange(ctx, tenantID.String(), string(newRole))
	}
	return updated, nil
}

func (s *Service) UpdatePermissions(ctx context.Context, tenantID, actorID, accountID snowflake.ID, perms role.Set) (*domain.Membership, error) {
	if err := s.authorize(ctx, tenantID, actorID); err != nil {
		return nil, err
	}

	for _, p := range perms.List() {
		if !p.Valid() {
			return nil, domain.ErrInvalidPermission
		}
	}

	member, err := s.repo.Find(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	for _, p := range role.Catalog() {
		if role.IsLocked(member.Role, p) && !perms.Contains(p) {
			return nil, &role.LockedPermissionError{Role: member.Role, Permission: p}
		}
	}

	if err := member.SetPermissions(perms); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	if err := s.repo.UpdateFields(ctx, member.ID, map[string]any{
		"permissions": member.Permissions,
		"updated_at":  now,
	}); err != nil {
		return nil, err
	}
	member.UpdatedAt = now

	if err := s.authz.ResyncMember(ctx, tenantID, accountID); err != nil {
		s.log.Warn("failed to resync member grants", zap.Error(err))
	}
	s.audit(ctx, tenantID, actorID, auditdomain.ActionMemberPermsChanged, "membership", member.ID.String(), map[string]any{
		"account_id":  accountID.String(),
		"permissions": perms.Strings(),
	})
	return member, nil
}

func (s *Service) RemoveMember(ctx context.Context, tenantID, actorID, accountID snowflake.ID) error {
	if err := s.authorize(ctx, tenantID, actorID); err != nil {
		return err
	}
	if actorID == accountID {
		return domain.ErrSelfRemoval
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		member, err := repo.Find(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if member.Role.CanManageMembers() {
			managers, err := repo.CountManagers(ctx, tenantID)
			if err != nil {
				return err
			}
			if managers <= 1 {
				return domain.ErrLastManager
			}
		}
		return repo.Delete(ctx, member.ID)
	})
	if err != nil {
		return err
	}

	if err := s.authz.DropMember(tenantID, accountID); err != nil {
		s.log.Warn("failed to drop member grants", zap.Error(err))
	}
	s.audit(ctx, tenantID, actorID, auditdomain.ActionMemberRemoved, "membership", accountID.String(), nil)
	if s.metrics != nil {
		s.metrics.RecordMemberRemoved(ctx, tenantID.String())
	}
	return nil
}

func (s *Service) GetMember(ctx context.Context, tenantID, accountID snowflake.ID) (*domain.Membership, error) {
	return s.repo.Find(ctx, tenantID, accountID)
}

func (s *Service) ListMembers(ctx context.Context, tenantID, actorID snowflake.ID, page pagination.Pagination) ([]domain.MemberView, *pagination.PageInfo, error) {
	// Any member of the tenant may view the roster.
	if _, err := s.repo.Find(ctx, tenantID, actorID); err != nil {
		if errors.Is(err, domain.ErrMembershipNotFound) {
			return nil, nil, domain.ErrForbidden
		}
		return nil, nil, err
	}
	return s.repo.List(ctx, tenantID, page)
}

func (s *Service) enroll(ctx context.Context, tenantID, accountID snowflake.ID, r role.Role, invitedBy *snowflake.ID) (*domain.Membership, error) {
	if _, err := s.tenants.FindByID(ctx, tenantID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	membership := &domain.Membership{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		AccountID: accountID,
		Role:      r,
		InvitedBy: invitedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := membership.SetPermissions(role.DefaultPermissions(r)); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, membership); err != nil {
		if errors.Is(err, domain.ErrDuplicateMembership) {
			return nil, domain.ErrAlreadyMember
		}
		return nil, err
	}

	if err := s.authz.ResyncMember(ctx, tenantID, accountID); err != nil {
		s.log.Warn("failed to resync member grants", zap.Error(err))
	}
	return membership, nil
}

func (s *Service) authorize(ctx context.Context, tenantID, actorID snowflake.ID) error {
	err := s.authz.Authorize(ctx, actorID, tenantID, role.PermManageUsers)
	if err != nil {
		if errors.Is(err, authorization.ErrForbidden) {
			return domain.ErrForbidden
		}
		return err
	}
	return nil
}

func (s *Service) deliverInvite(ctx context.Context, invite *domain.Invite, rawToken string) {
	if s.email == nil {
		return
	}

	tenantName := invite.TenantID.String()
	if tenant, err := s.tenants.FindByID(ctx, invite.TenantID); err == nil {
		tenantName = tenant.Name
	}
	inviter := invite.InvitedBy.String()
	if account, err := s.identity.GetAccount(ctx, invite.InvitedBy); err == nil {
		inviter = account.DisplayName
	}

	// Delivery is best effort; the token is still returned to the caller.
	if err := s.email.SendInvite(ctx, email.InviteMessage{
		To:         invite.Email,
		TenantName: tenantName,
		RoleName:   string(invite.Role),
		Inviter:    inviter,
		Token:      rawToken,
	}); err != nil {
		s.log.Warn("failed to deliver invite email",
			zap.String("invite_id", invite.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) audit(ctx context.Context, tenantID, actorID snowflake.ID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actor := actorID.String()
	if err := s.auditSvc.AuditLog(ctx, &tenantID, string(auditdomain.ActorTypeAccount), &actor, action, targetType, &targetID, metadata); err != nil {
		s.log.Warn("failed to record audit entry", zap.String("action", action), zap.Error(err))
	}
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func newInviteToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
