package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/atrium/internal/authorization"
	"github.com/smallbiznis/atrium/internal/clock"
	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/role"
	"github.com/smallbiznis/atrium/internal/tenant/domain"
)

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	members membershipdomain.Repository
	authz   authorization.Service
	genID   *snowflake.Node
	clock   clock.Clock
}

func NewService(db *gorm.DB, log *zap.Logger, repo domain.Repository, members membershipdomain.Repository, authz authorization.Service, genID *snowflake.Node, clk clock.Clock) domain.Service {
	return &service{
		db:      db,
		log:     log.Named("tenant.service"),
		repo:    repo,
		members: members,
		authz:   authz,
		genID:   genID,
		clock:   clk,
	}
}

func (s *service) Create(ctx context.Context, creatorID snowflake.ID, req domain.CreateTenantRequest) (*domain.TenantResponse, error) {
	if creatorID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now().UTC()
	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	tenant := &domain.Tenant{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slug.Make(name),
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, tenant); err != nil {
			return err
		}

		owner := &membershipdomain.Membership{
			ID:        s.genID.Generate(),
			TenantID:  tenant.ID,
			AccountID: creatorID,
			Role:      role.Owner,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := owner.SetPermissions(role.DefaultPermissions(role.Owner)); err != nil {
			return err
		}
		return s.members.WithTx(tx).Create(ctx, owner)
	})
	if err != nil {
		return nil, err
	}

	if err := s.authz.ResyncMember(ctx, tenant.ID, creatorID); err != nil {
		s.log.Warn("failed to sync owner grants", zap.Error(err))
	}

	s.log.Info("tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
	)

	return &domain.TenantResponse{
		ID:       tenant.ID.String(),
		Name:     tenant.Name,
		Slug:     tenant.Slug,
		IsSystem: tenant.IsSystem,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.TenantResponse, error) {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return nil, domain.ErrInvalidTenant
	}
	tenantID, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, domain.ErrInvalidTenant
	}

	tenant, err := s.repo.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &domain.TenantResponse{
		ID:       tenant.ID.String(),
		Name:     tenant.Name,
		Slug:     tenant.Slug,
		IsSystem: tenant.IsSystem,
	}, nil
}

func (s *service) ListByAccount(ctx context.Context, accountID snowflake.ID) ([]domain.TenantListResponseItem, error) {
	if accountID == 0 {
		return nil, domain.ErrInvalidTenant
	}

	items, err := s.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.TenantListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.TenantListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Slug:      item.Slug,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}
	return resp, nil
}
