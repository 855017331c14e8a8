package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Create provisions a tenant and enrolls the creator as its Owner.
	Create(ctx context.Context, creatorID snowflake.ID, req CreateTenantRequest) (*TenantResponse, error)
	GetByID(ctx context.Context, id string) (*TenantResponse, error)
	ListByAccount(ctx context.Context, accountID snowflake.ID) ([]TenantListResponseItem, error)
}

type CreateTenantRequest struct {
	Name     string
	Metadata map[string]any
}

type TenantResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	IsSystem bool   `json:"is_system"`
}

type TenantListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidTenant  = errors.New("invalid_tenant")
	ErrTenantNotFound = errors.New("tenant_not_found")
	ErrSlugTaken      = errors.New("slug_taken")
)
