package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/atrium/pkg/db/pagination"
)

// Repository abstracts membership persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, membership *Membership) error
	Find(ctx context.Context, tenantID, accountID snowflake.ID) (*Membership, error)
	FindByID(ctx context.Context, id snowflake.ID) (*Membership, error)
	// List returns memberships joined with their account's email and
	// display name, keyset-paginated by membership id.
	List(ctx context.Context, tenantID snowflake.ID, page pagination.Pagination) ([]MemberView, *pagination.PageInfo, error)
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
	Delete(ctx context.Context, id snowflake.ID) error
	// CountManagers counts members whose role can manage membership. The
	// last-manager guard runs against this inside the mutating transaction.
	CountManagers(ctx context.Context, tenantID snowflake.ID) (int64, error)
}

// InviteLedger abstracts pending-invite persistence.
type InviteLedger interface {
	WithTx(tx *gorm.DB) InviteLedger

	Create(ctx context.Context, invite *Invite) error
	FindByID(ctx context.Context, id snowflake.ID) (*Invite, error)
	// FindOutstanding returns the pending invite for an email in a tenant,
	// or ErrInviteNotFound. Callers branch on it to offer resend versus
	// nothing to do.
	FindOutstanding(ctx context.Context, tenantID snowflake.ID, email string) (*Invite, error)
	List(ctx context.Context, tenantID snowflake.ID, page pagination.Pagination) ([]Invite, *pagination.PageInfo, error)
	// Consume deletes the invite matching the token hash and returns it.
	// Exactly one caller wins for a given token; losers get ErrInviteNotFound.
	Consume(ctx context.Context, tokenHash string) (*Invite, error)
	Delete(ctx context.Context, id snowflake.ID) error
}
