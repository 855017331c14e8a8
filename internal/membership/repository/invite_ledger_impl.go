package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	atriumdb "github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/db/pagination"

	"github.com/smallbiznis/atrium/internal/membership/domain"
)

type inviteLedger struct {
	db *gorm.DB
}

// NewInviteLedger constructs the invite ledger backed by gorm.
func NewInviteLedger(db *gorm.DB) domain.InviteLedger {
	return &inviteLedger{db: db}
}

func (l *inviteLedger) WithTx(tx *gorm.DB) domain.InviteLedger {
	return &inviteLedger{db: tx}
}

func (l *inviteLedger) Create(ctx context.Context, invite *domain.Invite) error {
	if err := l.db.WithContext(ctx).Create(invite).Error; err != nil {
		if atriumdb.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateInvite
		}
		return err
	}
	return nil
}

func (l *inviteLedger) FindByID(ctx context.Context, id snowflake.ID) (*domain.Invite, error) {
	var invite domain.Invite
	if err := l.db.WithContext(ctx).First(&invite, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInviteNotFound
		}
		return nil, err
	}
	return &invite, nil
}

func (l *inviteLedger) FindOutstanding(ctx context.Context, tenantID snowflake.ID, email string) (*domain.Invite, error) {
	var invite domain.Invite
	if err := l.db.WithContext(ctx).First(&invite, "tenant_id = ? AND email = ?", tenantID, email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInviteNotFound
		}
		return nil, err
	}
	return &invite, nil
}

func (l *inviteLedger) List(ctx context.Context, tenantID snowflake.ID, page pagination.Pagination) ([]domain.Invite, *pagination.PageInfo, error) {
	size := page.PageSize
	if size <= 0 {
		size = 20
	}

	q := l.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id ASC").
		Limit(size + 1)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		q = q.Where("id > ?", cursor.ID)
	}

	var invites []domain.Invite
	if err := q.Find(&invites).Error; err != nil {
		return nil, nil, err
	}

	info := &pagination.PageInfo{}
	if len(invites) > size {
		invites = invites[:size]
		info.HasMore = true
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID: invites[len(invites)-1].ID.String(),
		})
		if err != nil {
			return nil, nil, err
		}
		info.NextPageToken = token
	}
	return invites, info, nil
}

// Consume deletes by token hash and reads the row back in one transaction.
// The delete's row count decides the winner under concurrent redemption.
func (l *inviteLedger) Consume(ctx context.Context, tokenHash string) (*domain.Invite, error) {
	var invite domain.Invite
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&invite, "token_hash = ?", tokenHash).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrInviteNotFound
			}
			return err
		}

		res := tx.Delete(&domain.Invite{}, "token_hash = ?", tokenHash)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrInviteNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (l *inviteLedger) Delete(ctx context.Context, id snowflake.ID) error {
	res := l.db.WithContext(ctx).Delete(&domain.Invite{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInviteNotFound
	}
	return nil
}
