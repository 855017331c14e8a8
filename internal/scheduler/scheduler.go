// Package scheduler runs periodic maintenance over the membership tables:
// expired invites and dead sessions are purged in small batches so the
// unique (tenant, email) invite slot frees up without manual cancellation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/atrium/internal/clock"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config Config `optional:"true"`
}

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   Config
	clock clock.Clock
}

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:    p.DB,
		log:   p.Log.Named("scheduler"),
		cfg:   p.Config.withDefaults(),
		clock: p.Clock,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	err := fn(ctx)
	duration := time.Since(start)

	if err == nil {
		s.log.Debug("job finished",
			zap.String("job", name),
			zap.Duration("duration", duration),
		)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, "purge_expired_invites", 30*time.Second, s.PurgeExpiredInvitesJob))
	err = errors.Join(err, s.runJob(parent, "purge_dead_sessions", 30*time.Second, s.PurgeDeadSessionsJob))
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PurgeExpiredInvitesJob deletes invites past their expiry plus a grace
// window. The grace keeps a freshly expired token redeemable long enough for
// the service layer to report ErrInviteExpired instead of ErrInvalidToken.
func (s *Scheduler) PurgeExpiredInvitesJob(ctx context.Context) error {
	cutoff := s.clock.Now().UTC().Add(-s.cfg.InviteGrace)
	for {
		res := s.db.WithContext(ctx).Exec(
			`DELETE FROM invites WHERE id IN (
				SELECT id FROM invites WHERE expires_at < ? LIMIT ?
			)`,
			cutoff,
			s.cfg.BatchSize,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			s.log.Info("purged expired invites", zap.Int64("count", res.RowsAffected))
		}
		if res.RowsAffected < int64(s.cfg.BatchSize) {
			return nil
		}
	}
}

// PurgeDeadSessionsJob deletes sessions that are expired or revoked.
func (s *Scheduler) PurgeDeadSessionsJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	for {
		res := s.db.WithContext(ctx).Exec(
			`DELETE FROM sessions WHERE id IN (
				SELECT id FROM sessions
				WHERE expires_at < ? OR revoked_at IS NOT NULL
				LIMIT ?
			)`,
			now,
			s.cfg.BatchSize,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			s.log.Info("purged dead sessions", zap.Int64("count", res.RowsAffected))
		}
		if res.RowsAffected < int64(s.cfg.BatchSize) {
			return nil
		}
	}
}
