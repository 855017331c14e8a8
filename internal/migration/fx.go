package migration

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	"github.com/smallbiznis/atrium/internal/seed"
)

// bootstrapLockTTL bounds how long a crashed replica can hold the seed lock.
const bootstrapLockTTL = time.Minute

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger, limiter *ratelimit.Limiter) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Non-postgres targets (local sqlite, mysql) build the schema
			// from the models directly.
			if err := AutoMigrate(conn); err != nil {
				return err
			}
		}

		if !cfg.Bootstrap.EnsureOperatorTenant {
			return nil
		}

		// Seeding is idempotent; the lock only keeps concurrent replicas
		// from racing each other on first boot.
		ctx := context.Background()
		token, ok, err := limiter.TryBootstrapLock(ctx, bootstrapLockTTL)
		switch {
		case err != nil:
			log.Warn("bootstrap lock unavailable, seeding anyway", zap.Error(err))
		case !ok:
			log.Info("bootstrap seeding held by another replica, skipping")
			return nil
		default:
			defer func() {
				if err := limiter.ReleaseBootstrapLock(ctx, token); err != nil {
					log.Warn("failed to release bootstrap lock", zap.Error(err))
				}
			}()
		}

		return seed.EnsureOperatorTenant(conn, cfg)
	}),
)
