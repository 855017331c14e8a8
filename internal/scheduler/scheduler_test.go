package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/atrium/internal/clock"
	identitydomain "github.com/smallbiznis/atrium/internal/identity/domain"
	membershipdomain "github.com/smallbiznis/atrium/internal/membership/domain"
	"github.com/smallbiznis/atrium/internal/role"
	"github.com/smallbiznis/atrium/pkg/db"
)

func newTestScheduler(t *testing.T) (*Scheduler, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&identitydomain.Session{},
		&membershipdomain.Invite{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	sched, err := New(Params{
		DB:    dbConn,
		Log:   zap.NewNop(),
		Clock: clk,
		Config: Config{
			BatchSize: 10,
		},
	})
	require.NoError(t, err)
	return sched, dbConn, clk, node
}

func insertInvite(t *testing.T, dbConn *gorm.DB, node *snowflake.Node, expiresAt time.Time) snowflake.ID {
	t.Helper()
	invite := membershipdomain.Invite{
		ID:        node.Generate(),
		TenantID:  node.Generate(),
		Email:     node.Generate().String() + "@example.com",
		Role:      role.Viewer,
		TokenHash: node.Generate().String(),
		InvitedBy: node.Generate(),
		ExpiresAt: expiresAt,
		CreatedAt: expiresAt.Add(-membershipdomain.InviteTTL),
	}
	require.NoError(t, dbConn.Create(&invite).Error)
	return invite.ID
}

func TestPurgeExpiredInvites(t *testing.T) {
	sched, dbConn, clk, node := newTestScheduler(t)
	now := clk.Now().UTC()

	expired := insertInvite(t, dbConn, node, now.Add(-48*time.Hour))
	graced := insertInvite(t, dbConn, node, now.Add(-time.Hour))
	live := insertInvite(t, dbConn, node, now.Add(time.Hour))

	require.NoError(t, sched.PurgeExpiredInvitesJob(context.Background()))

	var remaining []membershipdomain.Invite
	require.NoError(t, dbConn.Find(&remaining).Error)
	require.Len(t, remaining, 2)
	ids := []snowflake.ID{remaining[0].ID, remaining[1].ID}
	require.NotContains(t, ids, expired)
	require.Contains(t, ids, graced)
	require.Contains(t, ids, live)
}

func TestPurgeExpiredInvitesInBatches(t *testing.T) {
	sched, dbConn, clk, node := newTestScheduler(t)
	now := clk.Now().UTC()

	for i := 0; i < 25; i++ {
		insertInvite(t, dbConn, node, now.Add(-48*time.Hour))
	}

	require.NoError(t, sched.PurgeExpiredInvitesJob(context.Background()))

	var count int64
	require.NoError(t, dbConn.Model(&membershipdomain.Invite{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestPurgeDeadSessions(t *testing.T) {
	sched, dbConn, clk, node := newTestScheduler(t)
	now := clk.Now().UTC()
	revokedAt := now.Add(-time.Hour)

	sessions := []identitydomain.Session{
		{ID: node.Generate(), AccountID: node.Generate(), TokenHash: "a", ExpiresAt: now.Add(-time.Minute), CreatedAt: now, LastSeen: now},
		{ID: node.Generate(), AccountID: node.Generate(), TokenHash: "b", ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt, CreatedAt: now, LastSeen: now},
		{ID: node.Generate(), AccountID: node.Generate(), TokenHash: "c", ExpiresAt: now.Add(time.Hour), CreatedAt: now, LastSeen: now},
	}
	for i := range sessions {
		require.NoError(t, dbConn.Create(&sessions[i]).Error)
	}

	require.NoError(t, sched.PurgeDeadSessionsJob(context.Background()))

	var remaining []identitydomain.Session
	require.NoError(t, dbConn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "c", remaining[0].TokenHash)
}

func TestRunOnceAggregatesJobs(t *testing.T) {
	sched, dbConn, clk, node := newTestScheduler(t)
	now := clk.Now().UTC()

	insertInvite(t, dbConn, node, now.Add(-48*time.Hour))
	require.NoError(t, sched.RunOnce(context.Background()))

	var count int64
	require.NoError(t, dbConn.Model(&membershipdomain.Invite{}).Count(&count).Error)
	require.Zero(t, count)
}
