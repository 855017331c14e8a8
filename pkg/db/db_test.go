package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTestDatabasesAreIsolated(t *testing.T) {
	first, err := NewTest()
	require.NoError(t, err)
	second, err := NewTest()
	require.NoError(t, err)

	require.NoError(t, first.Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY)").Error)
	require.NoError(t, first.Exec("INSERT INTO widgets (id) VALUES (1)").Error)

	var count int64
	err = second.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'widgets'").Scan(&count).Error
	require.NoError(t, err)
	require.Zero(t, count)
}
