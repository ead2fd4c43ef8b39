package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathfinder/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	current, latest, err := Status(conn)
	require.NoError(t, err)
	assert.Equal(t, 0, current)
	assert.GreaterOrEqual(t, latest, 1)

	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn))

	current, latest, err = Status(conn)
	require.NoError(t, err)
	assert.Equal(t, latest, current)
}

func TestMigrationsOrdered(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Version, ms[i].Version)
	}
}
