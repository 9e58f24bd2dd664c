package migrate

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func TestUpDownSqlite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	pending, err := Pending(db, "sqlite")
	require.NoError(t, err)
	assert.NotEmpty(t, pending)

	n, err := Up(zap.NewNop(), db, "sqlite")
	require.NoError(t, err)
	assert.Equal(t, len(pending), n)

	n, err = Up(zap.NewNop(), db, "sqlite")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = db.Exec(`INSERT INTO global_rating (player_id, mean, deviation) VALUES (1, 1500, 500)`)
	require.NoError(t, err)

	n, err = Down(zap.NewNop(), db, "sqlite", 0)
	require.NoError(t, err)
	assert.Equal(t, len(pending), n)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := Up(zap.NewNop(), nil, "mysql")
	assert.ErrorContains(t, err, "unsupported database driver")
}
