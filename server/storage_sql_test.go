package server

import (
	"context"
	"database/sql"
	"testing"

	"github.com/JeroenDeDauw/server/migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = migrate.Up(zap.NewNop(), db, "sqlite")
	require.NoError(t, err)
	return NewSQLStore(zap.NewNop(), db, "sqlite")
}

func TestSQLStoreRebind(t *testing.T) {
	pg := NewSQLStore(zap.NewNop(), nil, "pgx")
	lite := NewSQLStore(zap.NewNop(), nil, "sqlite")
	q := `UPDATE t SET a = ?, b = ? WHERE id = ?`

	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE id = $3`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestSQLStoreGameLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	id, err := s.CreateGame(ctx, GameSettings{Name: "test", HostID: 1, Map: "scmp_007", Visibility: VisibilityPublic})
	require.NoError(t, err)
	assert.Positive(t, id)

	require.NoError(t, s.UpdateGameValidity(ctx, id, false, "desync"))
	require.NoError(t, s.UpdateGameEndTime(ctx, id))

	var valid bool
	var reason string
	var ended sql.NullString
	err = s.DB().QueryRowContext(ctx, `SELECT valid, invalid_reason, end_time FROM game_stats WHERE id = ?`, id).Scan(&valid, &reason, &ended)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, "desync", reason)
	assert.True(t, ended.Valid)
}

func TestSQLStoreRatings(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	r, found, err := s.ReadRating(ctx, 1, RatingGlobal)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultRatingMu, r.Mu)

	require.NoError(t, s.WriteRating(ctx, 1, RatingGlobal, 1520, 240, true))
	require.NoError(t, s.WriteRating(ctx, 1, RatingGlobal, 1540, 230, true))
	require.NoError(t, s.WriteRating(ctx, 1, RatingLadder, 1400, 300, false))

	r, found, err = s.ReadRating(ctx, 1, RatingGlobal)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1540.0, r.Mu)
	assert.Equal(t, 230.0, r.Sigma)

	var games int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT num_games FROM global_rating WHERE player_id = 1`).Scan(&games))
	assert.Equal(t, 2, games)
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT num_games FROM ladder1v1_rating WHERE player_id = 1`).Scan(&games))
	assert.Equal(t, 0, games)
}

func TestSQLStoreAIRatingsShareName(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)

	require.NoError(t, s.WriteAIRating(ctx, "QAI2", 1600, 200))
	r, found, err := s.ReadAIRating(ctx, "QAI")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1600.0, r.Mu)
}

func TestSQLStoreCommitRatings(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)
	gameID, err := s.CreateGame(ctx, GameSettings{HostID: 1})
	require.NoError(t, err)

	updates := []RatingUpdate{
		{PlayerID: 1, Context: RatingGlobal, After: NewRating(1510, 240)},
		{PlayerID: -1, AIName: "Sorian1", Context: RatingGlobal, After: NewRating(1490, 240)},
	}
	require.NoError(t, s.CommitRatings(ctx, gameID, updates))

	var mean float64
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT after_mean FROM game_player_stats WHERE game_id = ? AND player_id = 1`, gameID).Scan(&mean))
	assert.Equal(t, 1510.0, mean)
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT after_mean FROM ai_game_stats WHERE game_id = ? AND name = 'Sorian'`, gameID).Scan(&mean))
	assert.Equal(t, 1490.0, mean)
}

func TestSQLStoreCommitRatingsIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLStore(t)
	gameID, err := s.CreateGame(ctx, GameSettings{HostID: 1})
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `DROP TABLE ai_game_stats`)
	require.NoError(t, err)

	updates := []RatingUpdate{
		{PlayerID: 1, Context: RatingGlobal, After: NewRating(1510, 240)},
		{PlayerID: -1, AIName: "Sorian", Context: RatingGlobal, After: NewRating(1490, 240)},
	}
	require.Error(t, s.CommitRatings(ctx, gameID, updates))

	_, found, err := s.ReadRating(ctx, 1, RatingGlobal)
	require.NoError(t, err)
	assert.False(t, found)
}
