package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/intinig/go-openskill/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

type notice struct {
	playerID int64
	messages []string
}

type testNotifier struct {
	sync.Mutex
	notices []notice
}

func (n *testNotifier) Notify(playerID int64, messages ...string) {
	n.Lock()
	defer n.Unlock()
	n.notices = append(n.notices, notice{playerID, messages})
}

func (n *testNotifier) Notices() []notice {
	n.Lock()
	defer n.Unlock()
	return append([]notice(nil), n.notices...)
}

type testOnlinePlayers map[int64]*OnlinePlayer

func (m testOnlinePlayers) OnlinePlayer(playerID int64) (RatingApplier, bool) {
	p, ok := m[playerID]
	if !ok {
		return nil, false
	}
	return p, true
}

// failingCommitStore fails every rating commit and delegates the rest.
type failingCommitStore struct {
	GameStore
}

func (s *failingCommitStore) CommitRatings(context.Context, int64, []RatingUpdate) error {
	return errors.New("connection reset")
}

// ratedOutcome plays a two player game to its end and returns the outcome.
func ratedOutcome(t *testing.T, gameID int64, alice, bob *OnlinePlayer) GameOutcome {
	t.Helper()
	g := NewGame(zap.NewNop(), gameID, GameSettings{HostID: alice.ID(), RatingContext: RatingGlobal}, nil, NewRatingEngine(nil))
	var outcome GameOutcome
	g.OnEnd(func(o GameOutcome) { outcome = o })

	require.NoError(t, g.SetLobby())
	require.NoError(t, g.AddConnection(connectedTo(alice)))
	require.NoError(t, g.AddConnection(connectedTo(bob)))
	seat(t, g, alice.ID(), "2", "1", "1")
	seat(t, g, bob.ID(), "3", "2", "2")
	require.NoError(t, g.Launch())
	require.NoError(t, g.ReportResult(1, OutcomeVictory, 10))
	require.NoError(t, g.ReportResult(2, OutcomeDefeat, -10))
	require.True(t, g.End())
	return outcome
}

func TestRatingQueueProcess(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)
	scope := tally.NewTestScope("lobby", nil)
	notifier := &testNotifier{}
	alice, bob := testPlayer(1, "alice"), testPlayer(2, "bob")

	// Only alice is still online.
	q := NewRatingQueue(ctx, zap.NewNop(), store, testOnlinePlayers{1: alice}, notifier, NewScopedMetrics(zap.NewNop(), scope), nil)
	defer q.Stop()

	gameID, err := store.CreateGame(ctx, GameSettings{HostID: 1})
	require.NoError(t, err)
	outcome := ratedOutcome(t, gameID, alice, bob)

	require.NoError(t, q.Process(ctx, outcome))

	for _, u := range outcome.Ratings.Updates {
		r, found, err := store.ReadRating(ctx, u.PlayerID, RatingGlobal)
		require.NoError(t, err)
		assert.True(t, found)
		assert.InDelta(t, u.After.Mu, r.Mu, 1e-6)
	}
	assert.Greater(t, alice.Rating(RatingGlobal).Mu, 1500.0)
	assert.Equal(t, 1500.0, bob.Rating(RatingGlobal).Mu, "offline players are not updated in memory")

	notices := notifier.Notices()
	require.Len(t, notices, 2)
	assert.Equal(t, int64(1), notices[0].playerID)
	assert.Equal(t, int64(2), notices[1].playerID)
	assert.Contains(t, notices[0].messages[0], "GAME RESULTS")

	counters := scope.Snapshot().Counters()
	assert.Equal(t, int64(2), counters["lobby.ratings_written+"].Value())
}

func TestRatingQueueCommitFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)
	notifier := &testNotifier{}
	alice, bob := testPlayer(1, "alice"), testPlayer(2, "bob")

	q := NewRatingQueue(ctx, zap.NewNop(), &failingCommitStore{store}, testOnlinePlayers{1: alice, 2: bob}, notifier, NewScopedMetrics(zap.NewNop(), tally.NoopScope), nil)
	defer q.Stop()

	gameID, err := store.CreateGame(ctx, GameSettings{HostID: 1})
	require.NoError(t, err)

	err = q.Process(ctx, ratedOutcome(t, gameID, alice, bob))
	assert.True(t, GameErrorIs(err, PersistenceFailed))
	assert.Equal(t, 1500.0, alice.Rating(RatingGlobal).Mu)
	assert.Equal(t, 1500.0, bob.Rating(RatingGlobal).Mu)
	assert.Empty(t, notifier.Notices())
}

func TestRatingQueueUnratedGame(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)
	notifier := &testNotifier{}

	q := NewRatingQueue(ctx, zap.NewNop(), store, testOnlinePlayers{}, notifier, NewScopedMetrics(zap.NewNop(), tally.NoopScope), nil)
	defer q.Stop()

	gameID, err := store.CreateGame(ctx, GameSettings{HostID: 1})
	require.NoError(t, err)

	require.NoError(t, q.Process(ctx, GameOutcome{GameID: gameID, Valid: false, InvalidReason: "too few teams", RatingErr: ErrTooFewTeams}))

	var valid bool
	var reason string
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT valid, invalid_reason FROM game_stats WHERE id = ?`, gameID).Scan(&valid, &reason))
	assert.False(t, valid)
	assert.Equal(t, "too few teams", reason)
	assert.Empty(t, notifier.Notices())
}

func TestRatingQueueDrainsOnStop(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)
	notifier := &testNotifier{}
	alice, bob := testPlayer(1, "alice"), testPlayer(2, "bob")

	q := NewRatingQueue(ctx, zap.NewNop(), store, testOnlinePlayers{}, notifier, NewScopedMetrics(zap.NewNop(), tally.NoopScope), nil)

	gameID, err := store.CreateGame(ctx, GameSettings{HostID: 1})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ratedOutcome(t, gameID, alice, bob)))

	q.Stop()
	assert.ErrorIs(t, q.Enqueue(GameOutcome{GameID: gameID}), ErrRatingQueueStopped)

	require.Eventually(t, func() bool { return len(notifier.Notices()) == 2 }, time.Second, 10*time.Millisecond)
	_, found, err := store.ReadRating(ctx, 1, RatingGlobal)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRatingQueueLadderOutcome(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)
	alice := NewOnlinePlayer(1, "alice", map[RatingContext]types.Rating{
		RatingGlobal: NewRating(1500, 500),
		RatingLadder: NewRating(1500, 500),
	})
	bob := testPlayer(2, "bob")

	q := NewRatingQueue(ctx, zap.NewNop(), store, testOnlinePlayers{1: alice, 2: bob}, &testNotifier{}, NewScopedMetrics(zap.NewNop(), tally.NoopScope), nil)
	defer q.Stop()

	gameID, err := store.CreateGame(ctx, GameSettings{HostID: 1, RatingContext: RatingLadder})
	require.NoError(t, err)
	g := NewGame(zap.NewNop(), gameID, GameSettings{HostID: 1, RatingContext: RatingLadder}, nil, NewRatingEngine(nil))
	var outcome GameOutcome
	g.OnEnd(func(o GameOutcome) { outcome = o })
	require.NoError(t, g.SetLobby())
	require.NoError(t, g.AddConnection(connectedTo(alice)))
	require.NoError(t, g.AddConnection(connectedTo(bob)))
	seat(t, g, 1, "1", "1", "1")
	seat(t, g, 2, "2", "2", "2")
	require.NoError(t, g.Launch())
	require.NoError(t, g.ReportResult(1, OutcomeVictory, 1))
	require.NoError(t, g.ReportResult(2, OutcomeDefeat, 0))
	require.True(t, g.End())

	require.NoError(t, q.Process(ctx, outcome))

	_, found, err := store.ReadRating(ctx, 1, RatingLadder)
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = store.ReadRating(ctx, 1, RatingGlobal)
	require.NoError(t, err)
	assert.False(t, found, "only the game's rating context is written")

	assert.Greater(t, alice.Rating(RatingLadder).Mu, 1500.0)
	assert.Equal(t, NewRating(1500, 500), alice.Rating(RatingGlobal))
}

func TestRatingQueueMissingResultWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)
	notifier := &testNotifier{}
	alice, bob := testPlayer(1, "alice"), testPlayer(2, "bob")

	q := NewRatingQueue(ctx, zap.NewNop(), store, testOnlinePlayers{1: alice, 2: bob}, notifier, NewScopedMetrics(zap.NewNop(), tally.NoopScope), nil)
	defer q.Stop()

	gameID, err := store.CreateGame(ctx, GameSettings{HostID: 1})
	require.NoError(t, err)
	g := NewGame(zap.NewNop(), gameID, GameSettings{HostID: 1, RatingContext: RatingGlobal}, nil, NewRatingEngine(nil))
	require.NoError(t, g.SetLobby())
	require.NoError(t, g.AddConnection(connectedTo(alice)))
	require.NoError(t, g.AddConnection(connectedTo(bob)))
	seat(t, g, 1, "2", "1", "1")
	seat(t, g, 2, "3", "2", "2")
	require.NoError(t, g.Launch())
	require.NoError(t, g.ReportResult(1, OutcomeVictory, 10))

	// Rating before the missing results are filled fails.
	ratings, err := g.ComputeRatings()
	require.Nil(t, ratings)
	require.True(t, GameErrorIs(err, MissingResult))

	require.NoError(t, q.Process(ctx, GameOutcome{GameID: gameID, Context: RatingGlobal, Valid: true, RatingErr: err}))
	for _, id := range []int64{1, 2} {
		_, found, err := store.ReadRating(ctx, id, RatingGlobal)
		require.NoError(t, err)
		assert.False(t, found)
	}
	assert.Equal(t, NewRating(1500, 500), alice.Rating(RatingGlobal))
	assert.Empty(t, notifier.Notices())
}

func TestRatingQueueEnqueueRacingStop(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{GameStore: newTestSQLStore(t)}
	q := NewRatingQueue(ctx, zap.NewNop(), store, testOnlinePlayers{}, &testNotifier{}, NewScopedMetrics(zap.NewNop(), tally.NoopScope), nil)

	var wg sync.WaitGroup
	accepted := make([]bool, 50)
	for i := range accepted {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accepted[i] = q.Enqueue(GameOutcome{GameID: int64(i + 1)}) == nil
		}(i)
	}
	q.Stop()
	wg.Wait()

	want := 0
	for _, ok := range accepted {
		if ok {
			want++
		}
	}
	assert.Equal(t, want, store.EndTimes(), "every accepted outcome is written")
}

// recordingStore counts end time writes and delegates the rest.
type recordingStore struct {
	GameStore
	sync.Mutex
	endTimes int
}

func (s *recordingStore) UpdateGameEndTime(context.Context, int64) error {
	s.Lock()
	defer s.Unlock()
	s.endTimes++
	return nil
}

func (s *recordingStore) EndTimes() int {
	s.Lock()
	defer s.Unlock()
	return s.endTimes
}
