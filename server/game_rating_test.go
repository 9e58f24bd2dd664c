package server

import (
	"testing"

	"github.com/intinig/go-openskill/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func soloTeams(players ...*OnlinePlayer) []Team {
	teams := make([]Team, len(players))
	for i, p := range players {
		teams[i] = Team{ID: TeamID(i + 1), Members: []TeamMember{{Player: p, Prior: p.Rating(RatingGlobal)}}}
	}
	return teams
}

func TestRateWinnerGainsLoserLoses(t *testing.T) {
	alice := NewOnlinePlayer(1, "alice", map[RatingContext]types.Rating{RatingGlobal: NewRating(1500, 250)})
	bob := NewOnlinePlayer(2, "bob", map[RatingContext]types.Rating{RatingGlobal: NewRating(1500, 250)})

	engine := NewRatingEngine(nil)
	out, err := engine.Rate(soloTeams(alice, bob), []int{5, 3})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Greater(t, out[0][1].Mu, 1500.0)
	assert.Less(t, out[1][2].Mu, 1500.0)
	assert.Less(t, out[0][1].Sigma, 250.0)
	assert.Less(t, out[1][2].Sigma, 250.0)
}

func TestRateTiedScoresStillMoveRatings(t *testing.T) {
	priors := []types.Rating{
		NewRating(1500, 250.7),
		NewRating(1700, 120.1),
		NewRating(1200, 72.02),
		NewRating(1200, 72.02),
	}
	players := make([]*OnlinePlayer, len(priors))
	for i, r := range priors {
		players[i] = NewOnlinePlayer(int64(i+1), "p", map[RatingContext]types.Rating{RatingGlobal: r})
	}
	teams := []Team{
		{ID: 1, Members: []TeamMember{{players[0], priors[0]}, {players[1], priors[1]}}},
		{ID: 2, Members: []TeamMember{{players[2], priors[2]}, {players[3], priors[3]}}},
	}

	out, err := NewRatingEngine(nil).Rate(teams, []int{0, 0})
	require.NoError(t, err)

	for i, team := range teams {
		for _, m := range team.Members {
			after := out[i][m.Player.ID()]
			assert.NotEqual(t, m.Prior, after, "player %d", m.Player.ID())
		}
	}
	// The stronger team is expected to win, so a draw costs it rating.
	assert.Less(t, out[0][2].Mu, 1700.0)
	assert.Greater(t, out[1][3].Mu, 1200.0)
}

func TestRateTooFewTeams(t *testing.T) {
	alice := testPlayer(1, "alice")

	_, err := NewRatingEngine(nil).Rate(soloTeams(alice), []int{1})
	assert.True(t, GameErrorIs(err, InvalidGame))

	_, err = NewRatingEngine(nil).Rate(nil, nil)
	assert.ErrorIs(t, err, ErrTooFewTeams)
}

func TestBlend(t *testing.T) {
	prior := NewRating(1500, 500)
	next := NewRating(1600, 400)

	tests := []struct {
		name      string
		partial   float64
		wantMu    float64
		wantSigma float64
	}{
		{"full weight", 1, 1600, 400},
		{"no weight", 0, 1500, 500},
		{"half weight", 0.5, 1550, 450},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Blend(prior, next, tt.partial)
			assert.InDelta(t, tt.wantMu, got.Mu, 1e-9)
			assert.InDelta(t, tt.wantSigma, got.Sigma, 1e-9)
		})
	}
}
