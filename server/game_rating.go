package server

import (
	"github.com/intinig/go-openskill/rating"
	"github.com/intinig/go-openskill/types"
	"go.uber.org/thriftrw/ptr"
)

// RatingEngine runs the Bayesian team update on the server's rating scale.
type RatingEngine struct {
	mu    float64
	sigma float64
	z     int
	tau   float64
}

func NewRatingEngine(config *RatingConfig) *RatingEngine {
	e := &RatingEngine{
		mu:    DefaultRatingMu,
		sigma: DefaultRatingSigma,
		z:     DefaultRatingZ,
		tau:   DefaultRatingMu / 300,
	}
	if config != nil {
		if config.Mu > 0 {
			e.mu = config.Mu
		}
		if config.Sigma > 0 {
			e.sigma = config.Sigma
		}
		if config.Z > 0 {
			e.z = config.Z
		}
		if config.Tau > 0 {
			e.tau = config.Tau
		}
	}
	return e
}

// Rate computes new ratings for the teams. A higher score is a better result and equal
// scores are a tie. The result holds one map per team, in the order of teams.
func (e *RatingEngine) Rate(teams []Team, scores []int) ([]map[int64]types.Rating, error) {
	if len(teams) < 2 {
		return nil, ErrTooFewTeams
	}
	if len(scores) != len(teams) {
		return nil, NewGameErrorf(MissingResult, "%d scores for %d teams", len(scores), len(teams))
	}

	teamRatings := make([]types.Team, len(teams))
	for i, t := range teams {
		teamRatings[i] = t.Ratings()
	}

	z := e.z
	teamRatings = rating.Rate(teamRatings, &types.OpenSkillOptions{
		Mu:    ptr.Float64(e.mu),
		Sigma: ptr.Float64(e.sigma),
		Z:     &z,
		Score: scores,
		Tau:   ptr.Float64(e.tau),
	})

	out := make([]map[int64]types.Rating, len(teams))
	for i, t := range teams {
		out[i] = make(map[int64]types.Rating, len(t.Members))
		for j, m := range t.Members {
			out[i][m.Player.ID()] = teamRatings[i][j]
		}
	}
	return out, nil
}

// Blend weighs the new rating against the prior. A partial of 1 keeps the new rating unchanged.
func Blend(prior, next types.Rating, partial float64) types.Rating {
	blended := next
	blended.Mu = next.Mu*partial + prior.Mu*(1-partial)
	blended.Sigma = next.Sigma*partial + prior.Sigma*(1-partial)
	return blended
}
