package server

import (
	"context"

	"github.com/intinig/go-openskill/types"
)

// RatingUpdate is one rating row changed by a game.
type RatingUpdate struct {
	PlayerID int64
	Login    string
	// AIName is set for AI participants; their rows are keyed by name.
	AIName  string
	Context RatingContext
	Team    TeamID
	Score   int
	Before  types.Rating
	After   types.Rating
}

func (u RatingUpdate) IsAI() bool {
	return u.AIName != ""
}

// GameStore is the persistence gateway used by games. Implementations must be safe for concurrent use.
type GameStore interface {
	CreateGame(ctx context.Context, settings GameSettings) (int64, error)
	UpdateGameEndTime(ctx context.Context, gameID int64) error
	UpdateGameValidity(ctx context.Context, gameID int64, valid bool, reason string) error

	ReadRating(ctx context.Context, playerID int64, rc RatingContext) (types.Rating, bool, error)
	ReadAIRating(ctx context.Context, name string) (types.Rating, bool, error)

	WriteRating(ctx context.Context, playerID int64, rc RatingContext, mean, deviation float64, incrementGameCount bool) error
	WriteGamePlayerStats(ctx context.Context, gameID, playerID int64, afterMean, afterDeviation float64) error
	WriteAIRating(ctx context.Context, name string, mean, deviation float64) error
	WriteAIGameStats(ctx context.Context, gameID int64, name string, afterMean, afterDeviation float64) error

	// CommitRatings writes every update of a game in one transaction.
	CommitRatings(ctx context.Context, gameID int64, updates []RatingUpdate) error
}
