package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGameErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"transition", NewGameError(InvalidTransition, "not in lobby"), codes.FailedPrecondition},
		{"connection", NewGameError(InvalidConnectionState, "initializing"), codes.FailedPrecondition},
		{"missing result", NewGameErrorf(MissingResult, "player %d", 7), codes.Aborted},
		{"invalid game", ErrTooFewTeams, codes.InvalidArgument},
		{"not found", ErrGameNotFound, codes.NotFound},
		{"persistence", NewGameError(PersistenceFailed, "db down"), codes.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(tt.err))
		})
	}
}

func TestGameErrorIs(t *testing.T) {
	err := fmt.Errorf("launch: %w", NewGameError(InvalidTransition, "game is live"))

	assert.True(t, GameErrorIs(err, InvalidTransition))
	assert.False(t, GameErrorIs(err, MissingResult))
	assert.False(t, GameErrorIs(fmt.Errorf("plain"), InvalidTransition))
	assert.Equal(t, "invalid transition: game is live", NewGameError(InvalidTransition, "game is live").Error())
}
