package server

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrGameNotFound   = NewGameError(GameNotFound, "game not found")
	ErrGameEnded      = NewGameError(InvalidTransition, "game has ended")
	ErrTooFewTeams    = NewGameError(InvalidGame, "too few teams")
	ErrHandlerStopped = errors.New("game handler stopped")
)

// GameErrorCode defines the type for game error codes.
type GameErrorCode int

const (
	InvalidTransition GameErrorCode = iota
	InvalidConnectionState
	MissingResult
	InvalidGame
	GameNotFound
	InvalidOption
	PersistenceFailed
)

// GameError is returned by game operations that were refused without changing the game.
type GameError struct {
	Code    GameErrorCode
	Message string
}

// Error implements the error interface.
func (e GameError) Error() string {
	message := e.Message
	switch e.Code {
	case InvalidTransition:
		message = "invalid transition: " + message
	case InvalidConnectionState:
		message = "invalid connection state: " + message
	case MissingResult:
		message = "missing game result: " + message
	case InvalidGame:
		message = "invalid game: " + message
	case GameNotFound:
		message = "not found: " + message
	case InvalidOption:
		message = "invalid option: " + message
	case PersistenceFailed:
		message = "persistence failed: " + message
	}
	return message
}

// GRPCStatus lets status.Code and status.Convert see through game errors.
func (e GameError) GRPCStatus() *status.Status {
	var code codes.Code
	switch e.Code {
	case InvalidTransition, InvalidConnectionState:
		code = codes.FailedPrecondition
	case MissingResult:
		code = codes.Aborted
	case InvalidGame, InvalidOption:
		code = codes.InvalidArgument
	case GameNotFound:
		code = codes.NotFound
	case PersistenceFailed:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.New(code, e.Error())
}

func NewGameError(code GameErrorCode, message string) *GameError {
	return &GameError{
		Code:    code,
		Message: message,
	}
}

// NewGameErrorf creates a new GameError with the given code and formatted message.
func NewGameErrorf(code GameErrorCode, message string, a ...any) *GameError {
	return &GameError{
		Code:    code,
		Message: fmt.Sprintf(message, a...),
	}
}

// GameErrorIs reports whether err, or any error it wraps, is a GameError with the given code.
func GameErrorIs(err error, code GameErrorCode) bool {
	var gameErr *GameError
	if errors.As(err, &gameErr) {
		return gameErr.Code == code
	}
	return false
}
