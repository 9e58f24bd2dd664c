package server

import (
	"fmt"

	"github.com/intinig/go-openskill/types"
)

type SignalOpCode int

const (
	SignalAddConnection SignalOpCode = iota
	SignalRemoveConnection
	SignalSetLobby
	SignalLaunch
	SignalPlayerOption
	SignalAIOption
	SignalGameOption
	SignalClearSlot
	SignalReportResult
	SignalDesync
	SignalMarkInvalid
	SignalEndGame
	SignalGetMeta
	SignalGetPlayers
)

var signalNames = map[SignalOpCode]string{
	SignalAddConnection:    "add_connection",
	SignalRemoveConnection: "remove_connection",
	SignalSetLobby:         "set_lobby",
	SignalLaunch:           "launch",
	SignalPlayerOption:     "player_option",
	SignalAIOption:         "ai_option",
	SignalGameOption:       "game_option",
	SignalClearSlot:        "clear_slot",
	SignalReportResult:     "report_result",
	SignalDesync:           "desync",
	SignalMarkInvalid:      "mark_invalid",
	SignalEndGame:          "end_game",
	SignalGetMeta:          "get_meta",
	SignalGetPlayers:       "get_players",
}

func (c SignalOpCode) String() string {
	if s, ok := signalNames[c]; ok {
		return s
	}
	return fmt.Sprintf("signal(%d)", int(c))
}

// SignalEnvelope carries one mutation or query to a game's handler loop.
type SignalEnvelope struct {
	OpCode  SignalOpCode
	Payload any
	resp    chan SignalResponse
}

func NewSignalEnvelope(op SignalOpCode, payload any) *SignalEnvelope {
	return &SignalEnvelope{
		OpCode:  op,
		Payload: payload,
		resp:    make(chan SignalResponse, 1),
	}
}

type SignalResponse struct {
	Success bool
	Message string
	Payload any
	Err     error
}

func signalOK(payload any) SignalResponse {
	return SignalResponse{Success: true, Payload: payload}
}

func signalFailed(err error) SignalResponse {
	return SignalResponse{Message: err.Error(), Err: err}
}

type SignalPlayerOptionPayload struct {
	PlayerID int64
	Key      string
	Value    string
}

type SignalAIOptionPayload struct {
	Name   string
	Key    string
	Value  string
	Rating types.Rating
}

type SignalGameOptionPayload struct {
	Key   string
	Value string
}

type SignalClearSlotPayload struct {
	Slot int
}

type SignalReportResultPayload struct {
	Army  int
	Kind  OutcomeKind
	Score int
}

type SignalMarkInvalidPayload struct {
	Reason string
}

// SignalConnectionResult answers add and remove connection signals.
type SignalConnectionResult struct {
	Connections int
	Ended       bool
}
