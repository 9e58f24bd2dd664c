package server

import (
	"strings"
	"time"
)

// GameState is the lifecycle phase of a game. ENDED is terminal.
type GameState int

const (
	GameStateInitializing GameState = iota
	GameStateLobby
	GameStateLive
	GameStateEnded
)

func (s GameState) String() string {
	switch s {
	case GameStateInitializing:
		return "INITIALIZING"
	case GameStateLobby:
		return "LOBBY"
	case GameStateLive:
		return "LIVE"
	case GameStateEnded:
		return "ENDED"
	}
	return "UNKNOWN"
}

// GameStateFromLobbyState maps the client's lobby state names to game states.
func GameStateFromLobbyState(state string) (GameState, bool) {
	switch state {
	case "Idle":
		return GameStateInitializing, true
	case "Lobby":
		return GameStateLobby, true
	case "Launching":
		return GameStateLive, true
	case "Ended":
		return GameStateEnded, true
	}
	return 0, false
}

type GameVisibility string

const (
	VisibilityPublic  GameVisibility = "public"
	VisibilityPrivate GameVisibility = "private"
)

type VictoryCondition int

const (
	VictoryDemoralization VictoryCondition = iota
	VictoryDomination
	VictoryEradication
	VictorySandbox
)

func (v VictoryCondition) String() string {
	switch v {
	case VictoryDemoralization:
		return "demoralization"
	case VictoryDomination:
		return "domination"
	case VictoryEradication:
		return "eradication"
	case VictorySandbox:
		return "sandbox"
	}
	return "unknown"
}

func ParseVictoryCondition(s string) (VictoryCondition, bool) {
	switch strings.ToLower(s) {
	case "demoralization":
		return VictoryDemoralization, true
	case "domination":
		return VictoryDomination, true
	case "eradication":
		return VictoryEradication, true
	case "sandbox":
		return VictorySandbox, true
	}
	return 0, false
}

// DefaultGameOptions are applied to every new game before the host changes anything.
func DefaultGameOptions() map[string]string {
	return map[string]string{
		"FogOfWar":             "explored",
		"GameSpeed":            "normal",
		"CheatsEnabled":        "false",
		"PrebuiltUnits":        "Off",
		"NoRushOption":         "Off",
		"RestrictedCategories": "0",
	}
}

// GameSettings is the configuration a game is created with.
type GameSettings struct {
	Name          string
	HostID        int64
	Map           string
	Visibility    GameVisibility
	Password      string
	MinPlayers    int
	MaxPlayers    int
	Ranked        bool
	RatingContext RatingContext
	Victory       VictoryCondition
}

// GameMeta is the summary of a game exposed outside of its handler loop.
type GameMeta struct {
	ID            int64
	Name          string
	HostID        int64
	Map           string
	State         GameState
	Visibility    GameVisibility
	RatingContext RatingContext
	Valid         bool
	InvalidReason string
	Desyncs       int
	Teams         int
	Options       map[string]string
	Players       []int64
	CreatedAt     time.Time
	LaunchedAt    time.Time
	EndedAt       time.Time
}
