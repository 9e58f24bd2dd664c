package gpgnet

import (
	"encoding/json"
	"fmt"
)

// GameHost asks the server to create a game hosted by the sender.
//
//	{"command": "game_host", "args": ["title", "scmp_007", "public", "", "global"]}
type GameHost struct {
	Title         string
	Map           string
	Visibility    string
	Password      string
	RatingContext string
}

func (m *GameHost) Command() string { return "game_host" }

func (m *GameHost) UnmarshalArgs(args []json.RawMessage) (err error) {
	if err = requireArgs(args, 2); err != nil {
		return err
	}
	if m.Title, err = argString(args[0]); err != nil {
		return err
	}
	if m.Map, err = argString(args[1]); err != nil {
		return err
	}
	m.Visibility, m.RatingContext = "public", "global"
	if len(args) > 2 {
		if m.Visibility, err = argString(args[2]); err != nil {
			return err
		}
	}
	if len(args) > 3 {
		if m.Password, err = argString(args[3]); err != nil {
			return err
		}
	}
	if len(args) > 4 {
		if m.RatingContext, err = argString(args[4]); err != nil {
			return err
		}
	}
	return nil
}

// GameJoin asks the server to join an existing game.
type GameJoin struct {
	UID      int64
	Password string
}

func (m *GameJoin) Command() string { return "game_join" }

func (m *GameJoin) UnmarshalArgs(args []json.RawMessage) (err error) {
	if err = requireArgs(args, 1); err != nil {
		return err
	}
	if m.UID, err = argInt(args[0]); err != nil {
		return fmt.Errorf("game id: %w", err)
	}
	if len(args) > 1 {
		m.Password, err = argString(args[1])
	}
	return err
}

// GameLaunch tells the lobby client to start the game process for a game.
type GameLaunch struct {
	UID   int64
	Mod   string
	Flags []string
}

func (m *GameLaunch) Command() string { return "game_launch" }

func (m *GameLaunch) Target() string { return "" }

func (m *GameLaunch) Args() []any {
	flags := m.Flags
	if flags == nil {
		flags = []string{}
	}
	return []any{m.UID, m.Mod, flags}
}
