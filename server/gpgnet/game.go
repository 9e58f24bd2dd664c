package gpgnet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GameState reports the client's lobby state: Idle, Lobby, Launching or Ended.
type GameState struct {
	State string
}

func (m *GameState) Command() string { return "GameState" }

func (m *GameState) UnmarshalArgs(args []json.RawMessage) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}
	s, err := argString(args[0])
	if err != nil {
		return err
	}
	m.State = s
	return nil
}

// PlayerOption is sent by the host when a player's slot settings change.
type PlayerOption struct {
	PlayerID int64
	Key      string
	Value    string
}

func (m *PlayerOption) Command() string { return "PlayerOption" }

func (m *PlayerOption) UnmarshalArgs(args []json.RawMessage) (err error) {
	if err = requireArgs(args, 3); err != nil {
		return err
	}
	if m.PlayerID, err = argInt(args[0]); err != nil {
		return fmt.Errorf("player id: %w", err)
	}
	if m.Key, err = argString(args[1]); err != nil {
		return err
	}
	m.Value, err = argString(args[2])
	return err
}

func (m PlayerOption) String() string {
	return fmt.Sprintf("%s(player=%d, %s=%s)", m.Command(), m.PlayerID, m.Key, m.Value)
}

// AIOption is the PlayerOption equivalent for AI slots, identified by name.
type AIOption struct {
	Name  string
	Key   string
	Value string
}

func (m *AIOption) Command() string { return "AIOption" }

func (m *AIOption) UnmarshalArgs(args []json.RawMessage) (err error) {
	if err = requireArgs(args, 3); err != nil {
		return err
	}
	if m.Name, err = argString(args[0]); err != nil {
		return err
	}
	if m.Key, err = argString(args[1]); err != nil {
		return err
	}
	m.Value, err = argString(args[2])
	return err
}

type GameOption struct {
	Key   string
	Value string
}

func (m *GameOption) Command() string { return "GameOption" }

func (m *GameOption) UnmarshalArgs(args []json.RawMessage) (err error) {
	if err = requireArgs(args, 2); err != nil {
		return err
	}
	if m.Key, err = argString(args[0]); err != nil {
		return err
	}
	m.Value, err = argString(args[1])
	return err
}

// ClearSlot is sent by the host when a slot is emptied.
type ClearSlot struct {
	Slot int
}

func (m *ClearSlot) Command() string { return "ClearSlot" }

func (m *ClearSlot) UnmarshalArgs(args []json.RawMessage) error {
	if err := requireArgs(args, 1); err != nil {
		return err
	}
	v, err := argInt(args[0])
	if err != nil {
		return err
	}
	m.Slot = int(v)
	return nil
}

// GameResult is reported by every peer, for every army, e.g. [3, "victory 10"].
type GameResult struct {
	Army   int
	Result string
}

func (m *GameResult) Command() string { return "GameResult" }

func (m *GameResult) UnmarshalArgs(args []json.RawMessage) (err error) {
	if err = requireArgs(args, 2); err != nil {
		return err
	}
	army, err := argInt(args[0])
	if err != nil {
		return fmt.Errorf("army: %w", err)
	}
	m.Army = int(army)
	m.Result, err = argString(args[1])
	return err
}

// Outcome splits the result text into its kind and score. A missing score is 0.
func (m GameResult) Outcome() (string, int, error) {
	fields := strings.Fields(m.Result)
	if len(fields) == 0 {
		return "", 0, fmt.Errorf("empty result")
	}
	kind := strings.ToLower(fields[0])
	if len(fields) == 1 {
		return kind, 0, nil
	}
	score, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid score %q: %w", fields[1], err)
	}
	return kind, score, nil
}

type Desync struct{}

func (m *Desync) Command() string { return "Desync" }

func (m *Desync) UnmarshalArgs([]json.RawMessage) error { return nil }

type ProcessNatPacket struct {
	AddressAndPort string
	Message        string
}

func (m *ProcessNatPacket) Command() string { return "ProcessNatPacket" }

func (m *ProcessNatPacket) UnmarshalArgs(args []json.RawMessage) (err error) {
	if err = requireArgs(args, 2); err != nil {
		return err
	}
	if m.AddressAndPort, err = argString(args[0]); err != nil {
		return err
	}
	m.Message, err = argString(args[1])
	return err
}

type Pong struct{}

func (m *Pong) Command() string { return "pong" }

func (m *Pong) UnmarshalArgs([]json.RawMessage) error { return nil }
