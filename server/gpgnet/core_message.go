package gpgnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrParseError     = errors.New("parse error")

	// Inbound commands sent by the game client, keyed by command name.
	CommandTypes = map[string]func() Inbound{
		"GameState":        func() Inbound { return &GameState{} },
		"PlayerOption":     func() Inbound { return &PlayerOption{} },
		"AIOption":         func() Inbound { return &AIOption{} },
		"GameOption":       func() Inbound { return &GameOption{} },
		"ClearSlot":        func() Inbound { return &ClearSlot{} },
		"GameResult":       func() Inbound { return &GameResult{} },
		"Desync":           func() Inbound { return &Desync{} },
		"ProcessNatPacket": func() Inbound { return &ProcessNatPacket{} },
		"pong":             func() Inbound { return &Pong{} },
		"game_host":        func() Inbound { return &GameHost{} },
		"game_join":        func() Inbound { return &GameJoin{} },
	}
)

// Envelope is the JSON framing shared by every message on the lobby connection.
//
//	{"command": "GameState", "target": "game", "args": ["Lobby"]}
type Envelope struct {
	Command string            `json:"command"`
	Target  string            `json:"target,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
	Style   string            `json:"style,omitempty"`
	Text    string            `json:"text,omitempty"`
}

// Message is a named GPGNet command.
type Message interface {
	Command() string
}

// Inbound is a message received from a game client.
type Inbound interface {
	Message
	UnmarshalArgs(args []json.RawMessage) error
}

// Outbound is a message sent to a game client.
type Outbound interface {
	Message
	Args() []any
}

// Parse decodes a single envelope into its inbound message.
func Parse(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseError, err)
	}
	factory, ok := CommandTypes[env.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)
	}
	msg := factory()
	if err := msg.UnmarshalArgs(env.Args); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParseError, env.Command, err)
	}
	return msg, nil
}

// Marshal returns the wire encoding of an outbound message.
func Marshal(msg Outbound) ([]byte, error) {
	if n, ok := msg.(*Notice); ok {
		return json.Marshal(Envelope{Command: n.Command(), Style: n.Style, Text: n.Text})
	}
	args := msg.Args()
	raw := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal %s arg %d: %w", msg.Command(), i, err)
		}
		raw = append(raw, b)
	}
	target := "game"
	if t, ok := msg.(targeted); ok {
		target = t.Target()
	}
	return json.Marshal(Envelope{Command: msg.Command(), Target: target, Args: raw})
}

// targeted is implemented by outbound messages addressed to the lobby client rather than the game.
type targeted interface {
	Target() string
}

func requireArgs(args []json.RawMessage, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected %d args, got %d", n, len(args))
	}
	return nil
}

func argString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	// Numbers and booleans are kept in their literal form.
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", nil
	default:
		return string(raw), nil
	}
}

func argInt(raw json.RawMessage) (int64, error) {
	s, err := argString(raw)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}
