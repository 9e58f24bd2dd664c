package gpgnet

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Inbound
	}{
		{
			name: "game state",
			data: `{"command": "GameState", "target": "game", "args": ["Lobby"]}`,
			want: &GameState{State: "Lobby"},
		},
		{
			name: "player option with numeric value",
			data: `{"command": "PlayerOption", "args": [42, "Team", 2]}`,
			want: &PlayerOption{PlayerID: 42, Key: "Team", Value: "2"},
		},
		{
			name: "player option with string id",
			data: `{"command": "PlayerOption", "args": ["42", "Faction", "3"]}`,
			want: &PlayerOption{PlayerID: 42, Key: "Faction", Value: "3"},
		},
		{
			name: "ai option",
			data: `{"command": "AIOption", "args": ["QAI", "StartSpot", 3]}`,
			want: &AIOption{Name: "QAI", Key: "StartSpot", Value: "3"},
		},
		{
			name: "game option",
			data: `{"command": "GameOption", "args": ["Victory", "domination"]}`,
			want: &GameOption{Key: "Victory", Value: "domination"},
		},
		{
			name: "clear slot",
			data: `{"command": "ClearSlot", "args": [4]}`,
			want: &ClearSlot{Slot: 4},
		},
		{
			name: "game result",
			data: `{"command": "GameResult", "args": [1, "victory 10"]}`,
			want: &GameResult{Army: 1, Result: "victory 10"},
		},
		{
			name: "desync",
			data: `{"command": "Desync", "args": []}`,
			want: &Desync{},
		},
		{
			name: "nat packet",
			data: `{"command": "ProcessNatPacket", "args": ["1.2.3.4:6112", "hello"]}`,
			want: &ProcessNatPacket{AddressAndPort: "1.2.3.4:6112", Message: "hello"},
		},
		{
			name: "game host defaults",
			data: `{"command": "game_host", "args": ["My game", "scmp_007"]}`,
			want: &GameHost{Title: "My game", Map: "scmp_007", Visibility: "public", RatingContext: "global"},
		},
		{
			name: "game join",
			data: `{"command": "game_join", "args": [7, "secret"]}`,
			want: &GameJoin{UID: 7, Password: "secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.data))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"not json", `GameState Lobby`, ErrParseError},
		{"unknown command", `{"command": "Chat", "args": ["hi"]}`, ErrUnknownCommand},
		{"missing args", `{"command": "PlayerOption", "args": [1, "Team"]}`, ErrParseError},
		{"bad player id", `{"command": "PlayerOption", "args": ["abc", "Team", 1]}`, ErrParseError},
		{"bad army", `{"command": "GameResult", "args": ["x", "defeat"]}`, ErrParseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMarshal(t *testing.T) {
	tests := []struct {
		name string
		msg  Outbound
		want string
	}{
		{
			name: "create lobby",
			msg:  &CreateLobby{RankedMode: 0, Port: 6112, Login: "alice", UID: 1, NatTraversalProvider: 1},
			want: `{"command":"CreateLobby","target":"game","args":[0,6112,"alice",1,1]}`,
		},
		{
			name: "connect to peer",
			msg:  &ConnectToPeer{AddressAndPort: "1.2.3.4:6112", PlayerName: "bob", PlayerUID: 2},
			want: `{"command":"ConnectToPeer","target":"game","args":["1.2.3.4:6112","bob",2]}`,
		},
		{
			name: "join game",
			msg:  &JoinGame{AddressAndPort: "1.2.3.4:6112", RemotePlayerName: "alice", RemotePlayerUID: 1},
			want: `{"command":"JoinGame","target":"game","args":["1.2.3.4:6112",false,"alice",1]}`,
		},
		{
			name: "send nat packet",
			msg:  &SendNatPacket{AddressAndPort: "1.2.3.4:6112", Message: "hello"},
			want: `{"command":"SendNatPacket","target":"game","args":["1.2.3.4:6112","hello"]}`,
		},
		{
			name: "ping",
			msg:  &Ping{},
			want: `{"command":"ping","target":"game"}`,
		},
		{
			name: "notice",
			msg:  NewScoresNotice("GAME RESULTS"),
			want: `{"command":"notice","style":"scores","text":"GAME RESULTS"}`,
		},
		{
			name: "game launch",
			msg:  &GameLaunch{UID: 9, Mod: "faf"},
			want: `{"command":"game_launch","args":[9,"faf",[]]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestGameResultOutcome(t *testing.T) {
	tests := []struct {
		result    string
		wantKind  string
		wantScore int
		wantErr   bool
	}{
		{"victory 10", "victory", 10, false},
		{"defeat -10", "defeat", -10, false},
		{"draw 0", "draw", 0, false},
		{"score 3", "score", 3, false},
		{"Defeat", "defeat", 0, false},
		{"", "", 0, true},
		{"victory ten", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			kind, score, err := GameResult{Army: 1, Result: tt.result}.Outcome()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantScore, score)
		})
	}
}

func TestArgStringKeepsLiterals(t *testing.T) {
	for raw, want := range map[string]string{
		`"text"`: "text",
		`3`:      "3",
		`2.5`:    "2.5",
		`true`:   "true",
		`null`:   "",
	} {
		got, err := argString(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Equal(t, want, got, raw)
	}
}
