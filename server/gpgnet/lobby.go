package gpgnet

import "fmt"

// CreateLobby instructs the client to open a lobby, either as host or ready to join.
type CreateLobby struct {
	RankedMode           int
	Port                 int
	Login                string
	UID                  int64
	NatTraversalProvider int
}

func (m *CreateLobby) Command() string { return "CreateLobby" }

func (m *CreateLobby) Args() []any {
	return []any{m.RankedMode, m.Port, m.Login, m.UID, m.NatTraversalProvider}
}

func (m CreateLobby) String() string {
	return fmt.Sprintf("%s(login=%s, uid=%d, port=%d)", m.Command(), m.Login, m.UID, m.Port)
}

// ConnectToPeer tells an already joined client to open a connection to a new peer.
type ConnectToPeer struct {
	AddressAndPort string
	PlayerName     string
	PlayerUID      int64
}

func (m *ConnectToPeer) Command() string { return "ConnectToPeer" }

func (m *ConnectToPeer) Args() []any {
	return []any{m.AddressAndPort, m.PlayerName, m.PlayerUID}
}

// JoinGame tells a client to join the host's lobby.
type JoinGame struct {
	AddressAndPort   string
	AsObserver       bool
	RemotePlayerName string
	RemotePlayerUID  int64
}

func (m *JoinGame) Command() string { return "JoinGame" }

func (m *JoinGame) Args() []any {
	return []any{m.AddressAndPort, m.AsObserver, m.RemotePlayerName, m.RemotePlayerUID}
}

type SendNatPacket struct {
	AddressAndPort string
	Message        string
}

func (m *SendNatPacket) Command() string { return "SendNatPacket" }

func (m *SendNatPacket) Args() []any {
	return []any{m.AddressAndPort, m.Message}
}

type Ping struct{}

func (m *Ping) Command() string { return "ping" }

func (m *Ping) Args() []any { return []any{} }

// Notice is a lobby message shown to the player, e.g. game results.
type Notice struct {
	Style string
	Text  string
}

func NewScoresNotice(text string) *Notice {
	return &Notice{Style: "scores", Text: text}
}

func (m *Notice) Command() string { return "notice" }

func (m *Notice) Args() []any { return nil }
