package server

import (
	"github.com/samber/lo"
)

// ConnectionState is the connectivity of a client's game connection as seen by the lobby.
type ConnectionState int

const (
	ConnectionInitializing ConnectionState = iota
	ConnectionInitialized
	ConnectionConnectedToHost
	ConnectionEnded
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionInitializing:
		return "initializing"
	case ConnectionInitialized:
		return "initialized"
	case ConnectionConnectedToHost:
		return "connected_to_host"
	case ConnectionEnded:
		return "ended"
	}
	return "unknown"
}

// Connection is a client's game connection.
type Connection interface {
	State() ConnectionState
	Player() Player
}

// ConnectionRegistry holds the connections currently attached to one game, keyed by player.
// It is owned by the game's handler loop and is not safe for concurrent use.
type ConnectionRegistry struct {
	connections map[int64]Connection
	order       []int64
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: make(map[int64]Connection),
	}
}

// Add registers the connection, replacing any earlier connection of the same player.
func (r *ConnectionRegistry) Add(conn Connection) error {
	if conn.State() != ConnectionConnectedToHost {
		return NewGameErrorf(InvalidConnectionState, "connection of %s is %s", conn.Player().Login(), conn.State())
	}
	id := conn.Player().ID()
	if _, found := r.connections[id]; !found {
		r.order = append(r.order, id)
	}
	r.connections[id] = conn
	return nil
}

// Remove drops the player's connection if present and reports whether the registry is now empty.
func (r *ConnectionRegistry) Remove(conn Connection) bool {
	id := conn.Player().ID()
	if _, found := r.connections[id]; found {
		delete(r.connections, id)
		r.order = lo.Without(r.order, id)
	}
	return len(r.connections) == 0
}

func (r *ConnectionRegistry) Get(playerID int64) (Connection, bool) {
	c, ok := r.connections[playerID]
	return c, ok
}

func (r *ConnectionRegistry) Len() int {
	return len(r.connections)
}

// Players returns a snapshot of the registered players in the order they first joined.
func (r *ConnectionRegistry) Players() []Player {
	return lo.Map(r.order, func(id int64, _ int) Player {
		return r.connections[id].Player()
	})
}
