package server

import (
	"context"

	"github.com/JeroenDeDauw/server/server/gpgnet"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Session is an authenticated client connection.
type Session interface {
	Logger() *zap.Logger
	ID() uuid.UUID
	UserID() int64
	Login() string
	ClientIP() string
	ClientPort() string
	Context() context.Context

	Consume()

	Send(msgs ...gpgnet.Outbound) error
	SendBytes(payload []byte) error

	Close(msg string)
}

type onlineEntry struct {
	player  *OnlinePlayer
	session Session
}

// PlayerRegistry tracks the players currently online and the session each is connected with.
// A player has at most one session; a newer session replaces the older one.
type PlayerRegistry struct {
	logger  *zap.Logger
	metrics Metrics

	sessions     *MapOf[uuid.UUID, Session]
	players      *MapOf[int64, *onlineEntry]
	sessionCount *atomic.Int32
}

func NewPlayerRegistry(logger *zap.Logger, metrics Metrics) *PlayerRegistry {
	return &PlayerRegistry{
		logger:  logger,
		metrics: metrics,

		sessions:     &MapOf[uuid.UUID, Session]{},
		players:      &MapOf[int64, *onlineEntry]{},
		sessionCount: atomic.NewInt32(0),
	}
}

// Add registers a session and its player. An older session of the same player is closed.
func (r *PlayerRegistry) Add(session Session, player *OnlinePlayer) {
	r.sessions.Store(session.ID(), session)
	r.sessionCount.Inc()

	entry := &onlineEntry{player: player, session: session}
	if old, loaded := r.players.LoadOrStore(player.ID(), entry); loaded {
		r.players.Store(player.ID(), entry)
		if old.session.ID() != session.ID() {
			r.logger.Debug("Replacing session", zap.Int64("player_id", player.ID()), zap.String("old_sid", old.session.ID().String()))
			go old.session.Close("connected from another location")
		}
	}
}

// Remove drops a session. The player stays online if a newer session replaced it.
func (r *PlayerRegistry) Remove(session Session) {
	if _, ok := r.sessions.LoadAndDelete(session.ID()); !ok {
		return
	}
	r.sessionCount.Dec()

	if entry, ok := r.players.Load(session.UserID()); ok && entry.session.ID() == session.ID() {
		r.players.CompareAndDelete(session.UserID(), entry)
	}
}

func (r *PlayerRegistry) Get(playerID int64) (*OnlinePlayer, bool) {
	entry, ok := r.players.Load(playerID)
	if !ok {
		return nil, false
	}
	return entry.player, true
}

// OnlinePlayer returns the in-memory rating holder of an online player.
func (r *PlayerRegistry) OnlinePlayer(playerID int64) (RatingApplier, bool) {
	p, ok := r.Get(playerID)
	if !ok {
		return nil, false
	}
	return p, true
}

func (r *PlayerRegistry) Session(playerID int64) (Session, bool) {
	entry, ok := r.players.Load(playerID)
	if !ok {
		return nil, false
	}
	return entry.session, true
}

func (r *PlayerRegistry) SessionByID(sessionID uuid.UUID) (Session, bool) {
	return r.sessions.Load(sessionID)
}

func (r *PlayerRegistry) Count() int {
	return int(r.sessionCount.Load())
}

// Stop closes every session.
func (r *PlayerRegistry) Stop() {
	r.sessions.Range(func(_ uuid.UUID, s Session) bool {
		s.Close("server shutdown")
		return true
	})
}
