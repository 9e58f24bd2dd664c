package server

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/JeroenDeDauw/server/server/gpgnet"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// GameConnection is a session's connection to the game it hosts or joined.
type GameConnection struct {
	session Session
	player  *OnlinePlayer
	game    *GameHandler
	host    bool
	state   *atomic.Int32
}

var _ Connection = &GameConnection{}

func NewGameConnection(session Session, player *OnlinePlayer, game *GameHandler) *GameConnection {
	return &GameConnection{
		session: session,
		player:  player,
		game:    game,
		host:    player.ID() == game.HostID(),
		state:   atomic.NewInt32(int32(ConnectionInitializing)),
	}
}

func (c *GameConnection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *GameConnection) SetState(state ConnectionState) {
	c.state.Store(int32(state))
}

func (c *GameConnection) Player() Player {
	return c.player
}

func (c *GameConnection) IsHost() bool {
	return c.host
}

// Pipeline routes inbound GPGNet commands from sessions to their games.
type Pipeline struct {
	logger  *zap.Logger
	config  *Config
	store   GameStore
	games   *GameRegistry
	players *PlayerRegistry

	connections *MapOf[uuid.UUID, *GameConnection]
}

func NewPipeline(logger *zap.Logger, config *Config, store GameStore, games *GameRegistry, players *PlayerRegistry) *Pipeline {
	return &Pipeline{
		logger:  logger,
		config:  config,
		store:   store,
		games:   games,
		players: players,

		connections: &MapOf[uuid.UUID, *GameConnection]{},
	}
}

// ProcessRequest handles one inbound command. Game errors are logged and reported to the
// client but never close the session; a false return does.
func (p *Pipeline) ProcessRequest(logger *zap.Logger, session Session, in gpgnet.Inbound) bool {
	ctx := session.Context()

	var err error
	switch msg := in.(type) {
	case *gpgnet.GameHost:
		err = p.hostGame(ctx, logger, session, msg)
	case *gpgnet.GameJoin:
		err = p.joinGame(ctx, logger, session, msg)
	case *gpgnet.GameState:
		err = p.gameState(ctx, logger, session, msg)
	case *gpgnet.PlayerOption:
		err = p.hostSignal(ctx, session, SignalPlayerOption, SignalPlayerOptionPayload{PlayerID: msg.PlayerID, Key: msg.Key, Value: msg.Value})
	case *gpgnet.AIOption:
		err = p.aiOption(ctx, session, msg)
	case *gpgnet.GameOption:
		err = p.hostSignal(ctx, session, SignalGameOption, SignalGameOptionPayload{Key: msg.Key, Value: msg.Value})
	case *gpgnet.ClearSlot:
		err = p.hostSignal(ctx, session, SignalClearSlot, SignalClearSlotPayload{Slot: msg.Slot})
	case *gpgnet.GameResult:
		err = p.gameResult(ctx, session, msg)
	case *gpgnet.Desync:
		err = p.signal(ctx, session, SignalDesync, nil)
	case *gpgnet.ProcessNatPacket:
		// NAT traversal is handled by the clients' relay.
		logger.Debug("Ignoring NAT packet", zap.String("address", msg.AddressAndPort))
	case *gpgnet.Pong:
	default:
		logger.Warn("Unhandled command")
	}

	if err != nil {
		logger.Info("Command failed", zap.Error(err))
		switch in.(type) {
		case *gpgnet.GameHost, *gpgnet.GameJoin:
			p.sendError(session, err)
		}
	}
	return true
}

func (p *Pipeline) sendError(session Session, err error) {
	if sendErr := session.Send(&gpgnet.Notice{Style: "error", Text: err.Error()}); sendErr != nil {
		session.Logger().Debug("Failed to send error notice", zap.Error(sendErr))
	}
}

func (p *Pipeline) onlinePlayer(session Session) (*OnlinePlayer, error) {
	player, ok := p.players.Get(session.UserID())
	if !ok {
		return nil, NewGameErrorf(GameNotFound, "player %d is not online", session.UserID())
	}
	return player, nil
}

func (p *Pipeline) connection(session Session) (*GameConnection, error) {
	conn, ok := p.connections.Load(session.ID())
	if !ok {
		return nil, NewGameError(GameNotFound, "not in a game")
	}
	return conn, nil
}

func (p *Pipeline) hostGame(ctx context.Context, logger *zap.Logger, session Session, msg *gpgnet.GameHost) error {
	player, err := p.onlinePlayer(session)
	if err != nil {
		return err
	}
	rc, ok := ParseRatingContext(msg.RatingContext)
	if !ok {
		return NewGameErrorf(InvalidOption, "unknown rating context %q", msg.RatingContext)
	}
	visibility := VisibilityPublic
	if msg.Visibility == string(VisibilityPrivate) {
		visibility = VisibilityPrivate
	}

	p.leaveGame(session)

	settings := GameSettings{
		Name:          msg.Title,
		HostID:        player.ID(),
		Map:           msg.Map,
		Visibility:    visibility,
		Password:      msg.Password,
		MinPlayers:    p.config.Game.MinPlayers,
		MaxPlayers:    12,
		Ranked:        true,
		RatingContext: rc,
		Victory:       VictoryDemoralization,
	}
	handler, err := p.games.CreateGame(ctx, settings)
	if err != nil {
		return err
	}

	p.connections.Store(session.ID(), NewGameConnection(session, player, handler))
	logger.Info("Hosting game", zap.Int64("game_id", handler.ID()))
	return session.Send(&gpgnet.GameLaunch{UID: handler.ID(), Mod: "faf"})
}

func (p *Pipeline) joinGame(ctx context.Context, logger *zap.Logger, session Session, msg *gpgnet.GameJoin) error {
	player, err := p.onlinePlayer(session)
	if err != nil {
		return err
	}
	handler, err := p.games.Get(msg.UID)
	if err != nil {
		return err
	}
	if !handler.Authorize(msg.Password) {
		return NewGameError(InvalidOption, "wrong password")
	}

	resp, err := handler.Signal(ctx, SignalGetMeta, nil)
	if err != nil {
		return err
	}
	if meta, ok := resp.Payload.(GameMeta); ok && meta.State != GameStateLobby {
		return NewGameErrorf(InvalidTransition, "game %d is %s", msg.UID, meta.State)
	}

	p.leaveGame(session)
	p.connections.Store(session.ID(), NewGameConnection(session, player, handler))
	logger.Info("Joining game", zap.Int64("game_id", handler.ID()))
	return session.Send(&gpgnet.GameLaunch{UID: handler.ID(), Mod: "faf"})
}

func (p *Pipeline) gameState(ctx context.Context, logger *zap.Logger, session Session, msg *gpgnet.GameState) error {
	conn, err := p.connection(session)
	if err != nil {
		return err
	}
	state, ok := GameStateFromLobbyState(msg.State)
	if !ok {
		return NewGameErrorf(InvalidOption, "unknown game state %q", msg.State)
	}

	switch state {
	case GameStateInitializing:
		conn.SetState(ConnectionInitialized)
		return session.Send(&gpgnet.CreateLobby{
			RankedMode:           0,
			Port:                 p.config.Game.GamePort,
			Login:                session.Login(),
			UID:                  session.UserID(),
			NatTraversalProvider: 1,
		})

	case GameStateLobby:
		if conn.IsHost() {
			// A repeated Lobby state from the host only re-registers its connection.
			if _, err := conn.game.Signal(ctx, SignalSetLobby, nil); err != nil && !GameErrorIs(err, InvalidTransition) {
				return err
			}
			conn.SetState(ConnectionConnectedToHost)
			_, err := conn.game.Signal(ctx, SignalAddConnection, conn)
			return err
		}
		return p.connectToPeers(ctx, logger, conn)

	case GameStateLive:
		if !conn.IsHost() {
			return NewGameError(InvalidOption, "only the host can launch")
		}
		return p.launch(ctx, logger, conn)

	case GameStateEnded:
		p.leaveGame(session)
	}
	return nil
}

// launch starts the game and flags it invalid when it was launched with unfair options.
func (p *Pipeline) launch(ctx context.Context, logger *zap.Logger, conn *GameConnection) error {
	if _, err := conn.game.Signal(ctx, SignalLaunch, nil); err != nil {
		return err
	}
	resp, err := conn.game.Signal(ctx, SignalGetMeta, nil)
	if err != nil {
		return err
	}
	meta, _ := resp.Payload.(GameMeta)
	reason, ok := launchValidity(meta.Options)
	if ok {
		return nil
	}
	logger.Info("Game launched with invalid options", zap.Int64("game_id", conn.game.ID()), zap.String("reason", reason))
	_, err = conn.game.Signal(ctx, SignalMarkInvalid, SignalMarkInvalidPayload{Reason: reason})
	return err
}

// launchValidity checks the game options a rated game must keep at their defaults.
func launchValidity(options map[string]string) (string, bool) {
	switch {
	case strings.EqualFold(options["CheatsEnabled"], "true"):
		return "cheats enabled", false
	case options["PrebuiltUnits"] != "" && options["PrebuiltUnits"] != "Off":
		return "prebuilt units enabled", false
	case options["NoRushOption"] != "" && options["NoRushOption"] != "Off":
		return "no rush enabled", false
	case options["RestrictedCategories"] != "" && options["RestrictedCategories"] != "0":
		return "unit restrictions", false
	}
	return "", true
}

// connectToPeers admits a joining player and tells every side of the new pairings.
func (p *Pipeline) connectToPeers(ctx context.Context, logger *zap.Logger, conn *GameConnection) error {
	resp, err := conn.game.Signal(ctx, SignalGetPlayers, nil)
	if err != nil {
		return err
	}
	peers, _ := resp.Payload.([]Player)

	conn.SetState(ConnectionConnectedToHost)
	if _, err := conn.game.Signal(ctx, SignalAddConnection, conn); err != nil {
		conn.SetState(ConnectionInitialized)
		return err
	}

	joiner := conn.session
	for _, peer := range peers {
		if peer.ID() == joiner.UserID() {
			continue
		}
		peerSession, ok := p.players.Session(peer.ID())
		if !ok {
			continue
		}
		if peer.ID() == conn.game.HostID() {
			err = joiner.Send(&gpgnet.JoinGame{
				AddressAndPort:   p.address(peerSession),
				RemotePlayerName: peer.Login(),
				RemotePlayerUID:  peer.ID(),
			})
		} else {
			err = joiner.Send(&gpgnet.ConnectToPeer{
				AddressAndPort: p.address(peerSession),
				PlayerName:     peer.Login(),
				PlayerUID:      peer.ID(),
			})
		}
		if err != nil {
			return err
		}
		if err := peerSession.Send(&gpgnet.ConnectToPeer{
			AddressAndPort: p.address(joiner),
			PlayerName:     joiner.Login(),
			PlayerUID:      joiner.UserID(),
		}); err != nil {
			logger.Debug("Failed to notify peer", zap.Int64("peer_id", peer.ID()), zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) address(session Session) string {
	return net.JoinHostPort(session.ClientIP(), strconv.Itoa(p.config.Game.GamePort))
}

func (p *Pipeline) signal(ctx context.Context, session Session, op SignalOpCode, payload any) error {
	conn, err := p.connection(session)
	if err != nil {
		return err
	}
	_, err = conn.game.Signal(ctx, op, payload)
	return err
}

// hostSignal forwards a lobby setup command, which only the host may send.
func (p *Pipeline) hostSignal(ctx context.Context, session Session, op SignalOpCode, payload any) error {
	conn, err := p.connection(session)
	if err != nil {
		return err
	}
	if !conn.IsHost() {
		return NewGameErrorf(InvalidOption, "only the host can send %s", op)
	}
	_, err = conn.game.Signal(ctx, op, payload)
	return err
}

func (p *Pipeline) aiOption(ctx context.Context, session Session, msg *gpgnet.AIOption) error {
	r, found, err := p.store.ReadAIRating(ctx, AIRatingName(msg.Name))
	if err != nil {
		return err
	}
	if !found {
		r = NewRating(0, 0)
	}
	return p.hostSignal(ctx, session, SignalAIOption, SignalAIOptionPayload{
		Name:   msg.Name,
		Key:    msg.Key,
		Value:  msg.Value,
		Rating: r,
	})
}

func (p *Pipeline) gameResult(ctx context.Context, session Session, msg *gpgnet.GameResult) error {
	kind, score, err := msg.Outcome()
	if err != nil {
		return NewGameErrorf(InvalidOption, "game result: %v", err)
	}
	k, ok := ParseOutcomeKind(kind)
	if !ok {
		return NewGameErrorf(InvalidOption, "unknown result %q", kind)
	}
	return p.signal(ctx, session, SignalReportResult, SignalReportResultPayload{Army: msg.Army, Kind: k, Score: score})
}

// leaveGame detaches the session from its game, if any. The game ends when its last connection leaves.
func (p *Pipeline) leaveGame(session Session) {
	conn, ok := p.connections.LoadAndDelete(session.ID())
	if !ok {
		return
	}
	conn.SetState(ConnectionEnded)

	// The session context may already be cancelled.
	resp, err := conn.game.Signal(context.Background(), SignalRemoveConnection, conn)
	if err != nil {
		session.Logger().Debug("Failed to remove game connection", zap.Int64("game_id", conn.game.ID()), zap.Error(err))
		return
	}
	res, _ := resp.Payload.(SignalConnectionResult)
	switch {
	case res.Ended:
		session.Logger().Info("Last connection left, game ended", zap.Int64("game_id", conn.game.ID()))
	case conn.IsHost() && res.Connections == 0:
		// The host left before its own connection was admitted.
		if _, err := conn.game.Signal(context.Background(), SignalEndGame, nil); err != nil {
			session.Logger().Debug("Failed to end abandoned game", zap.Int64("game_id", conn.game.ID()), zap.Error(err))
		}
	}
}

// SessionClosed is called once when a session ends.
func (p *Pipeline) SessionClosed(session Session) {
	p.leaveGame(session)
}
