package server

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/intinig/go-openskill/types"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const aiDetectedNotice = "AI detected in game - No rating for humans."

// GameOptionPartial weights the game's rating change, from 0 (no change) to 1 (a full game).
const GameOptionPartial = "Partial"

// GameOutcome is produced exactly once, when a game ends.
type GameOutcome struct {
	GameID        int64
	Context       RatingContext
	Valid         bool
	InvalidReason string
	// ResultsComplete is whether every participant had a final result before missing ones were filled.
	ResultsComplete bool
	Ratings         *RatingResult
	// RatingErr is why no ratings were produced, if any.
	RatingErr error
}

// RatingResult is the fixed result of rating a game.
type RatingResult struct {
	Context RatingContext
	Totals  []int
	Winner  int
	Draw    bool
	// Updates are the rows to persist. Human rows are absent when an AI took part.
	Updates []RatingUpdate
	// Rated holds every blended rating, persisted or not.
	Rated []RatingUpdate
	// AIPresent suppresses human rating writes.
	AIPresent bool
	Notices   map[int64][]string
}

// Game tracks one match from lobby to end. It is owned by a single handler loop and
// is not safe for concurrent use.
type Game struct {
	logger    *zap.Logger
	id        int64
	createdAt time.Time
	settings  GameSettings
	options   map[string]string
	config    *GameConfig
	engine    *RatingEngine

	state         GameState
	valid         bool
	invalidReason string
	desyncs       int
	partial       float64

	connections *ConnectionRegistry
	teams       *TeamAssignment
	results     *ResultAggregator
	ais         map[string]*AIPlayer
	aiOrder     []string

	roster     []Player
	finalTeams []Team
	launchedAt time.Time
	endedAt    time.Time

	ended  *atomic.Bool
	onEnd  func(GameOutcome)
	result *RatingResult
}

func NewGame(logger *zap.Logger, id int64, settings GameSettings, config *GameConfig, engine *RatingEngine) *Game {
	if config == nil {
		config = NewGameConfig()
	}
	return &Game{
		logger:      logger.With(zap.Int64("game_id", id)),
		id:          id,
		createdAt:   time.Now().UTC(),
		settings:    settings,
		options:     DefaultGameOptions(),
		config:      config,
		engine:      engine,
		state:       GameStateInitializing,
		valid:       true,
		partial:     1.0,
		connections: NewConnectionRegistry(),
		teams:       NewTeamAssignment(),
		results:     NewResultAggregator(),
		ais:         make(map[string]*AIPlayer),
		ended:       atomic.NewBool(false),
		onEnd:       func(GameOutcome) {},
	}
}

// OnEnd sets the function that receives the outcome when the game ends.
func (g *Game) OnEnd(fn func(GameOutcome)) {
	g.onEnd = fn
}

func (g *Game) ID() int64 {
	return g.id
}

func (g *Game) State() GameState {
	return g.state
}

func (g *Game) Settings() GameSettings {
	return g.settings
}

func (g *Game) Valid() (bool, string) {
	return g.valid, g.invalidReason
}

func (g *Game) Desyncs() int {
	return g.desyncs
}

func (g *Game) FinalTeams() []Team {
	return g.finalTeams
}

func (g *Game) Options() map[string]string {
	return lo.Assign(g.options)
}

func (g *Game) Results() *ResultAggregator {
	return g.results
}

func (g *Game) Teams() *TeamAssignment {
	return g.teams
}

// SetLobby moves a new game into the lobby once the host is ready.
func (g *Game) SetLobby() error {
	if g.state != GameStateInitializing {
		return NewGameErrorf(InvalidTransition, "cannot open lobby from %s", g.state)
	}
	g.state = GameStateLobby
	g.logger.Debug("Lobby open")
	return nil
}

// AddConnection admits a client connection. Connections are accepted in the lobby only,
// or from the host while the game is initializing when the policy allows it.
func (g *Game) AddConnection(conn Connection) error {
	switch g.state {
	case GameStateLobby:
	case GameStateInitializing:
		if !g.config.AllowHostInInitializing || conn.Player().ID() != g.settings.HostID {
			return NewGameErrorf(InvalidTransition, "cannot join a game in %s", g.state)
		}
	default:
		return NewGameErrorf(InvalidTransition, "cannot join a game in %s", g.state)
	}
	if err := g.connections.Add(conn); err != nil {
		return err
	}
	g.logger.Debug("Connection added", zap.Int64("player_id", conn.Player().ID()), zap.String("login", conn.Player().Login()))
	return nil
}

// RemoveConnection drops a client connection. The game ends when the last one leaves.
// It returns whether this call ended the game.
func (g *Game) RemoveConnection(conn Connection) bool {
	id := conn.Player().ID()
	// A stale connection of a player who reconnected is ignored.
	if current, found := g.connections.Get(id); !found || current != conn {
		return false
	}
	empty := g.connections.Remove(conn)
	if g.state == GameStateInitializing || g.state == GameStateLobby {
		g.teams.RemovePlayer(id)
	}
	g.logger.Debug("Connection removed", zap.Int64("player_id", id), zap.Int("remaining", g.connections.Len()))
	if empty {
		return g.End()
	}
	return false
}

func (g *Game) ConnectionCount() int {
	return g.connections.Len()
}

// Players returns the frozen roster while live, the connected players in the lobby, and nothing otherwise.
func (g *Game) Players() []Player {
	switch g.state {
	case GameStateLive:
		return slices.Clone(g.roster)
	case GameStateLobby:
		return g.connections.Players()
	}
	return []Player{}
}

// participants are the roster plus every registered AI.
func (g *Game) participants(players []Player) []Player {
	out := make([]Player, 0, len(players)+len(g.aiOrder))
	out = append(out, players...)
	for _, name := range g.aiOrder {
		out = append(out, g.ais[name])
	}
	return out
}

func (g *Game) isParticipant(playerID int64) bool {
	if _, ok := g.connections.Get(playerID); ok {
		return true
	}
	return lo.ContainsBy(g.aiOrder, func(name string) bool { return g.ais[name].ID() == playerID })
}

// Launch freezes the roster and the teams. It is only allowed from the lobby.
func (g *Game) Launch() error {
	if g.state != GameStateLobby {
		return NewGameErrorf(InvalidTransition, "cannot launch from %s", g.state)
	}
	g.teams.CompactSlots(g.isParticipant)
	g.roster = g.connections.Players()
	g.finalTeams = g.teams.BuildFinalTeams(g.participants(g.roster), g.settings.RatingContext)
	g.state = GameStateLive
	g.launchedAt = time.Now().UTC()

	if g.config.MinPlayers > 0 && len(g.roster) < g.config.MinPlayers {
		g.MarkInvalid("too few players")
	}
	g.logger.Info("Game launched", zap.Int("players", len(g.roster)), zap.Int("teams", len(g.finalTeams)))
	return nil
}

// MarkInvalid flags the game. The game is still rated, and the record is tagged invalid.
func (g *Game) MarkInvalid(reason string) {
	if g.valid {
		g.logger.Info("Game marked invalid", zap.String("reason", reason))
	}
	g.valid = false
	g.invalidReason = reason
}

// AddDesync counts a desync report and invalidates the game past the configured threshold.
func (g *Game) AddDesync() int {
	g.desyncs++
	if t := g.config.DesyncThreshold; t > 0 && g.desyncs >= t && g.valid {
		g.MarkInvalid("desync")
	}
	return g.desyncs
}

// SetPartial sets the weight of this game's rating change, clamped to [0, 1].
func (g *Game) SetPartial(partial float64) {
	g.partial = math.Max(0, math.Min(1, partial))
}

func (g *Game) requireSetup() error {
	if g.state != GameStateInitializing && g.state != GameStateLobby {
		return NewGameErrorf(InvalidTransition, "lobby options are frozen in %s", g.state)
	}
	return nil
}

func (g *Game) SetPlayerOption(playerID int64, key, value string) error {
	if err := g.requireSetup(); err != nil {
		return err
	}
	return g.teams.SetOption(playerID, key, value)
}

// AddAI registers a computer player. Registering the same name again is a no-op.
func (g *Game) AddAI(name string, r types.Rating) *AIPlayer {
	if ai, ok := g.ais[name]; ok {
		return ai
	}
	ai := NewAIPlayer(-int64(len(g.aiOrder)+1), name, r)
	g.ais[name] = ai
	g.aiOrder = append(g.aiOrder, name)
	g.logger.Debug("AI added", zap.String("name", name))
	return ai
}

// IsAI reports whether the player is one of this game's registered AIs.
func (g *Game) IsAI(p Player) bool {
	ai, ok := g.ais[p.Login()]
	return ok && ai.ID() == p.ID()
}

func (g *Game) SetAIOption(name, key, value string) error {
	if err := g.requireSetup(); err != nil {
		return err
	}
	ai, ok := g.ais[name]
	if !ok {
		return NewGameErrorf(GameNotFound, "no AI named %q", name)
	}
	return g.teams.SetOption(ai.ID(), key, value)
}

func (g *Game) ClearSlot(slot int) error {
	if err := g.requireSetup(); err != nil {
		return err
	}
	g.teams.ClearSlot(slot)
	return nil
}

// SetGameOption stores a host game option. Victory and map options also update the settings.
func (g *Game) SetGameOption(key, value string) error {
	if err := g.requireSetup(); err != nil {
		return err
	}
	switch key {
	case "Victory":
		v, ok := ParseVictoryCondition(value)
		if !ok {
			return NewGameErrorf(InvalidOption, "unknown victory condition %q", value)
		}
		g.settings.Victory = v
	case "ScenarioFile":
		g.settings.Map = mapNameFromScenario(value)
	case "Slots":
		var slots int
		if _, err := fmt.Sscanf(value, "%d", &slots); err == nil && slots > 0 {
			g.settings.MaxPlayers = slots
		}
	case GameOptionPartial:
		partial, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(partial) {
			return NewGameErrorf(InvalidOption, "%s=%q is not a number", key, value)
		}
		g.SetPartial(partial)
	}
	g.options[key] = value
	return nil
}

// mapNameFromScenario turns "/maps/scmp_007/scmp_007_scenario.lua" into "scmp_007".
func mapNameFromScenario(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && strings.EqualFold(parts[0], "maps") {
		return strings.ToLower(parts[1])
	}
	return strings.ToLower(path)
}

// ReportResult records one peer's report of the result of the player on the given army.
func (g *Game) ReportResult(army int, kind OutcomeKind, score int) error {
	if g.state != GameStateLive {
		return NewGameErrorf(InvalidTransition, "cannot report results in %s", g.state)
	}
	playerID, ok := g.teams.PlayerByArmy(army)
	if !ok {
		return NewGameErrorf(GameNotFound, "no player on army %d", army)
	}
	eligible := lo.ContainsBy(g.participants(g.roster), func(p Player) bool { return p.ID() == playerID })
	if !eligible {
		return NewGameErrorf(InvalidOption, "player %d on army %d did not take part", playerID, army)
	}
	if !g.results.AddResult(playerID, army, kind, score) {
		g.logger.Debug("Result ignored after victory", zap.Int("army", army), zap.String("kind", string(kind)))
	}
	return nil
}

// ResultsComplete reports whether every participant has a final result.
func (g *Game) ResultsComplete() bool {
	return g.results.IsComplete(len(g.participants(g.roster)))
}

// ComputeRatings rates the final teams from the recorded results. It does not change the game.
func (g *Game) ComputeRatings() (*RatingResult, error) {
	if (g.state != GameStateLive && g.state != GameStateEnded) || g.roster == nil {
		return nil, NewGameErrorf(InvalidTransition, "cannot rate a game in %s", g.state)
	}

	totals, missing, ok := g.results.TeamScores(g.finalTeams)
	if !ok {
		return nil, NewGameErrorf(MissingResult, "missing game result for player %d", missing)
	}

	newRatings, err := g.engine.Rate(g.finalTeams, totals)
	if err != nil {
		return nil, err
	}

	winner, draw := Winner(totals)
	rc := g.settings.RatingContext
	result := &RatingResult{
		Context:   rc,
		Totals:    totals,
		Winner:    winner,
		Draw:      draw,
		AIPresent: len(g.ais) > 0,
		Notices:   make(map[int64][]string),
	}

	for i, team := range g.finalTeams {
		for _, m := range team.Members {
			score, _ := g.results.Score(m.Player.ID())
			u := RatingUpdate{
				PlayerID: m.Player.ID(),
				Login:    m.Player.Login(),
				Context:  rc,
				Team:     team.ID,
				Score:    score,
				Before:   m.Prior,
				After:    Blend(m.Prior, newRatings[i][m.Player.ID()], g.partial),
			}
			isAI := g.IsAI(m.Player) || m.Player.IsAI()
			if isAI {
				u.AIName = m.Player.Login()
			}
			result.Rated = append(result.Rated, u)
			if isAI || !result.AIPresent {
				result.Updates = append(result.Updates, u)
			}
		}
	}

	summary := g.resultsNotice(result)
	for _, u := range result.Rated {
		if u.IsAI() {
			continue
		}
		if result.AIPresent {
			result.Notices[u.PlayerID] = []string{aiDetectedNotice}
		} else {
			result.Notices[u.PlayerID] = summary
		}
	}
	return result, nil
}

// resultsNotice renders the end of game summary shown to every rated human.
func (g *Game) resultsNotice(r *RatingResult) []string {
	var b strings.Builder
	b.WriteString("GAME RESULTS : \n")
	for i, team := range g.finalTeams {
		logins := lo.Map(team.Members, func(m TeamMember, _ int) string { return m.Player.Login() })
		outcome := "Lost"
		if r.Draw {
			outcome = "Draw"
		} else if i == r.Winner {
			outcome = "Win"
		}
		fmt.Fprintf(&b, "Team %d (%s) : %s \n", i+1, strings.Join(logins, ", "), outcome)
	}
	b.WriteString("\nNew ratings :\n")
	for _, u := range r.Rated {
		fmt.Fprintf(&b, "%s : from %d to %d\n", u.Login, ConservativeRating(u.Before), ConservativeRating(u.After))
	}
	return []string{b.String()}
}

// End finishes the game. Only the first call has an effect; it returns whether this call ended the game.
func (g *Game) End() bool {
	if !g.ended.CompareAndSwap(false, true) {
		return false
	}

	outcome := GameOutcome{
		GameID:  g.id,
		Context: g.settings.RatingContext,
	}

	if g.state == GameStateLive {
		outcome.ResultsComplete = g.ResultsComplete()
		if !outcome.ResultsComplete {
			g.logger.Info("Game ended with incomplete results")
		}
		g.results.FillMissing(lo.Map(g.participants(g.roster), func(p Player, _ int) int64 { return p.ID() }))
		result, err := g.ComputeRatings()
		if err != nil {
			var gameErr *GameError
			if errors.As(err, &gameErr) && gameErr.Code == InvalidGame {
				g.MarkInvalid(gameErr.Message)
			}
			g.logger.Warn("Game not rated", zap.Error(err))
			outcome.RatingErr = err
		} else {
			g.result = result
			outcome.Ratings = result
		}
	} else {
		outcome.RatingErr = NewGameErrorf(InvalidTransition, "game ended in %s", g.state)
	}

	g.state = GameStateEnded
	g.endedAt = time.Now().UTC()
	outcome.Valid = g.valid
	outcome.InvalidReason = g.invalidReason

	g.logger.Info("Game ended", zap.Bool("valid", g.valid), zap.Bool("rated", outcome.Ratings != nil))
	g.onEnd(outcome)
	return true
}

func (g *Game) Ended() bool {
	return g.ended.Load()
}

func (g *Game) Meta() GameMeta {
	return GameMeta{
		ID:            g.id,
		Name:          g.settings.Name,
		HostID:        g.settings.HostID,
		Map:           g.settings.Map,
		State:         g.state,
		Visibility:    g.settings.Visibility,
		RatingContext: g.settings.RatingContext,
		Valid:         g.valid,
		InvalidReason: g.invalidReason,
		Desyncs:       g.desyncs,
		Teams:         g.teams.TeamsCount(),
		Options:       g.Options(),
		Players:       lo.Map(g.Players(), func(p Player, _ int) int64 { return p.ID() }),
		CreatedAt:     g.createdAt,
		LaunchedAt:    g.launchedAt,
		EndedAt:       g.endedAt,
	}
}
