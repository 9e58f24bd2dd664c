package server

import (
	"slices"
	"strconv"

	"github.com/intinig/go-openskill/types"
	"github.com/samber/lo"
)

// TeamID is a team number as chosen in the lobby.
//
// Players on TeamUnassigned are observers and never rated. Every TeamFFA player
// is rated as a team of one. Numbered teams (1 and up) are rated together.
type TeamID int

const (
	TeamUnassigned TeamID = -1
	TeamFFA        TeamID = 0
)

// NoSlot is the start spot of a player that does not occupy a map position.
const NoSlot = -1

// Option keys with a typed field in PlayerOptions.
const (
	OptionTeam      = "Team"
	OptionStartSpot = "StartSpot"
	OptionArmy      = "Army"
	OptionFaction   = "Faction"
	OptionColor     = "Color"
)

type Faction int

const (
	FactionUEF Faction = iota + 1
	FactionAeon
	FactionCybran
	FactionSeraphim
)

type PlayerOptions struct {
	Team      TeamID
	StartSpot int
	Army      int
	Faction   Faction
	Color     int
	Extra     map[string]string
}

func NewPlayerOptions() *PlayerOptions {
	return &PlayerOptions{
		Team:      TeamUnassigned,
		StartSpot: NoSlot,
		Army:      -1,
	}
}

func (o PlayerOptions) clone() PlayerOptions {
	if o.Extra != nil {
		extra := make(map[string]string, len(o.Extra))
		for k, v := range o.Extra {
			extra[k] = v
		}
		o.Extra = extra
	}
	return o
}

// TeamMember pairs a player with the rating it had when the game launched.
type TeamMember struct {
	Player Player
	Prior  types.Rating
}

// Team is a rated grouping built from the lobby options at launch.
type Team struct {
	ID      TeamID
	Members []TeamMember
}

func (t Team) PlayerIDs() []int64 {
	return lo.Map(t.Members, func(m TeamMember, _ int) int64 { return m.Player.ID() })
}

func (t Team) Ratings() types.Team {
	return lo.Map(t.Members, func(m TeamMember, _ int) types.Rating { return m.Prior })
}

// TeamAssignment stores per-player lobby options and the team and slot they imply.
type TeamAssignment struct {
	options map[int64]*PlayerOptions
	buckets map[TeamID][]int64
	slots   map[int]int64
	benched map[int64]struct{}
}

func NewTeamAssignment() *TeamAssignment {
	return &TeamAssignment{
		options: make(map[int64]*PlayerOptions),
		buckets: make(map[TeamID][]int64),
		slots:   make(map[int]int64),
		benched: make(map[int64]struct{}),
	}
}

func (a *TeamAssignment) playerOptions(playerID int64) *PlayerOptions {
	o, ok := a.options[playerID]
	if !ok {
		o = NewPlayerOptions()
		a.options[playerID] = o
	}
	return o
}

// SetOption stores a lobby option for the player. Well-known keys are parsed into
// their typed field; Team and StartSpot also move the player between teams and slots.
func (a *TeamAssignment) SetOption(playerID int64, key, value string) error {
	switch key {
	case OptionTeam, OptionStartSpot, OptionArmy, OptionFaction, OptionColor:
		v, err := strconv.Atoi(value)
		if err != nil {
			return NewGameErrorf(InvalidOption, "%s=%q is not a number", key, value)
		}
		o := a.playerOptions(playerID)
		switch key {
		case OptionTeam:
			a.AssignToTeam(playerID, TeamID(v))
		case OptionStartSpot:
			a.PlacePlayer(playerID, v)
		case OptionArmy:
			a.setArmy(playerID, v)
		case OptionFaction:
			o.Faction = Faction(v)
		case OptionColor:
			o.Color = v
		}
	default:
		o := a.playerOptions(playerID)
		if o.Extra == nil {
			o.Extra = make(map[string]string)
		}
		o.Extra[key] = value
	}
	return nil
}

// Options returns a copy of the player's options.
func (a *TeamAssignment) Options(playerID int64) PlayerOptions {
	if o, ok := a.options[playerID]; ok {
		return o.clone()
	}
	return *NewPlayerOptions()
}

func (a *TeamAssignment) TeamOf(playerID int64) TeamID {
	if o, ok := a.options[playerID]; ok {
		return o.Team
	}
	return TeamUnassigned
}

// AssignToTeam moves the player into the team. Membership is exclusive and repeated calls are no-ops.
func (a *TeamAssignment) AssignToTeam(playerID int64, team TeamID) {
	for id, members := range a.buckets {
		if id == team {
			continue
		}
		if slices.Contains(members, playerID) {
			a.buckets[id] = lo.Without(members, playerID)
		}
	}
	if !slices.Contains(a.buckets[team], playerID) {
		a.buckets[team] = append(a.buckets[team], playerID)
	}
	a.playerOptions(playerID).Team = team
}

// RemovePlayer forgets the player's team, slot and options.
func (a *TeamAssignment) RemovePlayer(playerID int64) {
	for id, members := range a.buckets {
		a.buckets[id] = lo.Without(members, playerID)
	}
	a.vacate(playerID)
	delete(a.benched, playerID)
	delete(a.options, playerID)
}

// PlacePlayer puts the player on a start spot, vacating its previous one.
// A slot holds one player; placing a second player there evicts the first.
// NoSlot benches the player until CompactSlots moves it to TeamUnassigned.
func (a *TeamAssignment) PlacePlayer(playerID int64, position int) {
	a.vacate(playerID)
	delete(a.benched, playerID)
	o := a.playerOptions(playerID)
	if position == NoSlot {
		a.benched[playerID] = struct{}{}
		o.StartSpot = NoSlot
		return
	}
	if prev, ok := a.slots[position]; ok {
		a.playerOptions(prev).StartSpot = NoSlot
	}
	a.slots[position] = playerID
	o.StartSpot = position
}

// ClearSlot empties the start spot.
func (a *TeamAssignment) ClearSlot(position int) {
	if id, ok := a.slots[position]; ok {
		delete(a.slots, position)
		a.playerOptions(id).StartSpot = NoSlot
	}
}

func (a *TeamAssignment) vacate(playerID int64) {
	for pos, id := range a.slots {
		if id == playerID {
			delete(a.slots, pos)
		}
	}
}

// Position returns the player's start spot or NoSlot.
func (a *TeamAssignment) Position(playerID int64) int {
	for pos, id := range a.slots {
		if id == playerID {
			return pos
		}
	}
	return NoSlot
}

// CompactSlots renumbers the occupied start spots 1..n in their current order, dropping
// players for which present returns false. Benched players are moved to TeamUnassigned.
func (a *TeamAssignment) CompactSlots(present func(playerID int64) bool) {
	positions := lo.Keys(a.slots)
	slices.Sort(positions)

	compacted := make(map[int]int64, len(positions))
	next := 1
	for _, pos := range positions {
		id := a.slots[pos]
		if !present(id) {
			a.playerOptions(id).StartSpot = NoSlot
			continue
		}
		compacted[next] = id
		a.playerOptions(id).StartSpot = next
		next++
	}
	a.slots = compacted

	for id := range a.benched {
		a.AssignToTeam(id, TeamUnassigned)
	}
}

// setArmy gives the player the army index. An army belongs to one player; a previous
// holder loses it.
func (a *TeamAssignment) setArmy(playerID int64, army int) {
	if army >= 0 {
		for id, o := range a.options {
			if id != playerID && o.Army == army {
				o.Army = -1
			}
		}
	}
	a.playerOptions(playerID).Army = army
}

// PlayerByArmy returns the player the game client knows under the army index.
func (a *TeamAssignment) PlayerByArmy(army int) (int64, bool) {
	if army < 0 {
		return 0, false
	}
	for id, o := range a.options {
		if o.Army == army {
			return id, true
		}
	}
	return 0, false
}

// TeamsOf partitions players by their Team option. Players without a team end up under TeamUnassigned.
func (a *TeamAssignment) TeamsOf(players []Player) map[TeamID][]Player {
	return lo.GroupBy(players, func(p Player) TeamID {
		return a.TeamOf(p.ID())
	})
}

// TeamsCount is the number of non-empty numbered teams.
func (a *TeamAssignment) TeamsCount() int {
	return lo.CountBy(lo.Entries(a.buckets), func(e lo.Entry[TeamID, []int64]) bool {
		return e.Key > TeamFFA && len(e.Value) > 0
	})
}

// BuildFinalTeams snapshots the rated teams for the given participants, in team number order.
// Observers are skipped, FFA players each form their own team and players without a start
// spot are silently dropped.
func (a *TeamAssignment) BuildFinalTeams(participants []Player, ctx RatingContext) []Team {
	byTeam := a.TeamsOf(participants)
	teamIDs := lo.Keys(byTeam)
	slices.Sort(teamIDs)

	teams := make([]Team, 0, len(teamIDs))
	for _, id := range teamIDs {
		if id == TeamUnassigned || id < TeamFFA {
			continue
		}
		members := make([]TeamMember, 0, len(byTeam[id]))
		for _, p := range byTeam[id] {
			if a.Position(p.ID()) == NoSlot {
				continue
			}
			members = append(members, TeamMember{Player: p, Prior: p.Rating(ctx)})
		}
		if id == TeamFFA {
			for _, m := range members {
				teams = append(teams, Team{ID: TeamFFA, Members: []TeamMember{m}})
			}
			continue
		}
		if len(members) > 0 {
			teams = append(teams, Team{ID: id, Members: members})
		}
	}
	return teams
}
