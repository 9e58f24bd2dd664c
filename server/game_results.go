package server

import (
	"strings"

	"github.com/samber/lo"
)

// OutcomeKind is how a peer described a player's result.
type OutcomeKind string

const (
	OutcomeScore   OutcomeKind = "score"
	OutcomeVictory OutcomeKind = "victory"
	OutcomeDefeat  OutcomeKind = "defeat"
	OutcomeDraw    OutcomeKind = "draw"
)

// NoScore is recorded for players that never reported a result.
const NoScore = -1

func ParseOutcomeKind(s string) (OutcomeKind, bool) {
	switch k := OutcomeKind(strings.ToLower(s)); k {
	case OutcomeScore, OutcomeVictory, OutcomeDefeat, OutcomeDraw:
		return k, true
	}
	return "", false
}

type OutcomeReport struct {
	Army  int
	Kind  OutcomeKind
	Score int
}

// ResultAggregator collects the results reported by every peer of a game.
type ResultAggregator struct {
	scores  map[int64]int
	reports map[int64]OutcomeReport
}

func NewResultAggregator() *ResultAggregator {
	return &ResultAggregator{
		scores:  make(map[int64]int),
		reports: make(map[int64]OutcomeReport),
	}
}

// AddResult records a report for the player. Once a victory is recorded for a player,
// later reports for that player are ignored. It returns whether the report was applied.
func (r *ResultAggregator) AddResult(playerID int64, army int, kind OutcomeKind, score int) bool {
	if prev, ok := r.reports[playerID]; ok && prev.Kind == OutcomeVictory {
		return false
	}
	r.reports[playerID] = OutcomeReport{Army: army, Kind: kind, Score: score}
	r.scores[playerID] = score
	return true
}

func (r *ResultAggregator) Score(playerID int64) (int, bool) {
	s, ok := r.scores[playerID]
	return s, ok
}

func (r *ResultAggregator) Report(playerID int64) (OutcomeReport, bool) {
	rep, ok := r.reports[playerID]
	return rep, ok
}

// IsComplete reports whether every expected player has a final report and a score,
// and at least one of them is a victory or a draw.
func (r *ResultAggregator) IsComplete(expected int) bool {
	if len(r.reports) != expected || len(r.scores) != expected {
		return false
	}
	decisive := false
	for _, rep := range r.reports {
		switch rep.Kind {
		case OutcomeScore:
			return false
		case OutcomeVictory, OutcomeDraw:
			decisive = true
		}
	}
	return decisive
}

// FillMissing gives NoScore to every player without a recorded score.
func (r *ResultAggregator) FillMissing(playerIDs []int64) {
	for _, id := range playerIDs {
		if _, ok := r.scores[id]; !ok {
			r.scores[id] = NoScore
		}
	}
}

// TeamScores sums the scores of each team. The second return is the first player without a score.
func (r *ResultAggregator) TeamScores(teams []Team) ([]int, int64, bool) {
	totals := make([]int, len(teams))
	for i, team := range teams {
		for _, m := range team.Members {
			s, ok := r.scores[m.Player.ID()]
			if !ok {
				return nil, m.Player.ID(), false
			}
			totals[i] += s
		}
	}
	return totals, 0, true
}

// Winner returns the index of the team with the strictly highest score. A tie at the top is a draw.
func Winner(totals []int) (winner int, draw bool) {
	if len(totals) == 0 {
		return -1, false
	}
	best := lo.Max(totals)
	leaders := lo.CountBy(totals, func(t int) bool { return t == best })
	if leaders > 1 {
		return -1, true
	}
	return lo.IndexOf(totals, best), false
}
