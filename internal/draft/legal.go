package draft

import (
	"math/rand/v2"
	"slices"
)

// LegalItems returns the items the current team may select right now, in pool order. It is empty
// outside action phases.
func LegalItems(s State) []string {
	r, ok := s.Rule()
	if !ok || !r.IsAction() {
		return nil
	}
	if r.Source == SourceOpponentPicks {
		opp, ok := opponent(s.Format, s.CurrentTeam)
		if !ok {
			return nil
		}
		return slices.Clone(s.Teams[opp].Picked[r.Category])
	}
	return slices.Clone(s.Available[r.Category])
}

// ActionFor builds the action the current team would submit to select item.
func ActionFor(s State, item string) (Action, bool) {
	r, ok := s.Rule()
	if !ok || !r.IsAction() {
		return Action{}, false
	}
	return Action{Type: actionFor(r.Kind), Team: s.CurrentTeam, ItemID: item}, true
}

// RandomLegal picks a uniformly random legal action for the current team. ok is false outside
// action phases or when nothing is selectable.
func RandomLegal(s State, rng *rand.Rand) (Action, bool) {
	items := LegalItems(s)
	if len(items) == 0 {
		return Action{}, false
	}
	var i int
	if rng != nil {
		i = rng.IntN(len(items))
	} else {
		i = rand.IntN(len(items))
	}
	return ActionFor(s, items[i])
}

// Key returns the turn key of s. Two states share a key iff they are in the same turn.
func Key(s State) TurnKey {
	r, ok := s.Rule()
	return TurnKey{
		Phase:   s.Phase,
		Round:   s.Round,
		Team:    s.CurrentTeam,
		Actions: s.TotalActions,
		Timed:   ok && r.IsAction(),
	}
}
