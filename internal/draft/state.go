package draft

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	ErrUnknownFormat = errors.New("draft: unknown format")
	ErrPoolTooSmall  = errors.New("draft: pool too small")
	ErrDuplicateItem = errors.New("draft: duplicate item in pool")
)

// NewState validates pools against the format's phase table and returns the opening state.
func NewState(format Format, pools Pools, seed uint64) (State, error) {
	rules := Rules(format)
	if rules == nil {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	available := map[Category][]string{
		CategoryMap:  slices.Clone(pools.Maps),
		CategoryUma:  slices.Clone(pools.Umas),
		CategoryCard: slices.Clone(pools.Cards),
	}
	for category, need := range required(format) {
		items := available[category]
		if len(items) < need {
			return State{}, fmt.Errorf("%w: %s needs %d, got %d", ErrPoolTooSmall, category, need, len(items))
		}
	}
	seen := make(map[string]bool)
	for _, category := range []Category{CategoryMap, CategoryUma, CategoryCard} {
		for _, id := range available[category] {
			key := string(category) + "/" + id
			if id == "" || seen[key] {
				return State{}, fmt.Errorf("%w: %s %q", ErrDuplicateItem, category, id)
			}
			seen[key] = true
		}
	}

	teams := make(map[Team]TeamRecord)
	for _, t := range Teams(format) {
		teams[t] = newTeamRecord()
	}

	s := State{
		Format:    format,
		Teams:     teams,
		Available: available,
		Seed:      seed,
	}
	s.enter(0)
	return s, nil
}

func newTeamRecord() TeamRecord {
	return TeamRecord{
		Picked:    map[Category][]string{},
		Banned:    map[Category][]string{},
		PreBanned: map[Category][]string{},
	}
}

// Rule returns the phase rule for the current step. ok is false once the draft is complete.
func (s State) Rule() (PhaseRule, bool) {
	rules := Rules(s.Format)
	if s.Step < 0 || s.Step >= len(rules) {
		return PhaseRule{}, false
	}
	return rules[s.Step], true
}

// Complete reports whether the draft has run through its whole table.
func (s State) Complete() bool {
	return s.Phase == PhaseComplete
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Teams = make(map[Team]TeamRecord, len(s.Teams))
	for t, rec := range s.Teams {
		out.Teams[t] = rec.clone()
	}
	out.Available = cloneLists(s.Available)
	return out
}

func (r TeamRecord) clone() TeamRecord {
	out := r
	out.Picked = cloneLists(r.Picked)
	out.Banned = cloneLists(r.Banned)
	out.PreBanned = cloneLists(r.PreBanned)
	return out
}

func cloneLists(in map[Category][]string) map[Category][]string {
	if in == nil {
		return nil
	}
	out := maps.Clone(in)
	for k, v := range out {
		out[k] = slices.Clone(v)
	}
	return out
}

// enter moves s to step, running the entry effect of the new phase.
func (s *State) enter(step int) {
	rules := Rules(s.Format)
	s.Step = step
	s.PhaseActions = 0
	if step >= len(rules) {
		s.Step = len(rules)
		s.Phase = PhaseComplete
		s.Round = 0
		s.CurrentTeam = ""
		return
	}

	r := rules[step]
	s.Phase = r.Phase
	s.Round = r.Round
	if r.IsAction() {
		s.CurrentTeam = r.Turns[0]
	} else {
		s.CurrentTeam = TeamOne
	}

	if r.Phase == PhaseWildcardReveal && s.Wildcard == "" {
		s.drawWildcard()
	}
}
