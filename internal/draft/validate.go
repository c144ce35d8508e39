package draft

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

var ErrInvalidState = errors.New("draft: invalid state")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Validate checks the structural invariants of s. Replicas run it on every snapshot they receive.
func Validate(s State) error {
	rules := Rules(s.Format)
	if rules == nil {
		return invalid("unknown format %q", s.Format)
	}
	if s.Step < 0 || s.Step > len(rules) {
		return invalid("step %d out of range", s.Step)
	}
	if s.Step == len(rules) {
		if s.Phase != PhaseComplete {
			return invalid("phase %q past the end of the table", s.Phase)
		}
	} else {
		r := rules[s.Step]
		if s.Phase != r.Phase || s.Round != r.Round {
			return invalid("phase %q round %d does not match step %d", s.Phase, s.Round, s.Step)
		}
		if r.IsAction() {
			if s.PhaseActions < 0 || s.PhaseActions >= len(r.Turns) {
				return invalid("phase actions %d out of range", s.PhaseActions)
			}
			if s.CurrentTeam != r.Turns[s.PhaseActions] {
				return invalid("current team %q, expected %q", s.CurrentTeam, r.Turns[s.PhaseActions])
			}
		}
	}

	if len(s.Teams) != len(Teams(s.Format)) {
		return invalid("expected %d teams, got %d", len(Teams(s.Format)), len(s.Teams))
	}
	for _, t := range Teams(s.Format) {
		if _, ok := s.Teams[t]; !ok {
			return invalid("missing team %q", t)
		}
	}

	for _, category := range []Category{CategoryMap, CategoryUma, CategoryCard} {
		seen := make(map[string]string)
		note := func(id, where string) error {
			if prev, dup := seen[id]; dup {
				return invalid("%s %q in both %s and %s", category, id, prev, where)
			}
			seen[id] = where
			return nil
		}
		for _, id := range s.Available[category] {
			if err := note(id, "available"); err != nil {
				return err
			}
		}
		if category == CategoryMap && s.Wildcard != "" {
			if err := note(s.Wildcard, "wildcard"); err != nil {
				return err
			}
		}
		for _, t := range Teams(s.Format) {
			rec := s.Teams[t]
			for label, list := range map[string][]string{
				"picked":     rec.Picked[category],
				"banned":     rec.Banned[category],
				"pre-banned": rec.PreBanned[category],
			} {
				for _, id := range list {
					if err := note(id, string(t)+" "+label); err != nil {
						return err
					}
				}
			}
			if n, limit := len(rec.Picked[category]), quotaTotal(s.Format, t, category, KindPick); n > limit {
				return invalid("%s picked %d %s, quota %d", t, n, category, limit)
			}
			if n, limit := len(rec.PreBanned[category]), quotaTotal(s.Format, t, category, KindPreBan); n > limit {
				return invalid("%s pre-banned %d %s, quota %d", t, n, category, limit)
			}
		}
	}
	return nil
}

// Checksum hashes the canonical JSON encoding of s. encoding/json sorts map keys so equal states
// hash equally.
func Checksum(s State) uint64 {
	b, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}

// Replay applies actions in order from initial and returns the final state along with the current
// team after each action.
func Replay(initial State, actions []Action) (State, []Team) {
	s := initial
	teams := make([]Team, 0, len(actions))
	for _, a := range actions {
		s = Apply(s, a)
		teams = append(teams, s.CurrentTeam)
	}
	return s, teams
}
