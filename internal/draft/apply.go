package draft

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"slices"
	"strings"
)

// MaxNameLength bounds team names set during team-names.
const MaxNameLength = 24

var (
	ErrComplete      = errors.New("draft: draft is complete")
	ErrUnknownTeam   = errors.New("draft: team not in this draft")
	ErrWrongPhase    = errors.New("draft: action not allowed in this phase")
	ErrNotYourTurn   = errors.New("draft: not this team's turn")
	ErrQuotaReached  = errors.New("draft: phase quota reached for team")
	ErrItemNotLegal  = errors.New("draft: item not in source pool")
	ErrInvalidName   = errors.New("draft: invalid team name")
	ErrNameRequired  = errors.New("draft: team name required before ready")
	ErrAlreadyReady  = errors.New("draft: team is already ready")
	ErrUnknownAction = errors.New("draft: unknown action")
)

// Apply returns the state after a. An action that Check rejects leaves the state unchanged and the
// returned value is s itself.
func Apply(s State, a Action) State {
	if err := Check(s, a); err != nil {
		return s
	}
	next := s.Clone()
	next.apply(a)
	return next
}

// Accepted reports whether after is the result of an accepted action on before.
func Accepted(before, after State) bool {
	return !reflect.DeepEqual(before, after)
}

// Try applies a and reports whether it was accepted.
func Try(s State, a Action) (State, bool) {
	if err := Check(s, a); err != nil {
		return s, false
	}
	next := s.Clone()
	next.apply(a)
	return next, true
}

// Check returns the reason Apply would reject a, or nil if it would be applied.
func Check(s State, a Action) error {
	r, ok := s.Rule()
	if !ok {
		return ErrComplete
	}

	switch a.Type {
	case ActionReady, ActionSetName:
		if r.Gate != GateReady {
			return ErrWrongPhase
		}
		if !Valid(s.Format, a.Team) {
			return ErrUnknownTeam
		}
		if a.Type == ActionSetName {
			name := strings.TrimSpace(a.Name)
			if name == "" || len([]rune(name)) > MaxNameLength {
				return ErrInvalidName
			}
			return nil
		}
		if s.Teams[a.Team].Ready {
			return ErrAlreadyReady
		}
		if r.Phase == PhaseTeamNames && s.Teams[a.Team].Name == "" {
			return ErrNameRequired
		}
		return nil

	case ActionContinue:
		if r.Gate != GateContinue {
			return ErrWrongPhase
		}
		return nil

	case ActionPick, ActionBan, ActionPreBan:
		if !r.IsAction() || kindOf(a.Type) != r.Kind {
			return ErrWrongPhase
		}
		if !Valid(s.Format, a.Team) {
			return ErrUnknownTeam
		}
		if r.taken(a.Team, s.PhaseActions) >= r.Quota(a.Team) {
			return ErrQuotaReached
		}
		if a.Team != s.CurrentTeam {
			return ErrNotYourTurn
		}
		if !slices.Contains(LegalItems(s), a.ItemID) {
			return fmt.Errorf("%w: %q", ErrItemNotLegal, a.ItemID)
		}
		return nil
	}
	return ErrUnknownAction
}

func kindOf(t ActionType) Kind {
	switch t {
	case ActionPick:
		return KindPick
	case ActionBan:
		return KindBan
	case ActionPreBan:
		return KindPreBan
	}
	return ""
}

func actionFor(k Kind) ActionType {
	switch k {
	case KindPick:
		return ActionPick
	case KindBan:
		return ActionBan
	case KindPreBan:
		return ActionPreBan
	}
	return ""
}

// apply mutates s in place. s must already be a private copy and a must have passed Check.
func (s *State) apply(a Action) {
	r, _ := s.Rule()
	s.TotalActions++

	switch a.Type {
	case ActionSetName:
		rec := s.Teams[a.Team]
		rec.Name = strings.TrimSpace(a.Name)
		s.Teams[a.Team] = rec

	case ActionReady:
		rec := s.Teams[a.Team]
		rec.Ready = true
		s.Teams[a.Team] = rec
		for _, t := range Teams(s.Format) {
			if !s.Teams[t].Ready {
				return
			}
		}
		s.enter(s.Step + 1)

	case ActionContinue:
		s.enter(s.Step + 1)

	default:
		s.move(r, a.Team, a.ItemID)
		s.PhaseActions++
		if s.PhaseActions >= len(r.Turns) {
			s.enter(s.Step + 1)
			return
		}
		s.CurrentTeam = r.Turns[s.PhaseActions]
	}
}

// move transfers item between pools as dictated by the rule.
func (s *State) move(r PhaseRule, team Team, item string) {
	actor := s.Teams[team]

	if r.Source == SourceOpponentPicks {
		opp, _ := opponent(s.Format, team)
		victim := s.Teams[opp]
		victim.Picked[r.Category] = remove(victim.Picked[r.Category], item)
		victim.Banned[r.Category] = append(victim.Banned[r.Category], item)
		s.Teams[opp] = victim
		return
	}

	s.Available[r.Category] = remove(s.Available[r.Category], item)
	switch r.Kind {
	case KindPick:
		actor.Picked[r.Category] = append(actor.Picked[r.Category], item)
	case KindBan:
		actor.Banned[r.Category] = append(actor.Banned[r.Category], item)
	case KindPreBan:
		actor.PreBanned[r.Category] = append(actor.PreBanned[r.Category], item)
	}
	s.Teams[team] = actor
}

// drawWildcard takes one map out of the available pool using the draft seed, so every replica that
// replays the same actions draws the same map.
func (s *State) drawWildcard() {
	pool := s.Available[CategoryMap]
	if len(pool) == 0 {
		return
	}
	rng := rand.New(rand.NewPCG(s.Seed, uint64(s.TotalActions)))
	pick := pool[rng.IntN(len(pool))]
	s.Available[CategoryMap] = remove(pool, pick)
	s.Wildcard = pick
}

func remove(list []string, item string) []string {
	i := slices.Index(list, item)
	if i < 0 {
		return list
	}
	return slices.Delete(list, i, i+1)
}
