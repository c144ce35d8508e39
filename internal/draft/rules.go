package draft

// PhaseRule is one row of a format's phase table. Action phases carry a non-empty Turns sequence;
// gated phases carry a Gate instead.
type PhaseRule struct {
	Phase    Phase
	Round    int
	Category Category
	Kind     Kind
	Source   Source
	Gate     Gate
	Turns    []Team
}

// IsAction reports whether the rule's phase is made of team turns.
func (r PhaseRule) IsAction() bool {
	return len(r.Turns) > 0
}

// Quota returns how many actions team is given in the phase.
func (r PhaseRule) Quota(team Team) int {
	n := 0
	for _, t := range r.Turns {
		if t == team {
			n++
		}
	}
	return n
}

// taken returns how many of team's actions have been used after done actions in the phase.
func (r PhaseRule) taken(team Team, done int) int {
	if done > len(r.Turns) {
		done = len(r.Turns)
	}
	n := 0
	for _, t := range r.Turns[:done] {
		if t == team {
			n++
		}
	}
	return n
}

const (
	t1 = TeamOne
	t2 = TeamTwo
	t3 = TeamThree
)

var twoTeamRules = []PhaseRule{
	{Phase: PhaseLobby, Gate: GateReady},
	{Phase: PhaseWildcardReveal, Gate: GateContinue},
	{Phase: PhasePreDraftPause, Gate: GateContinue},
	{Phase: PhaseMapPick, Category: CategoryMap, Kind: KindPick, Source: SourceAvailable,
		Turns: []Team{t1, t2, t2, t1, t1, t2, t2, t1}},
	{Phase: PhaseMapBan, Category: CategoryMap, Kind: KindBan, Source: SourceOpponentPicks,
		Turns: []Team{t2, t1}},
	{Phase: PhasePostMapPause, Gate: GateContinue},
	{Phase: PhaseUmaPreBan, Category: CategoryUma, Kind: KindPreBan, Source: SourceAvailable,
		Turns: []Team{t1, t2, t1, t2}},
	// uma-pick runs before uma-ban, the reverse of the listed phase order: the ban removes one
	// of the opponent's picks, so the picks have to exist first.
	{Phase: PhaseUmaPick, Category: CategoryUma, Kind: KindPick, Source: SourceAvailable,
		Turns: []Team{t1, t2, t2, t1, t1, t2, t2, t1, t1, t2, t2, t1, t1, t2}},
	{Phase: PhaseUmaBan, Category: CategoryUma, Kind: KindBan, Source: SourceOpponentPicks,
		Turns: []Team{t1, t2}},
}

var threeTeamRules = buildThreeTeamRules()

func buildThreeTeamRules() []PhaseRule {
	rules := []PhaseRule{
		{Phase: PhaseTeamNames, Gate: GateReady},
		{Phase: PhaseCardPreBan, Category: CategoryCard, Kind: KindPreBan, Source: SourceAvailable,
			Turns: []Team{t1, t2, t3}},
	}
	order := []Team{t1, t2, t3}
	for round := 1; round <= 3; round++ {
		a, b, c := order[0], order[1], order[2]
		rules = append(rules,
			PhaseRule{Phase: PhaseUmaBan, Round: round, Category: CategoryUma, Kind: KindBan,
				Source: SourceAvailable, Turns: []Team{a, b, c}},
			PhaseRule{Phase: PhaseUmaPick, Round: round, Category: CategoryUma, Kind: KindPick,
				Source: SourceAvailable, Turns: []Team{a, b, c, c, b, a}},
			PhaseRule{Phase: PhaseCardPick, Round: round, Category: CategoryCard, Kind: KindPick,
				Source: SourceAvailable, Turns: []Team{c, b, a}},
		)
		order = []Team{b, c, a}
	}
	return rules
}

// Rules returns the phase table for format, or nil for an unknown format. Callers must not modify
// the returned slice.
func Rules(format Format) []PhaseRule {
	switch format {
	case FormatTwoTeam:
		return twoTeamRules
	case FormatThreeTeam:
		return threeTeamRules
	}
	return nil
}

// Teams returns the teams taking part in format.
func Teams(format Format) []Team {
	switch format {
	case FormatTwoTeam:
		return []Team{TeamOne, TeamTwo}
	case FormatThreeTeam:
		return []Team{TeamOne, TeamTwo, TeamThree}
	}
	return nil
}

// Valid reports whether team takes part in format.
func Valid(format Format, team Team) bool {
	for _, t := range Teams(format) {
		if t == team {
			return true
		}
	}
	return false
}

// hasWildcard reports whether the format draws a wildcard map.
func hasWildcard(format Format) bool {
	return format == FormatTwoTeam
}

// required returns how many items of each category the format consumes from the available pool.
func required(format Format) map[Category]int {
	need := map[Category]int{}
	for _, r := range Rules(format) {
		if r.IsAction() && r.Source == SourceAvailable {
			need[r.Category] += len(r.Turns)
		}
	}
	if hasWildcard(format) {
		need[CategoryMap]++
	}
	return need
}

// quotaTotal sums team's quota of kind in category across the whole table.
func quotaTotal(format Format, team Team, category Category, kind Kind) int {
	n := 0
	for _, r := range Rules(format) {
		if r.IsAction() && r.Category == category && r.Kind == kind {
			n += r.Quota(team)
		}
	}
	return n
}

func opponent(format Format, team Team) (Team, bool) {
	if format != FormatTwoTeam {
		return "", false
	}
	switch team {
	case TeamOne:
		return TeamTwo, true
	case TeamTwo:
		return TeamOne, true
	}
	return "", false
}
