// Package draft holds the turn-order state machine for pick/ban drafts.
//
// Everything in this package is pure: Apply takes a State and an Action and returns the next State
// without touching the network, the clock or any global random source. Replicas rely on that to
// replay the same action log into the same state.
package draft

// Team identifies one side of the draft.
type Team string

const (
	TeamOne   Team = "team1"
	TeamTwo   Team = "team2"
	TeamThree Team = "team3"
)

// Format selects the phase table and the number of teams.
type Format string

const (
	FormatTwoTeam   Format = "2team"
	FormatThreeTeam Format = "3team"
)

// Phase is a named stage of the draft.
type Phase string

const (
	// 2-team format.
	PhaseLobby          Phase = "lobby"
	PhaseWildcardReveal Phase = "wildcard-reveal"
	PhasePreDraftPause  Phase = "pre-draft-pause"
	PhaseMapPick        Phase = "map-pick"
	PhaseMapBan         Phase = "map-ban"
	PhasePostMapPause   Phase = "post-map-pause"
	PhaseUmaPreBan      Phase = "uma-pre-ban"

	// Shared by both formats.
	PhaseUmaBan  Phase = "uma-ban"
	PhaseUmaPick Phase = "uma-pick"

	// 3-team format.
	PhaseTeamNames  Phase = "team-names"
	PhaseCardPreBan Phase = "card-preban"
	PhaseCardPick   Phase = "card-pick"

	PhaseComplete Phase = "complete"
)

// Category is the kind of item a phase operates on.
type Category string

const (
	CategoryMap  Category = "map"
	CategoryUma  Category = "uma"
	CategoryCard Category = "card"
)

// Kind is what an action phase does with the item it selects.
type Kind string

const (
	KindPick   Kind = "pick"
	KindBan    Kind = "ban"
	KindPreBan Kind = "pre-ban"
)

// Source is the pool an action phase reads its items from.
type Source string

const (
	SourceAvailable     Source = "available"
	SourceOpponentPicks Source = "opponent-picks"
)

// Gate describes how a phase without turns is left.
type Gate string

const (
	GateNone     Gate = ""
	GateReady    Gate = "ready"    // every team has flagged ready
	GateContinue Gate = "continue" // the host continues
)

// ActionType enumerates the actions Apply understands.
type ActionType string

const (
	ActionReady    ActionType = "ready"
	ActionSetName  ActionType = "set-name"
	ActionContinue ActionType = "continue"
	ActionPick     ActionType = "pick"
	ActionBan      ActionType = "ban"
	ActionPreBan   ActionType = "pre-ban"
)

// Action is a single intent by a team.
type Action struct {
	Type   ActionType `json:"type"`
	Team   Team       `json:"team"`
	ItemID string     `json:"itemId,omitempty"`
	Name   string     `json:"name,omitempty"`
}

// Pools are the item identifiers a draft starts from.
type Pools struct {
	Maps  []string `json:"maps,omitempty"`
	Umas  []string `json:"umas,omitempty"`
	Cards []string `json:"cards,omitempty"`
}

// TeamRecord is the per-team slice of the draft.
type TeamRecord struct {
	Name      string                `json:"name,omitempty"`
	Picked    map[Category][]string `json:"picked"`
	Banned    map[Category][]string `json:"banned"`
	PreBanned map[Category][]string `json:"preBanned"`
	Ready     bool                  `json:"ready"`
}

// State is the whole draft. It is a value: Apply never mutates the State it is given.
type State struct {
	Format       Format                `json:"format"`
	Phase        Phase                 `json:"phase"`
	Step         int                   `json:"step"`
	Round        int                   `json:"round,omitempty"`
	CurrentTeam  Team                  `json:"currentTeam,omitempty"`
	PhaseActions int                   `json:"phaseActions"`
	TotalActions int                   `json:"totalActions"`
	Teams        map[Team]TeamRecord   `json:"teams"`
	Available    map[Category][]string `json:"available"`
	Wildcard     string                `json:"wildcard,omitempty"`
	Seed         uint64                `json:"seed"`

	// TurnStartedAt is the wall-clock start of the current turn in unix milliseconds. Apply leaves it
	// alone; the host stamps it whenever the turn key changes.
	TurnStartedAt int64 `json:"turnStartedAt,omitempty"`
}

// TurnKey identifies one turn for the timer.
type TurnKey struct {
	Phase   Phase `json:"phase"`
	Round   int   `json:"round,omitempty"`
	Team    Team  `json:"team,omitempty"`
	Actions int   `json:"actions"`
	Timed   bool  `json:"timed"`
}
