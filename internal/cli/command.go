package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/matchreport"
	"github.com/jason-s-yu/draftsync/internal/replication"
	"github.com/jason-s-yu/draftsync/internal/room"
)

// Verbs the prompt understands.
const (
	VerbReady    = "ready"
	VerbContinue = "continue"
	VerbName     = "name"
	VerbSelect   = "select"
	VerbHover    = "hover"
	VerbPropose  = "propose"
	VerbConfirm  = "confirm"
	VerbDispute  = "dispute"
	VerbResync   = "resync"
	VerbItems    = "items"
	VerbStatus   = "status"
	VerbHelp     = "help"
	VerbQuit     = "quit"
)

var (
	ErrUnknownVerb    = errors.New("unknown command, try help")
	ErrMissingArgs    = errors.New("missing arguments")
	ErrNoProposal     = errors.New("there is no proposal to answer")
	ErrNotActionPhase = errors.New("nothing to select in this phase")
)

// Command is one parsed prompt line. Team is set when the line starts with "@team".
type Command struct {
	Verb string
	Team draft.Team
	Args []string
}

// ParseLine splits a prompt line. An empty line yields an empty verb.
func ParseLine(line string) (Command, error) {
	fields := strings.Fields(line)
	var c Command
	if len(fields) > 0 && strings.HasPrefix(fields[0], "@") {
		c.Team = draft.Team(strings.TrimPrefix(fields[0], "@"))
		fields = fields[1:]
	}
	if len(fields) == 0 {
		if c.Team != "" {
			return Command{}, ErrMissingArgs
		}
		return c, nil
	}
	c.Verb = strings.ToLower(fields[0])
	c.Args = fields[1:]

	switch c.Verb {
	case VerbReady, VerbContinue, VerbConfirm, VerbDispute, VerbResync, VerbItems, VerbStatus, VerbHelp, VerbQuit:
	case VerbName, VerbSelect, VerbHover:
		if len(c.Args) == 0 {
			return Command{}, fmt.Errorf("%s: %w", c.Verb, ErrMissingArgs)
		}
	case VerbPropose:
		if len(c.Args) < 3 {
			return Command{}, fmt.Errorf("%s RACE FIRST SECOND [THIRD]: %w", c.Verb, ErrMissingArgs)
		}
	default:
		return Command{}, ErrUnknownVerb
	}
	return c, nil
}

// team picks who a command acts for. An explicit @team wins; otherwise a hot-seat prompt acts for
// whichever team the command naturally belongs to, and a networked one for its own team.
func (c Command) team(r room.Room, self room.Participant) draft.Team {
	if c.Team != "" {
		return c.Team
	}
	if !r.HotSeat {
		return self.Team
	}
	switch c.Verb {
	case VerbReady:
		for _, t := range draft.Teams(r.Format) {
			if !r.Draft.Teams[t].Ready {
				return t
			}
		}
	case VerbName:
		for _, t := range draft.Teams(r.Format) {
			if r.Draft.Teams[t].Name == "" {
				return t
			}
		}
	case VerbConfirm, VerbDispute:
		return matchreport.ConfirmingTeam(r.Format, r.HostTeam())
	case VerbSelect, VerbHover:
		if r.Draft.CurrentTeam != "" {
			return r.Draft.CurrentTeam
		}
	}
	return self.Team
}

// Intent builds the replication intent for c against the current room.
func (c Command) Intent(r room.Room, self room.Participant) (replication.Intent, error) {
	team := c.team(r, self)
	switch c.Verb {
	case VerbReady:
		return replication.DraftIntent(draft.Action{Type: draft.ActionReady, Team: team}), nil
	case VerbContinue:
		return replication.DraftIntent(draft.Action{Type: draft.ActionContinue, Team: r.HostTeam()}), nil
	case VerbName:
		return replication.DraftIntent(draft.Action{Type: draft.ActionSetName, Team: team, Name: strings.Join(c.Args, " ")}), nil
	case VerbSelect:
		a, err := selection(r.Draft, team, c.Args[0])
		if err != nil {
			return replication.Intent{}, err
		}
		return replication.DraftIntent(a), nil
	case VerbPropose:
		cmd, err := proposal(c.Args)
		if err != nil {
			return replication.Intent{}, err
		}
		return replication.ReportIntent(cmd), nil
	case VerbConfirm, VerbDispute:
		if r.Reports.Current == nil {
			return replication.Intent{}, ErrNoProposal
		}
		kind := matchreport.CommandConfirm
		if c.Verb == VerbDispute {
			kind = matchreport.CommandDispute
		}
		return replication.ReportIntent(matchreport.Command{
			Type:         kind,
			SubmissionID: r.Reports.Current.SubmissionID,
			Team:         team,
		}), nil
	case VerbResync:
		return replication.ResyncIntent(), nil
	}
	return replication.Intent{}, fmt.Errorf("%s: %w", c.Verb, ErrUnknownVerb)
}

// selection builds the pick, ban or pre-ban the phase calls for.
func selection(s draft.State, team draft.Team, item string) (draft.Action, error) {
	a, ok := draft.ActionFor(s, item)
	if !ok {
		return draft.Action{}, ErrNotActionPhase
	}
	a.Team = team
	return a, nil
}

func proposal(args []string) (matchreport.Command, error) {
	race, err := strconv.Atoi(args[0])
	if err != nil || race < 0 {
		return matchreport.Command{}, fmt.Errorf("race must be a number from 0, got %q", args[0])
	}
	if len(args) > 4 {
		return matchreport.Command{}, fmt.Errorf("at most three placements, got %d", len(args)-1)
	}
	cmd := matchreport.Command{
		Type:         matchreport.CommandPropose,
		SubmissionID: uuid.NewString(),
		RaceIndex:    race,
	}
	for i, t := range args[1:] {
		cmd.Placements[i] = draft.Team(t)
	}
	return cmd, nil
}
