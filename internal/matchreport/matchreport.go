// Package matchreport records post-draft race results with a two-step commit: the host proposes
// placements and the confirming team confirms or disputes them.
package matchreport

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jason-s-yu/draftsync/internal/draft"
)

type Status string

const (
	StatusProposed  Status = "proposed"
	StatusConfirmed Status = "confirmed"
	StatusDisputed  Status = "disputed"
)

type CommandType string

const (
	CommandPropose CommandType = "propose"
	CommandConfirm CommandType = "confirm"
	CommandDispute CommandType = "dispute"
)

var (
	ErrDraftIncomplete   = errors.New("matchreport: draft is not complete")
	ErrNotHost           = errors.New("matchreport: only the host may propose")
	ErrNotConfirmingTeam = errors.New("matchreport: only the confirming team may answer")
	ErrAlreadyAnswered   = errors.New("matchreport: submission already answered")
	ErrStaleSubmission   = errors.New("matchreport: submission is not the current proposal")
	ErrRaceRecorded      = errors.New("matchreport: race already recorded")
	ErrInvalidPlacements = errors.New("matchreport: invalid placements")
	ErrMissingSubmission = errors.New("matchreport: submission id required")
	ErrUnknownCommand    = errors.New("matchreport: unknown command")
)

// Proposal is a result waiting for the confirming team.
type Proposal struct {
	SubmissionID string        `json:"submissionId"`
	RaceIndex    int           `json:"raceIndex"`
	Placements   [3]draft.Team `json:"placements"`
	ProposedAt   int64         `json:"proposedAt"`
}

// Result is a confirmed, immutable race result.
type Result struct {
	SubmissionID string        `json:"submissionId"`
	RaceIndex    int           `json:"raceIndex"`
	Placements   [3]draft.Team `json:"placements"`
	ConfirmedBy  draft.Team    `json:"confirmedBy"`
	ConfirmedAt  int64         `json:"confirmedAt"`
}

// Ledger is the match-report part of a room snapshot.
type Ledger struct {
	Current  *Proposal         `json:"current,omitempty"`
	Results  []Result          `json:"results,omitempty"`
	Answered map[string]Status `json:"answered,omitempty"`
}

// Command is a propose, confirm or dispute intent.
type Command struct {
	Type         CommandType   `json:"type"`
	SubmissionID string        `json:"submissionId"`
	RaceIndex    int           `json:"raceIndex,omitempty"`
	Placements   [3]draft.Team `json:"placements,omitempty"`
	Team         draft.Team    `json:"team,omitempty"`
}

// Context carries the room facts Apply needs to authorize a command.
type Context struct {
	Format        draft.Format
	DraftComplete bool
	FromHost      bool
	Confirming    draft.Team
	Now           int64
}

// ConfirmingTeam is the first team of format that is not the host's.
func ConfirmingTeam(format draft.Format, hostTeam draft.Team) draft.Team {
	for _, t := range draft.Teams(format) {
		if t != hostTeam {
			return t
		}
	}
	return ""
}

// Recorded reports whether race already has a confirmed result.
func (l Ledger) Recorded(race int) bool {
	return slices.ContainsFunc(l.Results, func(r Result) bool { return r.RaceIndex == race })
}

// StatusOf returns the status of submission id, or "" if the ledger has never seen it.
func (l Ledger) StatusOf(id string) Status {
	if st, ok := l.Answered[id]; ok {
		return st
	}
	if l.Current != nil && l.Current.SubmissionID == id {
		return StatusProposed
	}
	return ""
}

func (l Ledger) clone() Ledger {
	out := Ledger{
		Results:  slices.Clone(l.Results),
		Answered: maps.Clone(l.Answered),
	}
	if l.Current != nil {
		p := *l.Current
		out.Current = &p
	}
	if out.Answered == nil {
		out.Answered = make(map[string]Status)
	}
	return out
}

// Apply returns the ledger after cmd. On error the input ledger is returned unchanged.
// ErrAlreadyAnswered marks a replay of an answered submission and is safe to ignore.
func Apply(l Ledger, cmd Command, c Context) (Ledger, error) {
	if cmd.SubmissionID == "" {
		return l, ErrMissingSubmission
	}
	if _, done := l.Answered[cmd.SubmissionID]; done {
		return l, ErrAlreadyAnswered
	}

	switch cmd.Type {
	case CommandPropose:
		if !c.DraftComplete {
			return l, ErrDraftIncomplete
		}
		if !c.FromHost {
			return l, ErrNotHost
		}
		if l.Current != nil && l.Current.SubmissionID == cmd.SubmissionID {
			return l, ErrAlreadyAnswered
		}
		if cmd.RaceIndex < 0 || l.Recorded(cmd.RaceIndex) {
			return l, fmt.Errorf("%w: race %d", ErrRaceRecorded, cmd.RaceIndex)
		}
		if err := checkPlacements(c.Format, cmd.Placements); err != nil {
			return l, err
		}
		next := l.clone()
		// A new proposal replaces an unanswered one; answers to the old id become stale.
		next.Current = &Proposal{
			SubmissionID: cmd.SubmissionID,
			RaceIndex:    cmd.RaceIndex,
			Placements:   cmd.Placements,
			ProposedAt:   c.Now,
		}
		return next, nil

	case CommandConfirm, CommandDispute:
		if l.Current == nil || l.Current.SubmissionID != cmd.SubmissionID {
			return l, ErrStaleSubmission
		}
		if cmd.Team != c.Confirming {
			return l, ErrNotConfirmingTeam
		}
		next := l.clone()
		if cmd.Type == CommandConfirm {
			next.Results = append(next.Results, Result{
				SubmissionID: l.Current.SubmissionID,
				RaceIndex:    l.Current.RaceIndex,
				Placements:   l.Current.Placements,
				ConfirmedBy:  cmd.Team,
				ConfirmedAt:  c.Now,
			})
			next.Answered[cmd.SubmissionID] = StatusConfirmed
		} else {
			next.Answered[cmd.SubmissionID] = StatusDisputed
		}
		next.Current = nil
		return next, nil
	}
	return l, ErrUnknownCommand
}

// checkPlacements requires every team of format exactly once, in the leading slots.
func checkPlacements(format draft.Format, placements [3]draft.Team) error {
	teams := draft.Teams(format)
	seen := make(map[draft.Team]bool)
	for i, t := range placements {
		if i >= len(teams) {
			if t != "" {
				return fmt.Errorf("%w: slot %d must be empty", ErrInvalidPlacements, i+1)
			}
			continue
		}
		if !draft.Valid(format, t) || seen[t] {
			return fmt.Errorf("%w: slot %d %q", ErrInvalidPlacements, i+1, t)
		}
		seen[t] = true
	}
	return nil
}
