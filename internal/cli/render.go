package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/ghost"
	"github.com/jason-s-yu/draftsync/internal/room"
)

const helpText = `commands:
  ready | name TEXT              lobby and team-names phases
  continue                       host: leave a reveal or pause phase
  select ITEM | hover ITEM       commit or preview a pick, ban or pre-ban
  items                          list what the acting team may select
  propose RACE FIRST SECOND [THIRD]
  confirm | dispute              answer the current race proposal
  resync | status | help | quit
prefix a command with @TEAM to act for another team on a hot-seat board`

// Render writes a summary of r. remaining is the acting team's time left, or negative when the
// phase is untimed.
func Render(w io.Writer, r room.Room, remaining time.Duration, hovers map[draft.Team]ghost.Selection) {
	s := r.Draft
	fmt.Fprintf(w, "room %s  v%d  %s  phase %s", r.RoomID, r.Version, r.Status, s.Phase)
	if s.Round > 0 {
		fmt.Fprintf(w, " round %d", s.Round)
	}
	if s.CurrentTeam != "" {
		fmt.Fprintf(w, "  turn %s", s.CurrentTeam)
	}
	if remaining >= 0 {
		fmt.Fprintf(w, "  %ds left", int(remaining.Round(time.Second)/time.Second))
	}
	fmt.Fprintln(w)
	if s.Wildcard != "" {
		fmt.Fprintf(w, "  wildcard map: %s\n", s.Wildcard)
	}

	for _, t := range draft.Teams(r.Format) {
		rec := s.Teams[t]
		label := string(t)
		if rec.Name != "" {
			label += " (" + rec.Name + ")"
		}
		if rec.Ready {
			label += " ready"
		}
		fmt.Fprintf(w, "  %s\n", label)
		for _, c := range []draft.Category{draft.CategoryMap, draft.CategoryUma, draft.CategoryCard} {
			line := listLine(c, rec)
			if line != "" {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
		if sel, ok := hovers[t]; ok {
			fmt.Fprintf(w, "    hovering %s %s\n", sel.Type, sel.ItemID)
		}
	}

	if len(r.Reports.Results) > 0 || r.Reports.Current != nil {
		for _, res := range r.Reports.Results {
			fmt.Fprintf(w, "  race %d: %s\n", res.RaceIndex, placements(res.Placements))
		}
		if p := r.Reports.Current; p != nil {
			fmt.Fprintf(w, "  race %d proposed: %s (awaiting confirmation)\n", p.RaceIndex, placements(p.Placements))
		}
	}
}

func listLine(c draft.Category, rec draft.TeamRecord) string {
	var parts []string
	if l := rec.Picked[c]; len(l) > 0 {
		parts = append(parts, "picked "+strings.Join(l, ", "))
	}
	if l := rec.PreBanned[c]; len(l) > 0 {
		parts = append(parts, "pre-banned "+strings.Join(l, ", "))
	}
	if l := rec.Banned[c]; len(l) > 0 {
		parts = append(parts, "banned "+strings.Join(l, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return string(c) + ": " + strings.Join(parts, "; ")
}

func placements(p [3]draft.Team) string {
	teams := slices.DeleteFunc(slices.Clone(p[:]), func(t draft.Team) bool { return t == "" })
	out := make([]string, len(teams))
	for i, t := range teams {
		out[i] = string(t)
	}
	return strings.Join(out, " > ")
}

// RenderItems lists the legal items of s.
func RenderItems(w io.Writer, s draft.State) {
	items := draft.LegalItems(s)
	if len(items) == 0 {
		fmt.Fprintln(w, "nothing to select right now")
		return
	}
	fmt.Fprintf(w, "%s may select: %s\n", s.CurrentTeam, strings.Join(items, " "))
}
