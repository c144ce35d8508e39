package cli

import (
	"bytes"
	"context"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jason-s-yu/draftsync/internal/config"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/matchreport"
	"github.com/jason-s-yu/draftsync/internal/replication"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/jason-s-yu/draftsync/internal/session"
	"github.com/jason-s-yu/draftsync/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	log.SetOutput(io.Discard)
	return log
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Options
		wantErr bool
	}{
		{"hotseat", []string{"hotseat"}, Options{Mode: ModeHotSeat, Format: draft.FormatTwoTeam}, false},
		{"host three teams", []string{"-format", "3team", "-name", "Rin", "host"}, Options{Mode: ModeHost, Format: draft.FormatThreeTeam, Name: "Rin"}, false},
		{"join normalizes code", []string{"join", " ab3k7p "}, Options{Mode: ModeJoin, Code: "AB3K7P", Format: draft.FormatTwoTeam}, false},
		{"join without code", []string{"join"}, Options{}, true},
		{"join bad code", []string{"join", "00000O"}, Options{}, true},
		{"no mode", nil, Options{}, true},
		{"unknown mode", []string{"spectate"}, Options{}, true},
		{"unknown format", []string{"-format", "4team", "host"}, Options{}, true},
		{"extra args", []string{"host", "AB3K7P"}, Options{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("draft", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			got, err := ParseOptions(fs, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Mode, got.Mode)
			assert.Equal(t, tt.want.Code, got.Code)
			assert.Equal(t, tt.want.Format, got.Format)
			if tt.want.Name != "" {
				assert.Equal(t, tt.want.Name, got.Name)
			}
			assert.True(t, got.Resume)
		})
	}
}

func TestDefaultPoolsFitEveryFormat(t *testing.T) {
	p, err := LoadPools("")
	require.NoError(t, err)
	for _, f := range []draft.Format{draft.FormatTwoTeam, draft.FormatThreeTeam} {
		_, err := draft.NewState(f, p, 1)
		assert.NoError(t, err, f)
	}

	_, err = LoadPools("/does/not/exist.json")
	assert.Error(t, err)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr error
	}{
		{"", Command{}, nil},
		{"  READY ", Command{Verb: VerbReady, Args: []string{}}, nil},
		{"@team2 select tokyo", Command{Verb: VerbSelect, Team: draft.TeamTwo, Args: []string{"tokyo"}}, nil},
		{"name Blue Sky", Command{Verb: VerbName, Args: []string{"Blue", "Sky"}}, nil},
		{"select", Command{}, ErrMissingArgs},
		{"@team1", Command{}, ErrMissingArgs},
		{"propose 0 team1", Command{}, ErrMissingArgs},
		{"dance", Command{}, ErrUnknownVerb},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func testRoom(t *testing.T, hotSeat bool) room.Room {
	t.Helper()
	p, err := LoadPools("")
	require.NoError(t, err)
	st, err := draft.NewState(draft.FormatTwoTeam, p, 1)
	require.NoError(t, err)
	return room.Room{
		Meta:     room.Meta{RoomID: "AB3K7P", HostID: "host", Format: draft.FormatTwoTeam, HotSeat: hotSeat},
		Snapshot: room.Snapshot{Version: 1, Draft: st},
		Players: map[string]room.Participant{
			"host":  {ID: "host", Role: room.RoleHost, Team: draft.TeamOne},
			"guest": {ID: "guest", Role: room.RolePlayer, Team: draft.TeamTwo},
		},
	}
}

func mustParse(t *testing.T, line string) Command {
	t.Helper()
	c, err := ParseLine(line)
	require.NoError(t, err)
	return c
}

func TestIntentTeams(t *testing.T) {
	hot := testRoom(t, true)
	host := hot.Players["host"]

	in, err := mustParse(t, "ready").Intent(hot, host)
	require.NoError(t, err)
	assert.Equal(t, draft.TeamOne, in.Draft.Team)

	rec := hot.Draft.Teams[draft.TeamOne]
	rec.Ready = true
	hot.Draft.Teams[draft.TeamOne] = rec
	in, err = mustParse(t, "ready").Intent(hot, host)
	require.NoError(t, err)
	assert.Equal(t, draft.TeamTwo, in.Draft.Team, "hot-seat ready goes to the next unready team")

	in, err = mustParse(t, "@team1 name Blue").Intent(hot, host)
	require.NoError(t, err)
	assert.Equal(t, draft.Action{Type: draft.ActionSetName, Team: draft.TeamOne, Name: "Blue"}, *in.Draft)

	net := testRoom(t, false)
	guest := net.Players["guest"]
	in, err = mustParse(t, "ready").Intent(net, guest)
	require.NoError(t, err)
	assert.Equal(t, draft.TeamTwo, in.Draft.Team)

	in, err = mustParse(t, "continue").Intent(net, guest)
	require.NoError(t, err)
	assert.Equal(t, draft.TeamOne, in.Draft.Team, "continue is sent for the host team")

	in, err = mustParse(t, "resync").Intent(net, guest)
	require.NoError(t, err)
	assert.Equal(t, replication.IntentResync, in.Kind)
}

func TestIntentSelectNeedsActionPhase(t *testing.T) {
	r := testRoom(t, true)
	_, err := mustParse(t, "select tokyo").Intent(r, r.Players["host"])
	assert.ErrorIs(t, err, ErrNotActionPhase)
}

func TestIntentReports(t *testing.T) {
	r := testRoom(t, true)
	host := r.Players["host"]

	_, err := mustParse(t, "confirm").Intent(r, host)
	assert.ErrorIs(t, err, ErrNoProposal)

	in, err := mustParse(t, "propose 0 team2 team1").Intent(r, host)
	require.NoError(t, err)
	require.NotNil(t, in.Report)
	assert.Equal(t, matchreport.CommandPropose, in.Report.Type)
	assert.Equal(t, [3]draft.Team{draft.TeamTwo, draft.TeamOne, ""}, in.Report.Placements)
	assert.NotEmpty(t, in.Report.SubmissionID)

	_, err = mustParse(t, "propose -1 team2 team1").Intent(r, host)
	assert.Error(t, err)

	r.Reports.Current = &matchreport.Proposal{SubmissionID: "sub-1"}
	in, err = mustParse(t, "dispute").Intent(r, host)
	require.NoError(t, err)
	assert.Equal(t, matchreport.Command{Type: matchreport.CommandDispute, SubmissionID: "sub-1", Team: draft.TeamTwo}, *in.Report)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{"DRAFTSYNC_RETRY_ATTEMPTS": "2"})
	require.NoError(t, err)
	return cfg
}

func TestHotSeatSession(t *testing.T) {
	mem := store.NewMemory()
	sessions := session.NewMemoryStore(session.DefaultTTL)
	var out bytes.Buffer
	app := &App{
		Opts:     Options{Mode: ModeHotSeat, Name: "Board", Format: draft.FormatTwoTeam, Seed: 1},
		Cfg:      testConfig(t),
		Log:      quietLog(),
		In:       strings.NewReader("help\nready\n@team9 ready\nready\ncontinue\ncontinue\nitems\nstatus\nquit\nready\n"),
		Out:      &out,
		Store:    mem.Client(),
		Sessions: sessions,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Run(ctx))

	text := out.String()
	assert.Contains(t, text, "commands:")
	assert.Contains(t, text, "error:")
	assert.Contains(t, text, "phase map-pick")
	assert.Contains(t, text, "team1 may select:")

	rec, ok, err := sessions.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, room.RoleHost, rec.Role)

	dir := room.NewDirectory(mem.Client(), quietLog(), testConfig(t).RetryPolicy())
	r, err := dir.Fetch(ctx, rec.RoomID)
	require.NoError(t, err)
	assert.True(t, r.HotSeat)
	assert.Equal(t, draft.PhaseMapPick, r.Draft.Phase)
	assert.Equal(t, int64(5), r.Version, "one version per accepted command; the line after quit is never read")
}

func TestEnterResumesMatchingSession(t *testing.T) {
	mem := store.NewMemory()
	sessions := session.NewMemoryStore(session.DefaultTTL)
	cfg := testConfig(t)
	dir := room.NewDirectory(mem.Client(), quietLog(), cfg.RetryPolicy())
	newDraft := func() (draft.State, error) {
		p, err := LoadPools("")
		if err != nil {
			return draft.State{}, err
		}
		return draft.NewState(draft.FormatTwoTeam, p, 1)
	}
	ctx := context.Background()
	var out bytes.Buffer

	host := &App{Opts: Options{Mode: ModeHost, Name: "Host", Resume: true}, Cfg: cfg, Log: quietLog(), Out: &out}
	first, me, err := host.enter(ctx, dir, sessions, newDraft)
	require.NoError(t, err)
	assert.Equal(t, room.RoleHost, me.Role)

	again, me2, err := host.enter(ctx, dir, sessions, newDraft)
	require.NoError(t, err)
	assert.Equal(t, first.RoomID, again.RoomID)
	assert.Equal(t, me.ID, me2.ID)
	assert.Contains(t, out.String(), "resumed session (rejoined)")

	// a join for another room does not touch the saved host session
	other, _, err := host.enter(ctx, dir, session.NewMemoryStore(session.DefaultTTL), newDraft)
	require.NoError(t, err)
	joiner := &App{Opts: Options{Mode: ModeJoin, Name: "Guest", Code: other.RoomID, Resume: true}, Cfg: cfg, Log: quietLog(), Out: &out}
	joined, guest, err := joiner.enter(ctx, dir, sessions, newDraft)
	require.NoError(t, err)
	assert.Equal(t, other.RoomID, joined.RoomID)
	assert.Equal(t, room.RolePlayer, guest.Role)
	assert.Equal(t, draft.TeamTwo, guest.Team)
	assert.Equal(t, me.ID, guest.ID, "the device id carries over")
}

func TestRenderShowsBoard(t *testing.T) {
	r := testRoom(t, false)
	rec := r.Draft.Teams[draft.TeamTwo]
	rec.Name = "Blue"
	rec.Picked = map[draft.Category][]string{draft.CategoryMap: {"tokyo", "kyoto"}}
	r.Draft.Teams[draft.TeamTwo] = rec
	r.Reports.Results = []matchreport.Result{{RaceIndex: 0, Placements: [3]draft.Team{draft.TeamTwo, draft.TeamOne}}}

	var buf bytes.Buffer
	Render(&buf, r, 12*time.Second, nil)
	text := buf.String()
	assert.Contains(t, text, "room AB3K7P  v1")
	assert.Contains(t, text, "12s left")
	assert.Contains(t, text, "team2 (Blue)")
	assert.Contains(t, text, "map: picked tokyo, kyoto")
	assert.Contains(t, text, "race 0: team2 > team1")
}
