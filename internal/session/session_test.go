package session

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/retry"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/jason-s-yu/draftsync/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func exerciseStore(t *testing.T, s Store, setNow func(time.Time)) {
	ctx := context.Background()
	setNow(t0)

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Save(ctx, Record{Role: room.RolePlayer}), ErrInvalidRecord)

	rec := Record{RoomID: "AB3K7P", Role: room.RolePlayer, DisplayName: "Rin", PlayerID: "device-1"}
	require.NoError(t, s.Save(ctx, rec))

	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	rec.SavedAt = t0.UnixMilli()
	assert.Equal(t, rec, got)

	// a later save replaces the record
	rec.RoomID = "ZZ3K7P"
	rec.SavedAt = 0
	require.NoError(t, s.Save(ctx, rec))
	got, _, _ = s.Load(ctx)
	assert.Equal(t, "ZZ3K7P", got.RoomID)

	setNow(t0.Add(DefaultTTL - time.Minute))
	_, ok, _ = s.Load(ctx)
	assert.True(t, ok)

	setNow(t0.Add(DefaultTTL + time.Minute))
	_, ok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	setNow(t0)
	_, ok, _ = s.Load(ctx)
	assert.False(t, ok, "expired records are gone, not hidden")

	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.Clear(ctx))
	_, ok, _ = s.Load(ctx)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore(DefaultTTL)
	exerciseStore(t, m, func(now time.Time) { m.Now = func() time.Time { return now } })
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), "", DefaultTTL)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s, func(now time.Time) { s.Now = func() time.Time { return now } })
}

func TestSQLiteProfilesAreSeparate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	a, err := OpenSQLite(path, "a", DefaultTTL)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(path, "b", DefaultTTL)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.Save(ctx, Record{RoomID: "AB3K7P", PlayerID: "p1", Role: room.RoleHost}))
	_, ok, err := b.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, ok, err := a.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, room.RoleHost, rec.Role)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ", "", DefaultTTL)
	assert.Error(t, err)
}

func newDraft() (draft.State, error) {
	p := draft.Pools{}
	for i := 1; i <= 9; i++ {
		p.Maps = append(p.Maps, fmt.Sprintf("map%d", i))
	}
	for i := 1; i <= 20; i++ {
		p.Umas = append(p.Umas, fmt.Sprintf("uma%d", i))
	}
	return draft.NewState(draft.FormatTwoTeam, p, 1)
}

type resumeFixture struct {
	mem      *store.Memory
	dir      *room.Directory
	sessions *MemoryStore
	resumer  *Resumer
	room     room.Room
}

func newResumeFixture(t *testing.T) *resumeFixture {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	f := &resumeFixture{mem: store.NewMemory(), sessions: NewMemoryStore(DefaultTTL)}
	f.dir = room.NewDirectory(f.mem.Client(), log, retry.Policy{Attempts: 2, Initial: time.Millisecond})
	f.resumer = &Resumer{Sessions: f.sessions, Rooms: f.dir, Log: log, NewDraft: newDraft}

	st, err := newDraft()
	require.NoError(t, err)
	f.room, err = f.dir.Create(context.Background(), room.Participant{ID: "host-1", Name: "Host"}, st, false)
	require.NoError(t, err)
	return f
}

func TestResumeWithoutRecord(t *testing.T) {
	f := newResumeFixture(t)
	out, err := f.resumer.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, out.Kind)
}

func TestPlayerRejoinsWithSameTeam(t *testing.T) {
	f := newResumeFixture(t)
	ctx := context.Background()
	p, _, err := f.dir.Join(ctx, f.room.Code(), room.Participant{ID: "player-1", Name: "Rin"})
	require.NoError(t, err)
	require.NoError(t, f.sessions.Save(ctx, Record{RoomID: f.room.Code(), Role: room.RolePlayer, DisplayName: "Rin", PlayerID: "player-1"}))

	out, err := f.resumer.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejoined, out.Kind)
	assert.Equal(t, f.room.Code(), out.RoomID)
	assert.Equal(t, p.Team, out.Participant.Team)
	assert.True(t, out.Participant.Connected)
}

func TestHostRejoinsOwnRoom(t *testing.T) {
	f := newResumeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Save(ctx, Record{RoomID: f.room.Code(), Role: room.RoleHost, DisplayName: "Host", PlayerID: "host-1"}))

	out, err := f.resumer.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejoined, out.Kind)
	assert.Equal(t, room.RoleHost, out.Participant.Role)
	assert.Equal(t, draft.TeamOne, out.Participant.Team)
}

func TestPlayerGetsRoomNotFound(t *testing.T) {
	tests := []struct {
		name   string
		player string
		delete bool
	}{
		{"room deleted", "player-1", true},
		{"identity unknown", "someone-else", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newResumeFixture(t)
			ctx := context.Background()
			if tt.delete {
				require.NoError(t, f.dir.Delete(ctx, f.room.Code()))
			}
			require.NoError(t, f.sessions.Save(ctx, Record{RoomID: f.room.Code(), Role: room.RolePlayer, PlayerID: tt.player}))

			_, err := f.resumer.Resume(ctx)
			assert.Equal(t, apperr.CodeRoomNotFound, apperr.CodeOf(err))
			assert.ErrorIs(t, err, apperr.RoomNotFound)

			_, ok, _ := f.sessions.Load(ctx)
			assert.False(t, ok, "stale record is cleared")
		})
	}
}

func TestHostRecreatesMissingRoom(t *testing.T) {
	f := newResumeFixture(t)
	ctx := context.Background()
	old := f.room.Code()
	require.NoError(t, f.dir.Delete(ctx, old))
	require.NoError(t, f.sessions.Save(ctx, Record{RoomID: old, Role: room.RoleHost, DisplayName: "Host", PlayerID: "host-1"}))

	out, err := f.resumer.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecreated, out.Kind)
	assert.NotEqual(t, old, out.RoomID)
	assert.Equal(t, "host-1", out.Room.HostID)

	rec, ok, err := f.sessions.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, out.RoomID, rec.RoomID)
}

func TestTransientFailureKeepsRecord(t *testing.T) {
	f := newResumeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Save(ctx, Record{RoomID: f.room.Code(), Role: room.RolePlayer, PlayerID: "player-1"}))

	f.mem.FailNext(10)
	_, err := f.resumer.Resume(ctx)
	assert.Equal(t, apperr.CodeTransient, apperr.CodeOf(err))

	_, ok, _ := f.sessions.Load(ctx)
	assert.True(t, ok)
}
