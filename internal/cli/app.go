package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/jason-s-yu/draftsync/internal/auth"
	"github.com/jason-s-yu/draftsync/internal/cache"
	"github.com/jason-s-yu/draftsync/internal/config"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/ghost"
	"github.com/jason-s-yu/draftsync/internal/replication"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/jason-s-yu/draftsync/internal/session"
	"github.com/jason-s-yu/draftsync/internal/store"
	"github.com/jason-s-yu/draftsync/internal/timer"
	"github.com/sirupsen/logrus"
)

// App runs one participant: it opens or resumes a room, starts the replication engine and reads
// prompt commands from In until quit, EOF or cancellation.
type App struct {
	Opts Options
	Cfg  config.Config
	Log  logrus.FieldLogger
	In   io.Reader
	Out  io.Writer

	// Store and Sessions replace the ones Opts would open.
	Store    store.Store
	Sessions session.Store

	outMu  sync.Mutex
	hovers map[draft.Team]ghost.Selection
	shown  int64
}

type timed interface {
	Timer() *timer.Timer
}

// Run blocks until the participant leaves.
func (a *App) Run(ctx context.Context) error {
	if a.Log == nil {
		a.Log = logrus.StandardLogger()
	}
	a.hovers = make(map[draft.Team]ghost.Selection)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, journal, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, closeSessions, err := a.openSessions()
	if err != nil {
		return err
	}
	defer closeSessions()

	pools, err := LoadPools(a.Opts.PoolsPath)
	if err != nil {
		return err
	}
	newDraft := func() (draft.State, error) {
		return draft.NewState(a.Opts.Format, pools, a.Opts.Seed)
	}
	if _, err := newDraft(); err != nil {
		return err
	}

	dir := room.NewDirectory(st, a.Log, a.Cfg.RetryPolicy())
	rm, me, err := a.enter(ctx, dir, sessions, newDraft)
	if err != nil {
		return err
	}
	a.printf("%s in room %s as %s (%s)\n", me.Name, rm.RoomID, me.Team, me.Role)

	gh := ghost.New(st, rm.RoomID, a.Log)
	engine := a.engine(st, rm, me, gh, journal)
	stopObserve := engine.Observe(func(r room.Room) { a.show(engine, r, false) })
	defer stopObserve()
	stopGhost, err := gh.Watch(ctx, a.onHover)
	if err != nil {
		return err
	}
	defer stopGhost()

	errc := make(chan error, 1)
	go func() { errc <- engine.Run(ctx) }()
	a.show(engine, engine.Room(), true)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	defer func() {
		cancel()
		<-errc
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			errc <- err
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if a.handle(ctx, engine, gh, me, line) {
				return nil
			}
		}
	}
}

func (a *App) openStore(ctx context.Context) (store.Store, replication.Journal, func(), error) {
	if a.Store != nil {
		return a.Store, nil, func() {}, nil
	}
	if a.Opts.Mode == ModeHotSeat {
		return store.NewMemory().Client(), nil, func() {}, nil
	}

	rdb, err := cache.Connect(ctx, a.Cfg.RedisAddr, a.Cfg.RedisDB)
	if err != nil {
		return nil, nil, nil, apperr.Wrap(apperr.CodeConnectionInit, "could not reach the realtime store", err)
	}
	st := store.NewRedis(rdb, store.RedisOptions{Prefix: a.Cfg.RedisPrefix, LeaseTTL: a.Cfg.LeaseTTL}, a.Log)
	var journal replication.Journal
	if a.Opts.Journal {
		journal = cache.NewPublisher(rdb, a.Cfg.ArchiveQueue)
	}
	closeStore := func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := st.Close(shutdown); err != nil {
			a.Log.WithError(err).Warn("store close")
		}
		_ = rdb.Close()
	}
	return st, journal, closeStore, nil
}

func (a *App) openSessions() (session.Store, func(), error) {
	if a.Sessions != nil {
		return a.Sessions, func() {}, nil
	}
	if a.Opts.Mode == ModeHotSeat {
		return session.NewMemoryStore(a.Cfg.SessionTTL), func() {}, nil
	}
	s, err := session.OpenSQLite(a.Cfg.SessionPath, a.Opts.Profile, a.Cfg.SessionTTL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// enter resumes the saved session when it fits the requested mode, and otherwise creates or joins
// a room. The resulting session is saved for the next run.
func (a *App) enter(ctx context.Context, dir *room.Directory, sessions session.Store, newDraft func() (draft.State, error)) (room.Room, room.Participant, error) {
	saved, ok, err := sessions.Load(ctx)
	if err != nil {
		a.Log.WithError(err).Warn("failed to load saved session")
		ok = false
	}
	deviceID := auth.NewDeviceID()
	if ok {
		deviceID = saved.PlayerID
	}

	if ok && a.Opts.Resume && a.resumable(saved) {
		r := &session.Resumer{Sessions: sessions, Rooms: dir, Log: a.Log, NewDraft: newDraft}
		out, err := r.Resume(ctx)
		switch {
		case err == nil && out.Kind != session.OutcomeNone:
			a.printf("resumed session (%s)\n", out.Kind)
			return out.Room, out.Participant, nil
		case apperr.CodeOf(err) == apperr.CodeRoomNotFound:
			a.printf("saved room %s is gone\n", saved.RoomID)
		case err != nil:
			return room.Room{}, room.Participant{}, err
		}
	}

	me := room.Participant{ID: deviceID, Name: a.Opts.Name}
	var rm room.Room
	switch a.Opts.Mode {
	case ModeJoin:
		me, rm, err = dir.Join(ctx, a.Opts.Code, me)
		if err != nil {
			return room.Room{}, room.Participant{}, err
		}
	default:
		st, err := newDraft()
		if err != nil {
			return room.Room{}, room.Participant{}, err
		}
		rm, err = dir.Create(ctx, me, st, a.Opts.Mode == ModeHotSeat)
		if err != nil {
			return room.Room{}, room.Participant{}, err
		}
		me, _ = rm.Host()
	}

	rec := session.Record{RoomID: rm.RoomID, Role: me.Role, DisplayName: me.Name, PlayerID: me.ID}
	if err := sessions.Save(ctx, rec); err != nil {
		a.Log.WithError(err).Warn("failed to save session")
	}
	return rm, me, nil
}

// resumable reports whether rec belongs to the requested mode: a host record for host mode, or
// the same room for join mode.
func (a *App) resumable(rec session.Record) bool {
	switch a.Opts.Mode {
	case ModeHost:
		return rec.Role == room.RoleHost
	case ModeJoin:
		return rec.RoomID == a.Opts.Code && rec.Role != room.RoleHost
	}
	return false
}

func (a *App) engine(st store.Store, rm room.Room, me room.Participant, gh *ghost.Channel, journal replication.Journal) replication.Engine {
	if me.Role == room.RoleHost {
		return replication.NewHost(replication.HostConfig{
			Store:             st,
			Room:              rm,
			Self:              me.ID,
			Log:               a.Log,
			Retry:             a.Cfg.RetryPolicy(),
			Journal:           journal,
			TurnDuration:      a.Cfg.TurnDuration(),
			TimerMode:         a.Cfg.TimerMode,
			Ghost:             gh,
			ReconcileInterval: a.Cfg.ReconcileInterval,
		})
	}
	return replication.NewPeer(replication.PeerConfig{
		Store:        st,
		Room:         rm,
		Self:         me.ID,
		Log:          a.Log,
		Retry:        a.Cfg.RetryPolicy(),
		TurnDuration: a.Cfg.TurnDuration(),
		TimerMode:    a.Cfg.TimerMode,
		Ghost:        gh,
	})
}

// handle runs one prompt line and reports whether the participant quit.
func (a *App) handle(ctx context.Context, engine replication.Engine, gh *ghost.Channel, me room.Participant, line string) bool {
	cmd, err := ParseLine(line)
	if err != nil {
		a.printf("error: %v\n", err)
		return false
	}
	r := engine.Room()
	switch cmd.Verb {
	case "":
	case VerbQuit:
		return true
	case VerbHelp:
		a.printf("%s\n", helpText)
	case VerbStatus:
		a.show(engine, r, true)
	case VerbItems:
		a.outMu.Lock()
		RenderItems(a.Out, r.Draft)
		a.outMu.Unlock()
	case VerbHover:
		team := cmd.team(r, me)
		act, err := selection(r.Draft, team, cmd.Args[0])
		if err != nil {
			a.printf("error: %v\n", err)
			return false
		}
		if err := gh.Publish(ctx, ghost.Selection{Team: team, Type: act.Type, ItemID: act.ItemID, Turn: draft.Key(r.Draft)}); err != nil {
			a.printf("error: %v\n", err)
		}
	default:
		in, err := cmd.Intent(r, me)
		if err != nil {
			a.printf("error: %v\n", err)
			return false
		}
		if err := engine.Submit(ctx, in); err != nil {
			a.printf("error: %v\n", err)
		}
	}
	return false
}

func (a *App) onHover(team draft.Team, sel ghost.Selection, present bool) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	if !present {
		delete(a.hovers, team)
		return
	}
	a.hovers[team] = sel
	fmt.Fprintf(a.Out, "%s is hovering %s %s\n", team, sel.Type, sel.ItemID)
}

// show renders r once per version unless force is set.
func (a *App) show(engine replication.Engine, r room.Room, force bool) {
	remaining := time.Duration(-1)
	if t, ok := engine.(timed); ok && draft.Key(r.Draft).Timed {
		remaining = t.Timer().Remaining(time.Now())
	}

	a.outMu.Lock()
	defer a.outMu.Unlock()
	if !force && r.Version <= a.shown {
		return
	}
	if r.Version > a.shown {
		a.shown = r.Version
	}
	Render(a.Out, r, remaining, a.hovers)
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.Out, format, args...)
}
