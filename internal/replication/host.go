package replication

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/ghost"
	"github.com/jason-s-yu/draftsync/internal/matchreport"
	"github.com/jason-s-yu/draftsync/internal/retry"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/jason-s-yu/draftsync/internal/store"
	"github.com/jason-s-yu/draftsync/internal/timer"
	"github.com/sirupsen/logrus"
)

const (
	DefaultReconcileInterval = 5 * time.Second
	DefaultTickInterval      = 250 * time.Millisecond
	journalTimeout           = 5 * time.Second
)

// HostConfig configures a Host.
type HostConfig struct {
	Store store.Store
	Room  room.Room
	// Self is the host's participant id. It must match Room.HostID.
	Self    string
	Log     logrus.FieldLogger
	Retry   retry.Policy
	Journal Journal

	TurnDuration time.Duration
	TimerMode    timer.Mode
	Ghost        *ghost.Channel

	ReconcileInterval time.Duration
	TickInterval      time.Duration
	Now               func() time.Time
	Rand              *rand.Rand
}

// Host is the authoritative replica. It is the only writer of rooms/{code}/state.
type Host struct {
	cfg   HostConfig
	log   logrus.FieldLogger
	timer *timer.Timer
	obs   observers

	mu      sync.Mutex
	room    room.Room
	lastSum uint64

	expired chan draft.TurnKey
}

var _ Engine = (*Host)(nil)

// NewHost returns a host for cfg.Room.
func NewHost(cfg HostConfig) *Host {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Self == "" {
		cfg.Self = cfg.Room.HostID
	}

	h := &Host{
		cfg:     cfg,
		log:     cfg.Log.WithFields(logrus.Fields{"room": cfg.Room.Code(), "role": "host"}),
		room:    cloneRoom(cfg.Room),
		expired: make(chan draft.TurnKey, 1),
	}
	h.timer = &timer.Timer{
		Duration:  cfg.TurnDuration,
		Now:       cfg.Now,
		Authority: timer.AuthorityFor(cfg.TimerMode, true, h.localTeams),
		OnTimeout: expiredSignal(h.expired),
	}
	h.timer.Observe(draft.Key(h.room.Draft), turnStart(h.room.Draft))
	return h
}

// localTeams are the teams this process plays for: every team in hot-seat rooms, otherwise the
// host's own.
func (h *Host) localTeams() []draft.Team {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.room.HotSeat {
		return draft.Teams(h.room.Format)
	}
	if t := h.room.HostTeam(); t != "" {
		return []draft.Team{t}
	}
	return nil
}

// Room returns a copy of the canonical room.
func (h *Host) Room() room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneRoom(h.room)
}

func (h *Host) Observe(fn func(room.Room)) func() {
	return h.obs.add(fn)
}

// Timer exposes the turn timer for rendering the countdown.
func (h *Host) Timer() *timer.Timer {
	return h.timer
}

// Submit applies an intent made on the host's own device.
func (h *Host) Submit(ctx context.Context, in Intent) error {
	return h.handle(ctx, h.cfg.Self, in, false)
}

// Run broadcasts the current snapshot and then serves the pending queue, reconciliation and the
// turn timer until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	code := h.cfg.Room.Code()
	if err := h.rebroadcast(ctx); err != nil {
		return err
	}

	wake := make(chan struct{}, 1)
	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	cancelPending, err := h.cfg.Store.Subscribe(ctx, room.PendingPath(code), func(store.Change) { signal() })
	if err != nil {
		return apperr.Wrap(apperr.CodeConnectionInit, "subscribe pending", err)
	}
	defer cancelPending()

	cancelPlayers, err := h.cfg.Store.Subscribe(ctx, room.PlayersPattern(code), h.onPlayer)
	if err != nil {
		return apperr.Wrap(apperr.CodeConnectionInit, "subscribe players", err)
	}
	defer cancelPlayers()

	if h.cfg.Ghost != nil {
		cancelGhost, err := h.cfg.Ghost.Watch(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.CodeConnectionInit, "watch ghost selections", err)
		}
		defer cancelGhost()
	}

	// anything queued before the subscription started
	signal()

	reconcile := time.NewTicker(h.cfg.ReconcileInterval)
	defer reconcile.Stop()
	tick := time.NewTicker(h.cfg.TickInterval)
	defer tick.Stop()

	h.log.WithField("version", h.Room().Version).Info("hosting room")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
			h.drain(ctx)
		case <-reconcile.C:
			h.reconcile(ctx)
			h.drain(ctx)
		case <-tick.C:
			h.timer.Tick(h.cfg.Now())
		case key := <-h.expired:
			h.timeout(ctx, key)
		}
	}
}

// drain applies every queued intent in arrival order.
func (h *Host) drain(ctx context.Context) {
	path := room.PendingPath(h.cfg.Room.Code())
	for ctx.Err() == nil {
		e, err := retry.Value(ctx, h.log, h.cfg.Retry, func(ctx context.Context) (poppedEntry, error) {
			e, ok, err := h.cfg.Store.Pop(ctx, path)
			return poppedEntry{e, ok}, err
		})
		if err != nil {
			h.log.WithError(err).Warn("failed to read pending actions")
			return
		}
		if !e.ok {
			return
		}

		var p PendingAction
		if err := e.entry.Decode(&p); err != nil {
			h.log.WithError(err).WithField("entry", e.entry.ID).Warn("dropping malformed pending action")
			continue
		}
		if err := h.handle(ctx, p.SenderID, p.Intent, false); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{"sender": p.SenderID, "kind": p.Intent.Kind}).Debug("pending action rejected")
		}
	}
}

type poppedEntry struct {
	entry store.Entry
	ok    bool
}

// timeout forces an action for the expired turn.
func (h *Host) timeout(ctx context.Context, key draft.TurnKey) {
	st := h.Room().Draft
	in, ok := timeoutIntent(st, key, h.cfg.Ghost, h.cfg.Rand)
	if !ok {
		return
	}
	h.log.WithFields(logrus.Fields{"team": key.Team, "item": in.Draft.ItemID}).Info("turn timed out")
	if err := h.handle(ctx, h.cfg.Self, in, true); err != nil {
		h.log.WithError(err).Warn("timeout action rejected")
	}
}

// handle authorizes and applies one intent from sender. forced skips the team check for
// timeouts the host commits on another team's behalf.
func (h *Host) handle(ctx context.Context, sender string, in Intent, forced bool) error {
	if in.Kind == IntentResync {
		h.log.WithField("sender", sender).Debug("resync requested")
		return h.rebroadcast(ctx)
	}

	h.mu.Lock()
	cur := h.room
	next, err := h.next(cur, sender, in, forced)
	if err != nil {
		h.mu.Unlock()
		if errors.Is(err, matchreport.ErrAlreadyAnswered) {
			return nil
		}
		return err
	}

	prevKey := draft.Key(cur.Draft)
	now := h.cfg.Now()
	next.Version = cur.Version + 1
	next.Status = room.StatusFor(next.Draft)
	if draft.Key(next.Draft) != prevKey {
		next.Draft.TurnStartedAt = now.UnixMilli()
	}
	next.BroadcastAt = now.UnixMilli()
	next.Checksum = next.Sum()

	h.room.Snapshot = next
	snapshot := cloneRoom(h.room)
	h.timer.Observe(draft.Key(next.Draft), turnStart(next.Draft))
	err = h.broadcastLocked(ctx, next)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"version": next.Version, "sender": sender, "kind": in.Kind}).Debug("intent applied")
	h.journal(snapshot, sender, in)
	if in.Kind == IntentDraft && h.cfg.Ghost != nil {
		if cerr := h.cfg.Ghost.Clear(ctx, in.Draft.Team); cerr != nil {
			h.log.WithError(cerr).Debug("failed to clear ghost selection")
		}
	}
	h.obs.notify(snapshot)

	// A failed broadcast leaves the new version as canonical; reconcile sends it later.
	if err != nil {
		h.log.WithError(err).WithField("version", next.Version).Warn("broadcast failed")
	}
	return err
}

// next computes the snapshot after in without touching the host.
func (h *Host) next(r room.Room, sender string, in Intent, forced bool) (room.Snapshot, error) {
	out := r.Snapshot
	switch in.Kind {
	case IntentDraft:
		if in.Draft == nil {
			return out, apperr.New(apperr.CodeActionRejected, "draft intent without action")
		}
		a := *in.Draft
		if !forced {
			if err := authorizeDraft(r, sender, a); err != nil {
				return out, err
			}
		}
		if in.Turn != nil && *in.Turn != draft.Key(r.Draft) {
			return out, apperr.New(apperr.CodeActionRejected, "turn is over")
		}
		if err := draft.Check(r.Draft, a); err != nil {
			return out, apperr.Wrap(apperr.CodeActionRejected, string(a.Type), err)
		}
		out.Draft = draft.Apply(r.Draft, a)

	case IntentReport:
		if in.Report == nil {
			return out, apperr.New(apperr.CodeActionRejected, "report intent without command")
		}
		cmd := *in.Report
		if err := authorizeReport(r, sender, cmd); err != nil {
			return out, err
		}
		ledger, err := matchreport.Apply(r.Reports, cmd, matchreport.Context{
			Format:        r.Format,
			DraftComplete: r.Draft.Complete(),
			FromHost:      sender == r.HostID,
			Confirming:    matchreport.ConfirmingTeam(r.Format, r.HostTeam()),
			Now:           h.cfg.Now().UnixMilli(),
		})
		switch {
		case errors.Is(err, matchreport.ErrAlreadyAnswered):
			return out, err
		case errors.Is(err, matchreport.ErrNotHost), errors.Is(err, matchreport.ErrNotConfirmingTeam):
			return out, apperr.Wrap(apperr.CodePermissionDenied, string(cmd.Type), err)
		case err != nil:
			return out, apperr.Wrap(apperr.CodeActionRejected, string(cmd.Type), err)
		}
		out.Reports = ledger

	default:
		return out, apperr.Newf(apperr.CodeActionRejected, "unknown intent kind %q", in.Kind)
	}
	return out, nil
}

func authorizeDraft(r room.Room, sender string, a draft.Action) error {
	isHost := sender == r.HostID
	if a.Type == draft.ActionContinue {
		if !isHost {
			return apperr.New(apperr.CodePermissionDenied, "only the host may continue")
		}
		return nil
	}
	if isHost && r.HotSeat {
		return nil
	}
	team, ok := r.TeamOf(sender)
	if !ok || team != a.Team {
		return apperr.Newf(apperr.CodePermissionDenied, "%s may not act for %s", sender, a.Team)
	}
	return nil
}

func authorizeReport(r room.Room, sender string, cmd matchreport.Command) error {
	if cmd.Type == matchreport.CommandPropose {
		return nil
	}
	if sender == r.HostID && r.HotSeat {
		return nil
	}
	team, ok := r.TeamOf(sender)
	if !ok || team != cmd.Team {
		return apperr.Newf(apperr.CodePermissionDenied, "%s may not answer for %s", sender, cmd.Team)
	}
	return nil
}

// rebroadcast sends the canonical snapshot again at the same version.
func (h *Host) rebroadcast(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.room.BroadcastAt = h.cfg.Now().UnixMilli()
	h.room.Checksum = h.room.Snapshot.Sum()
	return h.broadcastLocked(ctx, h.room.Snapshot)
}

func (h *Host) broadcastLocked(ctx context.Context, s room.Snapshot) error {
	err := retry.Do(ctx, h.log, h.cfg.Retry, func(ctx context.Context) error {
		return h.cfg.Store.Set(ctx, room.StatePath(h.cfg.Room.Code()), s)
	})
	if err != nil {
		return err
	}
	h.lastSum = s.Checksum
	return nil
}

// reconcile rebroadcasts when the canonical snapshot differs from the last successful broadcast
// or from what the store holds.
func (h *Host) reconcile(ctx context.Context) {
	h.mu.Lock()
	sum := h.room.Snapshot.Sum()
	version := h.room.Version
	drift := sum != h.lastSum
	h.mu.Unlock()

	if !drift {
		var stored room.Snapshot
		ok, err := h.cfg.Store.Get(ctx, room.StatePath(h.cfg.Room.Code()), &stored)
		if err != nil {
			h.log.WithError(err).Debug("reconcile read failed")
			return
		}
		drift = !ok || stored.Version != version || stored.Checksum != sum
	}
	if !drift {
		return
	}

	h.log.WithField("version", version).Info("state drifted from last broadcast; rebroadcasting")
	if err := h.rebroadcast(ctx); err != nil {
		h.log.WithError(err).Warn("reconcile broadcast failed")
	}
}

// onPlayer tracks participant entries, including presence changes written by disconnect hooks.
func (h *Host) onPlayer(c store.Change) {
	id := c.Path[len(room.PlayersPath(h.cfg.Room.Code()))+1:]

	h.mu.Lock()
	if c.Deleted {
		delete(h.room.Players, id)
	} else {
		var p room.Participant
		if err := c.Decode(&p); err != nil {
			h.mu.Unlock()
			h.log.WithError(err).WithField("player", id).Debug("ignoring malformed participant")
			return
		}
		if prev, ok := h.room.Players[id]; ok && prev == p {
			h.mu.Unlock()
			return
		}
		h.room.Players[id] = p
		h.log.WithFields(logrus.Fields{"player": id, "team": p.Team, "connected": p.Connected}).Debug("participant updated")
	}
	snapshot := cloneRoom(h.room)
	h.mu.Unlock()

	h.obs.notify(snapshot)
}

// journal hands the applied intent to the archive publisher without blocking the host.
func (h *Host) journal(r room.Room, sender string, in Intent) {
	if h.cfg.Journal == nil {
		return
	}
	rec := journalRecord(r, sender, in, h.cfg.Now().UnixMilli())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := h.cfg.Journal.Record(ctx, rec); err != nil {
			h.log.WithError(err).WithField("version", rec.Version).Warn("failed to journal action")
		}
	}()
}
