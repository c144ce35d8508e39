package replication

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/ghost"
	"github.com/jason-s-yu/draftsync/internal/retry"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/jason-s-yu/draftsync/internal/store"
	"github.com/jason-s-yu/draftsync/internal/timer"
	"github.com/sirupsen/logrus"
)

// PeerConfig configures a Peer.
type PeerConfig struct {
	Store store.Store
	// Room is the room as returned by the directory on join.
	Room  room.Room
	Self  string
	Log   logrus.FieldLogger
	Retry retry.Policy

	TurnDuration time.Duration
	TimerMode    timer.Mode
	Ghost        *ghost.Channel

	TickInterval time.Duration
	Now          func() time.Time
	Rand         *rand.Rand
}

// Peer is a read-only mirror of the host's room. It never changes the draft itself; its intents go
// through the pending queue and show up in a later broadcast.
type Peer struct {
	cfg    PeerConfig
	log    logrus.FieldLogger
	timer  *timer.Timer
	obs    observers
	mirror Mirror

	mu   sync.Mutex
	room room.Room

	resync  chan struct{}
	expired chan draft.TurnKey
}

var _ Engine = (*Peer)(nil)

// NewPeer returns a peer for cfg.Room.
func NewPeer(cfg PeerConfig) *Peer {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	p := &Peer{
		cfg:     cfg,
		log:     cfg.Log.WithFields(logrus.Fields{"room": cfg.Room.Code(), "role": "peer", "sender": cfg.Self}),
		room:    cloneRoom(cfg.Room),
		resync:  make(chan struct{}, 1),
		expired: make(chan draft.TurnKey, 1),
	}
	p.timer = &timer.Timer{
		Duration:  cfg.TurnDuration,
		Now:       cfg.Now,
		Authority: timer.AuthorityFor(cfg.TimerMode, false, p.localTeams),
		OnTimeout: expiredSignal(p.expired),
	}
	if cfg.Room.Version > 0 {
		if _, err := p.mirror.Offer(cfg.Room.Snapshot); err != nil {
			p.log.WithError(err).Warn("joined with a malformed snapshot")
			p.requestResync()
		}
	}
	p.timer.Observe(draft.Key(p.room.Draft), turnStart(p.room.Draft))
	return p
}

func (p *Peer) localTeams() []draft.Team {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.room.TeamOf(p.cfg.Self); ok {
		return []draft.Team{t}
	}
	return nil
}

// Room returns the last mirrored room.
func (p *Peer) Room() room.Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneRoom(p.room)
}

func (p *Peer) Observe(fn func(room.Room)) func() {
	return p.obs.add(fn)
}

func (p *Peer) Timer() *timer.Timer {
	return p.timer
}

// SoftErrors counts malformed snapshots received so far.
func (p *Peer) SoftErrors() int64 {
	return p.mirror.SoftErrors()
}

// Submit queues in for the host.
func (p *Peer) Submit(ctx context.Context, in Intent) error {
	action := PendingAction{
		ID:        uuid.NewString(),
		SenderID:  p.cfg.Self,
		Intent:    in,
		Timestamp: p.cfg.Now().UnixMilli(),
	}
	_, err := retry.Value(ctx, p.log, p.cfg.Retry, func(ctx context.Context) (string, error) {
		return p.cfg.Store.Push(ctx, room.PendingPath(p.cfg.Room.Code()), action)
	})
	if err != nil {
		return err
	}
	p.log.WithField("kind", in.Kind).Debug("intent queued")
	return nil
}

// Run mirrors the host's broadcasts until ctx is done.
func (p *Peer) Run(ctx context.Context) error {
	code := p.cfg.Room.Code()

	cancelState, err := p.cfg.Store.Subscribe(ctx, room.StatePath(code), p.onState)
	if err != nil {
		return apperr.Wrap(apperr.CodeConnectionInit, "subscribe state", err)
	}
	defer cancelState()

	cancelPlayers, err := p.cfg.Store.Subscribe(ctx, room.PlayersPattern(code), p.onPlayer)
	if err != nil {
		return apperr.Wrap(apperr.CodeConnectionInit, "subscribe players", err)
	}
	defer cancelPlayers()

	if p.cfg.Ghost != nil {
		cancelGhost, err := p.cfg.Ghost.Watch(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.CodeConnectionInit, "watch ghost selections", err)
		}
		defer cancelGhost()
	}

	tick := time.NewTicker(p.cfg.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.resync:
			if err := p.Submit(ctx, ResyncIntent()); err != nil {
				p.log.WithError(err).Warn("failed to request resync")
			}
		case <-tick.C:
			p.timer.Tick(p.cfg.Now())
		case key := <-p.expired:
			p.timeout(ctx, key)
		}
	}
}

func (p *Peer) requestResync() {
	select {
	case p.resync <- struct{}{}:
	default:
	}
}

func (p *Peer) onState(c store.Change) {
	if c.Deleted {
		p.log.Warn("room state deleted")
		return
	}
	var s room.Snapshot
	if err := c.Decode(&s); err != nil {
		p.mirror.softErrors.Add(1)
		p.log.WithError(err).Warn("undecodable snapshot; requesting resync")
		p.requestResync()
		return
	}

	applied, err := p.mirror.Offer(s)
	if err != nil {
		p.log.WithError(err).WithField("version", s.Version).Warn("malformed snapshot; requesting resync")
		p.requestResync()
		return
	}
	if !applied {
		p.log.WithFields(logrus.Fields{"version": s.Version, "have": p.mirror.Version()}).Debug("discarding stale snapshot")
		return
	}

	p.mu.Lock()
	p.room.Snapshot = s
	p.timer.Observe(draft.Key(s.Draft), turnStart(s.Draft))
	snapshot := cloneRoom(p.room)
	p.mu.Unlock()

	p.obs.notify(snapshot)
}

func (p *Peer) onPlayer(c store.Change) {
	id := c.Path[len(room.PlayersPath(p.cfg.Room.Code()))+1:]

	p.mu.Lock()
	if c.Deleted {
		delete(p.room.Players, id)
	} else {
		var part room.Participant
		if err := c.Decode(&part); err != nil {
			p.mu.Unlock()
			p.log.WithError(err).WithField("player", id).Debug("ignoring malformed participant")
			return
		}
		if prev, ok := p.room.Players[id]; ok && prev == part {
			p.mu.Unlock()
			return
		}
		p.room.Players[id] = part
	}
	snapshot := cloneRoom(p.room)
	p.mu.Unlock()

	p.obs.notify(snapshot)
}

// timeout submits the forced action for the expired turn. The host drops it if the turn has
// already moved on.
func (p *Peer) timeout(ctx context.Context, key draft.TurnKey) {
	in, ok := timeoutIntent(p.Room().Draft, key, p.cfg.Ghost, p.cfg.Rand)
	if !ok {
		return
	}
	p.log.WithFields(logrus.Fields{"team": key.Team, "item": in.Draft.ItemID}).Info("turn timed out")
	if err := p.Submit(ctx, in); err != nil {
		p.log.WithError(err).Warn("failed to submit timeout action")
	}
}
