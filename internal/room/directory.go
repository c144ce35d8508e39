package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/retry"
	"github.com/jason-s-yu/draftsync/internal/store"
	"github.com/sirupsen/logrus"
)

// codeAttempts bounds how many fresh codes Create tries before giving up.
const codeAttempts = 8

var ErrCodeSpace = errors.New("room: could not find a free room code")

// Directory creates, looks up, joins and deletes rooms in a store.
type Directory struct {
	store  store.Store
	log    logrus.FieldLogger
	policy retry.Policy
	now    func() time.Time
	code   func() (string, error)
}

// NewDirectory returns a directory over s.
func NewDirectory(s store.Store, log logrus.FieldLogger, policy retry.Policy) *Directory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Directory{
		store:  s,
		log:    log,
		policy: policy,
		now:    time.Now,
		code:   NewCode,
	}
}

// Create opens a room with a fresh code. host becomes the host and holds team1; initial is the
// opening draft state.
func (d *Directory) Create(ctx context.Context, host Participant, initial draft.State, hotSeat bool) (Room, error) {
	var code string
	for i := 0; i < codeAttempts && code == ""; i++ {
		c, err := d.code()
		if err != nil {
			return Room{}, fmt.Errorf("room: generate code: %w", err)
		}
		taken, err := d.Exists(ctx, c)
		if err != nil {
			return Room{}, err
		}
		if !taken {
			code = c
		} else {
			d.log.WithField("room", c).Debug("room code collision")
		}
	}
	if code == "" {
		return Room{}, ErrCodeSpace
	}

	now := d.now().UnixMilli()
	host.Role = RoleHost
	host.Team = draft.TeamOne
	host.Connected = true
	host.JoinedAt = now

	r := Room{
		Meta: Meta{
			RoomID:    code,
			HostID:    host.ID,
			Format:    initial.Format,
			HotSeat:   hotSeat,
			CreatedAt: now,
		},
		Snapshot: Snapshot{
			Version:     1,
			Status:      StatusFor(initial),
			Draft:       initial,
			BroadcastAt: now,
		},
		Players: map[string]Participant{host.ID: host},
	}
	r.Checksum = r.Snapshot.Sum()

	err := retry.Do(ctx, d.log, d.policy, func(ctx context.Context) error {
		if err := d.store.Set(ctx, MetaPath(code), r.Meta); err != nil {
			return err
		}
		if err := d.store.Set(ctx, StatePath(code), r.Snapshot); err != nil {
			return err
		}
		return d.store.Set(ctx, PlayerPath(code, host.ID), host)
	})
	if err != nil {
		return Room{}, err
	}
	if _, err := d.claimSeat(ctx, code, host.Team, host.ID); err != nil {
		return Room{}, err
	}
	if err := d.markPresence(ctx, PlayerPath(code, host.ID)); err != nil {
		return Room{}, err
	}

	d.log.WithFields(logrus.Fields{"room": code, "host": host.ID, "format": initial.Format}).Info("room created")
	return r, nil
}

// Exists reports whether a room with code has been created and not deleted.
func (d *Directory) Exists(ctx context.Context, code string) (bool, error) {
	var meta Meta
	return retry.Value(ctx, d.log, d.policy, func(ctx context.Context) (bool, error) {
		return d.store.Get(ctx, MetaPath(code), &meta)
	})
}

// Fetch reads the whole room.
func (d *Directory) Fetch(ctx context.Context, code string) (Room, error) {
	code, err := ValidateCode(code)
	if err != nil {
		return Room{}, err
	}
	return retry.Value(ctx, d.log, d.policy, func(ctx context.Context) (Room, error) {
		var r Room
		ok, err := d.store.Get(ctx, MetaPath(code), &r.Meta)
		if err != nil {
			return Room{}, err
		}
		if !ok {
			return Room{}, apperr.Newf(apperr.CodeRoomNotFound, "room %s not found", code)
		}
		if _, err := d.store.Get(ctx, StatePath(code), &r.Snapshot); err != nil {
			return Room{}, err
		}
		if r.Players, err = d.participants(ctx, PlayersPath(code)); err != nil {
			return Room{}, err
		}
		if r.Spectators, err = d.participants(ctx, SpectatorsPath(code)); err != nil {
			return Room{}, err
		}
		return r, nil
	})
}

func (d *Directory) participants(ctx context.Context, prefix string) (map[string]Participant, error) {
	children, err := d.store.Children(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Participant, len(children))
	for path, raw := range children {
		var p Participant
		if err := json.Unmarshal(raw, &p); err != nil {
			d.log.WithError(err).WithField("path", path).Warn("skipping malformed participant")
			continue
		}
		if p.ID == "" {
			p.ID = path[strings.LastIndex(path, "/")+1:]
		}
		out[p.ID] = p
	}
	return out, nil
}

// Join adds p to the room. Players claim the first free team seat and keep their team when they
// rejoin with the same id; concurrent joiners never share a seat. Spectators are unlimited. The
// stored participant is returned.
func (d *Directory) Join(ctx context.Context, code string, p Participant) (Participant, Room, error) {
	r, err := d.Fetch(ctx, code)
	if err != nil {
		return Participant{}, Room{}, err
	}
	code = r.RoomID
	p.Connected = true
	p.JoinedAt = d.now().UnixMilli()

	var path string
	switch p.Role {
	case RoleSpectator:
		p.Team = ""
		path = SpectatorPath(code, p.ID)
		r.Spectators[p.ID] = p

	default:
		if existing, ok := r.Players[p.ID]; ok {
			p.Role = existing.Role
			p.Team = existing.Team
			p.JoinedAt = existing.JoinedAt
			if p.Name == "" {
				p.Name = existing.Name
			}
		} else {
			team, ok, err := d.takeSeat(ctx, r, p.ID)
			if err != nil {
				return Participant{}, Room{}, err
			}
			if !ok {
				return Participant{}, Room{}, apperr.Newf(apperr.CodeRoomFull, "room %s is full", code)
			}
			p.Role = RolePlayer
			p.Team = team
		}
		path = PlayerPath(code, p.ID)
		r.Players[p.ID] = p
	}

	err = retry.Do(ctx, d.log, d.policy, func(ctx context.Context) error {
		return d.store.Set(ctx, path, p)
	})
	if err != nil {
		return Participant{}, Room{}, err
	}
	if err := d.markPresence(ctx, path); err != nil {
		return Participant{}, Room{}, err
	}

	d.log.WithFields(logrus.Fields{"room": code, "participant": p.ID, "role": p.Role, "team": p.Team}).Info("joined room")
	return p, r, nil
}

// takeSeat claims the first team of r that no other participant holds.
func (d *Directory) takeSeat(ctx context.Context, r Room, id string) (draft.Team, bool, error) {
	held := make(map[draft.Team]bool)
	for _, p := range r.Players {
		if p.Team != "" && p.ID != id {
			held[p.Team] = true
		}
	}
	for _, t := range draft.Teams(r.Format) {
		if held[t] {
			continue
		}
		ok, err := d.claimSeat(ctx, r.RoomID, t, id)
		if err != nil {
			return "", false, err
		}
		if ok {
			return t, true, nil
		}
	}
	return "", false, nil
}

// claimSeat reports whether id holds team's seat, claiming it when it is free. A seat id already
// holds counts as claimed so a retried join keeps its team.
func (d *Directory) claimSeat(ctx context.Context, code string, team draft.Team, id string) (bool, error) {
	return retry.Value(ctx, d.log, d.policy, func(ctx context.Context) (bool, error) {
		ok, err := d.store.Claim(ctx, SeatPath(code, team), id)
		if err != nil || ok {
			return ok, err
		}
		var owner string
		if _, err := d.store.Get(ctx, SeatPath(code, team), &owner); err != nil {
			return false, err
		}
		return owner == id, nil
	})
}

func (d *Directory) markPresence(ctx context.Context, path string) error {
	_, err := retry.Value(ctx, d.log, d.policy, func(ctx context.Context) (func(), error) {
		return d.store.OnDisconnect(ctx, path, map[string]any{"connected": false})
	})
	return err
}

// Delete tears down every path of the room.
func (d *Directory) Delete(ctx context.Context, code string) error {
	code, err := ValidateCode(code)
	if err != nil {
		return err
	}
	err = retry.Do(ctx, d.log, d.policy, func(ctx context.Context) error {
		return d.store.Delete(ctx, Path(code))
	})
	if err != nil {
		return err
	}
	d.log.WithField("room", code).Info("room deleted")
	return nil
}
