// Package ghost broadcasts what each team is hovering before it commits. Selections are previews
// only: they never enter the draft state, and a selection made in an earlier turn is ignored.
package ghost

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/jason-s-yu/draftsync/internal/store"
	"github.com/sirupsen/logrus"
)

// Selection is one team's uncommitted choice.
type Selection struct {
	Team      draft.Team        `json:"team"`
	Type      draft.ActionType  `json:"type"`
	ItemID    string            `json:"itemId"`
	Display   map[string]string `json:"display,omitempty"`
	Turn      draft.TurnKey     `json:"turn"`
	UpdatedAt int64             `json:"updatedAt"`
}

func (s Selection) same(o Selection) bool {
	return s.Team == o.Team && s.Type == o.Type && s.ItemID == o.ItemID && s.Turn == o.Turn && maps.Equal(s.Display, o.Display)
}

// Channel publishes and watches the ghost selections of one room.
type Channel struct {
	store store.Store
	code  string
	log   logrus.FieldLogger

	Now func() time.Time

	mu        sync.Mutex
	published map[draft.Team]Selection
	seen      map[draft.Team]Selection
}

// New returns a channel for room code.
func New(s store.Store, code string, log logrus.FieldLogger) *Channel {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Channel{
		store:     s,
		code:      code,
		log:       log.WithField("room", code),
		Now:       time.Now,
		published: make(map[draft.Team]Selection),
		seen:      make(map[draft.Team]Selection),
	}
}

// Publish broadcasts sel. Publishing the same selection twice in a row is a no-op.
func (c *Channel) Publish(ctx context.Context, sel Selection) error {
	c.mu.Lock()
	prev, ok := c.published[sel.Team]
	c.mu.Unlock()
	if ok && prev.same(sel) {
		return nil
	}

	sel.UpdatedAt = c.Now().UnixMilli()
	if err := c.store.Set(ctx, room.GhostPath(c.code, sel.Team), sel); err != nil {
		return err
	}
	c.mu.Lock()
	c.published[sel.Team] = sel
	c.seen[sel.Team] = sel
	c.mu.Unlock()
	return nil
}

// Clear removes team's selection, after a commit or when the hover ends.
func (c *Channel) Clear(ctx context.Context, team draft.Team) error {
	c.mu.Lock()
	delete(c.published, team)
	delete(c.seen, team)
	c.mu.Unlock()
	return c.store.Delete(ctx, room.GhostPath(c.code, team))
}

// Watch calls fn whenever a team's selection changes. present is false when it was cleared.
func (c *Channel) Watch(ctx context.Context, fn func(team draft.Team, sel Selection, present bool)) (func(), error) {
	return c.store.Subscribe(ctx, room.GhostPattern(c.code), func(ch store.Change) {
		team := draft.Team(ch.Path[strings.LastIndex(ch.Path, "/")+1:])
		if ch.Deleted {
			c.mu.Lock()
			delete(c.seen, team)
			c.mu.Unlock()
			if fn != nil {
				fn(team, Selection{}, false)
			}
			return
		}
		var sel Selection
		if err := ch.Decode(&sel); err != nil {
			c.log.WithError(err).WithField("team", team).Debug("ignoring malformed ghost selection")
			return
		}
		c.mu.Lock()
		c.seen[team] = sel
		c.mu.Unlock()
		if fn != nil {
			fn(team, sel, true)
		}
	})
}

// Staged returns the acting team's selection for turn. A selection published during any other
// turn does not count, however recent it is.
func (c *Channel) Staged(turn draft.TurnKey) (Selection, bool) {
	c.mu.Lock()
	sel, ok := c.seen[turn.Team]
	c.mu.Unlock()
	if !ok || sel.Turn != turn {
		return Selection{}, false
	}
	return sel, true
}
