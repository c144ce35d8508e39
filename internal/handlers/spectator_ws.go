// internal/handlers/spectator_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/ghost"
	"github.com/jason-s-yu/draftsync/internal/middleware"
	"github.com/jason-s-yu/draftsync/internal/replication"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/jason-s-yu/draftsync/internal/store"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol spectators must request.
const Subprotocol = "draft"

var errRoomClosed = errors.New("handlers: room was deleted")

// StreamMessage is one frame sent to a spectator.
type StreamMessage struct {
	// Type is "room" for the opening frame, then "snapshot", "ghost" or "player".
	Type string `json:"type"`

	Room        *room.Room        `json:"room,omitempty"`
	Snapshot    *room.Snapshot    `json:"snapshot,omitempty"`
	Team        draft.Team        `json:"team,omitempty"`
	Selection   *ghost.Selection  `json:"selection,omitempty"`
	Participant *room.Participant `json:"participant,omitempty"`
}

// WatchHandler upgrades to a websocket that streams the room to a spectator. Snapshots pass
// through a mirror, so the spectator only ever sees strictly increasing versions. Anything the
// spectator sends closes the stream.
func (g *Gateway) WatchHandler(w http.ResponseWriter, r *http.Request) {
	log := g.logger()
	code, err := room.ValidateCode(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	deviceID, err := g.EnsureDevice(w, r)
	if err != nil {
		log.WithError(err).Error("failed to issue device token")
		http.Error(w, "failed to issue device token", http.StatusInternalServerError)
		return
	}
	me, rm, err := g.Rooms.Join(r.Context(), code, room.Participant{ID: deviceID, Name: "Spectator", Role: room.RoleSpectator})
	if err != nil {
		writeError(w, err)
		return
	}

	origins := g.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: origins,
	})
	if err != nil {
		log.WithError(err).WithField("room", code).Warn("websocket accept failed")
		g.leave(code, me.ID)
		return
	}
	defer c.Close(websocket.StatusInternalError, "internal server error during handler exit")
	defer g.leave(code, me.ID)

	if c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the draft subprotocol")
		return
	}

	middleware.LogWebSocketConnect(log, r.RemoteAddr, r.URL.Path)
	log = log.WithFields(logrus.Fields{"room": code, "spectator": me.ID})

	ctx := c.CloseRead(r.Context())
	streamErr := g.stream(ctx, c, rm, log)
	middleware.LogWebSocketDisconnect(log, r.RemoteAddr, r.URL.Path, streamErr)
	if streamErr != nil && ctx.Err() == nil {
		c.Close(RoomUnavailableError, "room stream failed")
		return
	}
	c.Close(websocket.StatusNormalClosure, "")
}

// stream sends the opening frame and then relays changes until ctx ends.
func (g *Gateway) stream(ctx context.Context, c *websocket.Conn, rm room.Room, log logrus.FieldLogger) error {
	code := rm.RoomID
	mirror := &replication.Mirror{}
	if _, err := mirror.Offer(rm.Snapshot); err != nil {
		log.WithError(err).Warn("room snapshot failed validation")
	}

	out := newOutbox()
	out.put("room", StreamMessage{Type: "room", Room: &rm})

	cancelState, err := g.Store.Subscribe(ctx, room.StatePath(code), func(ch store.Change) {
		if ch.Deleted {
			out.fail()
			return
		}
		var s room.Snapshot
		if err := ch.Decode(&s); err != nil {
			log.WithError(err).Debug("ignoring undecodable snapshot")
			return
		}
		applied, err := mirror.Offer(s)
		if err != nil {
			log.WithError(err).WithField("version", s.Version).Debug("ignoring malformed snapshot")
			return
		}
		if applied {
			out.put("snapshot", StreamMessage{Type: "snapshot", Snapshot: &s})
		}
	})
	if err != nil {
		return err
	}
	defer cancelState()

	cancelPlayers, err := g.Store.Subscribe(ctx, room.PlayersPattern(code), func(ch store.Change) {
		var p room.Participant
		if ch.Deleted || ch.Decode(&p) != nil || p.ID == "" {
			return
		}
		out.put("player/"+p.ID, StreamMessage{Type: "player", Participant: &p})
	})
	if err != nil {
		return err
	}
	defer cancelPlayers()

	cancelGhost, err := ghost.New(g.Store, code, log).Watch(ctx, func(team draft.Team, sel ghost.Selection, present bool) {
		msg := StreamMessage{Type: "ghost", Team: team}
		if present {
			msg.Selection = &sel
		}
		out.put("ghost/"+string(team), msg)
	})
	if err != nil {
		return err
	}
	defer cancelGhost()

	timeout := g.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-out.wake:
		}
		msgs, failed := out.take()
		for _, m := range msgs {
			wctx, cancel := context.WithTimeout(ctx, timeout)
			err := wsjson.Write(wctx, c, m)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		if failed {
			return errRoomClosed
		}
	}
}

// leave marks the spectator disconnected once its stream ends.
func (g *Gateway) leave(code, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	err := g.Store.Update(ctx, room.SpectatorPath(code, id), map[string]any{"connected": false})
	if err != nil {
		g.logger().WithError(err).WithFields(logrus.Fields{"room": code, "spectator": id}).Warn("failed to mark spectator gone")
	}
}

// outbox queues frames for a slow spectator. A frame replaces a queued frame with the same key,
// so a spectator that falls behind skips straight to the newest snapshot.
type outbox struct {
	mu     sync.Mutex
	order  []string
	frames map[string]StreamMessage
	failed bool
	wake   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{frames: make(map[string]StreamMessage), wake: make(chan struct{}, 1)}
}

func (o *outbox) put(key string, m StreamMessage) {
	o.mu.Lock()
	if _, queued := o.frames[key]; !queued {
		o.order = append(o.order, key)
	}
	o.frames[key] = m
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) fail() {
	o.mu.Lock()
	o.failed = true
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) take() ([]StreamMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := make([]StreamMessage, 0, len(o.order))
	for _, k := range o.order {
		msgs = append(msgs, o.frames[k])
	}
	o.order = o.order[:0]
	clear(o.frames)
	return msgs, o.failed
}
