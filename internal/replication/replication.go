// Package replication keeps every replica's copy of a room consistent. One replica, the Host,
// applies intents and broadcasts versioned snapshots; every other replica is a Peer that pushes its
// intents to the room's pending queue and mirrors whatever the host broadcasts.
package replication

import (
	"context"
	"encoding/json"
	"maps"
	"sync"

	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/matchreport"
	"github.com/jason-s-yu/draftsync/internal/models"
	"github.com/jason-s-yu/draftsync/internal/room"
)

// Engine is the interface shared by hosts and peers. Submit on a host applies the intent directly;
// on a peer it only queues it.
type Engine interface {
	Run(ctx context.Context) error
	Submit(ctx context.Context, in Intent) error
	Room() room.Room
	Observe(fn func(room.Room)) (cancel func())
}

type IntentKind string

const (
	IntentDraft  IntentKind = "draft"
	IntentReport IntentKind = "report"
	IntentResync IntentKind = "resync"
)

// Intent is something a participant wants the host to do. Turn, when set, pins a draft intent to
// the turn it was made in; the host rejects it once that turn is over.
type Intent struct {
	Kind   IntentKind           `json:"kind"`
	Draft  *draft.Action        `json:"draft,omitempty"`
	Report *matchreport.Command `json:"report,omitempty"`
	Turn   *draft.TurnKey       `json:"turn,omitempty"`
}

// DraftIntent wraps a draft action.
func DraftIntent(a draft.Action) Intent {
	return Intent{Kind: IntentDraft, Draft: &a}
}

// ReportIntent wraps a match-report command.
func ReportIntent(c matchreport.Command) Intent {
	return Intent{Kind: IntentReport, Report: &c}
}

// ResyncIntent asks the host to broadcast its current snapshot again.
func ResyncIntent() Intent {
	return Intent{Kind: IntentResync}
}

// PendingAction is an intent queued in rooms/{code}/pending.
type PendingAction struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Intent    Intent `json:"intent"`
	Timestamp int64  `json:"timestamp"`
}

// Journal receives every intent the host applies. It is fed asynchronously and may be nil.
type Journal interface {
	Record(ctx context.Context, action models.DraftAction) error
}

func journalRecord(r room.Room, sender string, in Intent, now int64) models.DraftAction {
	payload := map[string]interface{}{}
	if b, err := json.Marshal(in); err == nil {
		_ = json.Unmarshal(b, &payload)
	}
	return models.DraftAction{
		RoomID:     r.RoomID,
		Version:    r.Version,
		ActorID:    sender,
		IntentKind: string(in.Kind),
		Payload:    payload,
		Status:     string(r.Status),
		Checksum:   r.Checksum,
		Timestamp:  now,
	}
}

// observers is a set of room callbacks.
type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(room.Room)
}

func (o *observers) add(fn func(room.Room)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(room.Room))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers) notify(r room.Room) {
	o.mu.Lock()
	fns := make([]func(room.Room), 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

// cloneRoom copies the participant maps so callers can't race with updates. Draft states are
// never mutated in place so they are shared.
func cloneRoom(r room.Room) room.Room {
	r.Players = maps.Clone(r.Players)
	r.Spectators = maps.Clone(r.Spectators)
	if r.Players == nil {
		r.Players = map[string]room.Participant{}
	}
	return r
}
