package session

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/sirupsen/logrus"
)

// Rooms is the part of room.Directory that resumption needs.
type Rooms interface {
	Fetch(ctx context.Context, code string) (room.Room, error)
	Join(ctx context.Context, code string, p room.Participant) (room.Participant, room.Room, error)
	Create(ctx context.Context, host room.Participant, initial draft.State, hotSeat bool) (room.Room, error)
}

type OutcomeKind string

const (
	// OutcomeNone means there was nothing to resume.
	OutcomeNone      OutcomeKind = ""
	OutcomeRejoined  OutcomeKind = "rejoined"
	OutcomeRecreated OutcomeKind = "recreated"
)

// Outcome is the result of a resume attempt.
type Outcome struct {
	Kind        OutcomeKind
	RoomID      string
	Room        room.Room
	Participant room.Participant
}

// Resumer rejoins the room of the saved session. A host whose room is gone opens a new one from
// NewDraft; a player gets a room-not-found error.
type Resumer struct {
	Sessions Store
	Rooms    Rooms
	Log      logrus.FieldLogger

	NewDraft func() (draft.State, error)
	HotSeat  bool
}

// Resume loads the saved record and acts on it.
func (r *Resumer) Resume(ctx context.Context) (Outcome, error) {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	rec, ok, err := r.Sessions.Load(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, nil
	}
	log = log.WithFields(logrus.Fields{"room": rec.RoomID, "role": rec.Role, "player": rec.PlayerID})

	me := room.Participant{ID: rec.PlayerID, Name: rec.DisplayName, Role: rec.Role}
	p, joined, err := r.rejoin(ctx, rec, me)
	if err == nil {
		rec.SavedAt = 0
		if err := r.Sessions.Save(ctx, rec); err != nil {
			log.WithError(err).Warn("failed to refresh session record")
		}
		log.Info("resumed session")
		return Outcome{Kind: OutcomeRejoined, RoomID: joined.RoomID, Room: joined, Participant: p}, nil
	}
	if code := apperr.CodeOf(err); code == apperr.CodeTransient || code == apperr.CodeConnectionTimeout {
		// the room may still be there; keep the record for the next attempt
		return Outcome{}, err
	}

	log.WithError(err).Info("could not rejoin saved room")
	if rec.Role != room.RoleHost {
		if cerr := r.Sessions.Clear(ctx); cerr != nil {
			log.WithError(cerr).Warn("failed to clear session record")
		}
		return Outcome{}, apperr.Wrap(apperr.CodeRoomNotFound, fmt.Sprintf("room %s is no longer available", rec.RoomID), err)
	}
	return r.recreate(ctx, rec, me, log)
}

// rejoin joins rec's room again, refusing when the room no longer knows this identity.
func (r *Resumer) rejoin(ctx context.Context, rec Record, me room.Participant) (room.Participant, room.Room, error) {
	existing, err := r.Rooms.Fetch(ctx, rec.RoomID)
	if err != nil {
		return room.Participant{}, room.Room{}, err
	}
	if rec.Role != room.RoleSpectator {
		if _, known := existing.Players[rec.PlayerID]; !known {
			return room.Participant{}, room.Room{}, apperr.Newf(apperr.CodePermissionDenied, "room %s does not know player %s", rec.RoomID, rec.PlayerID)
		}
		if rec.Role == room.RoleHost && existing.HostID != rec.PlayerID {
			return room.Participant{}, room.Room{}, apperr.Newf(apperr.CodePermissionDenied, "room %s has another host", rec.RoomID)
		}
	}
	return r.Rooms.Join(ctx, rec.RoomID, me)
}

func (r *Resumer) recreate(ctx context.Context, rec Record, me room.Participant, log logrus.FieldLogger) (Outcome, error) {
	if r.NewDraft == nil {
		return Outcome{}, apperr.New(apperr.CodeRoomNotFound, "saved room is gone and no draft is configured")
	}
	st, err := r.NewDraft()
	if err != nil {
		return Outcome{}, err
	}
	created, err := r.Rooms.Create(ctx, me, st, r.HotSeat)
	if err != nil {
		return Outcome{}, err
	}

	rec.RoomID = created.RoomID
	rec.SavedAt = 0
	if err := r.Sessions.Save(ctx, rec); err != nil {
		log.WithError(err).Warn("failed to save session record")
	}
	host, _ := created.Host()
	log.WithField("newRoom", created.RoomID).Info("recreated room")
	return Outcome{Kind: OutcomeRecreated, RoomID: created.RoomID, Room: created, Participant: host}, nil
}
