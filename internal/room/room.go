// Package room defines the replicated room container, its store layout and the directory used to
// create, join and tear down rooms.
package room

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/matchreport"
	"github.com/jason-s-yu/draftsync/internal/store"
)

type Role string

const (
	RoleHost      Role = "host"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Meta is written once by the host when the room is created.
type Meta struct {
	RoomID    string       `json:"roomId"`
	HostID    string       `json:"hostId"`
	Format    draft.Format `json:"format"`
	HotSeat   bool         `json:"hotSeat"`
	CreatedAt int64        `json:"createdAt"`
}

// Participant is a player or spectator entry.
type Participant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Role      Role       `json:"role"`
	Team      draft.Team `json:"team,omitempty"`
	Connected bool       `json:"connected"`
	JoinedAt  int64      `json:"joinedAt"`
}

// Snapshot is the versioned part of a room, written only by the host.
type Snapshot struct {
	Version     int64              `json:"version"`
	Status      Status             `json:"status"`
	Draft       draft.State        `json:"draft"`
	Reports     matchreport.Ledger `json:"reports"`
	BroadcastAt int64              `json:"broadcastAt"`
	Checksum    uint64             `json:"checksum"`
}

// Sum hashes the replicated content of the snapshot. BroadcastAt and Checksum are left out so the
// value only changes when the draft or the reports do.
func (s Snapshot) Sum() uint64 {
	b, err := json.Marshal(struct {
		Version int64              `json:"version"`
		Status  Status             `json:"status"`
		Draft   draft.State        `json:"draft"`
		Reports matchreport.Ledger `json:"reports"`
	}{s.Version, s.Status, s.Draft, s.Reports})
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}

// Room is everything a replica knows about one room.
type Room struct {
	Meta
	Snapshot
	Players    map[string]Participant `json:"players"`
	Spectators map[string]Participant `json:"spectators,omitempty"`
}

// Code returns the room code.
func (r Room) Code() string {
	return r.RoomID
}

// Host returns the host's participant entry.
func (r Room) Host() (Participant, bool) {
	p, ok := r.Players[r.HostID]
	return p, ok
}

// TeamOf returns the team held by participant id, if any.
func (r Room) TeamOf(id string) (draft.Team, bool) {
	p, ok := r.Players[id]
	if !ok || p.Team == "" {
		return "", false
	}
	return p.Team, true
}

// HostTeam returns the team held by the host.
func (r Room) HostTeam() draft.Team {
	t, _ := r.TeamOf(r.HostID)
	return t
}

// StatusFor derives the room status from a draft state.
func StatusFor(s draft.State) Status {
	switch {
	case s.Complete():
		return StatusCompleted
	case s.Phase == draft.PhaseLobby || s.Phase == draft.PhaseTeamNames:
		return StatusWaiting
	}
	return StatusInProgress
}

// Store paths, all beneath rooms/{code}.

func Path(code string) string {
	return store.Join("rooms", code)
}

func MetaPath(code string) string {
	return store.Join("rooms", code, "meta")
}

func StatePath(code string) string {
	return store.Join("rooms", code, "state")
}

func PendingPath(code string) string {
	return store.Join("rooms", code, "pending")
}

func PlayersPath(code string) string {
	return store.Join("rooms", code, "players")
}

func SpectatorsPath(code string) string {
	return store.Join("rooms", code, "spectators")
}

func GhostPattern(code string) string {
	return store.Join("rooms", code, "ghost", "*")
}

func PlayersPattern(code string) string {
	return store.Join("rooms", code, "players", "*")
}

func PlayerPath(code, id string) string {
	return store.Join("rooms", code, "players", id)
}

func SpectatorPath(code, id string) string {
	return store.Join("rooms", code, "spectators", id)
}

// SeatPath holds the id of the participant that claimed team.
func SeatPath(code string, team draft.Team) string {
	return store.Join("rooms", code, "seats", string(team))
}

func GhostPath(code string, team draft.Team) string {
	return store.Join("rooms", code, "ghost", string(team))
}
