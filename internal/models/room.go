package models

// RoomSummary is the archived row for a room, kept up to date by the historian.
type RoomSummary struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Actions  int    `json:"actions"`
	LastSeen int64  `json:"last_seen"`
}
