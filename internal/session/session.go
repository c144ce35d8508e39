// Package session remembers which room this device was in so a restarted client can rejoin it.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/draftsync/internal/room"
)

// DefaultTTL is how long a record stays resumable after it was last saved.
const DefaultTTL = 6 * time.Hour

var ErrInvalidRecord = errors.New("session: record needs a room id and a player id")

// Record is what a client needs to resume: the room, the role it held and who it was.
type Record struct {
	RoomID      string    `json:"roomId"`
	Role        room.Role `json:"role"`
	DisplayName string    `json:"displayName"`
	PlayerID    string    `json:"playerId"`
	SavedAt     int64     `json:"savedAt"`
}

func (r Record) validate() error {
	if r.RoomID == "" || r.PlayerID == "" {
		return ErrInvalidRecord
	}
	return nil
}

func (r Record) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(time.UnixMilli(r.SavedAt)) > ttl
}

// Store persists the current session record. Load reports ok=false when there is no record or
// the stored one has expired.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context) (rec Record, ok bool, err error)
	Clear(ctx context.Context) error
}
