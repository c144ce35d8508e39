package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/draftsync/internal/models"
)

// Archive persists journaled draft actions.
type Archive struct {
	pool *pgxpool.Pool
}

func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Write stores a batch of actions in one transaction. Each action upserts its room row; replays
// of an archived version are ignored.
func (a *Archive) Write(ctx context.Context, batch []models.DraftAction) error {
	err := pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batch {
			if err := insertActionTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insert action %s/%d: %w", rec.RoomID, rec.Version, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx archive batch: %w", err)
	}
	return nil
}

func insertActionTx(ctx context.Context, tx pgx.Tx, rec models.DraftAction) error {
	at := time.UnixMilli(rec.Timestamp)
	upsertRoom := `
		INSERT INTO rooms (id, status, start_time, last_seen)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id)
		DO UPDATE SET status = $2, last_seen = GREATEST(rooms.last_seen, $3)
	`
	if _, err := tx.Exec(ctx, upsertRoom, rec.RoomID, rec.Status, at); err != nil {
		return err
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	insertAction := `
		INSERT INTO draft_actions (room_id, version, actor_id, intent_kind, payload, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_id, version) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insertAction,
		rec.RoomID, rec.Version, rec.ActorID, rec.IntentKind, payload, strconv.FormatUint(rec.Checksum, 10), at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `UPDATE rooms SET actions = actions + 1 WHERE id = $1`, rec.RoomID); err != nil {
			return err
		}
	}

	if rec.Status == "completed" {
		finalize := `
			UPDATE rooms
			SET end_time = NOW()
			WHERE id = $1 AND end_time IS NULL
		`
		if _, err := tx.Exec(ctx, finalize, rec.RoomID); err != nil {
			return err
		}
	}
	return nil
}

// MarkAbandoned marks a room that stopped producing actions, unless it already finished.
func (a *Archive) MarkAbandoned(ctx context.Context, roomID string) error {
	return pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE rooms
			SET status = 'abandoned', end_time = NOW()
			WHERE id = $1 AND status <> 'completed' AND end_time IS NULL
		`
		_, err := tx.Exec(ctx, q, roomID)
		return err
	})
}

// Summary returns the archived row for roomID.
func (a *Archive) Summary(ctx context.Context, roomID string) (models.RoomSummary, bool, error) {
	var s models.RoomSummary
	var lastSeen time.Time
	err := a.pool.QueryRow(ctx,
		`SELECT id, status, actions, last_seen FROM rooms WHERE id = $1`, roomID,
	).Scan(&s.ID, &s.Status, &s.Actions, &lastSeen)
	if err == pgx.ErrNoRows {
		return models.RoomSummary{}, false, nil
	}
	if err != nil {
		return models.RoomSummary{}, false, fmt.Errorf("query room summary: %w", err)
	}
	s.LastSeen = lastSeen.UnixMilli()
	return s, true, nil
}
