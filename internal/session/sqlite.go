package session

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jason-s-yu/draftsync/internal/room"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS sessions (
	profile      TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	role         TEXT NOT NULL,
	display_name TEXT NOT NULL,
	player_id    TEXT NOT NULL,
	saved_at     INTEGER NOT NULL
)`

// SQLiteStore keeps session records in a local SQLite file, one row per profile.
type SQLiteStore struct {
	db      *sql.DB
	profile string

	TTL time.Duration
	Now func() time.Time
}

// OpenSQLite opens (and creates if needed) the session database at path. Records are stored under
// profile so several local identities can share one file.
func OpenSQLite(path, profile string, ttl time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session: storage path is required")
	}
	if profile == "" {
		profile = "default"
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: create schema: %w", err)
	}
	return &SQLiteStore{db: db, profile: profile, TTL: ttl, Now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	if rec.SavedAt == 0 {
		rec.SavedAt = s.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (profile, room_id, role, display_name, player_id, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (profile) DO UPDATE SET
			room_id = excluded.room_id,
			role = excluded.role,
			display_name = excluded.display_name,
			player_id = excluded.player_id,
			saved_at = excluded.saved_at`,
		s.profile, rec.RoomID, string(rec.Role), rec.DisplayName, rec.PlayerID, rec.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Load returns the profile's record. Expired rows are deleted on the way.
func (s *SQLiteStore) Load(ctx context.Context) (Record, bool, error) {
	if err := s.purge(ctx); err != nil {
		return Record{}, false, err
	}

	var rec Record
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT room_id, role, display_name, player_id, saved_at FROM sessions WHERE profile = ?`,
		s.profile,
	).Scan(&rec.RoomID, &role, &rec.DisplayName, &rec.PlayerID, &rec.SavedAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("session: load: %w", err)
	}
	rec.Role = room.Role(role)
	return rec, true, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE profile = ?`, s.profile); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// purge drops every expired row, not only this profile's.
func (s *SQLiteStore) purge(ctx context.Context) error {
	if s.TTL <= 0 {
		return nil
	}
	cutoff := s.Now().Add(-s.TTL).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE saved_at < ?`, cutoff); err != nil {
		return fmt.Errorf("session: purge expired: %w", err)
	}
	return nil
}
