package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the record in process, for hot-seat play and tests.
type MemoryStore struct {
	TTL time.Duration
	Now func() time.Time

	mu  sync.Mutex
	rec *Record
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{TTL: ttl, Now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	if rec.SavedAt == 0 {
		rec.SavedAt = m.Now().UnixMilli()
	}
	m.mu.Lock()
	m.rec = &rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return Record{}, false, nil
	}
	if m.rec.expired(m.Now(), m.TTL) {
		m.rec = nil
		return Record{}, false, nil
	}
	return *m.rec, true, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.rec = nil
	m.mu.Unlock()
	return nil
}
