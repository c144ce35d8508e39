package replication

import (
	"sync"
	"sync/atomic"

	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/room"
)

// Mirror gates incoming snapshots. A snapshot is applied only when its version is strictly
// greater than the last applied one, and only when it validates.
type Mirror struct {
	mu      sync.Mutex
	last    room.Snapshot
	applied bool

	softErrors atomic.Int64
}

// Offer reports whether s was applied. Stale snapshots return false and a nil error; malformed ones
// return a state-validation error and count towards SoftErrors.
func (m *Mirror) Offer(s room.Snapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applied && s.Version <= m.last.Version {
		return false, nil
	}
	if err := checkSnapshot(s); err != nil {
		m.softErrors.Add(1)
		return false, err
	}
	m.last = s
	m.applied = true
	return true, nil
}

// Version returns the last applied version, or 0 before the first snapshot.
func (m *Mirror) Version() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last.Version
}

// Last returns the last applied snapshot.
func (m *Mirror) Last() (room.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.applied
}

// SoftErrors counts the malformed snapshots seen so far.
func (m *Mirror) SoftErrors() int64 {
	return m.softErrors.Load()
}

func checkSnapshot(s room.Snapshot) error {
	if s.Version < 1 {
		return apperr.Newf(apperr.CodeStateValidation, "snapshot version %d", s.Version)
	}
	if err := draft.Validate(s.Draft); err != nil {
		return apperr.Wrap(apperr.CodeStateValidation, "malformed draft", err)
	}
	if s.Status != room.StatusFor(s.Draft) {
		return apperr.Newf(apperr.CodeStateValidation, "status %q does not match draft", s.Status)
	}
	if s.Checksum != s.Sum() {
		return apperr.New(apperr.CodeStateValidation, "checksum mismatch")
	}
	return nil
}
