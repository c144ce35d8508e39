// Package timer is the per-turn countdown. Remaining time is derived from the turn's wall-clock
// start, so a replica that was asleep catches up on its next tick.
package timer

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jason-s-yu/draftsync/internal/draft"
)

// Mode selects which replica may force a timeout.
type Mode string

const (
	AuthorityHost       Mode = "host"
	AuthorityActingTeam Mode = "acting-team"
)

// AuthorityFor builds the authority check for a replica. In host mode only the host acts; in
// acting-team mode the replica holding the key's team does.
func AuthorityFor(mode Mode, isHost bool, teams func() []draft.Team) func(draft.TurnKey) bool {
	return func(key draft.TurnKey) bool {
		if mode == AuthorityActingTeam {
			if teams == nil {
				return false
			}
			return slices.Contains(teams(), key.Team)
		}
		return isHost
	}
}

// Timer fires OnTimeout at most once per turn key, and only when Authority allows it.
type Timer struct {
	Duration  time.Duration
	Now       func() time.Time
	Authority func(draft.TurnKey) bool
	OnTimeout func(draft.TurnKey)

	mu       sync.Mutex
	key      draft.TurnKey
	started  time.Time
	observed bool
	fired    bool
}

func (t *Timer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Observe tells the timer which turn is current and when it began. A new key resets the
// countdown; observing the same key again keeps the original start.
func (t *Timer) Observe(key draft.TurnKey, startedAt time.Time) {
	if startedAt.IsZero() {
		startedAt = t.now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.observed || key != t.key {
		t.key = key
		t.started = startedAt
		t.fired = false
		t.observed = true
	}
}

// Key returns the turn currently being timed.
func (t *Timer) Key() draft.TurnKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

// Remaining returns the time left in the current turn at now, never below zero. Untimed turns
// report the full duration.
func (t *Timer) Remaining(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining(now)
}

func (t *Timer) remaining(now time.Time) time.Duration {
	if !t.observed || !t.key.Timed {
		return t.Duration
	}
	left := t.Duration - now.Sub(t.started)
	if left < 0 {
		return 0
	}
	return left
}

// Tick fires the timeout if the current turn has expired, this replica has authority and the key
// has not fired yet. It reports whether it fired.
func (t *Timer) Tick(now time.Time) bool {
	t.mu.Lock()
	if !t.observed || !t.key.Timed || t.fired || t.Duration <= 0 || t.remaining(now) > 0 {
		t.mu.Unlock()
		return false
	}
	key := t.key
	t.mu.Unlock()

	// Authority may take engine locks that are held around Observe, so it runs unlocked.
	if t.Authority != nil && !t.Authority(key) {
		return false
	}

	t.mu.Lock()
	if t.fired || t.key != key {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	t.mu.Unlock()

	if t.OnTimeout != nil {
		t.OnTimeout(key)
	}
	return true
}

// Run ticks every interval until ctx is done.
func (t *Timer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Tick(t.now())
		}
	}
}
