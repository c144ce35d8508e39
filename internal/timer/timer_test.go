package timer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0    = time.UnixMilli(1_700_000_000_000)
	turnA = draft.TurnKey{Phase: draft.PhaseMapPick, Team: draft.TeamOne, Actions: 4, Timed: true}
	turnB = draft.TurnKey{Phase: draft.PhaseMapPick, Team: draft.TeamTwo, Actions: 5, Timed: true}
)

func TestRemainingUsesWallClock(t *testing.T) {
	tm := &Timer{Duration: 30 * time.Second}
	tm.Observe(turnA, t0)

	assert.Equal(t, 30*time.Second, tm.Remaining(t0))
	assert.Equal(t, 18*time.Second, tm.Remaining(t0.Add(12*time.Second)))
	// a replica that slept through the turn sees zero, not a negative value
	assert.Equal(t, time.Duration(0), tm.Remaining(t0.Add(5*time.Minute)))
}

func TestFiresOncePerKey(t *testing.T) {
	var fired []draft.TurnKey
	tm := &Timer{
		Duration:  10 * time.Second,
		OnTimeout: func(k draft.TurnKey) { fired = append(fired, k) },
	}
	tm.Observe(turnA, t0)

	assert.False(t, tm.Tick(t0.Add(9*time.Second)))
	assert.True(t, tm.Tick(t0.Add(10*time.Second)))
	assert.False(t, tm.Tick(t0.Add(11*time.Second)))

	// re-observing the same key does not re-arm it
	tm.Observe(turnA, t0.Add(11*time.Second))
	assert.False(t, tm.Tick(t0.Add(30*time.Second)))

	tm.Observe(turnB, t0.Add(12*time.Second))
	assert.Equal(t, 10*time.Second, tm.Remaining(t0.Add(12*time.Second)))
	assert.True(t, tm.Tick(t0.Add(22*time.Second)))
	assert.Equal(t, []draft.TurnKey{turnA, turnB}, fired)
}

func TestAuthorityGatesTimeout(t *testing.T) {
	var calls int
	peer := &Timer{
		Duration:  time.Second,
		Authority: AuthorityFor(AuthorityHost, false, nil),
		OnTimeout: func(draft.TurnKey) { calls++ },
	}
	peer.Observe(turnA, t0)
	assert.False(t, peer.Tick(t0.Add(time.Minute)))
	assert.Zero(t, calls)

	acting := &Timer{
		Duration:  time.Second,
		Authority: AuthorityFor(AuthorityActingTeam, false, func() []draft.Team { return []draft.Team{draft.TeamTwo} }),
		OnTimeout: func(draft.TurnKey) { calls++ },
	}
	acting.Observe(turnA, t0)
	assert.False(t, acting.Tick(t0.Add(time.Minute)))
	acting.Observe(turnB, t0)
	assert.True(t, acting.Tick(t0.Add(time.Minute)))
	assert.Equal(t, 1, calls)
}

func TestUntimedTurnsNeverFire(t *testing.T) {
	tm := &Timer{Duration: time.Second, OnTimeout: func(draft.TurnKey) { t.Fatal("fired in lobby") }}
	tm.Observe(draft.TurnKey{Phase: draft.PhaseLobby, Team: draft.TeamOne}, t0)
	assert.False(t, tm.Tick(t0.Add(time.Hour)))
	assert.Equal(t, time.Second, tm.Remaining(t0.Add(time.Hour)))
}

func TestRunTicks(t *testing.T) {
	var fired atomic.Int32
	tm := &Timer{
		Duration:  time.Millisecond,
		OnTimeout: func(draft.TurnKey) { fired.Add(1) },
	}
	tm.Observe(turnA, time.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tm.Run(ctx, 2*time.Millisecond) }()

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 2*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int32(1), fired.Load())
}

func TestTickDoesNotHoldLockAcrossAuthority(t *testing.T) {
	// engineMu stands in for a replica lock that is held while observing a new turn and taken by
	// the authority check.
	var engineMu sync.Mutex
	entered := make(chan struct{})
	tm := &Timer{
		Duration: time.Second,
		Authority: func(draft.TurnKey) bool {
			close(entered)
			engineMu.Lock()
			defer engineMu.Unlock()
			return true
		},
		OnTimeout: func(draft.TurnKey) { t.Error("fired for a turn that was replaced") },
	}
	tm.Observe(turnA, t0)

	engineMu.Lock()
	ticked := make(chan bool, 1)
	go func() { ticked <- tm.Tick(t0.Add(time.Minute)) }()
	<-entered

	observed := make(chan struct{})
	go func() {
		tm.Observe(turnB, t0.Add(time.Minute))
		close(observed)
	}()
	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked while Tick was checking authority")
	}
	engineMu.Unlock()

	select {
	case fired := <-ticked:
		assert.False(t, fired)
	case <-time.After(time.Second):
		t.Fatal("Tick never returned")
	}
	require.Equal(t, turnB, tm.Key())
}
