package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) record(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Path
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

type player struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Team      string `json:"team,omitempty"`
}

// exerciseStore runs the behaviour every Store implementation shares.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		var got player
		ok, err := s.Get(ctx, "rooms/AAAAAA/players/p1", &got)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Set(ctx, "rooms/AAAAAA/players/p1", player{Name: "Ann", Connected: true}))
		ok, err = s.Get(ctx, "rooms/AAAAAA/players/p1", &got)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, player{Name: "Ann", Connected: true}, got)
	})

	t.Run("update merges fields", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, "rooms/AAAAAA/players/p1", map[string]any{"connected": false, "team": "team2"}))
		var got player
		_, err := s.Get(ctx, "rooms/AAAAAA/players/p1", &got)
		require.NoError(t, err)
		assert.Equal(t, player{Name: "Ann", Connected: false, Team: "team2"}, got)

		require.NoError(t, s.Update(ctx, "rooms/AAAAAA/players/p1", map[string]any{"team": nil}))
		_, err = s.Get(ctx, "rooms/AAAAAA/players/p1", &got)
		require.NoError(t, err)
		assert.Empty(t, got.Team)

		require.NoError(t, s.Update(ctx, "rooms/AAAAAA/players/p9", map[string]any{"name": "New"}))
		ok, err := s.Get(ctx, "rooms/AAAAAA/players/p9", &got)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "New", got.Name)
	})

	t.Run("update rejects non-objects", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "rooms/AAAAAA/list", []int{1, 2}))
		assert.ErrorIs(t, s.Update(ctx, "rooms/AAAAAA/list", map[string]any{"x": 1}), ErrNotObject)
	})

	t.Run("children", func(t *testing.T) {
		children, err := s.Children(ctx, "rooms/AAAAAA/players")
		require.NoError(t, err)
		assert.Len(t, children, 2)
		assert.Contains(t, children, "rooms/AAAAAA/players/p1")
		assert.Contains(t, children, "rooms/AAAAAA/players/p9")
	})

	t.Run("push and pop in order", func(t *testing.T) {
		_, ok, err := s.Pop(ctx, "rooms/AAAAAA/pending")
		require.NoError(t, err)
		assert.False(t, ok)

		for i := 1; i <= 3; i++ {
			id, err := s.Push(ctx, "rooms/AAAAAA/pending", map[string]int{"n": i})
			require.NoError(t, err)
			assert.NotEmpty(t, id)
		}
		for i := 1; i <= 3; i++ {
			e, ok, err := s.Pop(ctx, "rooms/AAAAAA/pending")
			require.NoError(t, err)
			require.True(t, ok)
			var v map[string]int
			require.NoError(t, e.Decode(&v))
			assert.Equal(t, i, v["n"])
		}
		_, ok, err = s.Pop(ctx, "rooms/AAAAAA/pending")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("subscribe delivers existing then new values", func(t *testing.T) {
		rec := &recorder{}
		cancel, err := s.Subscribe(ctx, "rooms/BBBBBB/players/*", rec.record)
		require.NoError(t, err)

		require.NoError(t, s.Set(ctx, "rooms/BBBBBB/players/a", player{Name: "A"}))
		require.NoError(t, s.Set(ctx, "rooms/BBBBBB/meta", map[string]string{"host": "a"}))
		require.NoError(t, s.Update(ctx, "rooms/BBBBBB/players/b", map[string]any{"name": "B"}))
		assert.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"rooms/BBBBBB/players/a", "rooms/BBBBBB/players/b"}, rec.paths())

		late := &recorder{}
		cancelLate, err := s.Subscribe(ctx, "rooms/BBBBBB/meta", late.record)
		require.NoError(t, err)
		assert.Eventually(t, func() bool { return late.len() == 1 }, time.Second, 5*time.Millisecond)
		late.mu.Lock()
		var meta map[string]string
		require.NoError(t, json.Unmarshal(late.changes[0].Value, &meta))
		late.mu.Unlock()
		assert.Equal(t, "a", meta["host"])

		cancel()
		cancelLate()
		require.NoError(t, s.Set(ctx, "rooms/BBBBBB/players/c", player{Name: "C"}))
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 2, rec.len())
	})

	t.Run("claim stores once", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.Claim(ctx, "rooms/AAAAAA/seats/team2", i)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)

		var owner int
		ok, err := s.Get(ctx, "rooms/AAAAAA/seats/team2", &owner)
		require.NoError(t, err)
		assert.True(t, ok)
		claimed, err := s.Claim(ctx, "rooms/AAAAAA/seats/team2", owner)
		require.NoError(t, err)
		assert.False(t, claimed)
	})

	t.Run("delete removes subtree", func(t *testing.T) {
		_, err := s.Push(ctx, "rooms/AAAAAA/pending", "x")
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "rooms/AAAAAA"))

		children, err := s.Children(ctx, "rooms/AAAAAA")
		require.NoError(t, err)
		assert.Empty(t, children)
		_, ok, err := s.Pop(ctx, "rooms/AAAAAA/pending")
		require.NoError(t, err)
		assert.False(t, ok)

		remaining, err := s.Children(ctx, "rooms/BBBBBB")
		require.NoError(t, err)
		assert.NotEmpty(t, remaining)
	})
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("rooms/A/state", "rooms/A/state"))
	assert.False(t, Match("rooms/A/state", "rooms/A/states"))
	assert.True(t, Match("rooms/A/players/*", "rooms/A/players/p1"))
	assert.False(t, Match("rooms/A/players/*", "rooms/A/players"))
	assert.False(t, Match("rooms/A/players/*", "rooms/B/players/p1"))
	assert.Equal(t, "rooms/A/ghost/team1", Join("rooms", "A", "ghost", "team1"))
}
