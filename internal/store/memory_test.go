package store

import (
	"context"
	"testing"
	"time"

	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory().Client())
}

func TestMemoryDisconnectFiresHooks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	host := m.Client()
	peer := m.Client()

	require.NoError(t, peer.Set(ctx, "rooms/CCCCCC/players/p2", player{Name: "Peer", Connected: true}))
	_, err := peer.OnDisconnect(ctx, "rooms/CCCCCC/players/p2", map[string]any{"connected": false})
	require.NoError(t, err)
	cancelled, err := peer.OnDisconnect(ctx, "rooms/CCCCCC/players/p2", map[string]any{"name": "should not apply"})
	require.NoError(t, err)
	cancelled()

	rec := &recorder{}
	stop, err := host.Subscribe(ctx, "rooms/CCCCCC/players/*", rec.record)
	require.NoError(t, err)
	defer stop()
	assert.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	peer.Disconnect()
	assert.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)

	var got player
	_, err = host.Get(ctx, "rooms/CCCCCC/players/p2", &got)
	require.NoError(t, err)
	assert.Equal(t, player{Name: "Peer", Connected: false}, got)

	_, err = peer.Get(ctx, "rooms/CCCCCC/players/p2", &got)
	assert.ErrorIs(t, err, apperr.Transient)

	peer.Reconnect()
	_, err = peer.Get(ctx, "rooms/CCCCCC/players/p2", &got)
	assert.NoError(t, err)
}

func TestMemoryFailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := m.Client()
	m.FailNext(2)

	err := c.Set(ctx, "a", 1)
	assert.True(t, apperr.Retryable(err))
	assert.Error(t, c.Set(ctx, "a", 1))
	assert.NoError(t, c.Set(ctx, "a", 1))
}

func TestMemorySubscriptionStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewMemory().Client()
	rec := &recorder{}
	_, err := c.Subscribe(ctx, "x", rec.record)
	require.NoError(t, err)

	require.NoError(t, c.Set(context.Background(), "x", 1))
	assert.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Set(context.Background(), "x", 2))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
}
