package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/draftsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a disposable Postgres; set DRAFTSYNC_TEST_POSTGRES_URL to run them.
func testPool(t *testing.T) *Archive {
	t.Helper()
	url := os.Getenv("DRAFTSYNC_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("DRAFTSYNC_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))
	return NewArchive(pool)
}

func TestArchiveWriteIsIdempotent(t *testing.T) {
	a := testPool(t)
	ctx := context.Background()
	roomID := uuid.NewString()[:6]
	now := time.Now().UnixMilli()

	batch := []models.DraftAction{
		{RoomID: roomID, Version: 2, ActorID: "host", IntentKind: "draft", Payload: map[string]interface{}{"kind": "draft"}, Status: "waiting", Checksum: 1 << 63, Timestamp: now},
		{RoomID: roomID, Version: 3, ActorID: "peer", IntentKind: "draft", Payload: map[string]interface{}{"kind": "draft"}, Status: "in-progress", Checksum: 7, Timestamp: now + 1},
	}
	require.NoError(t, a.Write(ctx, batch))
	require.NoError(t, a.Write(ctx, batch[1:]))

	s, ok, err := a.Summary(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, s.Actions)
	assert.Equal(t, "in-progress", s.Status)

	require.NoError(t, a.MarkAbandoned(ctx, roomID))
	s, _, err = a.Summary(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "abandoned", s.Status)
}

func TestSummaryMissingRoom(t *testing.T) {
	a := testPool(t)
	_, ok, err := a.Summary(context.Background(), "nope-"+uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)
}
