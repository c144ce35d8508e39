package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Attempts: 4, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, fast, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperr.New(apperr.CodeTransient, "flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnApplicationErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, fast, func(ctx context.Context) error {
		calls++
		return apperr.PermissionDenied
	})
	assert.ErrorIs(t, err, apperr.PermissionDenied)
	assert.Equal(t, 1, calls)
}

func TestDoSurfacesExhaustionAsTerminal(t *testing.T) {
	calls := 0
	cause := errors.New("connection reset")
	err := Do(context.Background(), nil, fast, func(ctx context.Context) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, apperr.Transient)
	assert.ErrorIs(t, err, cause)
	assert.False(t, apperr.Retryable(err))
}

func TestValueReturnsResult(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), nil, fast, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, context.DeadlineExceeded
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
