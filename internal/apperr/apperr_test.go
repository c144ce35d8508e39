package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeRoomNotFound, "fetch AB3K7P", errors.New("nil reply"))
	wrapped := fmt.Errorf("resume: %w", err)

	assert.ErrorIs(t, wrapped, RoomNotFound)
	assert.NotErrorIs(t, wrapped, RoomFull)
	assert.Equal(t, CodeRoomNotFound, CodeOf(wrapped))
	assert.Contains(t, err.Error(), "nil reply")
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", New(CodeTransient, "redis down"), true},
		{"timeout", New(CodeConnectionTimeout, "slow"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain error", errors.New("boom"), true},
		{"permission", PermissionDenied, false},
		{"rejected", Wrap(CodeActionRejected, "stale", errors.New("x")), false},
		{"room full", RoomFull, false},
		{"exhausted", Terminal(Wrap(CodeTransient, "retries exhausted", errors.New("x"))), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}
