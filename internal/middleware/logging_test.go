package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogMiddlewareRecordsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/AB3K7P", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, "/rooms/AB3K7P", entry.Data["path"])
}

func TestWebSocketLogs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	LogWebSocketConnect(logger, "1.2.3.4", "/rooms/AB3K7P/watch")
	LogWebSocketDisconnect(logger, "1.2.3.4", "/rooms/AB3K7P/watch", assert.AnError)

	require.Len(t, hook.Entries, 2)
	assert.Equal(t, assert.AnError, hook.Entries[1].Data["error"])
}
