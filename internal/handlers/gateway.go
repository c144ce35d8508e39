// internal/handlers/gateway.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jason-s-yu/draftsync/internal/apperr"
	"github.com/jason-s-yu/draftsync/internal/auth"
	"github.com/jason-s-yu/draftsync/internal/middleware"
	"github.com/jason-s-yu/draftsync/internal/models"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/jason-s-yu/draftsync/internal/store"
	"github.com/sirupsen/logrus"
)

// Rooms is the part of room.Directory the gateway reads from.
type Rooms interface {
	Fetch(ctx context.Context, code string) (room.Room, error)
	Join(ctx context.Context, code string, p room.Participant) (room.Participant, room.Room, error)
}

// Summaries serves archived room rows. *database.Archive implements it.
type Summaries interface {
	Summary(ctx context.Context, roomID string) (models.RoomSummary, bool, error)
}

// Gateway serves read-only views of live rooms to spectators over HTTP and WebSocket.
type Gateway struct {
	Rooms  Rooms
	Store  store.Store
	Issuer *auth.Issuer
	// Archive is optional; without it the summary route answers 404.
	Archive Summaries
	Log     logrus.FieldLogger

	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration
	// Origins lists the allowed CORS origins; empty allows any.
	Origins []string
}

const defaultWriteTimeout = 3 * time.Second

func (g *Gateway) logger() logrus.FieldLogger {
	if g.Log == nil {
		return logrus.StandardLogger()
	}
	return g.Log
}

// Routes builds the gateway router.
func (g *Gateway) Routes() http.Handler {
	origins := g.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(g.logger()))
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/device", g.DeviceHandler)
	r.Route("/rooms/{code}", func(r chi.Router) {
		r.Get("/", g.RoomHandler)
		r.Get("/summary", g.SummaryHandler)
		r.Get("/watch", g.WatchHandler)
	})
	return r
}

// RoomHandler returns the current room as JSON.
func (g *Gateway) RoomHandler(w http.ResponseWriter, r *http.Request) {
	code, err := room.ValidateCode(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	rm, err := g.Rooms.Fetch(r.Context(), code)
	if err != nil {
		g.logger().WithError(err).WithField("room", code).Debug("room lookup failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// SummaryHandler returns the archived summary of a room.
func (g *Gateway) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	code, err := room.ValidateCode(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	if g.Archive == nil {
		http.Error(w, "archive not configured", http.StatusNotFound)
		return
	}
	s, ok, err := g.Archive.Summary(r.Context(), code)
	if err != nil {
		g.logger().WithError(err).WithField("room", code).Error("summary query failed")
		http.Error(w, "failed to load summary", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "room has no archived actions", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeviceHandler returns the caller's device id, issuing an anonymous identity when the request
// carries none.
func (g *Gateway) DeviceHandler(w http.ResponseWriter, r *http.Request) {
	deviceID, err := g.EnsureDevice(w, r)
	if err != nil {
		g.logger().WithError(err).Error("failed to issue device token")
		http.Error(w, "failed to issue device token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deviceId": deviceID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an apperr code onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidRoomCode:
		status = http.StatusBadRequest
	case apperr.CodeRoomNotFound:
		status = http.StatusNotFound
	case apperr.CodePermissionDenied:
		status = http.StatusForbidden
	case apperr.CodeTransient, apperr.CodeConnectionTimeout:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"code": string(apperr.CodeOf(err)), "error": err.Error()})
}
