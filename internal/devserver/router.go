package devserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/platform/apperr"
	jwtpkg "vote-app-client/internal/platform/jwt"
)

const tokenTTL = 24 * time.Hour

type Handler struct {
	store  *Store
	jwtMgr *jwtpkg.Manager
	voteCh chan<- room.VoteUpdateEvent
}

// NewRouter mounts the REST contract under /api and the realtime hub at /ws.
// Accepted votes are handed to voteCh for broadcasting.
func NewRouter(store *Store, jwtMgr *jwtpkg.Manager, hub *Hub, voteCh chan<- room.VoteUpdateEvent) http.Handler {
	h := &Handler{
		store:  store,
		jwtMgr: jwtMgr,
		voteCh: voteCh,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger)
	r.Use(CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws", hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(60 * time.Second))

		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)
		r.Get("/auth/logOut", h.handleLogout)
		r.With(RateLimit(rate.Every(time.Minute/5), 3)).Post("/auth/forgot-password", h.handleForgotPassword)
		r.Post("/auth/reset-password", h.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(OptionalAuth(jwtMgr))
			r.Get("/rooms/{roomId}", h.handleGetRoom)
			r.With(RateLimit(rate.Every(time.Second), 10)).Post("/rooms/{roomId}/vote", h.handleVote)
			r.With(RateLimit(rate.Every(10*time.Second), 3)).Post("/rooms/{roomId}/request-otp", h.handleRequestOTP)
			r.Post("/rooms/{roomId}/verify-otp", h.handleVerifyOTP)
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(jwtMgr))
			r.Post("/rooms", h.handleCreateRoom)
			r.Get("/rooms/my-rooms", h.handleMyRooms)
			r.Delete("/rooms/{roomId}", h.handleDeleteRoom)
			r.Get("/rooms/{roomId}/tallies", h.handleTallies)
			r.Post("/rooms/{roomId}/add-accredited-voters", h.handleAddVoters)
			r.Get("/rooms/{roomId}/accredited-voters", h.handleVoters)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequest("invalid_input", "invalid body", err)
	}
	return nil
}

func roomParam(r *http.Request) string {
	return chi.URLParam(r, "roomId")
}
